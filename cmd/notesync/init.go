package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/notesync/internal/config"
	"github.com/and161185/notesync/internal/crypto/fieldcrypto"
	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/mirror"
	"github.com/and161185/notesync/internal/model"
)

type initFlags struct {
	externalID  string
	email       string
	displayName string

	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	token     string
	tokenFile string

	driveType string
	driveRoot string
	s3        drive.S3Config
}

func newInitCmd(g *globals) *cobra.Command {
	var f initFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config, key salt and passphrase check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), g, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.externalID, "external-id", "", "identity id issued by the auth provider (required)")
	fl.StringVar(&f.email, "email", "", "account email")
	fl.StringVar(&f.displayName, "display-name", "", "account display name")
	fl.StringVar(&f.addr, "addr", "", "mirror server address; empty keeps the client local-only")
	fl.StringVar(&f.caPath, "cacert", "", "CA certificate (PEM) for the mirror")
	fl.BoolVar(&f.insecure, "insecure", false, "skip certificate verification (dev)")
	fl.BoolVar(&f.plaintext, "plaintext", false, "connect without TLS (local dev)")
	fl.StringVar(&f.token, "token", "", "bearer token (prefer --token-file)")
	fl.StringVar(&f.tokenFile, "token-file", "", "file holding the bearer token")
	fl.StringVar(&f.driveType, "drive", drive.TypeFile, "drive backend: file, s3 or memory")
	fl.StringVar(&f.driveRoot, "drive-root", "", "file drive directory (default <home>/drive)")
	fl.StringVar(&f.s3.Bucket, "s3-bucket", "", "S3 bucket")
	fl.StringVar(&f.s3.Prefix, "s3-prefix", "notesync", "S3 key prefix")
	fl.StringVar(&f.s3.Region, "s3-region", "", "S3 region")
	fl.StringVar(&f.s3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint (MinIO)")
	fl.BoolVar(&f.s3.UsePathStyle, "s3-path-style", false, "use path-style S3 addressing")
	_ = cmd.MarkFlagRequired("external-id")
	return cmd
}

func runInit(ctx context.Context, g *globals, f initFlags) error {
	cfg := config.NewConfig(g.home)
	cfg.Identity = config.IdentityConfig{ExternalID: f.externalID, Email: f.email, DisplayName: f.displayName}
	cfg.Mirror = config.MirrorConfig{
		Addr: f.addr, CAPath: f.caPath, Insecure: f.insecure, Plaintext: f.plaintext,
		Token: f.token, TokenFile: f.tokenFile,
	}
	cfg.Drive.Type = f.driveType
	if f.driveRoot != "" {
		cfg.Drive.Root = f.driveRoot
	} else {
		cfg.Drive.Root = filepath.Join(g.home, "drive")
	}
	cfg.Drive.S3 = f.s3

	salt, err := fieldcrypto.Rand(fieldcrypto.SaltLen)
	if err != nil {
		return err
	}
	cfg.Crypto.Salt = base64.StdEncoding.EncodeToString(salt)

	pass, err := g.readPassphrase("New passphrase: ")
	if err != nil {
		return err
	}
	if g.interactive() {
		again, err := g.readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if string(again) != string(pass) {
			return errors.New("passphrases do not match")
		}
	}
	_, checkKey, err := deriveKeys(pass, salt)
	if err != nil {
		return err
	}
	check, err := fieldcrypto.KeyCheck(checkKey)
	if err != nil {
		return err
	}
	cfg.SetKeyCheck(check)

	userID, err := initUserID(ctx, g, cfg)
	if err != nil {
		return err
	}
	cfg.Identity.UserID = userID.String()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Init(g.configPath(), cfg); err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "Configuration initialized at %s\n", g.configPath())
	fmt.Fprintf(g.stdout, "User ID: %s\n", userID)
	fmt.Fprintf(g.stdout, "Drive: %s\n", cfg.Drive.Type)
	return nil
}

// initUserID registers the identity on the mirror, or mints a local id for a
// local-only client.
func initUserID(ctx context.Context, g *globals, cfg *config.Config) (uuid.UUID, error) {
	if cfg.Mirror.Addr == "" || g.offline {
		return uuid.NewV4()
	}
	token, err := cfg.Token()
	if err != nil {
		return uuid.Nil, err
	}
	if err := mirror.CheckToken(token, time.Now()); err != nil {
		return uuid.Nil, err
	}
	cc, err := mirror.Dial(ctx, dialConfig(cfg, token, ""))
	if err != nil {
		return uuid.Nil, err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Sync.CallTimeout.Std())
	defer cancel()
	return mirror.NewGRPC(cc).Ensure(ctx, model.User{
		ExternalID:  cfg.Identity.ExternalID,
		Email:       cfg.Identity.Email,
		DisplayName: optional(cfg.Identity.DisplayName),
	})
}
