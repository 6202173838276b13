package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/term"
	"google.golang.org/grpc"

	"github.com/and161185/notesync/internal/cache"
	"github.com/and161185/notesync/internal/config"
	"github.com/and161185/notesync/internal/crypto/fieldcrypto"
	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/logging"
	"github.com/and161185/notesync/internal/mirror"
	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/syncer"
)

// passphraseEnv lets scripts supply the passphrase without a terminal.
const passphraseEnv = "NOTESYNC_PASSPHRASE"

const flushTimeout = time.Minute

// session is one opened client: config, derived key, adapters and the sync engine.
type session struct {
	g       *globals
	cfg     *config.Config
	log     *zap.Logger
	conn    *grpc.ClientConn
	drive   drive.Drive
	userID  uuid.UUID
	offline bool

	orch   *syncer.Orchestrator
	engine *syncer.Engine
}

func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.ReadFromFile(g.configPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s, run `notesync init` first", g.configPath())
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", g.configPath(), err)
	}
	return cfg, nil
}

func (g *globals) logger(cfg *config.Config) (*zap.Logger, error) {
	opts := logging.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if g.logLevel != "" {
		opts.Level = g.logLevel
	}
	if g.verbose || cfg.Log.Console {
		opts.Console = g.stderr
	}
	return logging.New(opts)
}

// readPassphrase takes the passphrase from the environment, the terminal or one line of
// stdin, in that order.
func (g *globals) readPassphrase(prompt string) ([]byte, error) {
	if v := g.getenv(passphraseEnv); v != "" {
		return []byte(v), nil
	}
	if f, ok := g.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(g.stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(g.stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return b, nil
	}
	line, err := bufio.NewReader(g.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("empty passphrase (set %s or use a terminal)", passphraseEnv)
	}
	return []byte(line), nil
}

// interactive reports whether the passphrase will be read from a terminal.
func (g *globals) interactive() bool {
	if g.getenv(passphraseEnv) != "" {
		return false
	}
	f, ok := g.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// unlock derives the field key and checks it against the stored probe.
func (g *globals) unlock(cfg *config.Config) ([]byte, error) {
	salt, err := cfg.SaltBytes()
	if err != nil {
		return nil, err
	}
	pass, err := g.readPassphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}
	fieldKey, checkKey, err := deriveKeys(pass, salt)
	if err != nil {
		return nil, err
	}
	if !fieldcrypto.VerifyKey(cfg.KeyCheck(), checkKey) {
		return nil, fmt.Errorf("%w: wrong passphrase", errs.ErrDecryption)
	}
	return fieldKey, nil
}

// deriveKeys splits the passphrase master key into the record key and the key the
// passphrase probe is sealed with.
func deriveKeys(pass, salt []byte) (fieldKey, checkKey []byte, err error) {
	master := fieldcrypto.DeriveKey(pass, salt)
	if fieldKey, err = fieldcrypto.DeriveFieldKey(master, "notesync/fields"); err != nil {
		return nil, nil, err
	}
	if checkKey, err = fieldcrypto.DeriveFieldKey(master, "notesync/key-check"); err != nil {
		return nil, nil, err
	}
	return fieldKey, checkKey, nil
}

func dialConfig(cfg *config.Config, token, adminKey string) mirror.DialConfig {
	return mirror.DialConfig{
		Addr:      cfg.Mirror.Addr,
		CAPath:    cfg.Mirror.CAPath,
		Insecure:  cfg.Mirror.Insecure,
		Plaintext: cfg.Mirror.Plaintext,
		Token:     token,
		AdminKey:  adminKey,
	}
}

// connectMirror dials the mirror and resolves the user id. It reports offline=true when
// the client should run against a local in-memory mirror instead.
func (s *session) connectMirror(ctx context.Context) (mirror.Mirror, error) {
	stored, _ := uuid.FromString(s.cfg.Identity.UserID)
	goOffline := func(reason string) (mirror.Mirror, error) {
		if stored == uuid.Nil {
			return nil, fmt.Errorf("%s and no user id is known yet; run once online", reason)
		}
		s.offline, s.userID = true, stored
		return mirror.NewMemory(nil), nil
	}
	if s.g.offline || s.cfg.Mirror.Addr == "" {
		return goOffline("mirror disabled")
	}

	token, err := s.cfg.Token()
	if err != nil {
		return nil, err
	}
	if err := mirror.CheckToken(token, time.Now()); err != nil {
		return nil, err
	}
	cc, err := mirror.Dial(ctx, dialConfig(s.cfg, token, ""))
	if err != nil {
		return nil, err
	}
	g := mirror.NewGRPC(cc)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.CallTimeout.Std()+time.Second)
	id, err := g.Ensure(cctx, model.User{
		ExternalID:  s.cfg.Identity.ExternalID,
		Email:       s.cfg.Identity.Email,
		DisplayName: optional(s.cfg.Identity.DisplayName),
	})
	cancel()
	if err != nil {
		_ = cc.Close()
		if errs.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("mirror unreachable, working offline", zap.Error(err))
			fmt.Fprintln(s.g.stderr, "warning: mirror unreachable, working offline")
			return goOffline("mirror unreachable")
		}
		return nil, err
	}
	if stored != uuid.Nil && id != stored {
		_ = cc.Close()
		return nil, fmt.Errorf("%w: mirror knows %s as user %s but the drive is keyed by %s",
			errs.ErrAuth, s.cfg.Identity.ExternalID, id, stored)
	}
	s.conn, s.userID = cc, id
	if stored == uuid.Nil {
		s.cfg.Identity.UserID = id.String()
		if err := config.WriteToFile(s.g.configPath(), s.cfg); err != nil {
			s.log.Warn("could not remember user id", zap.Error(err))
		}
	}
	return g, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// openSession unlocks the key, wires the adapters and loads the cache: mirror hydration
// followed by one reconciliation against the drive.
func (g *globals) openSession(ctx context.Context) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := g.logger(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{g: g, cfg: cfg, log: log}

	key, err := g.unlock(cfg)
	if err != nil {
		return nil, err
	}
	m, err := s.connectMirror(ctx)
	if err != nil {
		return nil, err
	}
	if s.drive, err = drive.New(ctx, cfg.Drive, log); err != nil {
		s.close()
		return nil, err
	}

	c := cache.New()
	s.orch, err = syncer.New(syncer.Options{
		UserID:            s.userID,
		Key:               key,
		Cache:             c,
		Mirror:            m,
		Drive:             s.drive,
		Logger:            log,
		CallTimeout:       cfg.Sync.CallTimeout.Std(),
		MaxAttempts:       cfg.Sync.MaxAttempts,
		BaseBackoff:       cfg.Sync.BaseBackoff.Std(),
		MaxBackoff:        cfg.Sync.MaxBackoff.Std(),
		DebounceThreshold: cfg.Sync.DebounceThreshold,
		TombstoneTTL:      cfg.Sync.TombstoneTTL.Std(),
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.engine = syncer.NewEngine(s.userID, key, c, m, s.orch, log, nil)
	s.engine.SetTimeout(cfg.Sync.CallTimeout.Std())

	s.orch.Start(ctx)
	s.orch.Wait()
	if p := s.orch.Progress(); p.Failed {
		fmt.Fprintln(g.stderr, "warning:", p.Message)
	}
	return s, nil
}

// flush waits for background runs and persists pending changes with a manual run.
func (s *session) flush(ctx context.Context) error {
	s.orch.Wait()
	if s.orch.DirtyCount() == 0 {
		return nil
	}
	if err := s.orch.Run(ctx); err != nil {
		return fmt.Errorf("changes not yet stored on the drive: %w", err)
	}
	return nil
}

func (s *session) close() {
	if s.orch != nil {
		s.orch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	_ = s.log.Sync()
}

// withSession opens a session, runs fn and flushes local changes.
func (g *globals) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := g.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	if err := fn(s); err != nil {
		return err
	}
	// An interrupt still gets its pending changes written out.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	return s.flush(fctx)
}
