package mirror

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/errs"
)

// DialConfig describes how to reach the mirror server.
type DialConfig struct {
	Addr      string
	CAPath    string
	Insecure  bool // skip certificate verification
	Plaintext bool // no TLS at all, local development only
	Token     string
	AdminKey  string
}

type bearerCreds struct {
	token      string
	requireTLS bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.requireTLS }

type adminCreds struct {
	key        string
	requireTLS bool
}

func (a adminCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{api.AdminKeyHeader: a.key}, nil
}
func (a adminCreds) RequireTransportSecurity() bool { return a.requireTLS }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // explicit opt-in
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// CheckToken inspects the bearer token without verifying its signature and fails fast
// with errs.ErrAuth when it is malformed or expired. The server remains the authority.
func CheckToken(token string, now time.Time) error {
	if token == "" {
		return fmt.Errorf("%w: no access token", errs.ErrAuth)
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("%w: malformed access token: %v", errs.ErrAuth, err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: access token expired at %s", errs.ErrAuth, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}

// Dial connects to the mirror server. The connection is lazy; errors surface on first call.
func Dial(ctx context.Context, cfg DialConfig) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption
	if cfg.Plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds, err := loadTLS(cfg.CAPath, cfg.Insecure)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: cfg.Token, requireTLS: !cfg.Plaintext}))
	}
	if cfg.AdminKey != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(adminCreds{key: cfg.AdminKey, requireTLS: !cfg.Plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", cfg.Addr, errs.ErrNetwork, err)
	}
	return cc, nil
}
