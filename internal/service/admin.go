package service

import (
	"context"

	pkgcrypto "github.com/and161185/notesync/internal/crypto"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/limiter"
	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/repository"
)

// AdminPrincipal is the limiter key for admin credential attempts.
const AdminPrincipal = "admin"

// AdminService exposes batch operations gated by the static admin credential.
type AdminService interface {
	// ExportUsers returns every user when key matches the admin credential.
	ExportUsers(ctx context.Context, key, ip string) ([]model.User, error)
}

type AdminServiceImpl struct {
	users repository.UserRepository
	cred  *pkgcrypto.Credential
	lim   limiter.Limiter
}

// NewAdminService constructs AdminService. A nil credential rejects every key.
func NewAdminService(users repository.UserRepository, cred *pkgcrypto.Credential, lim limiter.Limiter) *AdminServiceImpl {
	return &AdminServiceImpl{users: users, cred: cred, lim: lim}
}

// ExportUsers checks the key with rate limiting by (principal, ip).
func (s *AdminServiceImpl) ExportUsers(ctx context.Context, key, ip string) ([]model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, AdminPrincipal, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	if !s.cred.Verify(key) {
		if blocked, _, ferr := s.lim.Failure(ctx, AdminPrincipal, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		return nil, errs.ErrUnauthorized
	}
	// best-effort
	_ = s.lim.Success(ctx, AdminPrincipal, ipHash)

	return s.users.List(ctx)
}
