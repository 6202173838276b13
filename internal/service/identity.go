// Package service contains application services of the mirror store: the identity
// bridge, record storage and admin export.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/repository"
)

// IdentityService bridges external identities to internal user ids.
type IdentityService interface {
	// Ensure creates the user or patches the mutable profile fields of the existing one.
	Ensure(ctx context.Context, externalID, email string, displayName, avatarURL *string) (uuid.UUID, error)
	// Lookup returns the user or nil when the identity is unknown.
	Lookup(ctx context.Context, externalID string) (*model.User, error)
	// Resolve returns the internal id of a known identity or errs.ErrNotFound.
	Resolve(ctx context.Context, externalID string) (uuid.UUID, error)
}

type IdentityServiceImpl struct {
	users repository.UserRepository
}

// NewIdentityService constructs IdentityService.
func NewIdentityService(users repository.UserRepository) *IdentityServiceImpl {
	return &IdentityServiceImpl{users: users}
}

// Ensure validates input and delegates the upsert to the repository.
func (s *IdentityServiceImpl) Ensure(ctx context.Context, externalID, email string, displayName, avatarURL *string) (uuid.UUID, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty external id", errs.ErrValidation)
	}
	u, err := s.users.Ensure(ctx, &model.User{
		ExternalID:  externalID,
		Email:       strings.TrimSpace(email),
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

// Lookup maps a missing row to (nil, nil).
func (s *IdentityServiceImpl) Lookup(ctx context.Context, externalID string) (*model.User, error) {
	u, err := s.users.GetByExternalID(ctx, externalID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (s *IdentityServiceImpl) Resolve(ctx context.Context, externalID string) (uuid.UUID, error) {
	u, err := s.users.GetByExternalID(ctx, externalID)
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}
