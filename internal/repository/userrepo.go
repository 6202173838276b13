// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/notesync/internal/model"
)

// UserRepository stores mirror accounts keyed by external identity.
type UserRepository interface {
	// Ensure inserts u or, when a row with the same external id exists, patches its
	// mutable fields. Returns the stored row.
	Ensure(ctx context.Context, u *model.User) (model.User, error)
	// GetByExternalID loads a user by external identity id.
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)
	// List returns all users ordered by creation.
	List(ctx context.Context) ([]model.User, error)
}
