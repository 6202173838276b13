// Package mirror talks to the real-time record store that mirrors encrypted tags and notes.
//
// The mirror is disposable: everything it holds can be rebuilt from the drive snapshot.
// Implementations must be safe to retry: Create with an id that already exists returns
// that id, Update with an absent field keeps the stored envelope and Delete of a missing
// id succeeds.
package mirror

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/model"
)

// Mirror is the per-kind record API consumed by the sync engine.
type Mirror interface {
	// List returns every record of kind owned by userID, tombstones included.
	List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error)
	// Create stores rec under its client-chosen id and returns that id.
	Create(ctx context.Context, rec model.Record) (uuid.UUID, error)
	// Update applies a partial patch. Returns errs.ErrNotFound when id is unknown.
	Update(ctx context.Context, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error)
	// Delete hard-deletes id. Missing ids are not an error.
	Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error
}

// Identity resolves the external identity to the mirror's user id.
type Identity interface {
	Ensure(ctx context.Context, u model.User) (uuid.UUID, error)
	Lookup(ctx context.Context, externalID string) (*model.User, error)
}
