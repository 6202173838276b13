package repository

import (
	"context"

	"github.com/and161185/notesync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RecordRepository stores encrypted tags and notes. Every method is scoped to one kind;
// Update and Delete are additionally scoped to the owning user.
type RecordRepository interface {
	// List returns all records of kind owned by userID, tombstones included.
	List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error)

	// Create inserts rec; inserting an existing id is a no-op that returns the id.
	Create(ctx context.Context, rec model.Record) (uuid.UUID, error)

	// Update applies a partial patch and returns the stored record.
	Update(ctx context.Context, kind model.Kind, userID, id uuid.UUID, p model.RecordPatch) (model.Record, error)

	// Delete hard-deletes the record. Deleting a missing id succeeds.
	Delete(ctx context.Context, kind model.Kind, userID, id uuid.UUID) error
}
