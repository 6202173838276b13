package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/repository"
)

const dateLayout = "2006-01-02"

// RecordService defines operations over encrypted tags and notes of one user.
type RecordService interface {
	// List returns the user's records of kind.
	List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error)
	// Create stores rec on behalf of userID; creating an existing id returns the id.
	Create(ctx context.Context, userID uuid.UUID, rec model.Record) (uuid.UUID, error)
	// Update applies a partial patch to a record owned by userID.
	Update(ctx context.Context, userID uuid.UUID, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error)
	// Delete hard-deletes a record owned by userID.
	Delete(ctx context.Context, userID uuid.UUID, kind model.Kind, id uuid.UUID) error
}

type RecordServiceImpl struct {
	repo repository.RecordRepository
}

// NewRecordService constructs RecordService.
func NewRecordService(repo repository.RecordRepository) *RecordServiceImpl {
	return &RecordServiceImpl{repo: repo}
}

func (s *RecordServiceImpl) List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return s.repo.List(ctx, kind, userID)
}

// Create validates the record shape and its owner.
func (s *RecordServiceImpl) Create(ctx context.Context, userID uuid.UUID, rec model.Record) (uuid.UUID, error) {
	if err := checkKind(rec.Kind); err != nil {
		return uuid.Nil, err
	}
	if rec.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	if rec.UserID != userID {
		return uuid.Nil, fmt.Errorf("%w: record owner %s is not the caller", errs.ErrUnauthorized, rec.UserID)
	}
	if rec.Deleted {
		rec = model.Tombstone(rec, rec.UpdatedAt)
	} else {
		if err := checkFields(rec.Kind, rec.Fields); err != nil {
			return uuid.Nil, err
		}
		if err := checkDated(rec.Kind, &rec.Date, &rec.TagIDs); err != nil {
			return uuid.Nil, err
		}
	}
	if !rec.UpdatedAt.IsZero() && !rec.CreatedAt.IsZero() && rec.UpdatedAt.Before(rec.CreatedAt) {
		return uuid.Nil, fmt.Errorf("%w: updatedAt before createdAt", errs.ErrValidation)
	}
	return s.repo.Create(ctx, rec)
}

// Update validates the patch members it carries and delegates.
func (s *RecordServiceImpl) Update(ctx context.Context, userID uuid.UUID, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error) {
	if err := checkKind(kind); err != nil {
		return model.Record{}, err
	}
	if id == uuid.Nil {
		return model.Record{}, fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	if err := checkFields(kind, p.Fields); err != nil {
		return model.Record{}, err
	}
	if err := checkDated(kind, p.Date, p.TagIDs); err != nil {
		return model.Record{}, err
	}
	if p.UpdatedAt.After(time.Now().Add(24 * time.Hour)) {
		return model.Record{}, fmt.Errorf("%w: updatedAt too far in the future", errs.ErrValidation)
	}
	return s.repo.Update(ctx, kind, userID, id, p)
}

func (s *RecordServiceImpl) Delete(ctx context.Context, userID uuid.UUID, kind model.Kind, id uuid.UUID) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	return s.repo.Delete(ctx, kind, userID, id)
}

func checkKind(kind model.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, kind)
	}
	return nil
}

// checkFields requires known field names and complete envelopes.
func checkFields(kind model.Kind, fields map[string]model.Envelope) error {
	for name, env := range fields {
		if !kind.HasField(name) {
			return fmt.Errorf("%w: %s has no field %q", errs.ErrValidation, kind, name)
		}
		if env.Ciphertext == "" || env.IV == "" {
			return fmt.Errorf("%w: field %q: incomplete envelope", errs.ErrValidation, name)
		}
	}
	return nil
}

// checkDated allows date and tag ids on notes only. Nil pointers are skipped.
func checkDated(kind model.Kind, date *string, tagIDs *[]uuid.UUID) error {
	hasDate := date != nil && *date != ""
	hasTags := tagIDs != nil && len(*tagIDs) > 0
	if kind != model.KindNote {
		if hasDate || hasTags {
			return fmt.Errorf("%w: %s has no date or tags", errs.ErrValidation, kind)
		}
		return nil
	}
	if hasDate {
		if _, err := time.Parse(dateLayout, *date); err != nil {
			return fmt.Errorf("%w: date %q", errs.ErrValidation, *date)
		}
	}
	if hasTags {
		for _, id := range *tagIDs {
			if id == uuid.Nil {
				return fmt.Errorf("%w: empty tag id", errs.ErrValidation)
			}
		}
	}
	return nil
}
