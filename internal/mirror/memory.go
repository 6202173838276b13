package mirror

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// Memory is an in-process Mirror used for offline mode and tests.
type Memory struct {
	mu   sync.Mutex
	recs map[model.Kind]map[uuid.UUID]model.Record
	now  func() time.Time
}

var _ Mirror = (*Memory)(nil)

// NewMemory returns an empty mirror. A nil now defaults to time.Now in UTC.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m := &Memory{recs: make(map[model.Kind]map[uuid.UUID]model.Record), now: now}
	for _, k := range model.Kinds {
		m.recs[k] = make(map[uuid.UUID]model.Record)
	}
	return m
}

func (m *Memory) bucket(kind model.Kind) (map[uuid.UUID]model.Record, error) {
	b, ok := m.recs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, kind)
	}
	return b, nil
}

func (m *Memory) List(_ context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(kind)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(b))
	for _, r := range b {
		if r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (m *Memory) Create(_ context.Context, rec model.Record) (uuid.UUID, error) {
	if rec.ID == uuid.Nil || rec.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: empty id/userId", errs.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(rec.Kind)
	if err != nil {
		return uuid.Nil, err
	}
	if _, ok := b[rec.ID]; ok {
		return rec.ID, nil
	}
	rec = rec.Clone()
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	b[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) Update(_ context.Context, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(kind)
	if err != nil {
		return model.Record{}, err
	}
	cur, ok := b[id]
	if !ok {
		return model.Record{}, fmt.Errorf("mirror update %s %s: %w", kind, id, errs.ErrNotFound)
	}
	next := p.Apply(cur, m.now())
	b[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, kind model.Kind, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(kind)
	if err != nil {
		return err
	}
	delete(b, id)
	return nil
}

// Len reports the number of stored records of kind across all users.
func (m *Memory) Len(kind model.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs[kind])
}
