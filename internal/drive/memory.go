package drive

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/model"
)

// Memory keeps encoded documents in a map. Used for tests and offline mode.
type Memory struct {
	mu   sync.Mutex
	docs map[uuid.UUID][]byte
	now  func() time.Time
}

var _ Drive = (*Memory)(nil)

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = defaultNow
	}
	return &Memory{docs: make(map[uuid.UUID][]byte), now: now}
}

func (m *Memory) ReadAll(ctx context.Context, userID uuid.UUID) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	m.mu.Lock()
	b, ok := m.docs[userID]
	m.mu.Unlock()
	if !ok {
		return model.Snapshot{}, nil
	}
	return Decode(b)
}

func (m *Memory) WriteAll(ctx context.Context, userID uuid.UUID, s model.Snapshot) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	out := stamp(s, m.now())
	b, err := Encode(out)
	if err != nil {
		return model.Snapshot{}, err
	}
	m.mu.Lock()
	m.docs[userID] = b
	m.mu.Unlock()
	return out, nil
}

// Put stores raw document bytes, bypassing validation.
func (m *Memory) Put(userID uuid.UUID, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[userID] = append([]byte(nil), raw...)
}
