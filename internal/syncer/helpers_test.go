package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/notesync/internal/cache"
	"github.com/and161185/notesync/internal/crypto/fieldcrypto"
	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/mirror"
	"github.com/and161185/notesync/internal/model"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	k, err := fieldcrypto.Rand(fieldcrypto.KeyLen)
	require.NoError(t, err)
	return k
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// sealedTag builds a tag in both forms, sealed with key.
func sealedTag(t *testing.T, key []byte, userID, id uuid.UUID, name, color string, updated time.Time) cache.Item {
	t.Helper()
	plain := map[string]string{model.FieldName: name, model.FieldColor: color}
	fields, err := fieldcrypto.SealRecord(model.KindTag, plain, key)
	require.NoError(t, err)
	created := at(1)
	return cache.Item{
		Entity: model.Entity{ID: id, UserID: userID, Kind: model.KindTag, Fields: plain, CreatedAt: created, UpdatedAt: updated},
		Sealed: model.Record{ID: id, UserID: userID, Kind: model.KindTag, Fields: fields, CreatedAt: created, UpdatedAt: updated},
	}
}

func opener(key []byte) OpenFunc {
	return func(r model.Record) (model.Entity, error) { return fieldcrypto.OpenRecord(r, key) }
}

// flakyDrive wraps a drive and fails calls on demand.
type flakyDrive struct {
	drive.Drive

	mu       sync.Mutex
	readErrs []error // consumed one per ReadAll
	writeErr error
	reads    int
	writes   int
	block    chan struct{} // when set, ReadAll waits on it
}

func (f *flakyDrive) ReadAll(ctx context.Context, userID uuid.UUID) (model.Snapshot, error) {
	f.mu.Lock()
	f.reads++
	var err error
	if len(f.readErrs) > 0 {
		err, f.readErrs = f.readErrs[0], f.readErrs[1:]
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	return f.Drive.ReadAll(ctx, userID)
}

func (f *flakyDrive) WriteAll(ctx context.Context, userID uuid.UUID, s model.Snapshot) (model.Snapshot, error) {
	f.mu.Lock()
	f.writes++
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return model.Snapshot{}, err
	}
	return f.Drive.WriteAll(ctx, userID, s)
}

func (f *flakyDrive) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes
}

// flakyMirror fails every call while err is set.
type flakyMirror struct {
	mirror.Mirror

	mu  sync.Mutex
	err error
}

func (f *flakyMirror) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakyMirror) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *flakyMirror) List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Mirror.List(ctx, kind, userID)
}

func (f *flakyMirror) Create(ctx context.Context, rec model.Record) (uuid.UUID, error) {
	if err := f.fail(); err != nil {
		return uuid.Nil, err
	}
	return f.Mirror.Create(ctx, rec)
}

func (f *flakyMirror) Update(ctx context.Context, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error) {
	if err := f.fail(); err != nil {
		return model.Record{}, err
	}
	return f.Mirror.Update(ctx, kind, id, p)
}

func (f *flakyMirror) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Mirror.Delete(ctx, kind, id)
}

type harness struct {
	key    []byte
	userID uuid.UUID
	cache  *cache.Cache
	mem    *mirror.Memory
	mirror *flakyMirror
	store  *drive.Memory
	drive  *flakyDrive
	orch   *Orchestrator
	engine *Engine
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{key: newKey(t), userID: uuid.Must(uuid.NewV4()), cache: cache.New()}
	h.mem = mirror.NewMemory(nil)
	h.mirror = &flakyMirror{Mirror: h.mem}
	h.store = drive.NewMemory(nil)
	h.drive = &flakyDrive{Drive: h.store}

	opts := Options{
		UserID: h.userID, Key: h.key,
		Cache: h.cache, Mirror: h.mirror, Drive: h.drive,
		Logger:            zaptestLogger(t),
		CallTimeout:       time.Second,
		MaxAttempts:       3,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		DebounceThreshold: 100,
	}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	h.orch = o
	h.engine = NewEngine(h.userID, h.key, h.cache, h.mirror, o, opts.Logger, nil)
	h.engine.SetTimeout(time.Second)
	return h
}

// driveRecords returns the records currently stored on the drive.
func (h *harness) driveRecords(t *testing.T) []model.Record {
	t.Helper()
	s, err := h.store.ReadAll(context.Background(), h.userID)
	require.NoError(t, err)
	return s.Records
}

func (h *harness) mirrorRecords(t *testing.T, kind model.Kind) []model.Record {
	t.Helper()
	recs, err := h.mem.List(context.Background(), kind, h.userID)
	require.NoError(t, err)
	return recs
}
