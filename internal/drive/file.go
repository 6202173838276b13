package drive

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/model"
)

// File stores one document per user under root:
//
//	<root>/
//	  <userID>.json
//
// Writes go to a temp file in the same directory and are renamed into place.
type File struct {
	root   string
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string][sha256.Size]byte // last content this process read or wrote, by path
}

var _ Drive = (*File)(nil)

// NewFile creates root if needed.
func NewFile(root string, now func() time.Time, logger *zap.Logger) (*File, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create drive root: %w", err)
	}
	if now == nil {
		now = defaultNow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{root: root, now: now, logger: logger, seen: make(map[string][sha256.Size]byte)}, nil
}

// Root returns the directory holding the documents.
func (f *File) Root() string { return f.root }

// Path returns the document path for userID.
func (f *File) Path(userID uuid.UUID) string {
	return filepath.Join(f.root, userID.String()+".json")
}

func (f *File) ReadAll(ctx context.Context, userID uuid.UUID) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	p := f.Path(userID)
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Snapshot{}, nil
		}
		return model.Snapshot{}, fmt.Errorf("read drive file: %w", err)
	}
	s, err := Decode(b)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%s: %w", p, err)
	}
	f.remember(p, b)
	return s, nil
}

func (f *File) WriteAll(ctx context.Context, userID uuid.UUID, s model.Snapshot) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	out := stamp(s, f.now())
	b, err := Encode(out)
	if err != nil {
		return model.Snapshot{}, err
	}
	p := f.Path(userID)
	if err := writeAtomic(p, b); err != nil {
		return model.Snapshot{}, err
	}
	f.remember(p, b)
	f.logger.Debug("drive file written",
		zap.String("path", p), zap.Int64("version", out.Version), zap.Int("records", len(out.Records)))
	return out, nil
}

// ExternallyChanged reports whether the document at path differs from what this process
// last read or wrote. Used to ignore watcher events caused by our own writes.
func (f *File) ExternallyChanged(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	sum := sha256.Sum256(b)
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.seen[path]
	return !ok || last != sum
}

func (f *File) remember(path string, b []byte) {
	sum := sha256.Sum256(b)
	f.mu.Lock()
	f.seen[path] = sum
	f.mu.Unlock()
}

func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
