// Package drive reads and writes the durable per-user snapshot file.
//
// The drive is the long-lived source of truth. A snapshot is read and written wholesale:
// WriteAll replaces the stored document (last writer wins) and stamps it with the next
// version and a fresh modification time.
package drive

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/model"
)

// Drive is the durable store consumed by the sync engine.
type Drive interface {
	// ReadAll returns the user's snapshot. A missing document reads as an empty snapshot
	// with version 0.
	ReadAll(ctx context.Context, userID uuid.UUID) (model.Snapshot, error)
	// WriteAll stores s and returns what was stored: Version is s.Version+1.
	WriteAll(ctx context.Context, userID uuid.UUID, s model.Snapshot) (model.Snapshot, error)
}

// Backend types accepted by New.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeS3     = "s3"
)

// Config selects and parameterizes a backend.
type Config struct {
	Type string   `toml:"type"`
	Root string   `toml:"root"` // file backend directory
	S3   S3Config `toml:"s3"`
}

// New builds the backend named by cfg.Type.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Drive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case TypeMemory:
		return NewMemory(nil), nil
	case TypeFile:
		if cfg.Root == "" {
			return nil, fmt.Errorf("file drive requires root to be set")
		}
		return NewFile(cfg.Root, nil, logger)
	case TypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 drive requires s3.bucket to be set")
		}
		return NewS3(ctx, cfg.S3, nil, logger)
	default:
		return nil, fmt.Errorf("unknown drive type: %q", cfg.Type)
	}
}
