package drive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// FormatVersion is the document layout written by this package.
const FormatVersion = 1

type document struct {
	Format     int            `json:"format"`
	Version    int64          `json:"version"`
	ModifiedAt time.Time      `json:"modifiedAt"`
	Records    []model.Record `json:"records"`
}

// Encode renders s as a drive document.
func Encode(s model.Snapshot) ([]byte, error) {
	recs := s.Records
	if recs == nil {
		recs = []model.Record{}
	}
	b, err := json.MarshalIndent(document{
		Format:     FormatVersion,
		Version:    s.Version,
		ModifiedAt: s.ModifiedAt.UTC(),
		Records:    recs,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses a drive document. Any structural problem is errs.ErrMalformedSnapshot.
func Decode(b []byte) (model.Snapshot, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return model.Snapshot{}, fmt.Errorf("%w: empty document", errs.ErrMalformedSnapshot)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", errs.ErrMalformedSnapshot, err)
	}
	if doc.Format != FormatVersion {
		return model.Snapshot{}, fmt.Errorf("%w: unsupported format %d", errs.ErrMalformedSnapshot, doc.Format)
	}
	if doc.Version < 0 {
		return model.Snapshot{}, fmt.Errorf("%w: negative version", errs.ErrMalformedSnapshot)
	}
	seen := make(map[uuid.UUID]struct{}, len(doc.Records))
	for i, r := range doc.Records {
		if r.ID == uuid.Nil {
			return model.Snapshot{}, fmt.Errorf("%w: record[%d]: empty id", errs.ErrMalformedSnapshot, i)
		}
		if !r.Kind.Valid() {
			return model.Snapshot{}, fmt.Errorf("%w: record[%d]: unknown kind %q", errs.ErrMalformedSnapshot, i, r.Kind)
		}
		if _, dup := seen[r.ID]; dup {
			return model.Snapshot{}, fmt.Errorf("%w: record[%d]: duplicate id %s", errs.ErrMalformedSnapshot, i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return model.Snapshot{Version: doc.Version, ModifiedAt: doc.ModifiedAt, Records: doc.Records}, nil
}

// stamp returns the snapshot as it will be stored by a write at now.
func stamp(s model.Snapshot, now time.Time) model.Snapshot {
	out := model.Snapshot{Version: s.Version + 1, ModifiedAt: now.UTC()}
	out.Records = make([]model.Record, 0, len(s.Records))
	for _, r := range s.Records {
		out.Records = append(out.Records, r.Clone())
	}
	return out
}

func defaultNow() time.Time { return time.Now().UTC() }
