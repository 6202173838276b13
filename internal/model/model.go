// Package model defines domain entities used by services, repositories and the sync engine.
package model

import (
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Kind names an entity kind stored in the mirror and the drive.
type Kind string

const (
	KindTag  Kind = "tag"
	KindNote Kind = "note"
)

// Encrypted field names per kind.
const (
	FieldName  = "name"
	FieldColor = "color"
	FieldBody  = "body"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindTag, KindNote}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindTag || k == KindNote }

// Fields returns the encrypted field names carried by the kind.
func (k Kind) Fields() []string {
	switch k {
	case KindTag:
		return []string{FieldName, FieldColor}
	case KindNote:
		return []string{FieldBody}
	default:
		return nil
	}
}

// HasField reports whether name is an encrypted field of the kind.
func (k Kind) HasField(name string) bool { return slices.Contains(k.Fields(), name) }

// Envelope is one encrypted field: ciphertext plus the nonce it was sealed with.
// Both values are standard base64.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// IsZero reports whether the envelope carries nothing.
func (e Envelope) IsZero() bool { return e.Ciphertext == "" && e.IV == "" }

// User represents an account in the mirror store, keyed by the external identity id.
type User struct {
	ID          uuid.UUID // internal stable reference
	ExternalID  string    // identity key from the auth provider
	Email       string
	DisplayName *string
	AvatarURL   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Record is the encrypted form of a tag or note as stored in the mirror and the drive.
// A record with Deleted set is a tombstone: it has no fields and its UpdatedAt is the
// deletion time.
type Record struct {
	ID        uuid.UUID           `json:"id"`
	UserID    uuid.UUID           `json:"userId"`
	Kind      Kind                `json:"kind"`
	Fields    map[string]Envelope `json:"fields,omitempty"`
	Date      string              `json:"date,omitempty"`
	TagIDs    []uuid.UUID         `json:"tagIds,omitempty"`
	Deleted   bool                `json:"deleted,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]Envelope, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	out.TagIDs = slices.Clone(r.TagIDs)
	return out
}

// RecordPatch is a partial update. Nil members and absent field keys leave stored values untouched.
type RecordPatch struct {
	Fields    map[string]Envelope
	Date      *string
	TagIDs    *[]uuid.UUID
	Deleted   *bool
	UpdatedAt time.Time // zero means "now" on the store side
}

// FullPatch returns a patch that replaces every mutable attribute of r.
func FullPatch(r Record) RecordPatch {
	deleted := r.Deleted
	p := RecordPatch{Deleted: &deleted, UpdatedAt: r.UpdatedAt}
	if r.Deleted {
		return p
	}
	p.Fields = r.Clone().Fields
	if r.Kind == KindNote {
		date := r.Date
		tags := slices.Clone(r.TagIDs)
		if tags == nil {
			tags = []uuid.UUID{}
		}
		p.Date, p.TagIDs = &date, &tags
	}
	return p
}

// Apply merges p into r following partial-update semantics.
func (p RecordPatch) Apply(r Record, now time.Time) Record {
	out := r.Clone()
	if out.Fields == nil && len(p.Fields) > 0 {
		out.Fields = make(map[string]Envelope, len(p.Fields))
	}
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.TagIDs != nil {
		out.TagIDs = slices.Clone(*p.TagIDs)
	}
	if p.Deleted != nil {
		out.Deleted = *p.Deleted
	}
	if out.Deleted {
		out.Fields, out.Date, out.TagIDs = nil, "", nil
	}
	out.UpdatedAt = p.UpdatedAt
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = now
	}
	return out
}

// Tombstone returns the deletion marker for r stamped at ts.
func Tombstone(r Record, ts time.Time) Record {
	return Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Kind:      r.Kind,
		Deleted:   true,
		CreatedAt: r.CreatedAt,
		UpdatedAt: ts,
	}
}

// Snapshot is the full encrypted entity set of one user as held by the drive.
type Snapshot struct {
	Version    int64     `json:"version"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Records    []Record  `json:"records"`
}

// Entity is the decrypted form of a record held by the local cache.
type Entity struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Kind      Kind
	Fields    map[string]string
	Date      string
	TagIDs    []uuid.UUID
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag is the decrypted view of a tag entity.
type Tag struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note is the decrypted view of a note entity.
type Note struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Body      string
	Date      string // YYYY-MM-DD, used for grouping only
	TagIDs    []uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag returns the tag view of e.
func (e Entity) Tag() Tag {
	return Tag{
		ID: e.ID, UserID: e.UserID,
		Name: e.Fields[FieldName], Color: e.Fields[FieldColor],
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

// Note returns the note view of e.
func (e Entity) Note() Note {
	return Note{
		ID: e.ID, UserID: e.UserID,
		Body: e.Fields[FieldBody], Date: e.Date, TagIDs: slices.Clone(e.TagIDs),
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}
