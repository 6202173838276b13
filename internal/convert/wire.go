// Package convert maps notesync.v1 wire messages to domain types and back.
package convert

import (
	"fmt"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/errs"
	model "github.com/and161185/notesync/internal/model"
	u "github.com/gofrs/uuid/v5"
)

// --- helpers ---

func parseID(field, s string) (u.UUID, error) {
	var id u.UUID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return u.Nil, fmt.Errorf("%w: invalid %s: %v", errs.ErrValidation, field, err)
	}
	return id, nil
}

// ParseID parses a wire uuid, reporting errs.ErrValidation on failure.
func ParseID(s string) (u.UUID, error) { return parseID("id", s) }

// ParseKind validates a wire kind.
func ParseKind(s string) (model.Kind, error) {
	k := model.Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, s)
	}
	return k, nil
}

func ids(in []u.UUID) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, id.String())
	}
	return out
}

func fromIDs(in []string) ([]u.UUID, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]u.UUID, 0, len(in))
	for i, s := range in {
		id, err := parseID(fmt.Sprintf("tagIds[%d]", i), s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// --- Envelopes ---

// ToWireFields converts domain envelopes to wire envelopes.
func ToWireFields(in map[string]model.Envelope) map[string]api.Envelope {
	if in == nil {
		return nil
	}
	out := make(map[string]api.Envelope, len(in))
	for k, v := range in {
		out[k] = api.Envelope{Ciphertext: v.Ciphertext, IV: v.IV}
	}
	return out
}

// FromWireFields converts wire envelopes, rejecting field names the kind does not carry.
func FromWireFields(kind model.Kind, in map[string]api.Envelope) (map[string]model.Envelope, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]model.Envelope, len(in))
	for k, v := range in {
		if !kind.HasField(k) {
			return nil, fmt.Errorf("%w: %s has no field %q", errs.ErrValidation, kind, k)
		}
		out[k] = model.Envelope{Ciphertext: v.Ciphertext, IV: v.IV}
	}
	return out, nil
}

// --- Records ---

// ToWireRecord converts a domain record to its wire form.
func ToWireRecord(r model.Record) api.Record {
	return api.Record{
		ID:        r.ID.String(),
		UserID:    r.UserID.String(),
		Kind:      string(r.Kind),
		Fields:    ToWireFields(r.Fields),
		Date:      r.Date,
		TagIDs:    ids(r.TagIDs),
		Deleted:   r.Deleted,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ToWireRecords converts a slice of records.
func ToWireRecords(rs []model.Record) []api.Record {
	out := make([]api.Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToWireRecord(r))
	}
	return out
}

// FromWireRecord parses and validates a wire record.
func FromWireRecord(in api.Record) (model.Record, error) {
	id, err := parseID("id", in.ID)
	if err != nil {
		return model.Record{}, err
	}
	userID, err := parseID("userId", in.UserID)
	if err != nil {
		return model.Record{}, err
	}
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return model.Record{}, err
	}
	fields, err := FromWireFields(kind, in.Fields)
	if err != nil {
		return model.Record{}, err
	}
	tagIDs, err := fromIDs(in.TagIDs)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Fields:    fields,
		Date:      in.Date,
		TagIDs:    tagIDs,
		Deleted:   in.Deleted,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}, nil
}

// FromWireRecords converts a batch, failing on the first invalid record.
func FromWireRecords(in []api.Record) ([]model.Record, error) {
	out := make([]model.Record, 0, len(in))
	for i, r := range in {
		m, err := FromWireRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// --- Patches ---

// ToWirePatch builds an UpdateRecord request from a domain patch.
func ToWirePatch(kind model.Kind, id u.UUID, p model.RecordPatch) *api.UpdateRecordRequest {
	req := &api.UpdateRecordRequest{
		Kind:    string(kind),
		ID:      id.String(),
		Fields:  ToWireFields(p.Fields),
		Date:    p.Date,
		Deleted: p.Deleted,
	}
	if p.TagIDs != nil {
		s := ids(*p.TagIDs)
		if s == nil {
			s = []string{}
		}
		req.TagIDs = &s
	}
	if !p.UpdatedAt.IsZero() {
		ts := p.UpdatedAt
		req.UpdatedAt = &ts
	}
	return req
}

// FromWirePatch parses an UpdateRecord request.
func FromWirePatch(req *api.UpdateRecordRequest) (model.Kind, u.UUID, model.RecordPatch, error) {
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return "", u.Nil, model.RecordPatch{}, err
	}
	id, err := parseID("id", req.ID)
	if err != nil {
		return "", u.Nil, model.RecordPatch{}, err
	}
	fields, err := FromWireFields(kind, req.Fields)
	if err != nil {
		return "", u.Nil, model.RecordPatch{}, err
	}
	p := model.RecordPatch{Fields: fields, Date: req.Date, Deleted: req.Deleted}
	if req.TagIDs != nil {
		tags, err := fromIDs(*req.TagIDs)
		if err != nil {
			return "", u.Nil, model.RecordPatch{}, err
		}
		if tags == nil {
			tags = []u.UUID{}
		}
		p.TagIDs = &tags
	}
	if req.UpdatedAt != nil {
		p.UpdatedAt = req.UpdatedAt.UTC()
	}
	return kind, id, p, nil
}

// --- Users ---

// ToWireUser converts a domain user.
func ToWireUser(m model.User) api.User {
	return api.User{
		ID:          m.ID.String(),
		ExternalID:  m.ExternalID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ToWireUsers converts a slice of users.
func ToWireUsers(in []model.User) []api.User {
	out := make([]api.User, 0, len(in))
	for _, m := range in {
		out = append(out, ToWireUser(m))
	}
	return out
}

// FromWireUser parses a wire user.
func FromWireUser(in api.User) (model.User, error) {
	id, err := parseID("id", in.ID)
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		ID:          id,
		ExternalID:  in.ExternalID,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
		CreatedAt:   in.CreatedAt.UTC(),
		UpdatedAt:   in.UpdatedAt.UTC(),
	}, nil
}

