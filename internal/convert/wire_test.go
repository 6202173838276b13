package convert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/errs"
	model "github.com/and161185/notesync/internal/model"
	u "github.com/gofrs/uuid/v5"
)

func mustUUID(t *testing.T, s string) u.UUID {
	t.Helper()
	id, err := u.FromString(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func TestFromWireRecord_OK(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := api.Record{
		ID:        "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11",
		UserID:    "0b8a0c16-6a0e-4b0f-9c51-2cf4a1c0f001",
		Kind:      "note",
		Fields:    map[string]api.Envelope{"body": {Ciphertext: "Y3Q=", IV: "aXY="}},
		Date:      "2024-05-01",
		TagIDs:    []string{"9d2c6a36-0a3c-4a1b-8d8e-7a0b5f3c2e10"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	got, err := FromWireRecord(in)
	if err != nil {
		t.Fatalf("FromWireRecord: %v", err)
	}
	if got.ID != mustUUID(t, in.ID) || got.Kind != model.KindNote {
		t.Fatalf("id/kind mismatch: %+v", got)
	}
	if got.Fields["body"].Ciphertext != "Y3Q=" || len(got.TagIDs) != 1 {
		t.Fatalf("fields/tags mismatch: %+v", got)
	}

	back := ToWireRecord(got)
	if back.ID != in.ID || back.TagIDs[0] != in.TagIDs[0] || back.Date != in.Date {
		t.Fatalf("roundtrip mismatch: %+v", back)
	}
}

func TestFromWireRecord_Invalid(t *testing.T) {
	t.Parallel()

	ok := api.Record{
		ID:     "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11",
		UserID: "0b8a0c16-6a0e-4b0f-9c51-2cf4a1c0f001",
		Kind:   "tag",
	}
	cases := map[string]func(r *api.Record){
		"bad id":       func(r *api.Record) { r.ID = "not-a-uuid" },
		"bad user":     func(r *api.Record) { r.UserID = "" },
		"bad kind":     func(r *api.Record) { r.Kind = "folder" },
		"foreign field": func(r *api.Record) {
			r.Fields = map[string]api.Envelope{"body": {}}
		},
		"bad tag id": func(r *api.Record) { r.TagIDs = []string{"x"} },
	}
	for name, mut := range cases {
		r := ok
		mut(&r)
		_, err := FromWireRecord(r)
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", name, err)
		}
	}
}

func TestFromWireRecords_EarlyError(t *testing.T) {
	t.Parallel()

	good := api.Record{ID: "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11", UserID: "0b8a0c16-6a0e-4b0f-9c51-2cf4a1c0f001", Kind: "tag"}
	_, err := FromWireRecords([]api.Record{good, {ID: "bad"}})
	if err == nil || !strings.Contains(err.Error(), "record[1]") {
		t.Fatalf("want indexed error, got %v", err)
	}
}

func TestPatch_Roundtrip(t *testing.T) {
	t.Parallel()

	id := mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11")
	color := model.Envelope{Ciphertext: "c", IV: "i"}
	p := model.RecordPatch{Fields: map[string]model.Envelope{model.FieldColor: color}}

	req := ToWirePatch(model.KindTag, id, p)
	if req.UpdatedAt != nil || req.Date != nil || req.TagIDs != nil || req.Deleted != nil {
		t.Fatalf("omitted members must stay nil: %+v", req)
	}

	kind, gotID, got, err := FromWirePatch(req)
	if err != nil {
		t.Fatalf("FromWirePatch: %v", err)
	}
	if kind != model.KindTag || gotID != id {
		t.Fatalf("kind/id mismatch")
	}
	if _, ok := got.Fields[model.FieldName]; ok {
		t.Fatalf("name must stay absent")
	}
	if got.Fields[model.FieldColor] != color || !got.UpdatedAt.IsZero() {
		t.Fatalf("patch mismatch: %+v", got)
	}
}

func TestPatch_EmptyTagListIsExplicit(t *testing.T) {
	t.Parallel()

	id := mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11")
	empty := []u.UUID{}
	req := ToWirePatch(model.KindNote, id, model.RecordPatch{TagIDs: &empty, UpdatedAt: time.Unix(10, 0)})
	if req.TagIDs == nil || len(*req.TagIDs) != 0 {
		t.Fatalf("empty tag list must be sent explicitly")
	}
	_, _, p, err := FromWirePatch(req)
	if err != nil {
		t.Fatalf("FromWirePatch: %v", err)
	}
	if p.TagIDs == nil || len(*p.TagIDs) != 0 {
		t.Fatalf("empty tag list lost")
	}
	if !p.UpdatedAt.Equal(time.Unix(10, 0)) {
		t.Fatalf("updatedAt lost")
	}
}

func TestUser_Roundtrip(t *testing.T) {
	t.Parallel()

	name := "Ann"
	m := model.User{ID: mustUUID(t, "0b8a0c16-6a0e-4b0f-9c51-2cf4a1c0f001"), ExternalID: "ext-1", Email: "a@x", DisplayName: &name}
	back, err := FromWireUser(ToWireUser(m))
	if err != nil {
		t.Fatalf("FromWireUser: %v", err)
	}
	if back.ID != m.ID || back.ExternalID != "ext-1" || *back.DisplayName != "Ann" || back.AvatarURL != nil {
		t.Fatalf("user mismatch: %+v", back)
	}
	if len(ToWireUsers([]model.User{m, m})) != 2 {
		t.Fatalf("ToWireUsers length")
	}
}
