package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

var env = model.Envelope{Ciphertext: "Y3Q=", IV: "aXY="}

func noteRecord(userID uuid.UUID) model.Record {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return model.Record{
		ID: uuid.Must(uuid.NewV4()), UserID: userID, Kind: model.KindNote,
		Fields: map[string]model.Envelope{model.FieldBody: env},
		Date:   "2024-05-01", TagIDs: []uuid.UUID{uuid.Must(uuid.NewV4())},
		CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestRecords_Create_Delegates(t *testing.T) {
	t.Parallel()

	repo := &fakeRecords{}
	s := NewRecordService(repo)
	user := uuid.Must(uuid.NewV4())
	rec := noteRecord(user)

	id, err := s.Create(context.Background(), user, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != rec.ID || repo.createIn == nil || repo.createIn.Fields[model.FieldBody] != env {
		t.Fatalf("not delegated: %v %+v", id, repo.createIn)
	}
}

func TestRecords_Create_Validation(t *testing.T) {
	t.Parallel()

	user := uuid.Must(uuid.NewV4())
	cases := map[string]struct {
		mut  func(r *model.Record)
		want error
	}{
		"bad kind":      {func(r *model.Record) { r.Kind = "folder" }, errs.ErrValidation},
		"nil id":        {func(r *model.Record) { r.ID = uuid.Nil }, errs.ErrValidation},
		"foreign owner": {func(r *model.Record) { r.UserID = uuid.Must(uuid.NewV4()) }, errs.ErrUnauthorized},
		"unknown field": {func(r *model.Record) { r.Fields["name"] = env }, errs.ErrValidation},
		"empty iv":      {func(r *model.Record) { r.Fields[model.FieldBody] = model.Envelope{Ciphertext: "x"} }, errs.ErrValidation},
		"bad date":      {func(r *model.Record) { r.Date = "May 1" }, errs.ErrValidation},
		"nil tag id":    {func(r *model.Record) { r.TagIDs = []uuid.UUID{uuid.Nil} }, errs.ErrValidation},
		"tag with date": {func(r *model.Record) { r.Kind = model.KindTag; r.Fields = nil }, errs.ErrValidation},
		"updated early": {func(r *model.Record) { r.UpdatedAt = r.CreatedAt.Add(-time.Second) }, errs.ErrValidation},
	}
	for name, tc := range cases {
		repo := &fakeRecords{}
		rec := noteRecord(user)
		tc.mut(&rec)
		_, err := NewRecordService(repo).Create(context.Background(), user, rec)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", name, tc.want, err)
		}
		if repo.createIn != nil {
			t.Fatalf("%s: invalid record reached the repository", name)
		}
	}
}

func TestRecords_Create_TombstoneIsNormalized(t *testing.T) {
	t.Parallel()

	repo := &fakeRecords{}
	user := uuid.Must(uuid.NewV4())
	rec := noteRecord(user)
	rec.Deleted = true
	rec.Fields["junk"] = env

	if _, err := NewRecordService(repo).Create(context.Background(), user, rec); err != nil {
		t.Fatalf("Create tombstone: %v", err)
	}
	got := repo.createIn
	if !got.Deleted || got.Fields != nil || got.Date != "" || got.TagIDs != nil {
		t.Fatalf("tombstone not stripped: %+v", got)
	}
}

func TestRecords_Update(t *testing.T) {
	t.Parallel()

	repo := &fakeRecords{out: model.Record{Kind: model.KindTag}}
	s := NewRecordService(repo)
	user := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	p := model.RecordPatch{Fields: map[string]model.Envelope{model.FieldColor: env}}
	if _, err := s.Update(context.Background(), user, model.KindTag, id, p); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repo.updateIn.userID != user || repo.updateIn.id != id || repo.updateIn.kind != model.KindTag {
		t.Fatalf("not delegated: %+v", repo.updateIn)
	}

	date := "2024-05-01"
	bad := []model.RecordPatch{
		{Fields: map[string]model.Envelope{model.FieldBody: env}},
		{Date: &date},
		{UpdatedAt: time.Now().Add(48 * time.Hour)},
	}
	for i, p := range bad {
		if _, err := s.Update(context.Background(), user, model.KindTag, id, p); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("patch[%d]: want ErrValidation, got %v", i, err)
		}
	}
	if _, err := s.Update(context.Background(), user, model.KindNote, uuid.Nil, model.RecordPatch{}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("nil id: want ErrValidation, got %v", err)
	}

	repo.err = errs.ErrNotFound
	if _, err := s.Update(context.Background(), user, model.KindTag, id, model.RecordPatch{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRecords_ListAndDelete(t *testing.T) {
	t.Parallel()

	repo := &fakeRecords{}
	s := NewRecordService(repo)
	user := uuid.Must(uuid.NewV4())

	if _, err := s.List(context.Background(), model.KindNote, user); err != nil {
		t.Fatalf("List: %v", err)
	}
	if repo.listIn != [2]any{model.KindNote, user} {
		t.Fatalf("List args: %v", repo.listIn)
	}
	if _, err := s.List(context.Background(), model.KindNote, uuid.Nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation for nil user, got %v", err)
	}

	id := uuid.Must(uuid.NewV4())
	if err := s.Delete(context.Background(), user, model.KindTag, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.deleteIn != [3]any{model.KindTag, user, id} {
		t.Fatalf("Delete args: %v", repo.deleteIn)
	}
	if err := s.Delete(context.Background(), user, "folder", id); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}
