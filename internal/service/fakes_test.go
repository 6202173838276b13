package service

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/limiter"
	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/repository"
)

type fakeUsers struct {
	byExt map[string]*model.User

	ensureErr error
	getErr    error
	listErr   error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Ensure(_ context.Context, u *model.User) (model.User, error) {
	if f.ensureErr != nil {
		return model.User{}, f.ensureErr
	}
	if f.byExt == nil {
		f.byExt = map[string]*model.User{}
	}
	now := time.Now()
	if cur, ok := f.byExt[u.ExternalID]; ok {
		cur.Email = u.Email
		if u.DisplayName != nil {
			cur.DisplayName = u.DisplayName
		}
		if u.AvatarURL != nil {
			cur.AvatarURL = u.AvatarURL
		}
		cur.UpdatedAt = now
		return *cur, nil
	}
	cpy := *u
	cpy.ID = uuid.Must(uuid.NewV4())
	cpy.CreatedAt, cpy.UpdatedAt = now, now
	f.byExt[u.ExternalID] = &cpy
	return cpy, nil
}

func (f *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byExt[externalID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) List(context.Context) ([]model.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.User, 0, len(f.byExt))
	for _, u := range f.byExt {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

type fakeRecords struct {
	listIn   [2]any
	createIn *model.Record
	updateIn struct {
		kind   model.Kind
		userID uuid.UUID
		id     uuid.UUID
		patch  model.RecordPatch
	}
	deleteIn [3]any

	out model.Record
	err error
}

var _ repository.RecordRepository = (*fakeRecords)(nil)

func (f *fakeRecords) List(_ context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	f.listIn = [2]any{kind, userID}
	return []model.Record{f.out}, f.err
}

func (f *fakeRecords) Create(_ context.Context, rec model.Record) (uuid.UUID, error) {
	c := rec.Clone()
	f.createIn = &c
	return rec.ID, f.err
}

func (f *fakeRecords) Update(_ context.Context, kind model.Kind, userID, id uuid.UUID, p model.RecordPatch) (model.Record, error) {
	f.updateIn.kind, f.updateIn.userID, f.updateIn.id, f.updateIn.patch = kind, userID, id, p
	return f.out, f.err
}

func (f *fakeRecords) Delete(_ context.Context, kind model.Kind, userID, id uuid.UUID) error {
	f.deleteIn = [3]any{kind, userID, id}
	return f.err
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}
