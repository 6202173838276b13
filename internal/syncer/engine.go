package syncer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/cache"
	"github.com/and161185/notesync/internal/crypto/fieldcrypto"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/mirror"
	"github.com/and161185/notesync/internal/model"
)

// DateLayout is the note date format.
const DateLayout = "2006-01-02"

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DirtyMarker receives local changes; implemented by Orchestrator.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, id uuid.UUID, rev uint64)
}

// Engine applies local mutations: encrypt, update the cache, push to the mirror
// best-effort, mark dirty. Mirror failures are logged; the drive pass picks them up.
type Engine struct {
	userID  uuid.UUID
	key     []byte
	cache   *cache.Cache
	mirror  mirror.Mirror
	marker  DirtyMarker
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewEngine wires an engine for one user. A nil now uses the wall clock.
func NewEngine(userID uuid.UUID, key []byte, c *cache.Cache, m mirror.Mirror, marker DirtyMarker, logger *zap.Logger, now func() time.Time) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		userID: userID, key: key, cache: c, mirror: m, marker: marker,
		logger:  logger.With(zap.String("component", "engine")),
		now:     now,
		timeout: DefaultCallTimeout,
	}
}

// SetTimeout bounds each best-effort mirror push.
func (e *Engine) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// stamp returns a mutation timestamp strictly after prev. Microsecond precision matches
// what the mirror store keeps.
func (e *Engine) stamp(prev time.Time) time.Time {
	ts := e.now().UTC().Truncate(time.Microsecond)
	if !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	return ts
}

func validateTag(name, color *string) error {
	if name != nil && strings.TrimSpace(*name) == "" {
		return fmt.Errorf("%w: empty tag name", errs.ErrValidation)
	}
	if color != nil && !colorRe.MatchString(*color) {
		return fmt.Errorf("%w: color must look like #rrggbb, got %q", errs.ErrValidation, *color)
	}
	return nil
}

func (e *Engine) validateNote(date *string, tagIDs *[]uuid.UUID) error {
	if date != nil {
		if _, err := time.Parse(DateLayout, *date); err != nil {
			return fmt.Errorf("%w: date must be YYYY-MM-DD: %v", errs.ErrValidation, err)
		}
	}
	if tagIDs != nil {
		for _, id := range *tagIDs {
			it, ok := e.cache.Get(id)
			if !ok || it.Entity.Deleted || it.Entity.Kind != model.KindTag || it.Entity.UserID != e.userID {
				return fmt.Errorf("%w: unknown tag %s", errs.ErrValidation, id)
			}
		}
	}
	return nil
}

// CreateTag stores a new tag.
func (e *Engine) CreateTag(ctx context.Context, name, color string) (model.Tag, error) {
	if err := validateTag(&name, &color); err != nil {
		return model.Tag{}, err
	}
	ent, err := e.create(ctx, model.KindTag, map[string]string{model.FieldName: name, model.FieldColor: color}, "", nil)
	if err != nil {
		return model.Tag{}, err
	}
	return ent.Tag(), nil
}

// UpdateTag changes the given attributes; nil leaves a value as is.
func (e *Engine) UpdateTag(ctx context.Context, id uuid.UUID, name, color *string) (model.Tag, error) {
	if err := validateTag(name, color); err != nil {
		return model.Tag{}, err
	}
	fields := map[string]string{}
	if name != nil {
		fields[model.FieldName] = *name
	}
	if color != nil {
		fields[model.FieldColor] = *color
	}
	ent, err := e.update(ctx, model.KindTag, id, fields, nil, nil)
	if err != nil {
		return model.Tag{}, err
	}
	return ent.Tag(), nil
}

// DeleteTag replaces the tag with a tombstone.
func (e *Engine) DeleteTag(ctx context.Context, id uuid.UUID) error {
	return e.delete(ctx, model.KindTag, id)
}

// CreateNote stores a new note. An empty date means today.
func (e *Engine) CreateNote(ctx context.Context, body, date string, tagIDs []uuid.UUID) (model.Note, error) {
	if date == "" {
		date = e.now().Format(DateLayout)
	}
	if tagIDs == nil {
		tagIDs = []uuid.UUID{}
	}
	if err := e.validateNote(&date, &tagIDs); err != nil {
		return model.Note{}, err
	}
	ent, err := e.create(ctx, model.KindNote, map[string]string{model.FieldBody: body}, date, tagIDs)
	if err != nil {
		return model.Note{}, err
	}
	return ent.Note(), nil
}

// UpdateNote changes the given attributes; nil leaves a value as is.
func (e *Engine) UpdateNote(ctx context.Context, id uuid.UUID, body, date *string, tagIDs *[]uuid.UUID) (model.Note, error) {
	if err := e.validateNote(date, tagIDs); err != nil {
		return model.Note{}, err
	}
	fields := map[string]string{}
	if body != nil {
		fields[model.FieldBody] = *body
	}
	ent, err := e.update(ctx, model.KindNote, id, fields, date, tagIDs)
	if err != nil {
		return model.Note{}, err
	}
	return ent.Note(), nil
}

// DeleteNote replaces the note with a tombstone.
func (e *Engine) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return e.delete(ctx, model.KindNote, id)
}

// Tags lists live tags ordered by creation.
func (e *Engine) Tags() []model.Tag {
	var out []model.Tag
	for _, ent := range e.cache.ListByUser(e.userID) {
		if ent.Kind == model.KindTag {
			out = append(out, ent.Tag())
		}
	}
	return out
}

// Notes lists live notes ordered by creation. Tag references to deleted tags are dropped.
func (e *Engine) Notes() []model.Note {
	live := map[uuid.UUID]bool{}
	var notes []model.Note
	for _, ent := range e.cache.ListByUser(e.userID) {
		switch ent.Kind {
		case model.KindTag:
			live[ent.ID] = true
		case model.KindNote:
			notes = append(notes, ent.Note())
		}
	}
	for i := range notes {
		notes[i].TagIDs = slices.DeleteFunc(notes[i].TagIDs, func(id uuid.UUID) bool { return !live[id] })
	}
	return notes
}

func (e *Engine) create(ctx context.Context, kind model.Kind, plain map[string]string, date string, tagIDs []uuid.UUID) (model.Entity, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.Entity{}, fmt.Errorf("new id: %w", err)
	}
	fields, err := fieldcrypto.SealRecord(kind, plain, e.key)
	if err != nil {
		return model.Entity{}, err
	}
	ts := e.stamp(time.Time{})
	rec := model.Record{
		ID: id, UserID: e.userID, Kind: kind, Fields: fields,
		Date: date, TagIDs: slices.Clone(tagIDs),
		CreatedAt: ts, UpdatedAt: ts,
	}
	ent := model.Entity{
		ID: id, UserID: e.userID, Kind: kind, Fields: plain,
		Date: date, TagIDs: slices.Clone(tagIDs),
		CreatedAt: ts, UpdatedAt: ts,
	}
	rev := e.cache.Upsert(cache.Item{Entity: ent, Sealed: rec})

	e.push(ctx, rec, func(ctx context.Context) error {
		_, err := e.mirror.Create(ctx, rec)
		return err
	})
	e.marker.MarkDirty(ctx, id, rev)
	return ent, nil
}

func (e *Engine) current(kind model.Kind, id uuid.UUID) (cache.Item, error) {
	it, ok := e.cache.Get(id)
	if !ok || it.Entity.Deleted || it.Entity.Kind != kind || it.Entity.UserID != e.userID {
		return cache.Item{}, fmt.Errorf("%s %s: %w", kind, id, errs.ErrNotFound)
	}
	return it, nil
}

func (e *Engine) update(ctx context.Context, kind model.Kind, id uuid.UUID, plain map[string]string, date *string, tagIDs *[]uuid.UUID) (model.Entity, error) {
	it, err := e.current(kind, id)
	if err != nil {
		return model.Entity{}, err
	}
	sealed, err := fieldcrypto.SealRecord(kind, plain, e.key)
	if err != nil {
		return model.Entity{}, err
	}
	patch := model.RecordPatch{Fields: sealed, Date: date, TagIDs: tagIDs, UpdatedAt: e.stamp(it.Sealed.UpdatedAt)}
	rec := patch.Apply(it.Sealed, patch.UpdatedAt)

	ent := it.Entity
	if ent.Fields == nil {
		ent.Fields = map[string]string{}
	}
	for k, v := range plain {
		ent.Fields[k] = v
	}
	if date != nil {
		ent.Date = *date
	}
	if tagIDs != nil {
		ent.TagIDs = slices.Clone(*tagIDs)
	}
	ent.UpdatedAt = rec.UpdatedAt
	rev := e.cache.Upsert(cache.Item{Entity: ent, Sealed: rec})

	e.push(ctx, rec, func(ctx context.Context) error {
		_, err := e.mirror.Update(ctx, kind, id, patch)
		if errors.Is(err, errs.ErrNotFound) {
			_, err = e.mirror.Create(ctx, rec)
		}
		return err
	})
	e.marker.MarkDirty(ctx, id, rev)
	return ent, nil
}

func (e *Engine) delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	it, err := e.current(kind, id)
	if err != nil {
		return err
	}
	tomb := model.Tombstone(it.Sealed, e.stamp(it.Sealed.UpdatedAt))
	ent := model.Entity{
		ID: id, UserID: it.Entity.UserID, Kind: kind, Deleted: true,
		CreatedAt: it.Entity.CreatedAt, UpdatedAt: tomb.UpdatedAt,
	}
	rev := e.cache.Upsert(cache.Item{Entity: ent, Sealed: tomb})

	e.push(ctx, tomb, func(ctx context.Context) error {
		return upsertMirror(ctx, e.mirror, e.timeout, tomb)
	})
	e.marker.MarkDirty(ctx, id, rev)
	return nil
}

// push runs one best-effort mirror write under the call timeout.
func (e *Engine) push(ctx context.Context, rec model.Record, fn func(context.Context) error) {
	_, err := withTimeout(ctx, e.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		e.logger.Warn("mirror push failed, left for next sync",
			zap.String("kind", string(rec.Kind)), zap.Stringer("id", rec.ID), zap.Error(err))
	}
}
