package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// table maps one record kind onto its SQL table. Every encrypted field f is stored as
// the nullable text pair f_ct, f_iv.
type table struct {
	name   string
	kind   model.Kind
	fields []string
	dated  bool // date and tag_ids columns
}

var tables = map[model.Kind]table{
	model.KindTag:  {name: "tags", kind: model.KindTag, fields: model.KindTag.Fields()},
	model.KindNote: {name: "notes", kind: model.KindNote, fields: model.KindNote.Fields(), dated: true},
}

func tableFor(kind model.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, kind)
	}
	return t, nil
}

// mutable lists the columns an update rewrites, in argument order.
func (t table) mutable() []string {
	cols := make([]string, 0, 2*len(t.fields)+4)
	for _, f := range t.fields {
		cols = append(cols, f+"_ct", f+"_iv")
	}
	if t.dated {
		cols = append(cols, "date", "tag_ids")
	}
	return append(cols, "deleted", "updated_at")
}

func (t table) columns() []string {
	return append([]string{"id", "user_id", "created_at"}, t.mutable()...)
}

func (t table) mutableValues(rec model.Record) []any {
	vals := make([]any, 0, 2*len(t.fields)+4)
	for _, f := range t.fields {
		var ct, iv *string
		if env, ok := rec.Fields[f]; ok {
			ct, iv = &env.Ciphertext, &env.IV
		}
		vals = append(vals, ct, iv)
	}
	if t.dated {
		tagIDs := make([]string, 0, len(rec.TagIDs))
		for _, id := range rec.TagIDs {
			tagIDs = append(tagIDs, id.String())
		}
		vals = append(vals, rec.Date, tagIDs)
	}
	return append(vals, rec.Deleted, rec.UpdatedAt)
}

func (t table) scan(row pgx.Row) (model.Record, error) {
	rec := model.Record{Kind: t.kind}
	envs := make([]*string, 2*len(t.fields))
	dest := []any{&rec.ID, &rec.UserID, &rec.CreatedAt}
	for i := range envs {
		dest = append(dest, &envs[i])
	}
	var tagIDs []string
	if t.dated {
		dest = append(dest, &rec.Date, &tagIDs)
	}
	dest = append(dest, &rec.Deleted, &rec.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return model.Record{}, err
	}

	for i, f := range t.fields {
		ct, iv := envs[2*i], envs[2*i+1]
		if ct == nil || iv == nil {
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]model.Envelope, len(t.fields))
		}
		rec.Fields[f] = model.Envelope{Ciphertext: *ct, IV: *iv}
	}
	for _, s := range tagIDs {
		id, err := uuid.FromString(s)
		if err != nil {
			return model.Record{}, fmt.Errorf("%s %s: tag id %q: %w", t.kind, rec.ID, s, err)
		}
		rec.TagIDs = append(rec.TagIDs, id)
	}
	return rec, nil
}

func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ",")
}

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct {
	db  *DB
	now func() time.Time
}

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the user's records of kind, oldest first.
func (r *RecordRepo) List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + strings.Join(t.columns(), ", ") + ` FROM ` + t.name + ` WHERE user_id=$1 ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts rec. A duplicate id is ignored so retried creates are harmless.
func (r *RecordRepo) Create(ctx context.Context, rec model.Record) (uuid.UUID, error) {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return uuid.Nil, err
	}
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	cols := t.columns()
	q := `INSERT INTO ` + t.name + ` (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders(1, len(cols)) + `) ON CONFLICT (id) DO NOTHING`
	args := append([]any{rec.ID, rec.UserID, rec.CreatedAt}, t.mutableValues(rec)...)
	if _, err := r.db.Pool.Exec(ctx, q, args...); err != nil {
		if isForeignKeyViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: unknown user %s", errs.ErrValidation, rec.UserID)
		}
		return uuid.Nil, err
	}
	return rec.ID, nil
}

// Update locks the row, merges the patch and writes every mutable column back.
func (r *RecordRepo) Update(
	ctx context.Context, kind model.Kind, userID, id uuid.UUID, p model.RecordPatch,
) (out model.Record, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return model.Record{}, err
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Record{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	sel := `SELECT ` + strings.Join(t.columns(), ", ") + ` FROM ` + t.name + ` WHERE id=$1 AND user_id=$2 FOR UPDATE`
	cur, err := t.scan(tx.QueryRow(ctx, sel, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, fmt.Errorf("%s %s: %w", kind, id, errs.ErrNotFound)
		}
		return model.Record{}, err
	}

	next := p.Apply(cur, r.now())
	sets := make([]string, 0, len(t.mutable()))
	for i, c := range t.mutable() {
		sets = append(sets, fmt.Sprintf("%s=$%d", c, i+3))
	}
	upd := `UPDATE ` + t.name + ` SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 AND user_id=$2`
	if _, err = tx.Exec(ctx, upd, append([]any{id, userID}, t.mutableValues(next)...)...); err != nil {
		return model.Record{}, err
	}
	return next, nil
}

// Delete removes the row if present.
func (r *RecordRepo) Delete(ctx context.Context, kind model.Kind, userID, id uuid.UUID) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `DELETE FROM `+t.name+` WHERE id=$1 AND user_id=$2`, id, userID)
	return err
}
