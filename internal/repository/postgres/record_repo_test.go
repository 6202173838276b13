package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

var (
	tagCols  = []string{"id", "user_id", "created_at", "name_ct", "name_iv", "color_ct", "color_iv", "deleted", "updated_at"}
	noteCols = []string{"id", "user_id", "created_at", "body_ct", "body_iv", "date", "tag_ids", "deleted", "updated_at"}
)

func TestRecordRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	userID := uuid.Must(uuid.NewV4())
	tagID := uuid.Must(uuid.NewV4())
	noteID := uuid.Must(uuid.NewV4())
	deadID := uuid.Must(uuid.NewV4())
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, created_at, body_ct, body_iv, date, tag_ids, deleted, updated_at FROM notes WHERE user_id=$1 ORDER BY created_at, id`)).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(noteCols).
			AddRow(noteID, userID, ts, strp("ct"), strp("iv"), "2024-05-01", []string{tagID.String()}, false, ts).
			AddRow(deadID, userID, ts, nil, nil, "", []string{}, true, ts.Add(time.Minute)))

	recs, err := r.List(context.Background(), model.KindNote, userID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.Equal(t, model.KindNote, recs[0].Kind)
	require.Equal(t, model.Envelope{Ciphertext: "ct", IV: "iv"}, recs[0].Fields[model.FieldBody])
	require.Equal(t, []uuid.UUID{tagID}, recs[0].TagIDs)
	require.Equal(t, "2024-05-01", recs[0].Date)

	require.True(t, recs[1].Deleted)
	require.Empty(t, recs[1].Fields)
	require.Empty(t, recs[1].TagIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_List_UnknownKind(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	_, err := NewRecordRepo(db).List(context.Background(), model.Kind("folder"), uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecordRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := model.Record{
		ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), Kind: model.KindTag,
		Fields: map[string]model.Envelope{
			model.FieldName: {Ciphertext: "n", IV: "ni"},
		},
		CreatedAt: ts, UpdatedAt: ts,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tags (id, user_id, created_at, name_ct, name_iv, color_ct, color_iv, deleted, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (id) DO NOTHING`)).
		WithArgs(rec.ID, rec.UserID, ts, strp("n"), strp("ni"), (*string)(nil), (*string)(nil), false, ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := r.Create(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, id)

	// repeated create with the same id is absorbed by ON CONFLICT
	mock.ExpectExec(`INSERT INTO tags`).
		WithArgs(rec.ID, rec.UserID, ts, strp("n"), strp("ni"), (*string)(nil), (*string)(nil), false, ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	id, err = r.Create(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Create_NoteDefaultsAndUnknownUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	tagID := uuid.Must(uuid.NewV4())
	rec := model.Record{
		ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), Kind: model.KindNote,
		Fields: map[string]model.Envelope{model.FieldBody: {Ciphertext: "b", IV: "bi"}},
		Date:   "2024-06-01", TagIDs: []uuid.UUID{tagID},
	}

	mock.ExpectExec(`INSERT INTO notes`).
		WithArgs(rec.ID, rec.UserID, now, strp("b"), strp("bi"), "2024-06-01", []string{tagID.String()}, false, now).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := r.Create(context.Background(), rec)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Update_PartialKeepsOtherFields(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tags WHERE id=$1 AND user_id=$2 FOR UPDATE`)).
		WithArgs(id, userID).
		WillReturnRows(pgxmock.NewRows(tagCols).
			AddRow(id, userID, created, strp("n"), strp("ni"), strp("c"), strp("ci"), false, created))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tags SET name_ct=$3, name_iv=$4, color_ct=$5, color_iv=$6, deleted=$7, updated_at=$8 WHERE id=$1 AND user_id=$2`)).
		WithArgs(id, userID, strp("n"), strp("ni"), strp("c2"), strp("ci2"), false, updated).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := r.Update(context.Background(), model.KindTag, userID, id, model.RecordPatch{
		Fields:    map[string]model.Envelope{model.FieldColor: {Ciphertext: "c2", IV: "ci2"}},
		UpdatedAt: updated,
	})
	require.NoError(t, err)
	require.Equal(t, "n", out.Fields[model.FieldName].Ciphertext)
	require.Equal(t, "c2", out.Fields[model.FieldColor].Ciphertext)
	require.Equal(t, updated, out.UpdatedAt)
	require.Equal(t, created, out.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Update_TombstoneClearsEnvelopes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM notes WHERE id=\$1 AND user_id=\$2 FOR UPDATE`).
		WithArgs(id, userID).
		WillReturnRows(pgxmock.NewRows(noteCols).
			AddRow(id, userID, created, strp("b"), strp("bi"), "2024-05-01", []string{uuid.Must(uuid.NewV4()).String()}, false, created))
	mock.ExpectExec(`UPDATE notes SET body_ct=\$3, body_iv=\$4, date=\$5, tag_ids=\$6, deleted=\$7, updated_at=\$8`).
		WithArgs(id, userID, (*string)(nil), (*string)(nil), "", []string{}, true, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	deleted := true
	out, err := r.Update(context.Background(), model.KindNote, userID, id, model.RecordPatch{Deleted: &deleted})
	require.NoError(t, err)
	require.True(t, out.Deleted)
	require.Empty(t, out.Fields)
	require.Equal(t, now, out.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Update_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM tags WHERE id=\$1 AND user_id=\$2 FOR UPDATE`).
		WithArgs(id, userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.Update(context.Background(), model.KindTag, userID, id, model.RecordPatch{})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM notes WHERE id=\$1 AND user_id=\$2`).
		WithArgs(id, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, r.Delete(context.Background(), model.KindNote, userID, id))
	require.NoError(t, mock.ExpectationsWereMet())
}
