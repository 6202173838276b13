package drive

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

func sampleRecords(userID uuid.UUID) []model.Record {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.Record{
		{
			ID: uuid.Must(uuid.NewV4()), UserID: userID, Kind: model.KindTag,
			Fields:    map[string]model.Envelope{model.FieldName: {Ciphertext: "Y3Q=", IV: "aXY="}},
			CreatedAt: ts, UpdatedAt: ts,
		},
		{ID: uuid.Must(uuid.NewV4()), UserID: userID, Kind: model.KindNote, Deleted: true, CreatedAt: ts, UpdatedAt: ts.Add(time.Hour)},
	}
}

func TestEncodeDecode(t *testing.T) {
	u := uuid.Must(uuid.NewV4())
	in := model.Snapshot{Version: 7, ModifiedAt: time.Unix(100, 0).UTC(), Records: sampleRecords(u)}

	b, err := Encode(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"format": 1`)

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, in.Version, out.Version)
	require.True(t, in.ModifiedAt.Equal(out.ModifiedAt))
	require.Len(t, out.Records, 2)
	require.True(t, out.Records[1].Deleted)
	require.Empty(t, out.Records[1].Fields)
}

func TestEncode_EmptyRecordsIsArray(t *testing.T) {
	b, err := Encode(model.Snapshot{})
	require.NoError(t, err)
	require.Contains(t, string(b), `"records": []`)
}

func TestDecode_Malformed(t *testing.T) {
	id := uuid.Must(uuid.NewV4()).String()
	cases := map[string]string{
		"empty":          "  ",
		"not json":       "{oops",
		"wrong format":   `{"format":2,"version":1,"records":[]}`,
		"missing format": `{"version":1,"records":[]}`,
		"negative ver":   `{"format":1,"version":-1,"records":[]}`,
		"nil id":         `{"format":1,"version":1,"records":[{"id":"00000000-0000-0000-0000-000000000000","kind":"tag"}]}`,
		"bad kind":       `{"format":1,"version":1,"records":[{"id":"` + id + `","kind":"folder"}]}`,
		"duplicate":      `{"format":1,"version":1,"records":[{"id":"` + id + `","kind":"tag"},{"id":"` + id + `","kind":"tag"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			require.ErrorIs(t, err, errs.ErrMalformedSnapshot)
		})
	}
}

func sampleSnapshot(userID uuid.UUID) model.Snapshot {
	return model.Snapshot{Records: sampleRecords(userID)}
}
