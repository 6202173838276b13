package mirror

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/convert"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// memServer exposes a Memory mirror over notesync.v1; fail forces a status on every call.
type memServer struct {
	mem  *Memory
	fail codes.Code
}

func (s *memServer) check() error {
	if s.fail != codes.OK {
		return status.Error(s.fail, "forced")
	}
	return nil
}

func (s *memServer) EnsureUser(_ context.Context, req *api.EnsureUserRequest) (*api.EnsureUserResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.EnsureUserResponse{UserID: uuid.NewV5(uuid.NamespaceOID, req.ExternalID).String()}, nil
}

func (s *memServer) LookupUser(_ context.Context, req *api.LookupUserRequest) (*api.LookupUserResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if req.ExternalID != "known" {
		return &api.LookupUserResponse{}, nil
	}
	return &api.LookupUserResponse{User: &api.User{ID: uuid.NewV5(uuid.NamespaceOID, "known").String(), ExternalID: "known"}}, nil
}

func (s *memServer) ListRecords(ctx context.Context, req *api.ListRecordsRequest) (*api.ListRecordsResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	uid, _ := convert.ParseID(req.UserID)
	recs, err := s.mem.List(ctx, model.Kind(req.Kind), uid)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &api.ListRecordsResponse{Records: convert.ToWireRecords(recs)}, nil
}

func (s *memServer) CreateRecord(ctx context.Context, req *api.CreateRecordRequest) (*api.CreateRecordResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rec, err := convert.FromWireRecord(req.Record)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.mem.Create(ctx, rec)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &api.CreateRecordResponse{ID: id.String()}, nil
}

func (s *memServer) UpdateRecord(ctx context.Context, req *api.UpdateRecordRequest) (*api.UpdateRecordResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	kind, id, p, err := convert.FromWirePatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.mem.Update(ctx, kind, id, p)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.UpdateRecordResponse{Record: convert.ToWireRecord(rec)}, nil
}

func (s *memServer) DeleteRecord(ctx context.Context, req *api.DeleteRecordRequest) (*api.DeleteRecordResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	id, _ := convert.ParseID(req.ID)
	return &api.DeleteRecordResponse{}, s.mem.Delete(ctx, model.Kind(req.Kind), id)
}

func (s *memServer) ExportUsers(context.Context, *api.ExportUsersRequest) (*api.ExportUsersResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.ExportUsersResponse{Users: []api.User{{ID: uuid.Must(uuid.NewV4()).String(), ExternalID: "e"}}}, nil
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv api.NoteSyncServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer()
	api.RegisterNoteSyncServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

func TestGRPC_RoundTripOverWire(t *testing.T) {
	clk := &stepClock{t: time.Unix(1000, 0).UTC()}
	srv := &memServer{mem: NewMemory(clk.now)}
	g := NewGRPC(startBufGRPC(t, srv))
	ctx := context.Background()

	u := uuid.Must(uuid.NewV4())
	rec := sealedTag(u)
	id, err := g.Create(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, id)

	id, err = g.Create(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, id)

	list, err := g.List(ctx, model.KindTag, u)
	require.NoError(t, err)
	require.Len(t, list, 1)

	color := model.Envelope{Ciphertext: "c2", IV: "i2"}
	got, err := g.Update(ctx, model.KindTag, id, model.RecordPatch{Fields: map[string]model.Envelope{model.FieldColor: color}})
	require.NoError(t, err)
	require.Equal(t, list[0].Fields[model.FieldName], got.Fields[model.FieldName])
	require.Equal(t, color, got.Fields[model.FieldColor])
	require.True(t, got.CreatedAt.Equal(list[0].CreatedAt))
	require.True(t, got.UpdatedAt.After(list[0].UpdatedAt))

	_, err = g.Update(ctx, model.KindTag, uuid.Must(uuid.NewV4()), model.RecordPatch{})
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, g.Delete(ctx, model.KindTag, id))
	require.NoError(t, g.Delete(ctx, model.KindTag, id))
}

func TestGRPC_Identity(t *testing.T) {
	g := NewGRPC(startBufGRPC(t, &memServer{mem: NewMemory(nil)}))
	ctx := context.Background()

	id1, err := g.Ensure(ctx, model.User{ExternalID: "ext", Email: "a@x"})
	require.NoError(t, err)
	id2, err := g.Ensure(ctx, model.User{ExternalID: "ext", Email: "b@x"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	u, err := g.Lookup(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = g.Lookup(ctx, "known")
	require.NoError(t, err)
	require.Equal(t, "known", u.ExternalID)

	users, err := g.ExportUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestGRPC_StatusMapping(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.Unavailable, errs.ErrNetwork},
		{codes.DeadlineExceeded, errs.ErrNetwork},
		{codes.Unauthenticated, errs.ErrAuth},
		{codes.PermissionDenied, errs.ErrAuth},
		{codes.NotFound, errs.ErrNotFound},
		{codes.InvalidArgument, errs.ErrValidation},
		{codes.ResourceExhausted, errs.ErrRateLimited},
	}
	srv := &memServer{mem: NewMemory(nil)}
	g := NewGRPC(startBufGRPC(t, srv))
	for _, tc := range cases {
		srv.fail = tc.code
		_, err := g.List(context.Background(), model.KindTag, uuid.Must(uuid.NewV4()))
		require.ErrorIs(t, err, tc.want, tc.code.String())
	}
	srv.fail = codes.NotFound
	require.NoError(t, g.Delete(context.Background(), model.KindNote, uuid.Must(uuid.NewV4())))
}

func TestMapError_Context(t *testing.T) {
	require.NoError(t, MapError("op", nil))
	require.ErrorIs(t, MapError("op", context.DeadlineExceeded), errs.ErrNetwork)
	err := MapError("op", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errs.IsRetryable(err))
	require.NotErrorIs(t, MapError("op", status.Error(codes.Internal, "x")), errs.ErrNetwork)
}
