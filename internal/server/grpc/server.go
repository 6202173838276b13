// Package grpcserver exposes the notesync.v1 mirror store over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/convert"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/service"
)

// PublicMethods skip bearer auth; ExportUsers is gated by the admin credential instead.
var PublicMethods = []string{api.MethodExportUsers}

// Server wires services into gRPC handlers.
type Server struct {
	identity service.IdentityService
	records  service.RecordService
	admin    service.AdminService
	log      *zap.Logger
}

var _ api.NoteSyncServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(identity service.IdentityService, records service.RecordService, admin service.AdminService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{identity: identity, records: records, admin: admin, log: log}
}

// toStatus maps the error taxonomy onto gRPC codes.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: not found", op)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Errorf(codes.PermissionDenied, "%s: denied", op)
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Errorf(codes.AlreadyExists, "%s: already exists", op)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s", op)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s", op)
	}
	s.log.Error("handler failed", zap.String("op", op), zap.Error(err))
	return status.Errorf(codes.Internal, "%s: internal", op)
}

// subject returns the caller identity placed in ctx by AuthUnary.
func subject(ctx context.Context) (string, error) {
	sub, ok := SubjectFromCtx(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	return sub, nil
}

// caller resolves the authenticated identity to its mirror user id. Identities that never
// called EnsureUser are denied.
func (s *Server) caller(ctx context.Context) (uuid.UUID, error) {
	sub, err := subject(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := s.identity.Resolve(ctx, sub)
	if errors.Is(err, errs.ErrNotFound) {
		return uuid.Nil, status.Error(codes.PermissionDenied, "identity not registered")
	}
	if err != nil {
		return uuid.Nil, s.toStatus("resolve identity", err)
	}
	return id, nil
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// --- Identity ---

// EnsureUser creates or patches the caller's own account.
func (s *Server) EnsureUser(ctx context.Context, req *api.EnsureUserRequest) (*api.EnsureUserResponse, error) {
	sub, err := subject(ctx)
	if err != nil {
		return nil, err
	}
	if req.ExternalID != sub {
		return nil, status.Error(codes.PermissionDenied, "external id does not match token subject")
	}
	id, err := s.identity.Ensure(ctx, req.ExternalID, req.Email, req.DisplayName, req.AvatarURL)
	if err != nil {
		return nil, s.toStatus("ensure user", err)
	}
	return &api.EnsureUserResponse{UserID: id.String()}, nil
}

// LookupUser returns the caller's account, or an empty response when it is unknown.
func (s *Server) LookupUser(ctx context.Context, req *api.LookupUserRequest) (*api.LookupUserResponse, error) {
	sub, err := subject(ctx)
	if err != nil {
		return nil, err
	}
	if req.ExternalID != sub {
		return nil, status.Error(codes.PermissionDenied, "external id does not match token subject")
	}
	u, err := s.identity.Lookup(ctx, req.ExternalID)
	if err != nil {
		return nil, s.toStatus("lookup user", err)
	}
	if u == nil {
		return &api.LookupUserResponse{}, nil
	}
	w := convert.ToWireUser(*u)
	return &api.LookupUserResponse{User: &w}, nil
}

// --- Records ---

func (s *Server) ListRecords(ctx context.Context, req *api.ListRecordsRequest) (*api.ListRecordsResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != userID.String() {
		return nil, status.Error(codes.PermissionDenied, "records of another user")
	}
	kind, err := convert.ParseKind(req.Kind)
	if err != nil {
		return nil, s.toStatus("list records", err)
	}
	recs, err := s.records.List(ctx, kind, userID)
	if err != nil {
		return nil, s.toStatus("list records", err)
	}
	return &api.ListRecordsResponse{Records: convert.ToWireRecords(recs)}, nil
}

// CreateRecord stores a client-identified record; repeating the call is a no-op.
func (s *Server) CreateRecord(ctx context.Context, req *api.CreateRecordRequest) (*api.CreateRecordResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := convert.FromWireRecord(req.Record)
	if err != nil {
		return nil, s.toStatus("create record", err)
	}
	id, err := s.records.Create(ctx, userID, rec)
	if err != nil {
		return nil, s.toStatus("create record", err)
	}
	return &api.CreateRecordResponse{ID: id.String()}, nil
}

// UpdateRecord applies a partial update; omitted members keep stored values.
func (s *Server) UpdateRecord(ctx context.Context, req *api.UpdateRecordRequest) (*api.UpdateRecordResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	kind, id, p, err := convert.FromWirePatch(req)
	if err != nil {
		return nil, s.toStatus("update record", err)
	}
	rec, err := s.records.Update(ctx, userID, kind, id, p)
	if err != nil {
		return nil, s.toStatus("update record", err)
	}
	return &api.UpdateRecordResponse{Record: convert.ToWireRecord(rec)}, nil
}

// DeleteRecord hard-deletes a record. Deleting a missing record succeeds.
func (s *Server) DeleteRecord(ctx context.Context, req *api.DeleteRecordRequest) (*api.DeleteRecordResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	kind, err := convert.ParseKind(req.Kind)
	if err != nil {
		return nil, s.toStatus("delete record", err)
	}
	id, err := convert.ParseID(req.ID)
	if err != nil {
		return nil, s.toStatus("delete record", err)
	}
	if err := s.records.Delete(ctx, userID, kind, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, s.toStatus("delete record", err)
	}
	return &api.DeleteRecordResponse{}, nil
}

// --- Admin ---

// ExportUsers returns every account to a caller presenting the admin key.
func (s *Server) ExportUsers(ctx context.Context, _ *api.ExportUsersRequest) (*api.ExportUsersResponse, error) {
	key := firstMD(ctx, api.AdminKeyHeader)
	if key == "" {
		return nil, status.Error(codes.Unauthenticated, "no admin key")
	}
	users, err := s.admin.ExportUsers(ctx, key, remoteIP(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			return nil, status.Error(codes.PermissionDenied, "bad admin key")
		}
		return nil, s.toStatus("export users", err)
	}
	return &api.ExportUsersResponse{Users: convert.ToWireUsers(users)}, nil
}
