package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/notesync/internal/api"
	"github.com/and161185/notesync/internal/convert"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// GRPC is a Mirror and Identity backed by a notesync.v1 server.
type GRPC struct {
	client *api.NoteSyncClient
}

var (
	_ Mirror   = (*GRPC)(nil)
	_ Identity = (*GRPC)(nil)
)

// NewGRPC wraps an established connection.
func NewGRPC(cc grpc.ClientConnInterface) *GRPC {
	return &GRPC{client: api.NewNoteSyncClient(cc)}
}

// MapError translates a gRPC status into the error taxonomy. Context errors pass through
// wrapped in errs.ErrNetwork when they are deadlines.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrNetwork, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	var kind error
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		kind = errs.ErrNetwork
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = errs.ErrAuth
	case codes.NotFound:
		kind = errs.ErrNotFound
	case codes.InvalidArgument:
		kind = errs.ErrValidation
	case codes.ResourceExhausted:
		kind = errs.ErrRateLimited
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	default:
		return fmt.Errorf("%s: %s: %s", op, st.Code(), st.Message())
	}
	return fmt.Errorf("%s: %w: %s", op, kind, st.Message())
}

func (g *GRPC) List(ctx context.Context, kind model.Kind, userID uuid.UUID) ([]model.Record, error) {
	resp, err := g.client.ListRecords(ctx, &api.ListRecordsRequest{Kind: string(kind), UserID: userID.String()})
	if err != nil {
		return nil, MapError("mirror list", err)
	}
	recs, err := convert.FromWireRecords(resp.Records)
	if err != nil {
		return nil, fmt.Errorf("mirror list: %w", err)
	}
	return recs, nil
}

func (g *GRPC) Create(ctx context.Context, rec model.Record) (uuid.UUID, error) {
	resp, err := g.client.CreateRecord(ctx, &api.CreateRecordRequest{Record: convert.ToWireRecord(rec)})
	if err != nil {
		return uuid.Nil, MapError("mirror create", err)
	}
	id, err := convert.ParseID(resp.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mirror create: %w", err)
	}
	return id, nil
}

func (g *GRPC) Update(ctx context.Context, kind model.Kind, id uuid.UUID, p model.RecordPatch) (model.Record, error) {
	resp, err := g.client.UpdateRecord(ctx, convert.ToWirePatch(kind, id, p))
	if err != nil {
		return model.Record{}, MapError("mirror update", err)
	}
	rec, err := convert.FromWireRecord(resp.Record)
	if err != nil {
		return model.Record{}, fmt.Errorf("mirror update: %w", err)
	}
	return rec, nil
}

func (g *GRPC) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	_, err := g.client.DeleteRecord(ctx, &api.DeleteRecordRequest{Kind: string(kind), ID: id.String()})
	if err != nil {
		err = MapError("mirror delete", err)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Ensure upserts the caller's identity and returns the mirror user id.
func (g *GRPC) Ensure(ctx context.Context, u model.User) (uuid.UUID, error) {
	resp, err := g.client.EnsureUser(ctx, &api.EnsureUserRequest{
		ExternalID:  u.ExternalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	})
	if err != nil {
		return uuid.Nil, MapError("ensure user", err)
	}
	id, err := convert.ParseID(resp.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}

// Lookup returns nil without error when the identity is unknown.
func (g *GRPC) Lookup(ctx context.Context, externalID string) (*model.User, error) {
	resp, err := g.client.LookupUser(ctx, &api.LookupUserRequest{ExternalID: externalID})
	if err != nil {
		return nil, MapError("lookup user", err)
	}
	if resp.User == nil {
		return nil, nil
	}
	u, err := convert.FromWireUser(*resp.User)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}

// ExportUsers performs the admin batch read. The admin credential travels as call metadata.
func (g *GRPC) ExportUsers(ctx context.Context, opts ...grpc.CallOption) ([]model.User, error) {
	resp, err := g.client.ExportUsers(ctx, &api.ExportUsersRequest{}, opts...)
	if err != nil {
		return nil, MapError("export users", err)
	}
	out := make([]model.User, 0, len(resp.Users))
	for i, w := range resp.Users {
		u, err := convert.FromWireUser(w)
		if err != nil {
			return nil, fmt.Errorf("export users: user[%d]: %w", i, err)
		}
		out = append(out, u)
	}
	return out, nil
}
