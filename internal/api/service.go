package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "notesync.v1.NoteSync"

// AdminKeyHeader is the metadata key carrying the static admin credential.
const AdminKeyHeader = "x-admin-key"

// Full method names.
const (
	MethodEnsureUser   = "/" + ServiceName + "/EnsureUser"
	MethodLookupUser   = "/" + ServiceName + "/LookupUser"
	MethodListRecords  = "/" + ServiceName + "/ListRecords"
	MethodCreateRecord = "/" + ServiceName + "/CreateRecord"
	MethodUpdateRecord = "/" + ServiceName + "/UpdateRecord"
	MethodDeleteRecord = "/" + ServiceName + "/DeleteRecord"
	MethodExportUsers  = "/" + ServiceName + "/ExportUsers"
)

// NoteSyncServer is implemented by the mirror store.
type NoteSyncServer interface {
	EnsureUser(context.Context, *EnsureUserRequest) (*EnsureUserResponse, error)
	LookupUser(context.Context, *LookupUserRequest) (*LookupUserResponse, error)
	ListRecords(context.Context, *ListRecordsRequest) (*ListRecordsResponse, error)
	CreateRecord(context.Context, *CreateRecordRequest) (*CreateRecordResponse, error)
	UpdateRecord(context.Context, *UpdateRecordRequest) (*UpdateRecordResponse, error)
	DeleteRecord(context.Context, *DeleteRecordRequest) (*DeleteRecordResponse, error)
	ExportUsers(context.Context, *ExportUsersRequest) (*ExportUsersResponse, error)
}

func unary[Req, Resp any](fullMethod string, call func(NoteSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NoteSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(NoteSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes notesync.v1.NoteSync for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NoteSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EnsureUser", Handler: unary(MethodEnsureUser, NoteSyncServer.EnsureUser)},
		{MethodName: "LookupUser", Handler: unary(MethodLookupUser, NoteSyncServer.LookupUser)},
		{MethodName: "ListRecords", Handler: unary(MethodListRecords, NoteSyncServer.ListRecords)},
		{MethodName: "CreateRecord", Handler: unary(MethodCreateRecord, NoteSyncServer.CreateRecord)},
		{MethodName: "UpdateRecord", Handler: unary(MethodUpdateRecord, NoteSyncServer.UpdateRecord)},
		{MethodName: "DeleteRecord", Handler: unary(MethodDeleteRecord, NoteSyncServer.DeleteRecord)},
		{MethodName: "ExportUsers", Handler: unary(MethodExportUsers, NoteSyncServer.ExportUsers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notesync/v1/notesync.json",
}

// RegisterNoteSyncServer registers srv on s.
func RegisterNoteSyncServer(s grpc.ServiceRegistrar, srv NoteSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NoteSyncClient is the typed client stub. Every call uses the JSON codec.
type NoteSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewNoteSyncClient(cc grpc.ClientConnInterface) *NoteSyncClient {
	return &NoteSyncClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteSyncClient) EnsureUser(ctx context.Context, in *EnsureUserRequest, opts ...grpc.CallOption) (*EnsureUserResponse, error) {
	return invoke[EnsureUserResponse](ctx, c.cc, MethodEnsureUser, in, opts)
}

func (c *NoteSyncClient) LookupUser(ctx context.Context, in *LookupUserRequest, opts ...grpc.CallOption) (*LookupUserResponse, error) {
	return invoke[LookupUserResponse](ctx, c.cc, MethodLookupUser, in, opts)
}

func (c *NoteSyncClient) ListRecords(ctx context.Context, in *ListRecordsRequest, opts ...grpc.CallOption) (*ListRecordsResponse, error) {
	return invoke[ListRecordsResponse](ctx, c.cc, MethodListRecords, in, opts)
}

func (c *NoteSyncClient) CreateRecord(ctx context.Context, in *CreateRecordRequest, opts ...grpc.CallOption) (*CreateRecordResponse, error) {
	return invoke[CreateRecordResponse](ctx, c.cc, MethodCreateRecord, in, opts)
}

func (c *NoteSyncClient) UpdateRecord(ctx context.Context, in *UpdateRecordRequest, opts ...grpc.CallOption) (*UpdateRecordResponse, error) {
	return invoke[UpdateRecordResponse](ctx, c.cc, MethodUpdateRecord, in, opts)
}

func (c *NoteSyncClient) DeleteRecord(ctx context.Context, in *DeleteRecordRequest, opts ...grpc.CallOption) (*DeleteRecordResponse, error) {
	return invoke[DeleteRecordResponse](ctx, c.cc, MethodDeleteRecord, in, opts)
}

func (c *NoteSyncClient) ExportUsers(ctx context.Context, in *ExportUsersRequest, opts ...grpc.CallOption) (*ExportUsersResponse, error) {
	return invoke[ExportUsersResponse](ctx, c.cc, MethodExportUsers, in, opts)
}
