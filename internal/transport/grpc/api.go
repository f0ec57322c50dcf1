package grpcx

import (
	"context"

	"google.golang.org/grpc"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
)

const serviceName = "soulsync.room.v1.Directory"

type Room struct {
	Id             string       `json:"id"`
	Name           string       `json:"name"`
	Code           string       `json:"code"`
	HostId         string       `json:"host_id"`
	HostName       string       `json:"host_name,omitempty"`
	Members        []string     `json:"members"`
	IsPlaying      bool         `json:"is_playing"`
	CurrentSong    *domain.Song `json:"current_song,omitempty"`
	CurrentTime    float64      `json:"current_time"`
	LastUpdateTime int64        `json:"last_update_time,omitempty"`
	CreatedAt      int64        `json:"created_at"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type CreateRoomResponse struct {
	Room *Room `json:"room"`
}

type JoinRoomRequest struct {
	Code string `json:"code,omitempty"`
	Link string `json:"link,omitempty"`
}

type JoinRoomResponse struct {
	Room   *Room  `json:"room"`
	PeerId string `json:"peer_id"`
}

type LeaveRoomRequest struct {
	Id string `json:"id"`
}

type LeaveRoomResponse struct {
	Outcome   string `json:"outcome"`
	NewHostId string `json:"new_host_id,omitempty"`
}

type GetRoomRequest struct {
	Id string `json:"id"`
}

type GetRoomResponse struct {
	Room *Room `json:"room"`
}

type ListRoomsRequest struct {
	Limit  int32  `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type ListRoomsResponse struct {
	Items      []*Room `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type DirectoryServer interface {
	CreateRoom(context.Context, *CreateRoomRequest) (*CreateRoomResponse, error)
	JoinRoom(context.Context, *JoinRoomRequest) (*JoinRoomResponse, error)
	LeaveRoom(context.Context, *LeaveRoomRequest) (*LeaveRoomResponse, error)
	GetRoom(context.Context, *GetRoomRequest) (*GetRoomResponse, error)
	ListRooms(context.Context, *ListRoomsRequest) (*ListRoomsResponse, error)
}

func unary[Req, Resp any](method string, call func(DirectoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DirectoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DirectoryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRoom", DirectoryServer.CreateRoom),
		unary("JoinRoom", DirectoryServer.JoinRoom),
		unary("LeaveRoom", DirectoryServer.LeaveRoom),
		unary("GetRoom", DirectoryServer.GetRoom),
		unary("ListRooms", DirectoryServer.ListRooms),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "soulsync/room/v1/directory",
}

// DirectoryClient — клиент сервиса; все вызовы идут с JSON-кодеком.
type DirectoryClient struct {
	cc grpc.ClientConnInterface
}

func NewDirectoryClient(cc grpc.ClientConnInterface) *DirectoryClient {
	return &DirectoryClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *DirectoryClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DirectoryClient) CreateRoom(ctx context.Context, in *CreateRoomRequest, opts ...grpc.CallOption) (*CreateRoomResponse, error) {
	return invoke[CreateRoomResponse](ctx, c, "CreateRoom", in, opts)
}

func (c *DirectoryClient) JoinRoom(ctx context.Context, in *JoinRoomRequest, opts ...grpc.CallOption) (*JoinRoomResponse, error) {
	return invoke[JoinRoomResponse](ctx, c, "JoinRoom", in, opts)
}

func (c *DirectoryClient) LeaveRoom(ctx context.Context, in *LeaveRoomRequest, opts ...grpc.CallOption) (*LeaveRoomResponse, error) {
	return invoke[LeaveRoomResponse](ctx, c, "LeaveRoom", in, opts)
}

func (c *DirectoryClient) GetRoom(ctx context.Context, in *GetRoomRequest, opts ...grpc.CallOption) (*GetRoomResponse, error) {
	return invoke[GetRoomResponse](ctx, c, "GetRoom", in, opts)
}

func (c *DirectoryClient) ListRooms(ctx context.Context, in *ListRoomsRequest, opts ...grpc.CallOption) (*ListRoomsResponse, error) {
	return invoke[ListRoomsResponse](ctx, c, "ListRooms", in, opts)
}
