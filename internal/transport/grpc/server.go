package grpcx

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/service"
)

const (
	mdAuthorization = "authorization"
	mdUserID        = "x-user-id"
)

// Authenticator — та же проверка, что у HTTP и WS.
type Authenticator interface {
	Authenticate(token, claimedUserID string) (string, error)
}

type Server struct {
	roomSvc *service.RoomService
	auth    Authenticator
}

var _ DirectoryServer = (*Server)(nil)

func NewServer(roomSvc *service.RoomService, auth Authenticator) *Server {
	return &Server{
		roomSvc: roomSvc,
		auth:    auth,
	}
}

func Register(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&directoryServiceDesc, s)
}

// -------- helpers --------

func (s *Server) userFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	// Authorization: Bearer <access_token>
	auth := first(md.Get(mdAuthorization))
	if auth == "" {
		return "", status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || len(auth) <= 7 {
		return "", status.Error(codes.Unauthenticated, "invalid authorization")
	}

	userID, err := s.auth.Authenticate(auth[7:], first(md.Get(mdUserID)))
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return userID, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}

	return ss[0]
}

func mapRoom(r *domain.Room) *Room {
	return &Room{
		Id:             r.ID,
		Name:           r.Name,
		Code:           r.Code,
		HostId:         r.HostID,
		HostName:       r.HostName,
		Members:        r.Members(),
		IsPlaying:      r.IsPlaying,
		CurrentSong:    r.CurrentSong,
		CurrentTime:    r.CurrentTime,
		LastUpdateTime: r.LastUpdateTime,
		CreatedAt:      r.CreatedAt,
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrNotInRoom):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, service.ErrInvalidCursor):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrCodeExhausted):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- methods --------

func (s *Server) CreateRoom(ctx context.Context, in *CreateRoomRequest) (*CreateRoomResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}
	room, err := s.roomSvc.CreateRoom(ctx, in.Name, userID)
	if err != nil {
		return nil, mapErr(err)
	}

	return &CreateRoomResponse{Room: mapRoom(room)}, nil
}

func (s *Server) JoinRoom(ctx context.Context, in *JoinRoomRequest) (*JoinRoomResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}

	var room *domain.Room
	switch {
	case in.Code != "":
		room, err = s.roomSvc.JoinRoom(ctx, in.Code, userID)
	case in.Link != "":
		room, err = s.roomSvc.JoinByLink(ctx, in.Link, userID)
	default:
		return nil, status.Error(codes.InvalidArgument, "code or link is required")
	}
	if err != nil {
		return nil, mapErr(err)
	}

	return &JoinRoomResponse{Room: mapRoom(room), PeerId: userID}, nil
}

func (s *Server) LeaveRoom(ctx context.Context, in *LeaveRoomRequest) (*LeaveRoomResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.roomSvc.LeaveRoom(ctx, in.Id, userID)
	if err != nil {
		return nil, mapErr(err)
	}

	return &LeaveRoomResponse{Outcome: string(res.Outcome), NewHostId: res.NewHostID}, nil
}

func (s *Server) GetRoom(ctx context.Context, in *GetRoomRequest) (*GetRoomResponse, error) {
	if _, err := s.userFromMD(ctx); err != nil {
		return nil, err
	}
	room, err := s.roomSvc.GetRoom(ctx, in.Id)
	if err != nil {
		return nil, mapErr(err)
	}

	return &GetRoomResponse{Room: mapRoom(room)}, nil
}

func (s *Server) ListRooms(ctx context.Context, in *ListRoomsRequest) (*ListRoomsResponse, error) {
	if _, err := s.userFromMD(ctx); err != nil {
		return nil, err
	}
	items, cursor, err := s.roomSvc.ListRooms(ctx, int(in.Limit), in.Cursor)
	if err != nil {
		return nil, mapErr(err)
	}
	out := &ListRoomsResponse{
		Items:      make([]*Room, 0, len(items)),
		NextCursor: cursor,
	}
	for i := range items {
		out.Items = append(out.Items, mapRoom(&items[i]))
	}

	return out, nil
}
