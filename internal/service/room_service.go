package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
)

type RoomService struct {
	dir      *directory.Directory
	profiles profile.Lookup
	linkBase string
}

// NewRoomService: linkBase — адрес, к которому добавляется ?room=CODE.
func NewRoomService(dir *directory.Directory, profiles profile.Lookup, linkBase string) *RoomService {
	return &RoomService{dir: dir, profiles: profiles, linkBase: linkBase}
}

func (s *RoomService) member(ctx context.Context, userID string) domain.Member {
	return domain.Member{ID: userID, Name: profile.DisplayName(ctx, s.profiles, userID)}
}

// CreateRoom создаёт комнату; вызывающий становится хостом.
func (s *RoomService) CreateRoom(ctx context.Context, name, userID string) (*domain.Room, error) {
	room, err := s.dir.Create(ctx, name, s.member(ctx, userID))
	if err != nil {
		return nil, fmt.Errorf("directory.Create: %w", err)
	}
	return room, nil
}

// JoinRoom входит по коду из 6 символов.
func (s *RoomService) JoinRoom(ctx context.Context, code, userID string) (*domain.Room, error) {
	room, err := s.dir.Join(ctx, code, s.member(ctx, userID))
	if err != nil {
		return nil, fmt.Errorf("directory.Join: %w", err)
	}
	return room, nil
}

func (s *RoomService) JoinByLink(ctx context.Context, link, userID string) (*domain.Room, error) {
	room, err := s.dir.JoinByLink(ctx, link, s.member(ctx, userID))
	if err != nil {
		return nil, fmt.Errorf("directory.JoinByLink: %w", err)
	}
	return room, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) (directory.LeaveResult, error) {
	return s.dir.Leave(ctx, roomID, userID)
}

// GetRoom возвращает комнату по ID.
func (s *RoomService) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	room, err := s.dir.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// ListRooms возвращает список комнат с курсорной пагинацией.
func (s *RoomService) ListRooms(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	rooms, err := s.dir.List(ctx)
	if err != nil {
		return nil, "", err
	}
	return paginate(rooms, limit, cursor)
}

// JoinLink строит ссылку-приглашение для комнаты.
func (s *RoomService) JoinLink(room *domain.Room) string {
	if s.linkBase == "" {
		return ""
	}
	link, err := directory.JoinLink(s.linkBase, room.Code)
	if err != nil {
		return ""
	}
	return link
}

// AddToPlaylist — добавлять песни могут только участники комнаты.
func (s *RoomService) AddToPlaylist(ctx context.Context, roomID, userID string, song domain.Song) (string, error) {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return "", err
	}
	return s.dir.AddToPlaylist(ctx, roomID, song)
}

func (s *RoomService) RemoveFromPlaylist(ctx context.Context, roomID, userID, key string) error {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return err
	}
	return s.dir.RemoveFromPlaylist(ctx, roomID, key)
}

func (s *RoomService) requireMember(ctx context.Context, roomID, userID string) error {
	room, err := s.dir.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return domain.ErrNotInRoom
	}
	return nil
}
