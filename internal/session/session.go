// Package session — клиентский контекст комнаты: текущая комната,
// её синхронизатор и переходы create/join/leave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/playback"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/roomsync"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

var ErrNotInRoom = errors.New("not in a room")

type Session struct {
	st  store.Store
	dir *directory.Directory
	pb  *playback.Machine
	me  domain.Member
	cfg roomsync.Config
	log *slog.Logger

	syncOpts []roomsync.Option
	onClosed func(roomID string, err error)

	mu     sync.Mutex
	roomID string
	syncer *roomsync.Synchronizer
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// OnRoomClosed вызывается, когда комната исчезла во время сессии.
func OnRoomClosed(fn func(roomID string, err error)) Option {
	return func(s *Session) { s.onClosed = fn }
}

// WithSyncOptions пробрасывает опции в каждый создаваемый синхронизатор.
func WithSyncOptions(opts ...roomsync.Option) Option {
	return func(s *Session) { s.syncOpts = append(s.syncOpts, opts...) }
}

func New(st store.Store, dir *directory.Directory, pb *playback.Machine, me domain.Member, cfg roomsync.Config, opts ...Option) *Session {
	s := &Session{st: st, dir: dir, pb: pb, me: me, cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Create(ctx context.Context, name string) (*domain.Room, error) {
	if err := s.leaveCurrent(ctx); err != nil {
		return nil, err
	}
	room, err := s.dir.Create(ctx, name, s.me)
	if err != nil {
		return nil, fmt.Errorf("directory.Create: %w", err)
	}
	if err := s.attach(ctx, room.ID); err != nil {
		s.rollback(ctx, room.ID)
		return nil, err
	}
	return room, nil
}

// Join входит по коду и сразу подтягивает текущее воспроизведение комнаты.
func (s *Session) Join(ctx context.Context, code string) (*domain.Room, error) {
	return s.join(ctx, func() (*domain.Room, error) { return s.dir.Join(ctx, code, s.me) })
}

func (s *Session) JoinByLink(ctx context.Context, link string) (*domain.Room, error) {
	return s.join(ctx, func() (*domain.Room, error) { return s.dir.JoinByLink(ctx, link, s.me) })
}

func (s *Session) join(ctx context.Context, do func() (*domain.Room, error)) (*domain.Room, error) {
	if err := s.leaveCurrent(ctx); err != nil {
		return nil, err
	}
	room, err := do()
	if err != nil {
		return nil, err
	}
	if err := s.attach(ctx, room.ID); err != nil {
		s.rollback(ctx, room.ID)
		return nil, err
	}
	return room, nil
}

// Leave сначала останавливает синхронизацию, затем выходит из комнаты.
func (s *Session) Leave(ctx context.Context) (directory.LeaveResult, error) {
	s.mu.Lock()
	roomID, sy := s.roomID, s.syncer
	s.roomID, s.syncer = "", nil
	s.mu.Unlock()
	if roomID == "" {
		return directory.LeaveResult{}, ErrNotInRoom
	}
	if sy != nil {
		sy.Stop()
	}
	res, err := s.dir.Leave(ctx, roomID, s.me.ID)
	if err != nil {
		return directory.LeaveResult{}, fmt.Errorf("directory.Leave: %w", err)
	}
	return res, nil
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Room(ctx context.Context) (*domain.Room, error) {
	id := s.RoomID()
	if id == "" {
		return nil, ErrNotInRoom
	}
	return s.dir.Get(ctx, id)
}

func (s *Session) Synchronizer() *roomsync.Synchronizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncer
}

func (s *Session) AddToPlaylist(ctx context.Context, song domain.Song) (string, error) {
	id := s.RoomID()
	if id == "" {
		return "", ErrNotInRoom
	}
	return s.dir.AddToPlaylist(ctx, id, song)
}

// Close останавливает синхронизацию без выхода из комнаты.
func (s *Session) Close() {
	s.mu.Lock()
	sy := s.syncer
	s.syncer = nil
	s.mu.Unlock()
	if sy != nil {
		sy.Stop()
	}
}

func (s *Session) attach(ctx context.Context, roomID string) error {
	opts := append([]roomsync.Option{
		roomsync.WithLogger(s.log),
		roomsync.OnTerminated(func(err error) { s.detached(roomID, err) }),
	}, s.syncOpts...)
	sy := roomsync.New(s.st, s.pb, roomID, s.me.ID, s.cfg, opts...)
	if err := sy.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("roomsync.Start: %w", err)
	}
	s.mu.Lock()
	s.roomID, s.syncer = roomID, sy
	s.mu.Unlock()
	return nil
}

// rollback отменяет вход, если синхронизацию поднять не удалось: участник
// без синхронизатора висел бы в users до разрыва соединения.
func (s *Session) rollback(ctx context.Context, roomID string) {
	if _, err := s.dir.Leave(context.WithoutCancel(ctx), roomID, s.me.ID); err != nil {
		s.log.Warn("session: rollback join", slog.String("room_id", roomID), slog.Any("err", err))
	}
}

// detached — комната исчезла: локальное состояние комнаты сбрасывается,
// воспроизведение продолжается как было.
func (s *Session) detached(roomID string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.roomID == roomID {
		s.roomID, s.syncer = "", nil
	}
	s.mu.Unlock()
	s.log.Info("left room: room closed", slog.String("room_id", roomID))
	if s.onClosed != nil {
		s.onClosed(roomID, err)
	}
}

func (s *Session) leaveCurrent(ctx context.Context) error {
	if s.RoomID() == "" {
		return nil
	}
	_, err := s.Leave(ctx)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrNotInRoom) {
		return err
	}
	return nil
}
