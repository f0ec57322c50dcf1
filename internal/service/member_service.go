package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
)

// Liveness сообщает о живом соединении пользователя с хранилищем.
type Liveness interface {
	Connected(userID string) bool
}

type MemberService struct {
	dir      *directory.Directory
	profiles profile.Lookup
	live     Liveness
	now      func() time.Time

	heartbeatWindow time.Duration
}

func NewMemberService(dir *directory.Directory, profiles profile.Lookup) *MemberService {
	return &MemberService{
		dir:             dir,
		profiles:        profiles,
		now:             time.Now,
		heartbeatWindow: 60 * time.Second, // окно «онлайн»
	}
}

func (s *MemberService) SetHeartbeatWindow(d time.Duration) {
	if d > 0 {
		s.heartbeatWindow = d
	}
}

func (s *MemberService) SetLiveness(l Liveness) { s.live = l }

func (s *MemberService) SetClock(now func() time.Time) { s.now = now }

func (s *MemberService) TouchHeartbeat(ctx context.Context, roomID, userID string) error {
	return s.dir.Touch(ctx, roomID, userID)
}

func (s *MemberService) online(room *domain.Room, userID string, now time.Time) bool {
	if s.live != nil && s.live.Connected(userID) {
		return true
	}
	seen := room.LastSeen(userID)
	if seen.IsZero() {
		seen = room.Created()
	}
	return now.Sub(seen) <= s.heartbeatWindow
}

// ListParticipants: хост первым, остальные по id.
func (s *MemberService) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	room, err := s.dir.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.Participant, 0, len(room.Users))
	for _, uid := range room.Members() {
		p := domain.Participant{
			RoomID:   room.ID,
			UserID:   uid,
			Name:     profile.DisplayName(ctx, s.profiles, uid),
			IsHost:   uid == room.HostID,
			Online:   s.online(room, uid, now),
			LastSeen: room.LastSeen(uid),
		}
		if p.IsHost {
			out = append([]domain.Participant{p}, out...)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type SweepStats struct {
	Evicted       int
	HostsRepaired int
	Collected     int
}

// Sweep выселяет участников без heartbeat дольше окна, чинит хостов
// и удаляет опустевшие комнаты.
func (s *MemberService) Sweep(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	rooms, err := s.dir.List(ctx)
	if err != nil {
		return st, err
	}
	now := s.now()
	for i := range rooms {
		room := &rooms[i]
		for _, uid := range room.Members() {
			if s.online(room, uid, now) {
				continue
			}
			if _, err := s.dir.Leave(ctx, room.ID, uid); err != nil {
				if !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrNotInRoom) {
					slog.Warn("sweep: evict failed", "room", room.ID, "user", uid, "err", err)
				}
				continue
			}
			st.Evicted++
		}

		fresh, err := s.dir.Get(ctx, room.ID)
		if err != nil {
			continue
		}
		newHost, err := s.dir.RepairHost(ctx, fresh)
		if err != nil {
			slog.Warn("sweep: repair host failed", "room", room.ID, "err", err)
			continue
		}
		if newHost != "" {
			st.HostsRepaired++
		}
	}

	n, err := s.dir.GarbageCollect(ctx)
	if err != nil {
		return st, err
	}
	st.Collected = n
	return st, nil
}

// Run запускает Sweep по таймеру до отмены ctx.
func (s *MemberService) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := s.Sweep(ctx)
			if err != nil {
				slog.Warn("sweep failed", "err", err)
				continue
			}
			if st.Evicted+st.HostsRepaired+st.Collected > 0 {
				slog.Info("sweep", "evicted", st.Evicted, "hosts_repaired", st.HostsRepaired, "collected", st.Collected)
			}
		}
	}
}
