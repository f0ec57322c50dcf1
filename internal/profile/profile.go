// Package profile — поиск отображаемых имён пользователей.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

var ErrNotFound = errors.New("profile not found")

type Profile struct {
	UserID      string `json:"-"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type Lookup interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// DisplayName возвращает имя пользователя или его id, если профиля нет.
func DisplayName(ctx context.Context, l Lookup, userID string) string {
	if l == nil {
		return userID
	}
	p, err := l.Profile(ctx, userID)
	if err != nil || p.DisplayName == "" {
		return userID
	}
	return p.DisplayName
}

func Path(userID string) string { return store.Join("profiles", userID) }

// StoreLookup читает профили из общего хранилища по profiles/{uid}.
type StoreLookup struct {
	st store.Store
}

func NewStoreLookup(st store.Store) *StoreLookup {
	return &StoreLookup{st: st}
}

func (l *StoreLookup) Profile(ctx context.Context, userID string) (Profile, error) {
	snap, err := l.st.Get(ctx, Path(userID))
	if err != nil {
		return Profile{}, fmt.Errorf("store.Get: %w", err)
	}
	if !snap.Exists() {
		return Profile{}, ErrNotFound
	}
	var p Profile
	if err := snap.Decode(&p); err != nil {
		return Profile{}, err
	}
	p.UserID = userID
	return p, nil
}

// Publish записывает собственный профиль пользователя.
func (l *StoreLookup) Publish(ctx context.Context, p Profile) error {
	return l.st.Set(ctx, Path(p.UserID), p)
}

// Static — набор профилей в памяти.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewStatic(ps ...Profile) *Static {
	s := &Static{profiles: make(map[string]Profile, len(ps))}
	for _, p := range ps {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *Static) Profile(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *Static) Put(p Profile) {
	s.mu.Lock()
	s.profiles[p.UserID] = p
	s.mu.Unlock()
}

// Chain опрашивает источники по порядку до первого найденного профиля.
type Chain []Lookup

func (c Chain) Profile(ctx context.Context, userID string) (Profile, error) {
	for _, l := range c {
		p, err := l.Profile(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Profile{}, err
		}
	}
	return Profile{}, ErrNotFound
}
