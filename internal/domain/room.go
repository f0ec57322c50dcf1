package domain

import (
	"sort"
	"time"
)

// Room — запись комнаты в общем хранилище по пути rooms/{id}.
// LastUpdateTime, CreatedAt и значения Presence — миллисекунды сервера.
type Room struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Code           string           `json:"code"`
	HostID         string           `json:"hostId"`
	HostName       string           `json:"hostName,omitempty"`
	CurrentSong    *Song            `json:"currentSong,omitempty"`
	CurrentTime    float64          `json:"currentTime"`
	IsPlaying      bool             `json:"isPlaying"`
	Users          map[string]bool  `json:"users,omitempty"`
	Presence       map[string]int64 `json:"presence,omitempty"`
	Playlist       map[string]Song  `json:"playlist,omitempty"`
	LastUpdateTime int64            `json:"lastUpdateTime,omitempty"`
	CreatedAt      int64            `json:"createdAt,omitempty"`
}

func (r *Room) HasMember(userID string) bool {
	return r.Users[userID]
}

func (r *Room) IsEmpty() bool {
	for _, ok := range r.Users {
		if ok {
			return false
		}
	}
	return true
}

// Members возвращает id участников в порядке сортировки.
func (r *Room) Members() []string {
	out := make([]string, 0, len(r.Users))
	for id, ok := range r.Users {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// PlaylistEntries — плейлист в порядке push-ключей.
func (r *Room) PlaylistEntries() []PlaylistEntry {
	keys := make([]string, 0, len(r.Playlist))
	for k := range r.Playlist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]PlaylistEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, PlaylistEntry{Key: k, Song: r.Playlist[k]})
	}
	return out
}

func (r *Room) LastSeen(userID string) time.Time {
	ms, ok := r.Presence[userID]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (r *Room) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}
