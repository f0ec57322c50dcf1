package http

import (
	"time"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest: достаточно одного из полей.
type JoinRoomRequest struct {
	Code string `json:"code,omitempty"`
	Link string `json:"link,omitempty"`
}

type RoomItem struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Code           string       `json:"code"`
	HostID         string       `json:"host_id"`
	HostName       string       `json:"host_name,omitempty"`
	Members        int          `json:"members"`
	IsPlaying      bool         `json:"is_playing"`
	CurrentSong    *domain.Song `json:"current_song,omitempty"`
	CurrentTime    float64      `json:"current_time"`
	LastUpdateTime int64        `json:"last_update_time,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	JoinLink       string       `json:"join_link,omitempty"`
}

type PlaylistItem struct {
	Key  string      `json:"key"`
	Song domain.Song `json:"song"`
}

type RoomDetail struct {
	RoomItem
	Users    []string       `json:"users"`
	Playlist []PlaylistItem `json:"playlist"`
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type JoinRoomResponse struct {
	Room   RoomDetail `json:"room"`
	PeerID string     `json:"peer_id"`
}

type LeaveRoomResponse struct {
	Status    string `json:"status"`
	Outcome   string `json:"outcome"`
	NewHostID string `json:"new_host_id,omitempty"`
}

type ParticipantItem struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	IsHost   bool      `json:"is_host"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type ParticipantsResponse struct {
	Items []ParticipantItem `json:"items"`
}

type AddSongResponse struct {
	Key string `json:"key"`
}
