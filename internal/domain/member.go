package domain

import "time"

type Member struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Participant — участник комнаты в ответах API.
type Participant struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name,omitempty"`
	IsHost   bool      `json:"isHost"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}
