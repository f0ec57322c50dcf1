package domain

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomClosed    = errors.New("room closed")
	ErrNotInRoom     = errors.New("user not in the room")
	ErrInvalidCode   = errors.New("invalid room code")
	ErrInvalidName   = errors.New("invalid room name")
	ErrInvalidSong   = errors.New("invalid song")
	ErrCodeExhausted = errors.New("could not allocate a unique room code")
	ErrInvalidUser   = errors.New("invalid user")
)
