package domain

// Расположение записей комнат в общем хранилище.
const (
	RoomsCollection = "rooms"

	FieldUsers          = "users"
	FieldPresence       = "presence"
	FieldPlaylist       = "playlist"
	FieldHostID         = "hostId"
	FieldHostName       = "hostName"
	FieldCurrentSong    = "currentSong"
	FieldCurrentTime    = "currentTime"
	FieldIsPlaying      = "isPlaying"
	FieldLastUpdateTime = "lastUpdateTime"
)

func RoomPath(roomID string) string {
	return RoomsCollection + "/" + roomID
}

func UserPath(roomID, userID string) string {
	return RoomPath(roomID) + "/" + FieldUsers + "/" + userID
}

func PresencePath(roomID, userID string) string {
	return RoomPath(roomID) + "/" + FieldPresence + "/" + userID
}
