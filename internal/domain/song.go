package domain

// Song описывает трек; идентичность определяется только ID.
type Song struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

func (s Song) Validate() error {
	if s.ID == "" {
		return ErrInvalidSong
	}
	return nil
}

// SameSong сравнивает треки по ID, nil равен только nil.
func SameSong(a, b *Song) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// PlaylistEntry — элемент общего плейлиста комнаты под push-ключом.
type PlaylistEntry struct {
	Key  string `json:"key"`
	Song Song   `json:"song"`
}
