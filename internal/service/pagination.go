package service

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor указывает на последнюю выданную комнату; порядок — createdAt desc, id desc.
type Cursor struct {
	CreatedAt int64  `json:"created_at"`
	ID        string `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// after сообщает, идёт ли комната r строго после курсора.
func (c *Cursor) after(r domain.Room) bool {
	if r.CreatedAt != c.CreatedAt {
		return r.CreatedAt < c.CreatedAt
	}
	return r.ID < c.ID
}

// paginate режет отсортированный список комнат на страницу.
func paginate(rooms []domain.Room, limit int, cursor string) ([]domain.Room, string, error) {
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	start := 0
	if cur != nil {
		start = len(rooms)
		for i, r := range rooms {
			if cur.after(r) {
				start = i
				break
			}
		}
	}
	page := rooms[start:]
	if len(page) <= limit {
		return page, "", nil
	}
	page = page[:limit]
	last := page[len(page)-1]
	next, err := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	if err != nil {
		return nil, "", err
	}
	return page, next, nil
}
