package directory

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
)

const (
	CodeLength = 6
	// LinkParam — параметр ссылки-приглашения с кодом комнаты.
	LinkParam = "room"
)

// NormalizeCode приводит код к верхнему регистру и проверяет формат.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", domain.ErrInvalidCode
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", domain.ErrInvalidCode
		}
	}
	return code, nil
}

// CodeFromLink достаёт код из ссылки вида https://host/rooms?room=ABC123.
func CodeFromLink(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCode, err)
	}
	q := u.Query()
	code := q.Get(LinkParam)
	if code == "" {
		code = q.Get("code")
	}
	return NormalizeCode(code)
}

// JoinLink строит ссылку-приглашение на базе base.
func JoinLink(base, code string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(LinkParam, code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
