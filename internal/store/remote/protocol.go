// Package remote — клиент общего хранилища поверх WebSocket и описание
// протокола, который обслуживает transport/ws.
package remote

import (
	"encoding/json"
	"errors"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

// Операции запроса.
const (
	OpGet              = "get"
	OpSet              = "set"
	OpUpdate           = "update"
	OpRemove           = "remove"
	OpSubscribe        = "subscribe"
	OpUnsubscribe      = "unsubscribe"
	OpOnDisconnect     = "on_disconnect"
	OpCancelDisconnect = "cancel_disconnect"
)

// Типы кадров от сервера.
const (
	TypeReply = "reply"
	TypeEvent = "event"
)

// Коды ошибок в ответе.
const (
	CodeInvalidPath  = "invalid_path"
	CodeBadRequest   = "bad_request"
	CodeClosed       = "closed"
	CodeInternal     = "internal"
	CodeDisconnected = "disconnected"
)

var ErrDisconnected = errors.New("store connection lost")

// Request — кадр клиента. Ref — клиентский id подписки или операции отключения.
type Request struct {
	ID         uint64                     `json:"id"`
	Op         string                     `json:"op"`
	Path       string                     `json:"path,omitempty"`
	Value      json.RawMessage            `json:"value,omitempty"`
	Fields     map[string]json.RawMessage `json:"fields,omitempty"`
	Ref        string                     `json:"ref,omitempty"`
	Disconnect *store.DisconnectOp        `json:"disconnect,omitempty"`
}

// Frame — ответ на запрос (TypeReply) или событие подписки (TypeEvent).
type Frame struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Ref    string          `json:"ref,omitempty"`
	Path   string          `json:"path,omitempty"`
	Exists bool            `json:"exists,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// ErrorCode сопоставляет ошибку хранилища коду протокола.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, store.ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}

func (f Frame) err() error {
	if f.OK {
		return nil
	}
	switch f.Code {
	case CodeInvalidPath:
		return store.ErrInvalidPath
	case CodeClosed:
		return store.ErrClosed
	case CodeDisconnected:
		return ErrDisconnected
	}
	if f.Error == "" {
		return errors.New("store request failed")
	}
	return errors.New(f.Error)
}

func (f Frame) snapshot(path string) store.Snapshot {
	if f.Path != "" {
		path = f.Path
	}
	if !f.Exists {
		return store.NewSnapshot(path, nil)
	}
	return store.NewSnapshot(path, f.Value)
}
