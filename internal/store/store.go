// Package store описывает контракт общего хранилища комнат: иерархические
// пути, частичные обновления, подписки, push-ключи и операции при отключении.
package store

import (
	"context"
	"errors"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("store closed")
	ErrAborted     = errors.New("transaction aborted")
)

// Store — общее хранилище с push-уведомлениями. Реализации обязаны:
// доставлять текущее значение сразу после Subscribe, затем каждое изменение
// (at-least-once, в порядке для одной подписки, последнее значение побеждает).
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	// Update пишет несколько относительных путей за один вызов; nil удаляет узел.
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	// Subscribe возвращает функцию отписки.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)
	// Push резервирует уникальный дочерний ключ, упорядоченный по времени.
	Push(ctx context.Context, path string) (string, error)
	// OnDisconnect регистрирует операцию, которую сервер выполнит при потере
	// соединения; возвращает функцию отмены.
	OnDisconnect(ctx context.Context, op DisconnectOp) (func(), error)
	Close() error
}

// Transactor — атомарное чтение-изменение-запись в пределах одного документа.
// fn получает текущее значение; возврат (nil, nil) удаляет узел,
// ErrAborted отменяет запись без ошибки для вызывающего.
type Transactor interface {
	Transact(ctx context.Context, path string, fn func(cur Snapshot) (any, error)) error
}

type DisconnectKind string

const (
	DisconnectSet    DisconnectKind = "set"
	DisconnectUpdate DisconnectKind = "update"
	DisconnectRemove DisconnectKind = "remove"
)

type DisconnectOp struct {
	Kind   DisconnectKind `json:"kind"`
	Path   string         `json:"path"`
	Value  any            `json:"value,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func SetOnDisconnect(path string, value any) DisconnectOp {
	return DisconnectOp{Kind: DisconnectSet, Path: path, Value: value}
}

func UpdateOnDisconnect(path string, fields map[string]any) DisconnectOp {
	return DisconnectOp{Kind: DisconnectUpdate, Path: path, Fields: fields}
}

func RemoveOnDisconnect(path string) DisconnectOp {
	return DisconnectOp{Kind: DisconnectRemove, Path: path}
}

// Apply выполняет операцию против произвольного хранилища.
func (op DisconnectOp) Apply(ctx context.Context, s Store) error {
	switch op.Kind {
	case DisconnectSet:
		return s.Set(ctx, op.Path, op.Value)
	case DisconnectUpdate:
		return s.Update(ctx, op.Path, op.Fields)
	case DisconnectRemove:
		return s.Remove(ctx, op.Path)
	default:
		return errors.New("unknown disconnect op " + string(op.Kind))
	}
}
