package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot — неизменяемое значение узла на момент чтения.
type Snapshot struct {
	path string
	raw  json.RawMessage
}

func NewSnapshot(path string, raw []byte) Snapshot {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Snapshot{path: path}
	}
	return Snapshot{path: path, raw: raw}
}

// SnapshotOf сериализует произвольное значение в снимок.
func SnapshotOf(path string, v any) (Snapshot, error) {
	if v == nil {
		return Snapshot{path: path}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal %s: %w", path, err)
	}
	return NewSnapshot(path, b), nil
}

func (s Snapshot) Path() string { return s.path }
func (s Snapshot) Key() string  { return Key(s.path) }
func (s Snapshot) Exists() bool { return s.raw != nil }

// Raw возвращает JSON значения или nil, если узла нет.
func (s Snapshot) Raw() json.RawMessage { return s.raw }

func (s Snapshot) Decode(v any) error {
	if s.raw == nil {
		return fmt.Errorf("decode %s: node does not exist", s.path)
	}
	return json.Unmarshal(s.raw, v)
}

// Equal — полное сравнение значений.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.path == o.path && bytes.Equal(s.raw, o.raw)
}
