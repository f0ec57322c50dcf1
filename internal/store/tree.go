package store

import (
	"encoding/json"
	"fmt"
)

// Дерево значений — результат json.Unmarshal в any:
// map[string]any, []any, float64, string, bool или nil.

// Normalize приводит произвольное Go-значение к дереву JSON.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return decodeTree(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return decodeTree(b)
}

func decodeTree(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return prune(out), nil
}

// DecodeTree разбирает сохранённый документ.
func DecodeTree(b []byte) (any, error) { return decodeTree(b) }

// EncodeTree сериализует дерево; пустое дерево даёт nil.
func EncodeTree(v any) ([]byte, error) {
	v = prune(v)
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// GetAt возвращает поддерево по сегментам.
func GetAt(root any, segs []string) (any, bool) {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// SetAt записывает val по сегментам и возвращает новый корень.
// val == nil удаляет узел; опустевшие родители удаляются.
func SetAt(root any, segs []string, val any) any {
	if len(segs) == 0 {
		return prune(val)
	}
	m, ok := root.(map[string]any)
	if !ok {
		if val == nil {
			return root
		}
		m = map[string]any{}
	}
	child := SetAt(m[segs[0]], segs[1:], val)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// UpdateAt применяет набор относительных путей к поддереву по segs.
func UpdateAt(root any, segs []string, fields map[string]any) (any, error) {
	for rel, val := range fields {
		relSegs, err := Split(rel)
		if err != nil {
			return root, fmt.Errorf("update %q: %w", rel, err)
		}
		full := append(append([]string{}, segs...), relSegs...)
		root = SetAt(root, full, val)
	}
	return root, nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if p := prune(child); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	}
	return v
}
