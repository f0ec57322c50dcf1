package store

import "strings"

// Split разбивает путь на сегменты, игнорируя лишние слэши.
// Сегменты не могут содержать '.', '#', '$', '[' или ']'.
func Split(path string) ([]string, error) {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return nil, ErrInvalidPath
		}
		out = append(out, seg)
	}
	return out, nil
}

func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

// Key — последний сегмент пути.
func Key(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Overlaps сообщает, пересекаются ли поддеревья a и b
// (одно является префиксом другого).
func Overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
