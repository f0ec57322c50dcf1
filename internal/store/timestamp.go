package store

const serverValueKey = ".sv"

// ServerTimestamp — плейсхолдер, который хранилище заменяет своим временем в мс.
func ServerTimestamp() any {
	return map[string]any{serverValueKey: "timestamp"}
}

func isServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, ok := m[serverValueKey].(string)
	return ok && s == "timestamp"
}

// ResolveServerValues рекурсивно подставляет nowMillis вместо плейсхолдеров.
func ResolveServerValues(v any, nowMillis int64) any {
	if isServerTimestamp(v) {
		return float64(nowMillis)
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = ResolveServerValues(child, nowMillis)
		}
	case []any:
		for i, child := range t {
			t[i] = ResolveServerValues(child, nowMillis)
		}
	}
	return v
}
