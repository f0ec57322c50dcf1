package docstore

import (
	"fmt"

	"github.com/google/uuid"
)

// NewPushKey возвращает ключ, лексикографически упорядоченный по времени создания.
func NewPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	return id.String(), nil
}
