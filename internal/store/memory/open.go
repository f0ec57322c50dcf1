package memory

import (
	"context"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

// Open поднимает движок хранилища поверх нового пустого бэкенда.
func Open(ctx context.Context, opts ...docstore.Option) (*docstore.Engine, error) {
	return docstore.Open(ctx, New(), opts...)
}
