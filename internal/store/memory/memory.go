// Package memory — внутрипроцессный бэкенд документов для одного узла и тестов.
package memory

import (
	"context"
	"sync"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

type Backend struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
	feed *docstore.Feed
}

var _ docstore.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		docs: make(map[string]map[string][]byte),
		feed: docstore.NewFeed(),
	}
}

func (b *Backend) Load(_ context.Context, key docstore.DocKey) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return clone(b.docs[key.Collection][key.ID]), nil
}

func (b *Backend) LoadAll(_ context.Context, collection string) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte, len(b.docs[collection]))
	for id, raw := range b.docs[collection] {
		out[id] = clone(raw)
	}
	return out, nil
}

func (b *Backend) Mutate(ctx context.Context, key docstore.DocKey, fn docstore.MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	next, err := fn(clone(b.docs[key.Collection][key.ID]))
	if err != nil {
		b.mu.Unlock()
		return err
	}
	coll := b.docs[key.Collection]
	if next == nil {
		delete(coll, key.ID)
	} else {
		if coll == nil {
			coll = make(map[string][]byte)
			b.docs[key.Collection] = coll
		}
		coll[key.ID] = clone(next)
	}
	b.mu.Unlock()

	b.feed.Publish(key)
	return nil
}

func (b *Backend) Watch(ctx context.Context) (<-chan docstore.DocKey, error) {
	return b.feed.Watch(ctx)
}

func (b *Backend) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
