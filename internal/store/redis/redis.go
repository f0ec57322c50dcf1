// Package redis — бэкенд документов для нескольких узлов: документы лежат в
// хэше коллекции, запись через WATCH/MULTI, уведомления через Pub/Sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

const maxTxRetries = 16

var ErrTxContention = errors.New("redis: too many concurrent writers")

type Backend struct {
	client    *redis.Client
	keyPrefix string
}

var _ docstore.Backend = (*Backend)(nil)

func New(client *redis.Client, keyPrefix string) *Backend {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = "soulsync:"
	}
	return &Backend{client: client, keyPrefix: keyPrefix}
}

func (b *Backend) collectionKey(collection string) string {
	return b.keyPrefix + "docs:" + collection
}

func (b *Backend) changesChannel() string {
	return b.keyPrefix + "changes"
}

func (b *Backend) Load(ctx context.Context, key docstore.DocKey) ([]byte, error) {
	raw, err := b.client.HGet(ctx, b.collectionKey(key.Collection), key.ID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load %s: %w", key, err)
	}
	return raw, nil
}

func (b *Backend) LoadAll(ctx context.Context, collection string) (map[string][]byte, error) {
	m, err := b.client.HGetAll(ctx, b.collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load all %s: %w", collection, err)
	}
	out := make(map[string][]byte, len(m))
	for id, body := range m {
		out[id] = []byte(body)
	}
	return out, nil
}

// Mutate — оптимистичная транзакция по ключу коллекции; при конфликте повтор.
func (b *Backend) Mutate(ctx context.Context, key docstore.DocKey, fn docstore.MutateFunc) error {
	hkey := b.collectionKey(key.Collection)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, hkey, key.ID).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if errors.Is(err, redis.Nil) {
			cur = nil
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.HDel(ctx, hkey, key.ID)
			} else {
				pipe.HSet(ctx, hkey, key.ID, next)
			}
			pipe.Publish(ctx, b.changesChannel(), key.String())
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, hkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: mutate %s: %w", key, err)
		}
		return nil
	}
	return ErrTxContention
}

// Watch подписывается на канал изменений. Канал закрывается при потере
// подписки, движок переподключается сам.
func (b *Backend) Watch(ctx context.Context) (<-chan docstore.DocKey, error) {
	ps := b.client.Subscribe(ctx, b.changesChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	out := make(chan docstore.DocKey, 256)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				coll, id, found := strings.Cut(msg.Payload, "/")
				if !found {
					continue
				}
				select {
				case out <- docstore.DocKey{Collection: coll, ID: id}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Backend) Close() error { return nil }
