package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/postgres"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

// Тесты требуют живой PostgreSQL: TEST_POSTGRES_DSN=postgres://...
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, postgres.Config{DSN: dsn, MaxConns: 8, ApplicationName: "soulsync-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func TestDocBackend_MutateConcurrent(t *testing.T) {
	ctx := context.Background()
	b := postgres.NewDocBackend(testPool(t))
	key := docstore.DocKey{Collection: "test_counters", ID: uuid.NewString()}
	t.Cleanup(func() {
		_ = b.Mutate(ctx, key, func([]byte) ([]byte, error) { return nil, nil })
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := docstore.Open(ctx, b)
			if !assert.NoError(t, err) {
				return
			}
			defer e.Close()
			err = e.Session().Transact(ctx, key.String()+"/n", func(cur store.Snapshot) (any, error) {
				var n int
				if cur.Exists() {
					if err := cur.Decode(&n); err != nil {
						return nil, err
					}
				}
				return n + 1, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	raw, err := b.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":10}`, string(raw))
}

func TestDocBackend_Watch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := postgres.NewDocBackend(testPool(t))

	changes, err := b.Watch(ctx)
	require.NoError(t, err)

	key := docstore.DocKey{Collection: "test_rooms", ID: uuid.NewString()}
	require.NoError(t, b.Mutate(ctx, key, func([]byte) ([]byte, error) { return []byte(`{"a":1}`), nil }))
	defer func() { _ = b.Mutate(context.Background(), key, func([]byte) ([]byte, error) { return nil, nil }) }()

	for {
		select {
		case got, ok := <-changes:
			require.True(t, ok)
			if got == key {
				return
			}
		case <-ctx.Done():
			t.Fatal("no notification")
		}
	}
}

func TestProfileRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewProfileRepository(testPool(t))
	id := uuid.NewString()

	_, err := repo.Profile(ctx, id)
	assert.ErrorIs(t, err, profile.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, profile.Profile{UserID: id, DisplayName: "Ann"}))
	require.NoError(t, repo.Upsert(ctx, profile.Profile{UserID: id, AvatarURL: "http://a/x.png"}))

	p, err := repo.Profile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.DisplayName)
	assert.Equal(t, "http://a/x.png", p.AvatarURL)
}
