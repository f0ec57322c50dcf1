package docstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/memory"
)

func openEngine(t *testing.T, opts ...docstore.Option) *docstore.Engine {
	t.Helper()
	e, err := memory.Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// recorder собирает снимки подписки.
type recorder struct {
	mu    sync.Mutex
	snaps []store.Snapshot
}

func (r *recorder) add(s store.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) last() (store.Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return store.Snapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestSession_SetGetUpdateRemove(t *testing.T) {
	ctx := context.Background()
	s := openEngine(t).Session()

	require.NoError(t, s.Set(ctx, "rooms/r1", map[string]any{
		"name":  "lobby",
		"users": map[string]any{"u1": true},
	}))

	snap, err := s.Get(ctx, "rooms/r1/name")
	require.NoError(t, err)
	assert.JSONEq(t, `"lobby"`, string(snap.Raw()))

	require.NoError(t, s.Update(ctx, "rooms/r1", map[string]any{
		"users/u2": true,
		"hostId":   "u1",
	}))
	snap, err = s.Get(ctx, "rooms/r1/users")
	require.NoError(t, err)
	assert.JSONEq(t, `{"u1":true,"u2":true}`, string(snap.Raw()))

	require.NoError(t, s.Remove(ctx, "rooms/r1/users/u1"))
	require.NoError(t, s.Remove(ctx, "rooms/r1/users/u2"))
	snap, err = s.Get(ctx, "rooms/r1/users")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, s.Remove(ctx, "rooms/r1"))
	snap, err = s.Get(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestSession_InvalidPaths(t *testing.T) {
	ctx := context.Background()
	s := openEngine(t).Session()

	assert.ErrorIs(t, s.Set(ctx, "rooms", 1), store.ErrInvalidPath)
	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidPath)
	assert.ErrorIs(t, s.Remove(ctx, "rooms/a.b"), store.ErrInvalidPath)
}

func TestSession_ServerTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	s := openEngine(t, docstore.WithClock(func() time.Time { return now })).Session()

	require.NoError(t, s.Update(ctx, "rooms/r1", map[string]any{
		"playback/lastUpdateTime": store.ServerTimestamp(),
	}))
	snap, err := s.Get(ctx, "rooms/r1/playback/lastUpdateTime")
	require.NoError(t, err)
	var ms float64
	require.NoError(t, snap.Decode(&ms))
	assert.Equal(t, float64(now.UnixMilli()), ms)
}

func TestSession_CollectionLevel(t *testing.T) {
	ctx := context.Background()
	s := openEngine(t).Session()

	require.NoError(t, s.Update(ctx, "rooms", map[string]any{
		"a/name": "A",
		"b/name": "B",
	}))
	snap, err := s.Get(ctx, "rooms")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"name":"A"},"b":{"name":"B"}}`, string(snap.Raw()))

	require.NoError(t, s.Remove(ctx, "rooms"))
	snap, err = s.Get(ctx, "rooms")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestSession_SubscribeInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)
	writer := e.Session()
	reader := e.Session()

	require.NoError(t, writer.Set(ctx, "rooms/r1/name", "lobby"))

	rec := &recorder{}
	unsub, err := reader.Subscribe(ctx, "rooms/r1/name", rec.add)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		s, n := rec.last()
		return n == 1 && string(s.Raw()) == `"lobby"`
	}, time.Second, 5*time.Millisecond, "initial snapshot")

	// запись в соседнее поле не меняет значение подписки
	require.NoError(t, writer.Set(ctx, "rooms/r1/hostId", "u1"))
	require.NoError(t, writer.Set(ctx, "rooms/r1/name", "party"))

	require.Eventually(t, func() bool {
		s, _ := rec.last()
		return string(s.Raw()) == `"party"`
	}, time.Second, 5*time.Millisecond)
	_, n := rec.last()
	assert.Equal(t, 2, n, "unchanged values are not redelivered")

	unsub()
	require.NoError(t, writer.Set(ctx, "rooms/r1/name", "after"))
	time.Sleep(30 * time.Millisecond)
	s, _ := rec.last()
	assert.Equal(t, `"party"`, string(s.Raw()))
}

func TestSession_SubscribeMissingNode(t *testing.T) {
	rec := &recorder{}
	unsub, err := openEngine(t).Session().Subscribe(context.Background(), "rooms/none", rec.add)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		s, n := rec.last()
		return n == 1 && !s.Exists()
	}, time.Second, 5*time.Millisecond)
}

func TestSession_Push(t *testing.T) {
	s := openEngine(t).Session()
	a, err := s.Push(context.Background(), "rooms/r1/playlist")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := s.Push(context.Background(), "rooms/r1/playlist")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Less(t, store.Key(a), store.Key(b), "push keys are ordered by creation")
}

func TestSession_DisconnectHooks(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)
	admin := e.Session()
	client := e.Session()

	require.NoError(t, admin.Set(ctx, "rooms/r1", map[string]any{
		"users":    map[string]any{"u1": true, "u2": true},
		"presence": map[string]any{"u1": 1, "u2": 1},
	}))

	_, err := client.OnDisconnect(ctx, store.UpdateOnDisconnect("rooms/r1", map[string]any{
		"users/u1":    nil,
		"presence/u1": nil,
	}))
	require.NoError(t, err)
	cancel, err := client.OnDisconnect(ctx, store.RemoveOnDisconnect("rooms/r1"))
	require.NoError(t, err)
	cancel()

	require.NoError(t, client.Close())

	snap, err := admin.Get(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":{"u2":true},"presence":{"u2":1}}`, string(snap.Raw()))

	_, err = client.OnDisconnect(ctx, store.RemoveOnDisconnect("rooms/r1"))
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = client.Subscribe(ctx, "rooms/r1", func(store.Snapshot) {})
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestSession_Transact(t *testing.T) {
	ctx := context.Background()
	s := openEngine(t).Session()

	incr := func(cur store.Snapshot) (any, error) {
		var n int
		if cur.Exists() {
			if err := cur.Decode(&n); err != nil {
				return nil, err
			}
		}
		return n + 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Transact(ctx, "counters/c1/n", incr))
		}()
	}
	wg.Wait()

	snap, err := s.Get(ctx, "counters/c1/n")
	require.NoError(t, err)
	assert.JSONEq(t, `20`, string(snap.Raw()))

	err = s.Transact(ctx, "counters/c1/n", func(store.Snapshot) (any, error) {
		return nil, store.ErrAborted
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transact(ctx, "counters/c1/n", func(store.Snapshot) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.Transact(ctx, "counters/c1/n", func(store.Snapshot) (any, error) {
		return nil, nil
	}))
	snap, err = s.Get(ctx, "counters/c1")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestEngine_CloseRejectsSubscribe(t *testing.T) {
	e, err := memory.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Session().Subscribe(context.Background(), "rooms", func(store.Snapshot) {})
	assert.ErrorIs(t, err, store.ErrClosed)
}

// gatedBackend задерживает первое чтение: оно возвращает значение,
// прочитанное до записи, уже после того как лента доставила новое.
type gatedBackend struct {
	*memory.Backend
	first   sync.Once
	reading chan struct{}
	release chan struct{}
}

func (b *gatedBackend) Load(ctx context.Context, key docstore.DocKey) ([]byte, error) {
	raw, err := b.Backend.Load(ctx, key)
	gated := false
	b.first.Do(func() { gated = true })
	if gated {
		close(b.reading)
		<-b.release
	}
	return raw, err
}

func TestEngine_InitialSnapshotDoesNotOverrideNewerChange(t *testing.T) {
	ctx := context.Background()
	b := &gatedBackend{Backend: memory.New(), reading: make(chan struct{}), release: make(chan struct{})}
	// до Open: ленту ещё никто не слушает
	require.NoError(t, b.Backend.Mutate(ctx, docstore.DocKey{Collection: "rooms", ID: "r1"},
		func([]byte) ([]byte, error) { return []byte(`{"name":"old"}`), nil }))

	e, err := docstore.Open(ctx, b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	rec := &recorder{}
	subscribed := make(chan error, 1)
	go func() {
		_, err := e.Session().Subscribe(ctx, "rooms/r1/name", rec.add)
		subscribed <- err
	}()

	<-b.reading
	require.NoError(t, e.Session().Set(ctx, "rooms/r1/name", "new"))
	require.Eventually(t, func() bool {
		s, _ := rec.last()
		return string(s.Raw()) == `"new"`
	}, time.Second, 5*time.Millisecond)

	close(b.release)
	require.NoError(t, <-subscribed)
	time.Sleep(30 * time.Millisecond)

	s, n := rec.last()
	assert.Equal(t, `"new"`, string(s.Raw()))
	assert.Equal(t, 1, n)
}
