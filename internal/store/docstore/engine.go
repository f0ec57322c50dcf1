package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

// Engine держит подписки поверх Backend и раздаёт сессии клиентам.
type Engine struct {
	backend Backend
	now     func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(b Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: b,
		now:     time.Now,
		log:     slog.Default(),
		subs:    make(map[uint64]*subscription),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Open создаёт движок и запускает ленту изменений.
func Open(ctx context.Context, b Backend, opts ...Option) (*Engine, error) {
	e := New(b, opts...)
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Start подписывается на ленту бэкенда. Первая подписка синхронная,
// дальнейшие переподключения идут с экспоненциальной задержкой.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ch, err := e.backend.Watch(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("backend.Watch: %w", err)
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, ch)
	}()
	return nil
}

func (e *Engine) run(ctx context.Context, ch <-chan DocKey) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		e.consume(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		for {
			wait := bo.NextBackOff()
			e.log.Warn("store watch lost, reconnecting", slog.Duration("in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			var err error
			ch, err = e.backend.Watch(ctx)
			if err == nil {
				break
			}
			e.log.Error("store watch:", slog.Any("err", err))
		}
		bo.Reset()
		// за время разрыва изменения могли потеряться
		e.refreshAll(ctx)
	}
}

func (e *Engine) consume(ctx context.Context, ch <-chan DocKey) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-ch:
			if !ok {
				return
			}
			e.dispatch(ctx, key)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, key DocKey) {
	keySegs := []string{key.Collection, key.ID}
	var matched []*subscription
	e.mu.Lock()
	for _, s := range e.subs {
		if store.Overlaps(s.segs, keySegs) {
			matched = append(matched, s)
		}
	}
	e.mu.Unlock()
	e.deliver(ctx, matched)
}

func (e *Engine) refreshAll(ctx context.Context) {
	e.mu.Lock()
	all := make([]*subscription, 0, len(e.subs))
	for _, s := range e.subs {
		all = append(all, s)
	}
	e.mu.Unlock()
	e.deliver(ctx, all)
}

func (e *Engine) deliver(ctx context.Context, subs []*subscription) {
	if len(subs) == 0 {
		return
	}
	docs := map[DocKey][]byte{}
	colls := map[string]map[string][]byte{}
	for _, s := range subs {
		snap, err := e.snapshotCached(ctx, s.path, s.segs, docs, colls)
		if err != nil {
			e.log.Error("store dispatch:", slog.String("path", s.path), slog.Any("err", err))
			continue
		}
		s.offer(snap)
	}
}

func (e *Engine) snapshotCached(ctx context.Context, path string, segs []string,
	docs map[DocKey][]byte, colls map[string]map[string][]byte) (store.Snapshot, error) {
	if len(segs) == 1 {
		all, ok := colls[segs[0]]
		if !ok {
			var err error
			all, err = e.backend.LoadAll(ctx, segs[0])
			if err != nil {
				return store.Snapshot{}, err
			}
			colls[segs[0]] = all
		}
		return collectionSnapshot(path, all)
	}
	key := DocKey{Collection: segs[0], ID: segs[1]}
	raw, ok := docs[key]
	if !ok {
		var err error
		raw, err = e.backend.Load(ctx, key)
		if err != nil {
			return store.Snapshot{}, err
		}
		docs[key] = raw
	}
	return docSnapshot(path, raw, segs[2:])
}

func (e *Engine) snapshot(ctx context.Context, path string, segs []string) (store.Snapshot, error) {
	return e.snapshotCached(ctx, path, segs, map[DocKey][]byte{}, map[string]map[string][]byte{})
}

func collectionSnapshot(path string, all map[string][]byte) (store.Snapshot, error) {
	tree := map[string]any{}
	for id, raw := range all {
		v, err := store.DecodeTree(raw)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("%s/%s: %w", path, id, err)
		}
		if v != nil {
			tree[id] = v
		}
	}
	if len(tree) == 0 {
		return store.NewSnapshot(path, nil), nil
	}
	return store.SnapshotOf(path, tree)
}

func docSnapshot(path string, raw []byte, inner []string) (store.Snapshot, error) {
	if raw == nil {
		return store.NewSnapshot(path, nil), nil
	}
	if len(inner) == 0 {
		return store.NewSnapshot(path, raw), nil
	}
	tree, err := store.DecodeTree(raw)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	v, ok := store.GetAt(tree, inner)
	if !ok {
		return store.NewSnapshot(path, nil), nil
	}
	return store.SnapshotOf(path, v)
}

func (e *Engine) subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (uint64, error) {
	segs, err := store.Split(path)
	if err != nil || len(segs) == 0 {
		return 0, fmt.Errorf("subscribe %q: %w", path, store.ErrInvalidPath)
	}
	s := newSubscription(store.Join(segs...), segs, fn)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, store.ErrClosed
	}
	e.nextID++
	id := e.nextID
	e.subs[id] = s
	e.mu.Unlock()

	go s.run()

	snap, err := e.snapshot(ctx, s.path, segs)
	if err != nil {
		e.unsubscribe(id)
		return 0, fmt.Errorf("subscribe %q: %w", path, err)
	}
	s.offerInitial(snap)
	return id, nil
}

func (e *Engine) unsubscribe(id uint64) {
	e.mu.Lock()
	s, ok := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Session открывает клиентскую сессию со своими подписками и
// операциями при отключении.
func (e *Engine) Session() *Session {
	return &Session{e: e, hooks: make(map[uint64]store.DisconnectOp), subs: make(map[uint64]struct{})}
}

// Backend возвращает нижележащий бэкенд.
func (e *Engine) Backend() Backend { return e.backend }

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	subs := e.subs
	e.subs = map[uint64]*subscription{}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	for _, s := range subs {
		s.stop()
	}
	if err := e.backend.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backend.Close: %w", err)
	}
	return nil
}

type subscription struct {
	path string
	segs []string
	fn   func(store.Snapshot)

	mu         sync.Mutex
	last       store.Snapshot
	hasLast    bool
	pending    store.Snapshot
	hasPending bool
	// offered: ящик уже получал значение из ленты
	offered bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(path string, segs []string, fn func(store.Snapshot)) *subscription {
	return &subscription{
		path: path,
		segs: segs,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// offer кладёт снимок в почтовый ящик; неизменённые значения пропускаются,
// промежуточные перезаписываются последним.
func (s *subscription) offer(snap store.Snapshot) {
	s.mu.Lock()
	s.offered = true
	s.put(snap)
}

// offerInitial — начальный снимок, прочитанный после регистрации подписки.
// Если лента уже положила значение, начальный снимок отбрасывается: оно
// прочитано после регистрации, а всё, что записано позже, придёт из ленты.
func (s *subscription) offerInitial(snap store.Snapshot) {
	s.mu.Lock()
	if s.offered {
		s.mu.Unlock()
		return
	}
	s.put(snap)
}

// put вызывается под s.mu и отпускает его.
func (s *subscription) put(snap store.Snapshot) {
	if s.hasLast && s.last.Equal(snap) {
		s.mu.Unlock()
		return
	}
	s.last, s.hasLast = snap, true
	s.pending, s.hasPending = snap, true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.mu.Lock()
		snap, ok := s.pending, s.hasPending
		s.hasPending = false
		s.mu.Unlock()
		if ok {
			s.fn(snap)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
