package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

const disconnectTimeout = 5 * time.Second

// Session — клиентский хэндл движка. Close снимает подписки сессии и
// выполняет зарегистрированные операции отключения в порядке регистрации.
type Session struct {
	e *Engine

	mu       sync.Mutex
	hooks    map[uint64]store.DisconnectOp
	hookSeq  uint64
	subs     map[uint64]struct{}
	closed   bool
	closeErr error
}

var (
	_ store.Store      = (*Session)(nil)
	_ store.Transactor = (*Session)(nil)
)

func (s *Session) nowMillis() int64 { return s.e.now().UnixMilli() }

func (s *Session) Get(ctx context.Context, path string) (store.Snapshot, error) {
	segs, err := splitPath(path, 1)
	if err != nil {
		return store.Snapshot{}, err
	}
	return s.e.snapshot(ctx, store.Join(segs...), segs)
}

func (s *Session) Set(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path, 2)
	if err != nil {
		return err
	}
	val, err := store.Normalize(value)
	if err != nil {
		return err
	}
	val = store.ResolveServerValues(val, s.nowMillis())
	return s.mutateTree(ctx, docKey(segs), func(root any) (any, error) {
		return store.SetAt(root, segs[2:], val), nil
	})
}

func (s *Session) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := splitPath(path, 1)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	now := s.nowMillis()
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := store.Normalize(v)
		if err != nil {
			return err
		}
		norm[k] = store.ResolveServerValues(nv, now)
	}

	if len(segs) >= 2 {
		return s.mutateTree(ctx, docKey(segs), func(root any) (any, error) {
			return store.UpdateAt(root, segs[2:], norm)
		})
	}

	// обновление на уровне коллекции: атомарно только в пределах документа
	byDoc := map[string]map[string]any{}
	for rel, v := range norm {
		relSegs, err := store.Split(rel)
		if err != nil || len(relSegs) == 0 {
			return fmt.Errorf("update %q: %w", rel, store.ErrInvalidPath)
		}
		id := relSegs[0]
		if byDoc[id] == nil {
			byDoc[id] = map[string]any{}
		}
		byDoc[id][strings.Join(relSegs[1:], "/")] = v
	}
	for id, docFields := range byDoc {
		key := DocKey{Collection: segs[0], ID: id}
		err := s.mutateTree(ctx, key, func(root any) (any, error) {
			return store.UpdateAt(root, nil, docFields)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Remove(ctx context.Context, path string) error {
	segs, err := splitPath(path, 1)
	if err != nil {
		return err
	}
	if len(segs) >= 2 {
		return s.mutateTree(ctx, docKey(segs), func(root any) (any, error) {
			return store.SetAt(root, segs[2:], nil), nil
		})
	}
	all, err := s.e.backend.LoadAll(ctx, segs[0])
	if err != nil {
		return fmt.Errorf("remove %s: %w", segs[0], err)
	}
	for id := range all {
		if err := s.e.backend.Mutate(ctx, DocKey{Collection: segs[0], ID: id}, func([]byte) ([]byte, error) {
			return nil, nil
		}); err != nil {
			return fmt.Errorf("remove %s/%s: %w", segs[0], id, err)
		}
	}
	return nil
}

func (s *Session) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.mu.Unlock()

	id, err := s.e.subscribe(ctx, path, fn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.subs[id] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			s.e.unsubscribe(id)
		})
	}, nil
}

func (s *Session) Push(_ context.Context, path string) (string, error) {
	segs, err := splitPath(path, 1)
	if err != nil {
		return "", err
	}
	key, err := NewPushKey()
	if err != nil {
		return "", err
	}
	return store.Join(append(segs, key)...), nil
}

func (s *Session) OnDisconnect(_ context.Context, op store.DisconnectOp) (func(), error) {
	if _, err := splitPath(op.Path, 1); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	s.hookSeq++
	id := s.hookSeq
	s.hooks[id] = op
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}, nil
}

func (s *Session) Transact(ctx context.Context, path string, fn func(store.Snapshot) (any, error)) error {
	segs, err := splitPath(path, 2)
	if err != nil {
		return err
	}
	clean := store.Join(segs...)
	err = s.mutateTree(ctx, docKey(segs), func(root any) (any, error) {
		v, _ := store.GetAt(root, segs[2:])
		cur, err := store.SnapshotOf(clean, v)
		if err != nil {
			return nil, err
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		val, err := store.Normalize(next)
		if err != nil {
			return nil, err
		}
		val = store.ResolveServerValues(val, s.nowMillis())
		return store.SetAt(root, segs[2:], val), nil
	})
	if errors.Is(err, store.ErrAborted) {
		return nil
	}
	return err
}

// Close выполняет операции отключения и снимает подписки сессии.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	ids := make([]uint64, 0, len(s.hooks))
	for id := range s.hooks {
		ids = append(ids, id)
	}
	hooks := s.hooks
	s.hooks = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for id := range subs {
		s.e.unsubscribe(id)
	}

	slices.Sort(ids)
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	exec := s.e.Session()
	var errs []error
	for _, id := range ids {
		op := hooks[id]
		if err := op.Apply(ctx, exec); err != nil {
			s.e.log.Error("store disconnect op:", slog.String("path", op.Path), slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	s.closeErr = errors.Join(errs...)
	s.mu.Unlock()
	return s.closeErr
}

func (s *Session) mutateTree(ctx context.Context, key DocKey, fn func(root any) (any, error)) error {
	err := s.e.backend.Mutate(ctx, key, func(cur []byte) ([]byte, error) {
		root, err := store.DecodeTree(cur)
		if err != nil {
			return nil, err
		}
		next, err := fn(root)
		if err != nil {
			return nil, err
		}
		return store.EncodeTree(next)
	})
	if err != nil {
		return fmt.Errorf("mutate %s: %w", key, err)
	}
	return nil
}

func splitPath(path string, minSegs int) ([]string, error) {
	segs, err := store.Split(path)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	if len(segs) < minSegs {
		return nil, fmt.Errorf("%q: %w", path, store.ErrInvalidPath)
	}
	return segs, nil
}

func docKey(segs []string) DocKey {
	return DocKey{Collection: segs[0], ID: segs[1]}
}
