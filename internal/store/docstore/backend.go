// Package docstore реализует store.Store поверх документного бэкенда:
// первый сегмент пути — коллекция, второй — документ, остальное — внутри JSON.
package docstore

import (
	"context"
	"sync"
)

type DocKey struct {
	Collection string
	ID         string
}

func (k DocKey) String() string { return k.Collection + "/" + k.ID }

// MutateFunc получает текущий JSON документа (nil, если его нет) и возвращает
// новый (nil — удалить). Ошибка отменяет запись и возвращается из Mutate как есть.
type MutateFunc func(cur []byte) ([]byte, error)

// Backend — хранилище документов. Mutate атомарен относительно других Mutate
// того же документа, в том числе с других узлов. Watch сообщает ключи
// изменённых документов, включая чужие записи; закрытие канала означает
// потерю подписки.
type Backend interface {
	Load(ctx context.Context, key DocKey) ([]byte, error)
	LoadAll(ctx context.Context, collection string) (map[string][]byte, error)
	Mutate(ctx context.Context, key DocKey, fn MutateFunc) error
	Watch(ctx context.Context) (<-chan DocKey, error)
	Close() error
}

// Feed — внутрипроцессная лента изменений для однонодовых бэкендов.
// Каналы подписчиков не закрываются: читатель сам отменяет свой ctx.
type Feed struct {
	mu       sync.Mutex
	watchers map[int]*watcher
	next     int
}

type watcher struct {
	ch   chan DocKey
	done chan struct{}
}

func NewFeed() *Feed {
	return &Feed{watchers: make(map[int]*watcher)}
}

func (f *Feed) Watch(ctx context.Context) (<-chan DocKey, error) {
	w := &watcher{ch: make(chan DocKey, 256), done: make(chan struct{})}
	f.mu.Lock()
	id := f.next
	f.next++
	f.watchers[id] = w
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
		close(w.done)
	}()
	return w.ch, nil
}

// Publish вызывается после фиксации записи, вне блокировок бэкенда.
func (f *Feed) Publish(key DocKey) {
	f.mu.Lock()
	targets := make([]*watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		targets = append(targets, w)
	}
	f.mu.Unlock()
	for _, w := range targets {
		select {
		case w.ch <- key:
		case <-w.done:
		}
	}
}
