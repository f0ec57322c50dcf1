package ws

import (
	"sync"
)

type Conn interface {
	Close() error
	UserID() string
}

// Hub учитывает живые соединения с хранилищем по пользователям.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[Conn]struct{} // userID -> set of connections
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.users[c.UserID()]
	if !ok {
		cs = make(map[Conn]struct{})
		h.users[c.UserID()] = cs
	}
	cs[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.users[c.UserID()]; ok {
		delete(cs, c)
		if len(cs) == 0 {
			delete(h.users, c.UserID())
		}
	}
}

// Connected сообщает, есть ли у пользователя хотя бы одно соединение.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, cs := range h.users {
		n += len(cs)
	}
	return n
}

// CloseAll закрывает все соединения (при остановке сервера).
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]Conn, 0)
	for _, cs := range h.users {
		for c := range cs {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.Close() // best-effort
	}
}
