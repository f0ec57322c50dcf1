package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/remote"
)

// Authenticator проверяет токен (или доверенный user id) и возвращает id пользователя.
type Authenticator interface {
	Authenticate(token, claimedUserID string) (string, error)
}

// Sessions открывает сессию хранилища на каждое соединение.
type Sessions interface {
	Session() *docstore.Session
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	sessions Sessions
	auth     Authenticator

	pingEvery time.Duration
}

func NewServer(hub *Hub, sessions Sessions, auth Authenticator) *Server {
	return &Server{
		hub:      hub,
		sessions: sessions,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/store
// Authorization: Bearer <token> либо ?access_token=...; без JWT — X-User-ID или ?user_id=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = strings.TrimSpace(q.Get("access_token"))
	}
	claimed := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if claimed == "" {
		claimed = strings.TrimSpace(q.Get("user_id"))
	}
	userID, err := s.auth.Authenticate(token, claimed)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, userID, s.sessions.Session())
	s.hub.Add(c)
	slog.Debug("ws store connected", "user", userID)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)
	cancel()

	s.hub.Remove(c)
	c.dropSubscriptions()
	// операции отключения выполняются здесь
	if err := c.sess.Close(); err != nil {
		slog.Warn("ws disconnect ops failed", "user", userID, "err", err)
	}
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "user", userID, "err", err)
	}
	slog.Debug("ws store disconnected", "user", userID)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		var req remote.Request
		if err := c.conn.ReadJSON(&req); err != nil {
			slog.Debug("ws read finished", "user", c.userID, "err", err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		// запросы одного соединения обрабатываются по порядку
		reply := c.handle(ctx, req)
		if err := c.Send(reply); err != nil {
			slog.Debug("ws reply failed", "user", c.userID, "err", err)
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn   *websocket.Conn
	userID string
	sess   *docstore.Session
	sendMu chan struct{}
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	subs  map[string]func() // ref -> unsubscribe
	hooks map[string]func() // ref -> cancel
}

func newWsConn(c *websocket.Conn, userID string, sess *docstore.Session) *wsConn {
	return &wsConn{
		conn:   c,
		userID: userID,
		sess:   sess,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
		subs:   make(map[string]func()),
		hooks:  make(map[string]func()),
	}
}

func (c *wsConn) Send(f remote.Frame) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(f)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) UserID() string { return c.userID }

func (c *wsConn) dropSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]func(){}
	c.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}
