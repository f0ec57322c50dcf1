package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxFrameSize          = 1 << 20
)

// Client реализует store.Store поверх соединения с сервером хранилища.
// При разрыве клиент переподключается, заново оформляет подписки и
// операции отключения. Запросы, попавшие в разрыв, завершаются ErrDisconnected.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *slog.Logger

	seq atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     chan struct{}
	pending   map[uint64]chan Frame
	subs      map[string]*subscription
	hooks     map[string]store.DisconnectOp
	closed    bool
	done      chan struct{}
	writeMu   sync.Mutex
	wg        sync.WaitGroup
	reconnect func() backoff.BackOff
}

var _ store.Store = (*Client)(nil)

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithToken передаёт access-токен в заголовке Authorization.
func WithToken(token string) Option {
	return func(c *Client) { c.header.Set("Authorization", "Bearer "+token) }
}

// WithUserID — режим доверенного заголовка, когда на сервере нет JWT.
func WithUserID(id string) Option {
	return func(c *Client) { c.header.Set("X-User-ID", id) }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithBackOff задаёт политику переподключения.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.reconnect = fn }
}

// Dial подключается к серверу. Первое подключение синхронное.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	c := &Client{
		url:     rawURL,
		header:  http.Header{},
		dialer:  websocket.DefaultDialer,
		log:     slog.Default(),
		ready:   make(chan struct{}),
		pending: make(map[uint64]chan Frame),
		subs:    make(map[string]*subscription),
		hooks:   make(map[string]store.DisconnectOp),
		done:    make(chan struct{}),
		reconnect: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			bo.MaxInterval = 10 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
	for _, o := range opts {
		o(c)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	close(c.ready)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(conn)
	}()
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", c.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)
		if !c.disconnected(conn) {
			return
		}
		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Warn("store connection read:", slog.Any("err", err))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("store frame decode:", slog.Any("err", err))
			continue
		}
		switch f.Type {
		case TypeEvent:
			c.mu.Lock()
			sub := c.subs[f.Ref]
			c.mu.Unlock()
			if sub != nil {
				sub.offer(f.snapshot(sub.path))
			}
		case TypeReply:
			c.mu.Lock()
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		}
	}
}

// disconnected сбрасывает текущее соединение и завершает ожидающие запросы.
// Возвращает false, если клиент закрыт.
func (c *Client) disconnected(conn *websocket.Conn) bool {
	_ = conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.ready = make(chan struct{})
	}
	for id, ch := range c.pending {
		ch <- Frame{Type: TypeReply, ID: id, Code: CodeDisconnected, Error: ErrDisconnected.Error()}
		delete(c.pending, id)
	}
	return !c.closed
}

func (c *Client) redial() (*websocket.Conn, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		conn, err = c.dial(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(c.reconnect(), ctx), func(err error, wait time.Duration) {
		c.log.Warn("store reconnect failed", slog.Any("err", err), slog.Duration("retry_in", wait))
	})
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, false
	}
	c.conn = conn
	subs := make(map[string]string, len(c.subs))
	for ref, s := range c.subs {
		subs[ref] = s.path
	}
	hooks := make(map[string]store.DisconnectOp, len(c.hooks))
	for ref, op := range c.hooks {
		hooks[ref] = op
	}
	c.mu.Unlock()

	// восстановление идёт без ожидания ответов: их разберёт новый readLoop
	for ref, path := range subs {
		c.sendNoReply(conn, Request{Op: OpSubscribe, Path: path, Ref: ref})
	}
	for ref, op := range hooks {
		c.sendNoReply(conn, Request{Op: OpOnDisconnect, Ref: ref, Disconnect: &op})
	}

	c.mu.Lock()
	close(c.ready)
	c.mu.Unlock()
	c.log.Info("store reconnected", slog.Int("subscriptions", len(subs)), slog.Int("disconnect_ops", len(hooks)))
	return conn, true
}

func (c *Client) sendNoReply(conn *websocket.Conn, req Request) {
	req.ID = c.seq.Add(1)
	if err := c.write(conn, req); err != nil {
		c.log.Warn("store resync:", slog.String("op", req.Op), slog.Any("err", err))
	}
}

func (c *Client) write(conn *websocket.Conn, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.Op, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(defaultRequestTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) waitConn(ctx context.Context) (*websocket.Conn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, store.ErrClosed
		}
		conn, ready := c.conn, c.ready
		c.mu.Unlock()
		if conn != nil {
			select {
			case <-ready:
				return conn, nil
			default:
			}
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, store.ErrClosed
		}
	}
}

func (c *Client) call(ctx context.Context, req Request) (Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	conn, err := c.waitConn(ctx)
	if err != nil {
		return Frame{}, err
	}

	req.ID = c.seq.Add(1)
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	drop := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.write(conn, req); err != nil {
		drop()
		return Frame{}, fmt.Errorf("%s %s: %w", req.Op, req.Path, ErrDisconnected)
	}
	select {
	case f := <-ch:
		if err := f.err(); err != nil {
			return f, fmt.Errorf("%s %s: %w", req.Op, req.Path, err)
		}
		return f, nil
	case <-ctx.Done():
		drop()
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, store.ErrClosed
	}
}

func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	f, err := c.call(ctx, Request{Op: OpGet, Path: path})
	if err != nil {
		return store.Snapshot{}, err
	}
	return f.snapshot(path), nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = c.call(ctx, Request{Op: OpSet, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	enc := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", path, k, err)
		}
		enc[k] = raw
	}
	_, err := c.call(ctx, Request{Op: OpUpdate, Path: path, Fields: enc})
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.call(ctx, Request{Op: OpRemove, Path: path})
	return err
}

// Push генерирует ключ локально, без обращения к серверу.
func (c *Client) Push(_ context.Context, path string) (string, error) {
	segs, err := store.Split(path)
	if err != nil || len(segs) == 0 {
		return "", fmt.Errorf("push %q: %w", path, store.ErrInvalidPath)
	}
	key, err := docstore.NewPushKey()
	if err != nil {
		return "", err
	}
	return store.Join(append(segs, key)...), nil
}

func (c *Client) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (func(), error) {
	ref := "s" + strconv.FormatUint(c.seq.Add(1), 10)
	sub := newSubscription(path, fn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.subs[ref] = sub
	c.mu.Unlock()
	go sub.run()

	remove := func() {
		c.mu.Lock()
		delete(c.subs, ref)
		c.mu.Unlock()
		sub.stop()
	}
	if _, err := c.call(ctx, Request{Op: OpSubscribe, Path: path, Ref: ref}); err != nil {
		remove()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			go c.fireAndForget(Request{Op: OpUnsubscribe, Ref: ref})
		})
	}, nil
}

func (c *Client) OnDisconnect(ctx context.Context, op store.DisconnectOp) (func(), error) {
	ref := "h" + strconv.FormatUint(c.seq.Add(1), 10)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.hooks[ref] = op
	c.mu.Unlock()

	if _, err := c.call(ctx, Request{Op: OpOnDisconnect, Ref: ref, Disconnect: &op}); err != nil {
		c.mu.Lock()
		delete(c.hooks, ref)
		c.mu.Unlock()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.hooks, ref)
			c.mu.Unlock()
			c.fireAndForget(Request{Op: OpCancelDisconnect, Ref: ref})
		})
	}, nil
}

func (c *Client) fireAndForget(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	if _, err := c.call(ctx, req); err != nil && !errors.Is(err, store.ErrClosed) {
		c.log.Warn("store request:", slog.String("op", req.Op), slog.Any("err", err))
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close закрывает соединение; сервер выполнит зарегистрированные
// операции отключения.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := c.subs
	c.subs = map[string]*subscription{}
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	for _, s := range subs {
		s.stop()
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close store connection: %w", err)
	}
	return nil
}

// subscription — почтовый ящик с последним значением; колбэк вызывается
// вне readLoop, чтобы он мог делать запросы к хранилищу.
type subscription struct {
	path string
	fn   func(store.Snapshot)

	mu         sync.Mutex
	last       store.Snapshot
	hasLast    bool
	pending    store.Snapshot
	hasPending bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(path string, fn func(store.Snapshot)) *subscription {
	return &subscription{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscription) offer(snap store.Snapshot) {
	s.mu.Lock()
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
		s.mu.Lock()
		snap, ok := s.pending, s.hasPending
		s.hasPending = false
		s.mu.Unlock()
		if ok {
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(snap)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
