// Package roomsync сводит локальное воспроизведение и запись комнаты в
// общем хранилище в обе стороны.
package roomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/playback"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

var ErrAlreadyStarted = errors.New("synchronizer already started")

// Synchronizer обслуживает одну комнату. Все входящие снимки, отложенные
// публикации и heartbeat обрабатываются в одной горутине.
type Synchronizer struct {
	st     store.Store
	pb     *playback.Machine
	roomID string
	userID string
	cfg    Config
	now    func() time.Time
	log    *slog.Logger

	onTerminated func(error)

	phase      atomic.Uint32
	writes     atomic.Int64
	suppressed atomic.Int64

	// состояние ниже принадлежит горутине цикла
	lastOutboundSentAt time.Time
	lastCorrection     time.Time
	lastRemoteUpdate   int64
	lastAnnounce       time.Time
	announceHooks      []func()
	lastApplied        transport
	hasApplied         bool
	cache              remoteCache

	inbound chan store.Snapshot
	dirty   chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu          sync.Mutex
	started     bool
	stopOnce    sync.Once
	err         error
	unsubRemote func()
	unsubLocal  func()
}

// remoteCache — последний увиденный снимок комнаты и время его получения.
type remoteCache struct {
	raw json.RawMessage
	at  time.Time
	ok  bool
}

// transport — часть записи комнаты, которую зеркалит синхронизатор.
type transport struct {
	songID         string
	isPlaying      bool
	currentTime    float64
	lastUpdateTime int64
}

type Option func(*Synchronizer)

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// OnTerminated вызывается один раз, когда синхронизация завершилась:
// комната исчезла (domain.ErrRoomClosed) или вызван Stop (nil).
func OnTerminated(fn func(error)) Option {
	return func(s *Synchronizer) { s.onTerminated = fn }
}

func New(st store.Store, pb *playback.Machine, roomID, userID string, cfg Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		st:      st,
		pb:      pb,
		roomID:  roomID,
		userID:  userID,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		log:     slog.Default(),
		inbound: make(chan store.Snapshot, 16),
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("room_id", roomID), slog.String("user_id", userID))
	return s
}

func (s *Synchronizer) path() string { return domain.RoomPath(s.roomID) }

// Start сразу применяет текущее состояние комнаты (вход посреди трека),
// затем подписывается на изменения. Цикл живёт до Stop или отмены ctx.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	snap, err := s.st.Get(ctx, s.path())
	if err != nil {
		return s.abort(fmt.Errorf("store.Get: %w", err))
	}
	if !snap.Exists() {
		return s.abort(domain.ErrRoomNotFound)
	}
	s.applyRemote(ctx, snap)

	unsubLocal := s.pb.OnChange(s.onLocalChange)
	unsubRemote, err := s.st.Subscribe(ctx, s.path(), s.onRemote)
	if err != nil {
		unsubLocal()
		return s.abort(fmt.Errorf("store.Subscribe: %w", err))
	}
	s.mu.Lock()
	s.unsubLocal, s.unsubRemote = unsubLocal, unsubRemote
	s.mu.Unlock()

	go s.loop(context.WithoutCancel(ctx), ctx.Done())
	return nil
}

// abort: Start не удался, цикл не запускался. done закрывается, чтобы Stop
// и ожидающие Done не висели; повторный Start по-прежнему запрещён.
func (s *Synchronizer) abort(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
	return err
}

// Stop снимает подписки и таймеры. Повторный вызов безопасен.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *Synchronizer) Done() <-chan struct{} { return s.done }

// Err — причина завершения; nil, пока синхронизация активна или остановлена вручную.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Synchronizer) Phase() Phase { return Phase(s.phase.Load()) }

// Writes — число успешных исходящих записей транспорта.
func (s *Synchronizer) Writes() int64 { return s.writes.Load() }

// Suppressed — число локальных изменений, отброшенных во время применения входящих.
func (s *Synchronizer) Suppressed() int64 { return s.suppressed.Load() }

func (s *Synchronizer) onLocalChange(c playback.Change) {
	if s.Phase() == PhaseApplyingRemote {
		s.suppressed.Add(1)
		return
	}
	if !c.Kind.Has(playback.Transport) {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) onRemote(snap store.Snapshot) {
	select {
	case s.inbound <- snap:
	case <-s.stop:
	}
}

func (s *Synchronizer) loop(ctx context.Context, cancelled <-chan struct{}) {
	var reason error
	defer func() { s.finish(reason) }()

	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-cancelled:
			return
		case <-s.stop:
			return
		case snap := <-s.inbound:
			if !s.applyRemote(ctx, snap) {
				reason = domain.ErrRoomClosed
				return
			}
		case <-s.dirty:
			if debounceC == nil {
				debounce = time.NewTimer(s.cfg.Debounce)
				debounceC = debounce.C
			}
		case <-debounceC:
			debounceC = nil
			s.publishLocal(ctx)
		case <-hb.C:
			s.touchPresence(ctx)
		}
	}
}

func (s *Synchronizer) finish(reason error) {
	s.mu.Lock()
	s.err = reason
	unsubRemote, unsubLocal := s.unsubRemote, s.unsubLocal
	s.unsubRemote, s.unsubLocal = nil, nil
	s.mu.Unlock()

	if unsubRemote != nil {
		unsubRemote()
	}
	if unsubLocal != nil {
		unsubLocal()
	}
	close(s.done)
	if reason != nil {
		s.log.Info("room sync terminated", slog.Any("reason", reason))
	}
	if s.onTerminated != nil {
		s.onTerminated(reason)
	}
}

// applyRemote применяет входящий снимок; false — комнаты больше нет.
// Локальное воспроизведение при этом не трогается.
func (s *Synchronizer) applyRemote(ctx context.Context, snap store.Snapshot) bool {
	if !snap.Exists() {
		return false
	}
	now := s.now()
	if s.cache.ok && now.Sub(s.cache.at) < s.cfg.RemoteCacheTTL && bytes.Equal(s.cache.raw, snap.Raw()) {
		return true
	}
	s.cache = remoteCache{raw: snap.Raw(), at: now, ok: true}

	var room domain.Room
	if err := snap.Decode(&room); err != nil {
		s.log.Warn("room sync: decode remote", slog.Any("err", err))
		return true
	}
	if room.LastUpdateTime < s.lastRemoteUpdate {
		s.log.Debug("room sync: stale update skipped",
			slog.Int64("remote", room.LastUpdateTime), slog.Int64("applied", s.lastRemoteUpdate))
		return true
	}
	s.lastRemoteUpdate = room.LastUpdateTime

	if !room.HasMember(s.userID) {
		s.reannounce(ctx, now)
	}

	tr := transportOf(&room)
	if s.hasApplied && tr == s.lastApplied {
		return true
	}
	s.lastApplied, s.hasApplied = tr, true
	s.reconcile(&room, now)
	return true
}

func (s *Synchronizer) reconcile(room *domain.Room, now time.Time) {
	s.phase.Store(uint32(PhaseApplyingRemote))
	defer s.phase.Store(uint32(PhaseIdle))

	local := s.pb.Snapshot()

	if room.CurrentSong == nil {
		if local.IsPlaying() && !room.IsPlaying {
			s.pb.Pause()
		}
		return
	}

	if local.SongID() != room.CurrentSong.ID {
		// seek только после загрузки: до неё движок позицию не примет
		s.pb.Load(*room.CurrentSong, room.IsPlaying)
		if room.CurrentTime > 0 {
			s.pb.Seek(room.CurrentTime)
		}
		s.lastCorrection = now
		return
	}

	if room.IsPlaying != local.IsPlaying() {
		if room.IsPlaying {
			s.pb.Resume()
		} else {
			s.pb.Pause()
		}
	}

	drift := math.Abs(room.CurrentTime - local.Position)
	if drift > s.cfg.DriftThreshold && now.Sub(s.lastCorrection) >= s.cfg.CorrectionInterval {
		s.log.Debug("room sync: drift correction",
			slog.Float64("drift", drift), slog.Float64("to", room.CurrentTime))
		s.pb.Seek(room.CurrentTime)
		s.lastCorrection = now
	}
}

// publishLocal перечитывает комнату и пишет транспорт частичным обновлением,
// только если трек или флаг изменились, либо позиция ушла дальше порога.
// Ошибки только логируются.
func (s *Synchronizer) publishLocal(ctx context.Context) {
	if s.Phase() == PhaseApplyingRemote {
		return
	}
	s.phase.Store(uint32(PhasePublishingLocal))
	defer s.phase.Store(uint32(PhaseIdle))

	local := s.pb.Snapshot()
	if local.Song == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	snap, err := s.st.Get(ctx, s.path())
	if err != nil {
		s.log.Warn("room sync: read before write", slog.Any("err", err))
		return
	}
	if !snap.Exists() {
		return
	}
	var remote domain.Room
	if err := snap.Decode(&remote); err != nil {
		s.log.Warn("room sync: decode before write", slog.Any("err", err))
		return
	}
	if !s.shouldPublish(local, &remote) {
		return
	}

	err = s.st.Update(ctx, s.path(), map[string]any{
		domain.FieldCurrentSong:    local.Song,
		domain.FieldIsPlaying:      local.IsPlaying(),
		domain.FieldCurrentTime:    local.Position,
		domain.FieldLastUpdateTime: store.ServerTimestamp(),
	})
	if err != nil {
		s.log.Warn("room sync: publish", slog.Any("err", err))
		return
	}
	s.lastOutboundSentAt = s.now()
	s.writes.Add(1)
}

func (s *Synchronizer) shouldPublish(local playback.Snapshot, remote *domain.Room) bool {
	if !domain.SameSong(local.Song, remote.CurrentSong) {
		return true
	}
	if local.IsPlaying() != remote.IsPlaying {
		return true
	}
	return math.Abs(local.Position-remote.CurrentTime) > s.cfg.DriftThreshold
}

func (s *Synchronizer) touchPresence(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	err := s.st.Update(ctx, s.path(), map[string]any{
		domain.FieldPresence + "/" + s.userID: store.ServerTimestamp(),
	})
	if err != nil {
		s.log.Warn("room sync: heartbeat", slog.Any("err", err))
	}
}

// reannounce возвращает участника в users, если запись пропала, пока сессия
// жива (например, после переподключения). Не чаще раза в Heartbeat.
func (s *Synchronizer) reannounce(ctx context.Context, now time.Time) {
	if !s.lastAnnounce.IsZero() && now.Sub(s.lastAnnounce) < s.cfg.Heartbeat {
		return
	}
	s.lastAnnounce = now
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	err := s.st.Update(ctx, s.path(), map[string]any{
		domain.FieldUsers + "/" + s.userID:    true,
		domain.FieldPresence + "/" + s.userID: store.ServerTimestamp(),
	})
	if err != nil {
		s.log.Warn("room sync: re-announce membership", slog.Any("err", err))
		return
	}
	// прежние хуки могли сработать вместе с разрывом, регистрируем заново
	var hooks []func()
	for _, p := range []string{domain.UserPath(s.roomID, s.userID), domain.PresencePath(s.roomID, s.userID)} {
		undo, err := s.st.OnDisconnect(ctx, store.RemoveOnDisconnect(p))
		if err != nil {
			s.log.Warn("room sync: on disconnect", slog.String("path", p), slog.Any("err", err))
			continue
		}
		hooks = append(hooks, undo)
	}
	for _, c := range s.announceHooks {
		c()
	}
	s.announceHooks = hooks
}

func transportOf(r *domain.Room) transport {
	t := transport{isPlaying: r.IsPlaying, currentTime: r.CurrentTime, lastUpdateTime: r.LastUpdateTime}
	if r.CurrentSong != nil {
		t.songID = r.CurrentSong.ID
	}
	return t
}
