// Package playback — локальная машина состояний воспроизведения,
// не зависящая от комнаты.
package playback

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/player"
)

const (
	DefaultVolume = 80
	// позиция считается изменившейся, если сдвинулась больше чем на epsilon
	positionEpsilon = 0.05
)

// Machine владеет локальным транспортом: трек, флаг воспроизведения, позиция.
// Вызовы движка выполняются под блокировкой, слушатели — после неё.
type Machine struct {
	engine player.Engine
	log    *slog.Logger
	intn   func(n int) int

	mu       sync.Mutex
	state    State
	song     *domain.Song
	position float64
	duration float64
	volume   int
	shuffle  bool
	repeat   RepeatMode
	queue    []domain.Song
	index    int

	lmu       sync.Mutex
	listeners map[int]func(Change)
	nextLID   int
}

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithRandom подменяет источник случайного индекса для shuffle.
func WithRandom(intn func(n int) int) Option {
	return func(m *Machine) { m.intn = intn }
}

func New(engine player.Engine, opts ...Option) *Machine {
	m := &Machine{
		engine:    engine,
		log:       slog.Default(),
		intn:      rand.IntN,
		volume:    DefaultVolume,
		repeat:    RepeatOff,
		index:     -1,
		listeners: map[int]func(Change){},
	}
	for _, o := range opts {
		o(m)
	}
	engine.OnEnded(m.handleEnded)
	if err := engine.SetVolume(m.volume); err != nil {
		m.log.Warn("player.SetVolume:", slog.Any("err", err))
	}
	return m
}

// OnChange регистрирует слушателя; возвращает функцию отписки.
func (m *Machine) OnChange(fn func(Change)) func() {
	m.lmu.Lock()
	id := m.nextLID
	m.nextLID++
	m.listeners[id] = fn
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Play ставит трек с нулевой позиции и запускает воспроизведение.
func (m *Machine) Play(song domain.Song) {
	m.Load(song, true)
}

// Load загружает трек; autoplay определяет, останется ли он на паузе.
func (m *Machine) Load(song domain.Song, autoplay bool) {
	m.mu.Lock()
	kind := m.loadLocked(song, autoplay)
	m.index = m.indexOfLocked(song.ID)
	m.commit(kind)
}

func (m *Machine) Pause() {
	m.mu.Lock()
	if m.state != Playing {
		m.mu.Unlock()
		return
	}
	m.engineCall("pause", m.engine.Pause)
	m.position = m.engine.CurrentTime()
	m.state = Paused
	m.commit(ChangedPlaying)
}

// Resume — no-op без загруженного трека.
func (m *Machine) Resume() {
	m.mu.Lock()
	if m.state != Paused {
		m.mu.Unlock()
		return
	}
	m.engineCall("play", m.engine.Play)
	m.state = Playing
	m.commit(ChangedPlaying)
}

// Seek ограничивает позицию отрезком [0, duration]; без трека — no-op.
func (m *Machine) Seek(pos float64) {
	m.mu.Lock()
	if m.song == nil {
		m.mu.Unlock()
		return
	}
	pos = m.clampLocked(pos)
	m.engineCall("seek", func() error { return m.engine.SeekTo(pos) })
	m.position = pos
	m.commit(ChangedPosition)
}

// Advance переключает трек в очереди: при shuffle — случайный индекс,
// иначе по кругу в обе стороны. Пустая очередь — no-op.
func (m *Machine) Advance(dir Direction) {
	m.mu.Lock()
	n := len(m.queue)
	if n == 0 {
		m.mu.Unlock()
		return
	}
	var idx int
	switch {
	case m.shuffle && dir == Next:
		idx = m.intn(n)
	case m.index < 0 && dir == Next:
		idx = 0
	case m.index < 0:
		idx = n - 1
	default:
		idx = ((m.index+int(dir))%n + n) % n
	}
	kind := m.loadLocked(m.queue[idx], true)
	m.index = idx
	m.commit(kind)
}

func (m *Machine) AddToQueue(songs ...domain.Song) {
	m.mu.Lock()
	m.queue = append(m.queue, songs...)
	if m.song != nil && m.index < 0 {
		m.index = m.indexOfLocked(m.song.ID)
	}
	m.commit(ChangedQueue)
}

func (m *Machine) SetQueue(songs []domain.Song) {
	m.mu.Lock()
	m.queue = slices.Clone(songs)
	m.index = -1
	if m.song != nil {
		m.index = m.indexOfLocked(m.song.ID)
	}
	m.commit(ChangedQueue)
}

func (m *Machine) ClearQueue() {
	m.mu.Lock()
	m.queue = nil
	m.index = -1
	m.commit(ChangedQueue)
}

// SetVolume ограничивает громкость диапазоном 0..100.
func (m *Machine) SetVolume(v int) {
	m.mu.Lock()
	m.volume = min(max(v, 0), 100)
	vol := m.volume
	m.engineCall("volume", func() error { return m.engine.SetVolume(vol) })
	m.commit(ChangedSettings)
}

func (m *Machine) ToggleShuffle() {
	m.mu.Lock()
	m.shuffle = !m.shuffle
	m.commit(ChangedSettings)
}

func (m *Machine) CycleRepeat() RepeatMode {
	m.mu.Lock()
	m.repeat = m.repeat.Next()
	r := m.repeat
	m.commit(ChangedSettings)
	return r
}

// Tick опрашивает позицию движка. Изменение больше epsilon сообщается слушателям.
func (m *Machine) Tick() {
	m.mu.Lock()
	if m.song == nil {
		m.mu.Unlock()
		return
	}
	pos := m.engine.CurrentTime()
	if d := m.engine.Duration(); d > 0 {
		m.duration = d
	}
	if math.Abs(pos-m.position) < positionEpsilon {
		m.mu.Unlock()
		return
	}
	m.position = pos
	m.commit(ChangedPosition)
}

// Run опрашивает движок с интервалом до отмены ctx.
func (m *Machine) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick()
		}
	}
}

// handleEnded: repeat one — заново; shuffle — случайный трек; далее
// следующий в очереди, в конце очереди repeat all — по кругу, иначе пауза.
// Без очереди машина возвращается в Idle.
func (m *Machine) handleEnded() {
	m.mu.Lock()
	if m.song == nil {
		m.mu.Unlock()
		return
	}
	n := len(m.queue)
	switch {
	case m.repeat == RepeatOne:
		m.engineCall("seek", func() error { return m.engine.SeekTo(0) })
		m.engineCall("play", m.engine.Play)
		m.position, m.state = 0, Playing
		m.commit(ChangedPosition | ChangedPlaying)
	case n == 0:
		m.song, m.state, m.position, m.duration, m.index = nil, Idle, 0, 0, -1
		m.commit(ChangedSong | ChangedPlaying | ChangedPosition)
	case m.shuffle:
		idx := m.intn(n)
		kind := m.loadLocked(m.queue[idx], true)
		m.index = idx
		m.commit(kind)
	case m.index+1 < n:
		idx := m.index + 1
		kind := m.loadLocked(m.queue[idx], true)
		m.index = idx
		m.commit(kind)
	case m.repeat == RepeatAll:
		kind := m.loadLocked(m.queue[0], true)
		m.index = 0
		m.commit(kind)
	default:
		m.state, m.position = Paused, m.duration
		m.commit(ChangedPlaying | ChangedPosition)
	}
}

func (m *Machine) loadLocked(song domain.Song, autoplay bool) ChangeKind {
	prevSong, prevState := m.song, m.state
	s := song
	m.song = &s
	m.position = 0
	m.engineCall("load", func() error { return m.engine.Load(song.ID) })
	m.duration = m.engine.Duration()
	if m.duration <= 0 {
		m.duration = song.Duration
	}
	m.state = Paused
	if autoplay {
		// сбой движка не откатывает состояние: локальный плеер просто молчит
		m.engineCall("play", m.engine.Play)
		m.state = Playing
	}
	kind := ChangedPosition
	if !domain.SameSong(prevSong, m.song) {
		kind |= ChangedSong
	}
	if prevState != m.state {
		kind |= ChangedPlaying
	}
	return kind
}

func (m *Machine) indexOfLocked(id string) int {
	return slices.IndexFunc(m.queue, func(s domain.Song) bool { return s.ID == id })
}

func (m *Machine) clampLocked(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if m.duration > 0 && pos > m.duration {
		return m.duration
	}
	return pos
}

func (m *Machine) engineCall(op string, fn func() error) {
	if err := fn(); err != nil {
		m.log.Warn("player engine call failed", slog.String("op", op), slog.Any("err", err))
	}
}

// commit снимает блокировку и уведомляет слушателей.
func (m *Machine) commit(kind ChangeKind) {
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.lmu.Lock()
	fns := make([]func(Change), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()
	for _, fn := range fns {
		fn(Change{Kind: kind, Snapshot: snap})
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	var song *domain.Song
	if m.song != nil {
		s := *m.song
		song = &s
	}
	return Snapshot{
		State:    m.state,
		Song:     song,
		Position: m.position,
		Duration: m.duration,
		Volume:   m.volume,
		Shuffle:  m.shuffle,
		Repeat:   m.repeat,
		Queue:    slices.Clone(m.queue),
		Index:    m.index,
	}
}
