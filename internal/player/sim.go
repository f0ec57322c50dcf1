package player

import (
	"fmt"
	"sync"
	"time"
)

const DefaultTrackLength = 180.0

// Sim — движок на часах: позиция считается от момента последнего Play.
// Окончание трека обнаруживается при чтении CurrentTime.
type Sim struct {
	mu sync.Mutex

	now       func() time.Time
	durations map[string]float64
	fallback  float64
	failures  map[string]error

	trackID  string
	duration float64
	playing  bool
	pos      float64
	anchor   time.Time
	volume   int
	ended    func()
	ops      []string
}

var _ Engine = (*Sim)(nil)

type SimOption func(*Sim)

func WithClock(now func() time.Time) SimOption {
	return func(s *Sim) { s.now = now }
}

// WithTrack задаёт длительность конкретного трека.
func WithTrack(id string, seconds float64) SimOption {
	return func(s *Sim) { s.durations[id] = seconds }
}

func WithDefaultLength(seconds float64) SimOption {
	return func(s *Sim) { s.fallback = seconds }
}

func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		now:       time.Now,
		durations: map[string]float64{},
		fallback:  DefaultTrackLength,
		failures:  map[string]error{},
		volume:    100,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailOn заставляет операцию op ("load", "play", "pause", "seek") возвращать err.
func (s *Sim) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Sim) Load(trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "load:"+trackID)
	if err := s.failures["load"]; err != nil {
		return err
	}
	if trackID == "" {
		return ErrTrackMissing
	}
	d, ok := s.durations[trackID]
	if !ok {
		d = s.fallback
	}
	s.trackID, s.duration = trackID, d
	s.playing, s.pos = false, 0
	return nil
}

func (s *Sim) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "play")
	if err := s.failures["play"]; err != nil {
		return err
	}
	if s.trackID == "" {
		return ErrNoTrack
	}
	if !s.playing {
		s.playing, s.anchor = true, s.now()
	}
	return nil
}

func (s *Sim) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "pause")
	if err := s.failures["pause"]; err != nil {
		return err
	}
	if s.playing {
		s.pos = s.positionLocked()
		s.playing = false
	}
	return nil
}

func (s *Sim) SeekTo(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, fmt.Sprintf("seek:%.1f", seconds))
	if err := s.failures["seek"]; err != nil {
		return err
	}
	if s.trackID == "" {
		return ErrNoTrack
	}
	s.pos = min(max(seconds, 0), s.duration)
	s.anchor = s.now()
	return nil
}

func (s *Sim) CurrentTime() float64 {
	s.mu.Lock()
	pos := s.positionLocked()
	var fire func()
	if s.playing && pos >= s.duration {
		s.playing, s.pos = false, s.duration
		fire = s.ended
	}
	s.mu.Unlock()
	if fire != nil {
		go fire()
	}
	return pos
}

func (s *Sim) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Sim) SetVolume(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = min(max(v, 0), 100)
	return nil
}

func (s *Sim) OnEnded(fn func()) {
	s.mu.Lock()
	s.ended = fn
	s.mu.Unlock()
}

// Volume, TrackID, Playing и Ops — для проверок в тестах и диагностики.
func (s *Sim) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Sim) TrackID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackID
}

func (s *Sim) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *Sim) positionLocked() float64 {
	if !s.playing {
		return s.pos
	}
	p := s.pos + s.now().Sub(s.anchor).Seconds()
	return min(p, s.duration)
}
