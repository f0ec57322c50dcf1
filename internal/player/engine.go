// Package player описывает локальный движок воспроизведения.
package player

import "errors"

var (
	ErrNoTrack      = errors.New("no track loaded")
	ErrTrackMissing = errors.New("track cannot be loaded")
)

// Engine — локальный плеер. Load возвращается, когда трек подготовлен и
// его можно проигрывать. OnEnded вызывается асинхронно.
type Engine interface {
	Load(trackID string) error
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	CurrentTime() float64
	Duration() float64
	SetVolume(v int) error
	OnEnded(fn func())
}
