package player_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/player"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSim_PlayPauseSeek(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := player.NewSim(player.WithClock(clk.Now), player.WithTrack("abc", 200))

	assert.ErrorIs(t, s.Play(), player.ErrNoTrack)

	require.NoError(t, s.Load("abc"))
	assert.Equal(t, 200.0, s.Duration())
	require.NoError(t, s.Play())
	clk.Advance(10 * time.Second)
	assert.InDelta(t, 10.0, s.CurrentTime(), 1e-9)

	require.NoError(t, s.Pause())
	clk.Advance(5 * time.Second)
	assert.InDelta(t, 10.0, s.CurrentTime(), 1e-9)

	require.NoError(t, s.SeekTo(500))
	assert.Equal(t, 200.0, s.CurrentTime(), "seek clamps to duration")
	require.NoError(t, s.SeekTo(-3))
	assert.Equal(t, 0.0, s.CurrentTime())

	assert.Equal(t, []string{"play", "load:abc", "play", "pause", "seek:500.0", "seek:-3.0"}, s.Ops())
}

func TestSim_EndedFires(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := player.NewSim(player.WithClock(clk.Now), player.WithDefaultLength(30))

	ended := make(chan struct{}, 1)
	s.OnEnded(func() { ended <- struct{}{} })

	require.NoError(t, s.Load("x"))
	require.NoError(t, s.Play())
	clk.Advance(31 * time.Second)
	assert.Equal(t, 30.0, s.CurrentTime())

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnEnded not called")
	}
	assert.False(t, s.Playing())
}

func TestSim_Failures(t *testing.T) {
	s := player.NewSim()
	assert.ErrorIs(t, s.Load(""), player.ErrTrackMissing)

	boom := errors.New("decoder crashed")
	s.FailOn("load", boom)
	assert.ErrorIs(t, s.Load("a"), boom)
	s.FailOn("load", nil)
	require.NoError(t, s.Load("a"))
	assert.Equal(t, "a", s.TrackID())
}

func TestSim_Volume(t *testing.T) {
	s := player.NewSim()
	assert.Equal(t, 100, s.Volume())
	require.NoError(t, s.SetVolume(150))
	assert.Equal(t, 100, s.Volume())
	require.NoError(t, s.SetVolume(-1))
	assert.Equal(t, 0, s.Volume())
}
