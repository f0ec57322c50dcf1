package playback_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/playback"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/player"
)

var (
	songA = domain.Song{ID: "a", Title: "A", Artist: "x", Duration: 100}
	songB = domain.Song{ID: "b", Title: "B", Artist: "y", Duration: 120}
	songC = domain.Song{ID: "c", Title: "C", Artist: "z", Duration: 90}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type changes struct {
	mu  sync.Mutex
	all []playback.Change
}

func (c *changes) add(ch playback.Change) {
	c.mu.Lock()
	c.all = append(c.all, ch)
	c.mu.Unlock()
}

func (c *changes) lastKind() playback.ChangeKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.all) == 0 {
		return 0
	}
	return c.all[len(c.all)-1].Kind
}

func newMachine(t *testing.T, opts ...playback.Option) (*playback.Machine, *player.Sim, *clock, *changes) {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	sim := player.NewSim(player.WithClock(clk.Now),
		player.WithTrack("a", 100), player.WithTrack("b", 120), player.WithTrack("c", 90))
	m := playback.New(sim, opts...)
	rec := &changes{}
	m.OnChange(rec.add)
	return m, sim, clk, rec
}

func TestMachine_PlayPauseResume(t *testing.T) {
	m, sim, clk, rec := newMachine(t)

	assert.Equal(t, playback.Idle, m.Snapshot().State)
	assert.Equal(t, playback.DefaultVolume, sim.Volume())

	m.Play(songA)
	snap := m.Snapshot()
	assert.Equal(t, playback.Playing, snap.State)
	assert.Equal(t, "a", snap.SongID())
	assert.Equal(t, 100.0, snap.Duration)
	assert.True(t, rec.lastKind().Has(playback.ChangedSong))
	assert.True(t, rec.lastKind().Has(playback.ChangedPlaying))

	clk.Advance(7 * time.Second)
	m.Pause()
	snap = m.Snapshot()
	assert.Equal(t, playback.Paused, snap.State)
	assert.InDelta(t, 7.0, snap.Position, 1e-9)

	m.Pause() // повторная пауза ничего не меняет
	m.Resume()
	assert.True(t, m.Snapshot().IsPlaying())
	assert.True(t, sim.Playing())
}

func TestMachine_ResumeWithoutTrack(t *testing.T) {
	m, sim, _, rec := newMachine(t)
	m.Resume()
	m.Seek(10)
	assert.Equal(t, playback.Idle, m.Snapshot().State)
	assert.Empty(t, sim.Ops())
	assert.Equal(t, playback.ChangeKind(0), rec.lastKind())
}

func TestMachine_SeekClamps(t *testing.T) {
	m, _, _, _ := newMachine(t)
	m.Load(songB, false)

	m.Seek(500)
	assert.Equal(t, 120.0, m.Snapshot().Position)
	m.Seek(-10)
	assert.Equal(t, 0.0, m.Snapshot().Position)
	assert.Equal(t, playback.Paused, m.Snapshot().State)
}

func TestMachine_AdvanceWraps(t *testing.T) {
	m, _, _, _ := newMachine(t)
	m.SetQueue([]domain.Song{songA, songB, songC})

	m.Advance(playback.Next)
	assert.Equal(t, "a", m.Snapshot().SongID(), "no current index starts from the head")
	m.Advance(playback.Previous)
	assert.Equal(t, "c", m.Snapshot().SongID())
	m.Advance(playback.Next)
	assert.Equal(t, "a", m.Snapshot().SongID())
	m.Advance(playback.Next)
	assert.Equal(t, 1, m.Snapshot().Index)
}

func TestMachine_AdvanceEmptyQueue(t *testing.T) {
	m, _, _, _ := newMachine(t)
	m.Play(songA)
	m.Advance(playback.Next)
	assert.Equal(t, "a", m.Snapshot().SongID())
}

func TestMachine_ShuffleUsesRandom(t *testing.T) {
	m, _, _, _ := newMachine(t, playback.WithRandom(func(n int) int { return n - 1 }))
	m.SetQueue([]domain.Song{songA, songB, songC})
	m.ToggleShuffle()

	m.Advance(playback.Next)
	assert.Equal(t, "c", m.Snapshot().SongID())
	assert.True(t, m.Snapshot().Shuffle)
}

func TestMachine_RepeatCycle(t *testing.T) {
	m, _, _, _ := newMachine(t)
	assert.Equal(t, playback.RepeatAll, m.CycleRepeat())
	assert.Equal(t, playback.RepeatOne, m.CycleRepeat())
	assert.Equal(t, playback.RepeatOff, m.CycleRepeat())
}

func TestMachine_QueueEditing(t *testing.T) {
	m, _, _, rec := newMachine(t)
	m.Play(songB)
	assert.Equal(t, -1, m.Snapshot().Index)

	m.AddToQueue(songA, songB)
	assert.Equal(t, 1, m.Snapshot().Index)
	assert.Equal(t, playback.ChangedQueue, rec.lastKind())
	assert.False(t, rec.lastKind().Has(playback.Transport))

	m.ClearQueue()
	assert.Empty(t, m.Snapshot().Queue)
	assert.Equal(t, -1, m.Snapshot().Index)
}

func TestMachine_Volume(t *testing.T) {
	m, sim, _, rec := newMachine(t)
	m.SetVolume(130)
	assert.Equal(t, 100, m.Snapshot().Volume)
	assert.Equal(t, 100, sim.Volume())
	assert.Equal(t, playback.ChangedSettings, rec.lastKind())
}

func TestMachine_TickReportsMovement(t *testing.T) {
	m, _, clk, rec := newMachine(t)
	m.Play(songA)

	clk.Advance(10 * time.Millisecond)
	before := rec.lastKind()
	m.Tick()
	assert.Equal(t, before, rec.lastKind(), "below epsilon is not reported")

	clk.Advance(time.Second)
	m.Tick()
	assert.Equal(t, playback.ChangedPosition, rec.lastKind())
	assert.InDelta(t, 1.01, m.Snapshot().Position, 1e-9)
}

// endTrack доводит трек до конца и ждёт реакции машины.
func endTrack(t *testing.T, m *playback.Machine, clk *clock, wantSong string, wantState playback.State) {
	t.Helper()
	clk.Advance(10 * time.Minute)
	m.Tick()
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.SongID() == wantSong && s.State == wantState
	}, time.Second, 5*time.Millisecond)
}

func TestMachine_EndedAdvancesQueue(t *testing.T) {
	m, _, clk, _ := newMachine(t)
	m.SetQueue([]domain.Song{songA, songB})
	m.Advance(playback.Next)

	endTrack(t, m, clk, "b", playback.Playing)
	endTrack(t, m, clk, "b", playback.Paused)
	assert.Equal(t, 120.0, m.Snapshot().Position)
}

func TestMachine_EndedRepeatAll(t *testing.T) {
	m, _, clk, _ := newMachine(t)
	m.SetQueue([]domain.Song{songA, songB})
	m.CycleRepeat()
	m.Advance(playback.Previous)
	require.Equal(t, "b", m.Snapshot().SongID())

	endTrack(t, m, clk, "a", playback.Playing)
}

func TestMachine_EndedRepeatOne(t *testing.T) {
	m, _, clk, _ := newMachine(t)
	m.SetQueue([]domain.Song{songA, songB})
	m.CycleRepeat()
	m.CycleRepeat()
	m.Advance(playback.Next)

	clk.Advance(10 * time.Minute)
	m.Tick()
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.SongID() == "a" && s.IsPlaying() && s.Position == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMachine_EndedWithoutQueueGoesIdle(t *testing.T) {
	m, _, clk, _ := newMachine(t)
	m.Play(songC)

	clk.Advance(10 * time.Minute)
	m.Tick()
	require.Eventually(t, func() bool {
		return m.Snapshot().State == playback.Idle
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, m.Snapshot().Song)
}

func TestMachine_LoadFailureKeepsState(t *testing.T) {
	m, sim, _, _ := newMachine(t)
	sim.FailOn("load", player.ErrTrackMissing)
	m.Play(songA)

	s := m.Snapshot()
	assert.Equal(t, "a", s.SongID())
	assert.Equal(t, playback.Playing, s.State)
	assert.Equal(t, 100.0, s.Duration, "duration falls back to song metadata")
}
