package directory_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/memory"
)

var (
	alice = domain.Member{ID: "alice", Name: "Alice"}
	bob   = domain.Member{ID: "bob"}
	carol = domain.Member{ID: "carol"}
)

func newEngine(t *testing.T) *docstore.Engine {
	t.Helper()
	e, err := memory.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func profiles() profile.Lookup {
	return profile.NewStatic(
		profile.Profile{UserID: "bob", DisplayName: "Bob"},
		profile.Profile{UserID: "carol", DisplayName: "Carol"},
	)
}

// writeCounter считает записи; Transactor намеренно не пробрасывается.
type writeCounter struct {
	store.Store
	writes atomic.Int64
}

func (w *writeCounter) Set(ctx context.Context, p string, v any) error {
	w.writes.Add(1)
	return w.Store.Set(ctx, p, v)
}

func (w *writeCounter) Update(ctx context.Context, p string, f map[string]any) error {
	w.writes.Add(1)
	return w.Store.Update(ctx, p, f)
}

func (w *writeCounter) Remove(ctx context.Context, p string) error {
	w.writes.Add(1)
	return w.Store.Remove(ctx, p)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), profiles())

	room, err := d.Create(ctx, "  Friday  ", alice)
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, "Friday", room.Name)
	assert.Equal(t, "alice", room.HostID)
	assert.Equal(t, "Alice", room.HostName)
	assert.Equal(t, []string{"alice"}, room.Members())
	assert.Positive(t, room.CreatedAt)
	assert.Positive(t, room.Presence["alice"])
	assert.False(t, room.IsPlaying)
	assert.Nil(t, room.CurrentSong)

	_, err = directory.NormalizeCode(room.Code)
	assert.NoError(t, err)

	_, err = d.Create(ctx, "   ", alice)
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = d.Create(ctx, "x", domain.Member{})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestCreate_HostNameFromProfile(t *testing.T) {
	d := directory.New(newEngine(t).Session(), profiles())
	room, err := d.Create(context.Background(), "r", bob)
	require.NoError(t, err)
	assert.Equal(t, "Bob", room.HostName)
}

func TestCreate_CodeCollision(t *testing.T) {
	ctx := context.Background()
	calls := 0
	d := directory.New(newEngine(t).Session(), nil, directory.WithCodeGenerator(func() (string, error) {
		calls++
		return "SAME01", nil
	}))

	_, err := d.Create(ctx, "first", alice)
	require.NoError(t, err)

	calls = 0
	_, err = d.Create(ctx, "second", bob)
	assert.ErrorIs(t, err, domain.ErrCodeExhausted)
	assert.Equal(t, 5, calls)
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), profiles())
	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)

	joined, err := d.Join(ctx, " "+strings.ToLower(room.Code)+" ", bob)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)
	assert.Equal(t, []string{"alice", "bob"}, joined.Members())
	assert.Equal(t, "alice", joined.HostID)

	again, err := d.Join(ctx, room.Code, bob)
	require.NoError(t, err)
	assert.Len(t, again.Members(), 2, "joining twice is idempotent")
}

func TestJoin_NotFoundWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seed := directory.New(e.Session(), nil)
	_, err := seed.Create(ctx, "r", alice)
	require.NoError(t, err)

	wc := &writeCounter{Store: e.Session()}
	d := directory.New(wc, nil)

	_, err = d.Join(ctx, "ZZZZZZ", bob)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = d.Join(ctx, "bad", bob)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	_, err = d.JoinByLink(ctx, "https://soulsync.app/join", bob)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	assert.Zero(t, wc.writes.Load())
}

func TestJoinByLink(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), nil)
	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)

	link, err := directory.JoinLink("https://soulsync.app/join?ref=share", room.Code)
	require.NoError(t, err)
	assert.Contains(t, link, "room="+room.Code)
	assert.Contains(t, link, "ref=share")

	joined, err := d.JoinByLink(ctx, link, bob)
	require.NoError(t, err)
	assert.True(t, joined.HasMember("bob"))
}

func TestCodeFromLink(t *testing.T) {
	code, err := directory.CodeFromLink("https://x.io/?code=ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", code)

	_, err = directory.CodeFromLink("://broken")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	_, err = directory.NormalizeCode("AB-12C")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), profiles())

	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)
	_, err = d.JoinByID(ctx, room.ID, carol)
	require.NoError(t, err)
	_, err = d.JoinByID(ctx, room.ID, bob)
	require.NoError(t, err)

	res, err := d.Leave(ctx, room.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, directory.OutcomeLeft, res.Outcome)

	_, err = d.Leave(ctx, room.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	res, err = d.Leave(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, directory.OutcomeHostTransferred, res.Outcome)
	assert.Equal(t, "bob", res.NewHostID)

	got, err := d.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.HostID)
	assert.Equal(t, "Bob", got.HostName)
	assert.Equal(t, []string{"bob"}, got.Members())
	assert.NotContains(t, got.Presence, "alice")

	res, err = d.Leave(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, directory.OutcomeDeleted, res.Outcome)

	_, err = d.Get(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = d.Leave(ctx, room.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeave_WithoutTransactions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	d := directory.New(&writeCounter{Store: e.Session()}, profiles())

	room, err := d.Create(ctx, "r", carol)
	require.NoError(t, err)
	_, err = d.JoinByID(ctx, room.ID, bob)
	require.NoError(t, err)

	res, err := d.Leave(ctx, room.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, directory.OutcomeHostTransferred, res.Outcome)
	assert.Equal(t, "bob", res.NewHostID)

	res, err = d.Leave(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, directory.OutcomeDeleted, res.Outcome)
	rooms, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestDisconnectCleanup(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	admin := directory.New(e.Session(), nil)

	hostSess := e.Session()
	host := directory.New(hostSess, nil)
	room, err := host.Create(ctx, "r", alice)
	require.NoError(t, err)

	guestSess := e.Session()
	guest := directory.New(guestSess, nil)
	_, err = guest.Join(ctx, room.Code, bob)
	require.NoError(t, err)

	// обрыв соединения гостя убирает только его
	require.NoError(t, guestSess.Close())
	got, err := admin.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Members())

	// после явного выхода операции отключения уже отменены
	_, err = host.JoinByID(ctx, room.ID, carol)
	require.NoError(t, err)
	_, err = host.Leave(ctx, room.ID, "carol")
	require.NoError(t, err)
	_, err = admin.JoinByID(ctx, room.ID, carol)
	require.NoError(t, err)
	require.NoError(t, hostSess.Close())

	got, err = admin.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, got.Members())
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()
	s := newEngine(t).Session()
	d := directory.New(s, nil)

	live, err := d.Create(ctx, "live", alice)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, domain.RoomPath("ghost"), map[string]any{
		"name": "ghost", "code": "GHOST1", "hostId": "zed",
	}))

	n, err := d.GarbageCollect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, live.ID, rooms[0].ID)
}

func TestWatch_CollectsEmptyRooms(t *testing.T) {
	ctx := context.Background()
	s := newEngine(t).Session()
	d := directory.New(s, nil)

	seen := make(chan []domain.Room, 16)
	unwatch, err := d.Watch(ctx, func(rooms []domain.Room) { seen <- rooms })
	require.NoError(t, err)
	defer unwatch()

	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)
	// участник пропал без Leave: запись комнаты осталась пустой
	require.NoError(t, s.Remove(ctx, domain.UserPath(room.ID, "alice")))

	require.Eventually(t, func() bool {
		_, err := d.Get(ctx, room.ID)
		return errors.Is(err, domain.ErrRoomNotFound)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRepairHost(t *testing.T) {
	ctx := context.Background()
	s := newEngine(t).Session()
	d := directory.New(s, profiles())

	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)
	_, err = d.JoinByID(ctx, room.ID, carol)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, domain.UserPath(room.ID, "alice")))

	room, err = d.Get(ctx, room.ID)
	require.NoError(t, err)
	newHost, err := d.RepairHost(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, "carol", newHost)

	room, err = d.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", room.HostName)

	newHost, err = d.RepairHost(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, newHost)
}

func TestPlaylist(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), nil)
	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)

	k1, err := d.AddToPlaylist(ctx, room.ID, domain.Song{ID: "s1", Title: "One"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	k2, err := d.AddToPlaylist(ctx, room.ID, domain.Song{ID: "s2", Title: "Two"})
	require.NoError(t, err)

	_, err = d.AddToPlaylist(ctx, room.ID, domain.Song{})
	assert.ErrorIs(t, err, domain.ErrInvalidSong)
	_, err = d.AddToPlaylist(ctx, "missing", domain.Song{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, err = d.Get(ctx, room.ID)
	require.NoError(t, err)
	entries := room.PlaylistEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, k1, entries[0].Key)
	assert.Equal(t, "s2", entries[1].Song.ID)

	require.NoError(t, d.RemoveFromPlaylist(ctx, room.ID, k2))
	assert.ErrorIs(t, d.RemoveFromPlaylist(ctx, room.ID, ""), domain.ErrInvalidSong)
	room, err = d.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, room.Playlist, 1)
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	d := directory.New(newEngine(t).Session(), nil)
	room, err := d.Create(ctx, "r", alice)
	require.NoError(t, err)

	require.NoError(t, d.Touch(ctx, room.ID, "alice"))
	assert.ErrorIs(t, d.Touch(ctx, room.ID, "bob"), domain.ErrNotInRoom)
	assert.ErrorIs(t, d.Touch(ctx, "nope", "alice"), domain.ErrRoomNotFound)
}
