// Package directory — жизненный цикл комнат поверх общего хранилища:
// создание, вход по коду, выход с передачей хоста, сборка пустых комнат.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/security"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
)

const defaultCodeAttempts = 5

type Directory struct {
	st       store.Store
	profiles profile.Lookup
	newCode  func() (string, error)
	attempts int
	cleanup  bool
	log      *slog.Logger

	mu    sync.Mutex
	hooks map[string][]func()
}

type Option func(*Directory)

func WithCodeGenerator(fn func() (string, error)) Option {
	return func(d *Directory) { d.newCode = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.log = l }
}

// WithoutDisconnectCleanup отключает регистрацию операций отключения.
// Нужно серверу: его сессия живёт дольше соединений клиентов, а
// уход участников отслеживается по heartbeat.
func WithoutDisconnectCleanup() Option {
	return func(d *Directory) { d.cleanup = false }
}

func New(st store.Store, profiles profile.Lookup, opts ...Option) *Directory {
	d := &Directory{
		st:       st,
		profiles: profiles,
		newCode:  security.RoomCode,
		attempts: defaultCodeAttempts,
		cleanup:  true,
		log:      slog.Default(),
		hooks:    map[string][]func(){},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Create создаёт комнату; создатель становится хостом и единственным участником.
func (d *Directory) Create(ctx context.Context, name string, host domain.Member) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if host.ID == "" {
		return nil, domain.ErrInvalidUser
	}

	code, err := d.allocateCode(ctx)
	if err != nil {
		return nil, err
	}
	path, err := d.st.Push(ctx, domain.RoomsCollection)
	if err != nil {
		return nil, fmt.Errorf("store.Push: %w", err)
	}
	id := store.Key(path)

	hostName := host.Name
	if hostName == "" {
		hostName = profile.DisplayName(ctx, d.profiles, host.ID)
	}
	rec := map[string]any{
		"id":                       id,
		"name":                     name,
		"code":                     code,
		domain.FieldHostID:         host.ID,
		domain.FieldHostName:       hostName,
		domain.FieldIsPlaying:      false,
		domain.FieldCurrentTime:    0,
		domain.FieldUsers:          map[string]any{host.ID: true},
		domain.FieldPresence:       map[string]any{host.ID: store.ServerTimestamp()},
		domain.FieldLastUpdateTime: store.ServerTimestamp(),
		"createdAt":                store.ServerTimestamp(),
	}
	if err := d.st.Set(ctx, path, rec); err != nil {
		return nil, fmt.Errorf("store.Set: %w", err)
	}
	d.registerDisconnect(ctx, id, host.ID)
	d.log.Info("room created", slog.String("room_id", id), slog.String("code", code), slog.String("host_id", host.ID))
	return d.Get(ctx, id)
}

// allocateCode — проверка уникальности по живым комнатам с повтором.
// Гонка двух одновременных созданий остаётся возможной.
func (d *Directory) allocateCode(ctx context.Context) (string, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return "", err
	}
	used := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		used[r.Code] = struct{}{}
	}
	for i := 0; i < d.attempts; i++ {
		code, err := d.newCode()
		if err != nil {
			return "", fmt.Errorf("room code: %w", err)
		}
		if _, taken := used[code]; !taken {
			return code, nil
		}
	}
	return "", domain.ErrCodeExhausted
}

// Join ищет комнату по коду линейным проходом и добавляет участника.
// Без совпадения возвращает ErrRoomNotFound и ничего не пишет.
func (d *Directory) Join(ctx context.Context, code string, user domain.Member) (*domain.Room, error) {
	if user.ID == "" {
		return nil, domain.ErrInvalidUser
	}
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	room, err := d.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return d.JoinByID(ctx, room.ID, user)
}

func (d *Directory) JoinByLink(ctx context.Context, link string, user domain.Member) (*domain.Room, error) {
	code, err := CodeFromLink(link)
	if err != nil {
		return nil, err
	}
	return d.Join(ctx, code, user)
}

// JoinByID добавляет участника в известную комнату; повторный вход идемпотентен.
func (d *Directory) JoinByID(ctx context.Context, roomID string, user domain.Member) (*domain.Room, error) {
	if _, err := d.Get(ctx, roomID); err != nil {
		return nil, err
	}
	err := d.st.Update(ctx, domain.RoomPath(roomID), map[string]any{
		domain.FieldUsers + "/" + user.ID:    true,
		domain.FieldPresence + "/" + user.ID: store.ServerTimestamp(),
	})
	if err != nil {
		return nil, fmt.Errorf("store.Update: %w", err)
	}
	d.registerDisconnect(ctx, roomID, user.ID)
	d.log.Info("room joined", slog.String("room_id", roomID), slog.String("user_id", user.ID))
	return d.Get(ctx, roomID)
}

func (d *Directory) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].Code == code {
			return &rooms[i], nil
		}
	}
	return nil, domain.ErrRoomNotFound
}

type LeaveOutcome string

const (
	OutcomeLeft            LeaveOutcome = "left"
	OutcomeHostTransferred LeaveOutcome = "host_transferred"
	OutcomeDeleted         LeaveOutcome = "deleted"
)

type LeaveResult struct {
	Outcome   LeaveOutcome
	NewHostID string
}

// Leave убирает участника. Уходящий хост передаёт роль первому оставшемуся
// участнику (по сортировке id); последний участник удаляет комнату.
func (d *Directory) Leave(ctx context.Context, roomID, userID string) (LeaveResult, error) {
	d.cancelDisconnect(roomID, userID)

	var (
		res LeaveResult
		err error
	)
	if tx, ok := d.st.(store.Transactor); ok {
		res, err = d.leaveTx(ctx, tx, roomID, userID)
	} else {
		res, err = d.leaveDirect(ctx, roomID, userID)
	}
	if err != nil {
		return LeaveResult{}, err
	}
	if res.Outcome == OutcomeHostTransferred {
		d.updateHostName(ctx, roomID, res.NewHostID)
	}
	d.log.Info("room left", slog.String("room_id", roomID), slog.String("user_id", userID),
		slog.String("outcome", string(res.Outcome)), slog.String("new_host_id", res.NewHostID))
	return res, nil
}

func (d *Directory) leaveTx(ctx context.Context, tx store.Transactor, roomID, userID string) (LeaveResult, error) {
	var res LeaveResult
	err := tx.Transact(ctx, domain.RoomPath(roomID), func(cur store.Snapshot) (any, error) {
		res = LeaveResult{}
		if !cur.Exists() {
			return nil, domain.ErrRoomNotFound
		}
		var room domain.Room
		if err := cur.Decode(&room); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = planLeave(&room, userID)
		switch res.Outcome {
		case "":
			return nil, domain.ErrNotInRoom
		case OutcomeDeleted:
			return nil, nil
		}
		deleteChild(doc, domain.FieldUsers, userID)
		deleteChild(doc, domain.FieldPresence, userID)
		if res.Outcome == OutcomeHostTransferred {
			doc[domain.FieldHostID] = res.NewHostID
			doc[domain.FieldHostName] = res.NewHostID
		}
		return doc, nil
	})
	if err != nil {
		return LeaveResult{}, fmt.Errorf("store.Transact: %w", err)
	}
	return res, nil
}

func (d *Directory) leaveDirect(ctx context.Context, roomID, userID string) (LeaveResult, error) {
	room, err := d.Get(ctx, roomID)
	if err != nil {
		return LeaveResult{}, err
	}
	res := planLeave(room, userID)
	path := domain.RoomPath(roomID)
	switch res.Outcome {
	case "":
		return LeaveResult{}, domain.ErrNotInRoom
	case OutcomeDeleted:
		err = d.st.Remove(ctx, path)
	case OutcomeHostTransferred:
		err = d.st.Update(ctx, path, map[string]any{
			domain.FieldUsers + "/" + userID:    nil,
			domain.FieldPresence + "/" + userID: nil,
			domain.FieldHostID:                  res.NewHostID,
			domain.FieldHostName:                res.NewHostID,
		})
	default:
		err = d.st.Update(ctx, path, map[string]any{
			domain.FieldUsers + "/" + userID:    nil,
			domain.FieldPresence + "/" + userID: nil,
		})
	}
	if err != nil {
		return LeaveResult{}, fmt.Errorf("store write: %w", err)
	}
	return res, nil
}

func planLeave(room *domain.Room, userID string) LeaveResult {
	if !room.HasMember(userID) {
		return LeaveResult{}
	}
	var remaining []string
	for _, id := range room.Members() {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	switch {
	case len(remaining) == 0:
		return LeaveResult{Outcome: OutcomeDeleted}
	case room.HostID == userID:
		return LeaveResult{Outcome: OutcomeHostTransferred, NewHostID: remaining[0]}
	default:
		return LeaveResult{Outcome: OutcomeLeft}
	}
}

// RepairHost назначает нового хоста, если текущий больше не участник.
func (d *Directory) RepairHost(ctx context.Context, room *domain.Room) (string, error) {
	if room.HasMember(room.HostID) || room.IsEmpty() {
		return "", nil
	}
	newHost := room.Members()[0]
	err := d.st.Update(ctx, domain.RoomPath(room.ID), map[string]any{
		domain.FieldHostID:   newHost,
		domain.FieldHostName: profile.DisplayName(ctx, d.profiles, newHost),
	})
	if err != nil {
		return "", fmt.Errorf("store.Update: %w", err)
	}
	d.log.Info("room host repaired", slog.String("room_id", room.ID), slog.String("new_host_id", newHost))
	return newHost, nil
}

func (d *Directory) updateHostName(ctx context.Context, roomID, hostID string) {
	name := profile.DisplayName(ctx, d.profiles, hostID)
	err := d.st.Update(ctx, domain.RoomPath(roomID), map[string]any{domain.FieldHostName: name})
	if err != nil {
		d.log.Warn("directory: update host name", slog.String("room_id", roomID), slog.Any("err", err))
	}
}

func (d *Directory) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	if roomID == "" {
		return nil, domain.ErrRoomNotFound
	}
	snap, err := d.st.Get(ctx, domain.RoomPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("store.Get: %w", err)
	}
	if !snap.Exists() {
		return nil, domain.ErrRoomNotFound
	}
	var room domain.Room
	if err := snap.Decode(&room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	room.ID = roomID
	return &room, nil
}

// List возвращает все живые комнаты, новые первыми.
func (d *Directory) List(ctx context.Context) ([]domain.Room, error) {
	snap, err := d.st.Get(ctx, domain.RoomsCollection)
	if err != nil {
		return nil, fmt.Errorf("store.Get: %w", err)
	}
	return decodeRooms(snap)
}

func decodeRooms(snap store.Snapshot) ([]domain.Room, error) {
	if !snap.Exists() {
		return nil, nil
	}
	var byID map[string]domain.Room
	if err := snap.Decode(&byID); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	out := make([]domain.Room, 0, len(byID))
	for id, r := range byID {
		r.ID = id
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GarbageCollect удаляет комнаты с пустым users. Комната хотя бы с одним
// участником не удаляется никогда.
func (d *Directory) GarbageCollect(ctx context.Context) (int, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := d.collect(ctx, rooms)
	return n, nil
}

func (d *Directory) collect(ctx context.Context, rooms []domain.Room) (int, []domain.Room) {
	deleted := 0
	live := rooms[:0:0]
	for _, r := range rooms {
		if !r.IsEmpty() {
			live = append(live, r)
			continue
		}
		ok, err := d.deleteIfEmpty(ctx, r.ID)
		if err != nil {
			d.log.Warn("directory: gc", slog.String("room_id", r.ID), slog.Any("err", err))
			continue
		}
		if ok {
			deleted++
			d.log.Info("room collected", slog.String("room_id", r.ID))
		}
	}
	return deleted, live
}

func (d *Directory) deleteIfEmpty(ctx context.Context, roomID string) (bool, error) {
	tx, ok := d.st.(store.Transactor)
	if !ok {
		return true, d.st.Remove(ctx, domain.RoomPath(roomID))
	}
	deleted := false
	err := tx.Transact(ctx, domain.RoomPath(roomID), func(cur store.Snapshot) (any, error) {
		deleted = false
		if !cur.Exists() {
			return nil, store.ErrAborted
		}
		var room domain.Room
		if err := cur.Decode(&room); err != nil {
			return nil, err
		}
		if !room.IsEmpty() {
			return nil, store.ErrAborted
		}
		deleted = true
		return nil, nil
	})
	return deleted, err
}

// Watch подписывается на список комнат. Каждое срабатывание сначала
// собирает пустые комнаты, затем отдаёт fn оставшиеся.
func (d *Directory) Watch(ctx context.Context, fn func([]domain.Room)) (func(), error) {
	return d.st.Subscribe(ctx, domain.RoomsCollection, func(snap store.Snapshot) {
		rooms, err := decodeRooms(snap)
		if err != nil {
			d.log.Warn("directory: watch", slog.Any("err", err))
			return
		}
		_, live := d.collect(ctx, rooms)
		if fn != nil {
			fn(live)
		}
	})
}

func (d *Directory) AddToPlaylist(ctx context.Context, roomID string, song domain.Song) (string, error) {
	if err := song.Validate(); err != nil {
		return "", err
	}
	if _, err := d.Get(ctx, roomID); err != nil {
		return "", err
	}
	path, err := d.st.Push(ctx, domain.RoomPath(roomID)+"/"+domain.FieldPlaylist)
	if err != nil {
		return "", fmt.Errorf("store.Push: %w", err)
	}
	if err := d.st.Set(ctx, path, song); err != nil {
		return "", fmt.Errorf("store.Set: %w", err)
	}
	return store.Key(path), nil
}

func (d *Directory) RemoveFromPlaylist(ctx context.Context, roomID, key string) error {
	if key == "" {
		return domain.ErrInvalidSong
	}
	if err := d.st.Remove(ctx, domain.RoomPath(roomID)+"/"+domain.FieldPlaylist+"/"+key); err != nil {
		return fmt.Errorf("store.Remove: %w", err)
	}
	return nil
}

// Touch обновляет presence участника.
func (d *Directory) Touch(ctx context.Context, roomID, userID string) error {
	room, err := d.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return domain.ErrNotInRoom
	}
	err = d.st.Update(ctx, domain.RoomPath(roomID), map[string]any{
		domain.FieldPresence + "/" + userID: store.ServerTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("store.Update: %w", err)
	}
	return nil
}

// registerDisconnect: при обрыве соединения сервер сам уберёт участника.
func (d *Directory) registerDisconnect(ctx context.Context, roomID, userID string) {
	if !d.cleanup {
		return
	}
	var cancels []func()
	for _, p := range []string{domain.UserPath(roomID, userID), domain.PresencePath(roomID, userID)} {
		cancel, err := d.st.OnDisconnect(ctx, store.RemoveOnDisconnect(p))
		if err != nil {
			d.log.Warn("directory: on disconnect", slog.String("path", p), slog.Any("err", err))
			continue
		}
		cancels = append(cancels, cancel)
	}
	key := roomID + "/" + userID
	d.mu.Lock()
	prev := d.hooks[key]
	d.hooks[key] = cancels
	d.mu.Unlock()
	for _, c := range prev {
		c()
	}
}

func (d *Directory) cancelDisconnect(roomID, userID string) {
	key := roomID + "/" + userID
	d.mu.Lock()
	cancels := d.hooks[key]
	delete(d.hooks, key)
	d.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func deleteChild(doc map[string]any, field, key string) {
	m, ok := doc[field].(map[string]any)
	if !ok {
		return
	}
	delete(m, key)
}
