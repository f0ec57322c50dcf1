package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/service"
	httpmw "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/http/middleware"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/errs"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/httputil"
)

type Handler struct {
	roomSvc   *service.RoomService
	memberSvc *service.MemberService
}

func NewHandler(room *service.RoomService, member *service.MemberService) *Handler {
	return &Handler{
		roomSvc:   room,
		memberSvc: member,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.JSON(w, status, v)
}

// classify сводит ошибки домена к классам pkg/errs.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return errs.ErrNotFound
	case errors.Is(err, domain.ErrNotInRoom):
		return errs.ErrForbidden
	case errors.Is(err, domain.ErrRoomClosed):
		return errs.ErrGone
	case errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidSong),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, service.ErrInvalidCursor):
		return errs.ErrInvalidInput
	case errors.Is(err, domain.ErrCodeExhausted):
		return errs.ErrUnavailable
	default:
		return err
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	class := classify(err)
	status := errs.ToHTTP(class)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("handler."+op+":", slog.Any("err", err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	httputil.Error(r.Context(), w, status, errs.Code(class), msg, nil)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := httpmw.UserIDFromCtx(r.Context())
	if uid == "" {
		httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthorized", "missing user id", nil)
		return "", false
	}
	return uid, true
}

func (h *Handler) roomItem(rm *domain.Room) RoomItem {
	return RoomItem{
		ID:             rm.ID,
		Name:           rm.Name,
		Code:           rm.Code,
		HostID:         rm.HostID,
		HostName:       rm.HostName,
		Members:        len(rm.Members()),
		IsPlaying:      rm.IsPlaying,
		CurrentSong:    rm.CurrentSong,
		CurrentTime:    rm.CurrentTime,
		LastUpdateTime: rm.LastUpdateTime,
		CreatedAt:      rm.Created().UTC(),
		JoinLink:       h.roomSvc.JoinLink(rm),
	}
}

func (h *Handler) roomDetail(rm *domain.Room) RoomDetail {
	d := RoomDetail{RoomItem: h.roomItem(rm), Users: rm.Members(), Playlist: []PlaylistItem{}}
	for _, e := range rm.PlaylistEntries() {
		d.Playlist = append(d.Playlist, PlaylistItem{Key: e.Key, Song: e.Song})
	}
	return d
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid_input", "invalid json", nil)
		return
	}
	room, err := h.roomSvc.CreateRoom(r.Context(), req.Name, uid)
	if err != nil {
		h.fail(w, r, "CreateRoom", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.roomDetail(room))
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), limit, cursor)
	if err != nil {
		h.fail(w, r, "ListRooms", err)
		return
	}
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for i := range rooms {
		resp.Items = append(resp.Items, h.roomItem(&rooms[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid_input", "invalid json", nil)
		return
	}

	var (
		room *domain.Room
		err  error
	)
	switch {
	case req.Code != "":
		room, err = h.roomSvc.JoinRoom(r.Context(), req.Code, uid)
	case req.Link != "":
		room, err = h.roomSvc.JoinByLink(r.Context(), req.Link, uid)
	default:
		err = domain.ErrInvalidCode
	}
	if err != nil {
		h.fail(w, r, "JoinRoom", err)
		return
	}

	writeJSON(w, http.StatusOK, JoinRoomResponse{Room: h.roomDetail(room), PeerID: uid})
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "GetRoom", err)
		return
	}

	writeJSON(w, http.StatusOK, h.roomDetail(room))
}

// POST /rooms/{id}/leave
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	res, err := h.roomSvc.LeaveRoom(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		h.fail(w, r, "LeaveRoom", err)
		return
	}

	writeJSON(w, http.StatusOK, LeaveRoomResponse{
		Status:    "left",
		Outcome:   string(res.Outcome),
		NewHostID: res.NewHostID,
	})
}

// POST /rooms/{id}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.memberSvc.TouchHeartbeat(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		h.fail(w, r, "Heartbeat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := h.memberSvc.ListParticipants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "GetParticipants", err)
		return
	}

	resp := ParticipantsResponse{Items: make([]ParticipantItem, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, ParticipantItem{
			UserID:   it.UserID,
			Name:     it.Name,
			IsHost:   it.IsHost,
			Online:   it.Online,
			LastSeen: it.LastSeen,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/{id}/playlist
func (h *Handler) AddToPlaylist(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	var song domain.Song
	if err := json.NewDecoder(r.Body).Decode(&song); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid_input", "invalid json", nil)
		return
	}
	key, err := h.roomSvc.AddToPlaylist(r.Context(), chi.URLParam(r, "id"), uid, song)
	if err != nil {
		h.fail(w, r, "AddToPlaylist", err)
		return
	}

	writeJSON(w, http.StatusCreated, AddSongResponse{Key: key})
}

// DELETE /rooms/{id}/playlist/{key}
func (h *Handler) RemoveFromPlaylist(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	err := h.roomSvc.RemoveFromPlaylist(r.Context(), chi.URLParam(r, "id"), uid, chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, "RemoveFromPlaylist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
