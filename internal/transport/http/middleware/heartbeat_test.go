package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type touches struct {
	mu    sync.Mutex
	calls []string
}

func (t *touches) TouchHeartbeat(_ context.Context, roomID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, roomID+"/"+userID)
	return nil
}

func heartbeatRouter(rec *touches) http.Handler {
	r := chi.NewRouter()
	r.Use(NewAuth(nil).Middleware)
	r.Route("/rooms/{id}", func(rr chi.Router) {
		rr.Use(HeartbeatMiddleware(rec))
		rr.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		rr.Get("/missing", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
		rr.Post("/leave", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})
	return r
}

func TestHeartbeatMiddleware(t *testing.T) {
	rec := &touches{}
	h := heartbeatRouter(rec)

	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer dev")
		req.Header.Set("X-User-ID", "bob")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/rooms/r1"))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/rooms/r1/missing"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/rooms/r1/leave"))

	assert.Equal(t, []string{"r1/bob"}, rec.calls)
}

func TestAuthenticateModes(t *testing.T) {
	a := NewAuth(nil)

	uid, err := a.Authenticate("dev", " bob ")
	assert.NoError(t, err)
	assert.Equal(t, "bob", uid)

	_, err = a.Authenticate("", "bob")
	assert.Error(t, err)
	_, err = a.Authenticate("dev", "")
	assert.Error(t, err)
}
