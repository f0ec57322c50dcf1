package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

type HeartbeatToucher interface {
	TouchHeartbeat(ctx context.Context, roomID, userID string) error
}

// HeartbeatMiddleware продлевает presence участника после успешного запроса к
// /rooms/{id}/... Выход из комнаты presence не продлевает.
// Подключается внутри маршрута /{id}, иначе параметр ещё не разобран.
func HeartbeatMiddleware(memberSvc HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middlewareChi.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusBadRequest || strings.HasSuffix(r.URL.Path, "/leave") {
				return
			}
			userID := UserIDFromCtx(r.Context())
			roomID := chi.URLParam(r, "id")
			if userID == "" || roomID == "" {
				return
			}
			// best-effort: ответ уже отправлен; не участник получит ErrNotInRoom
			_ = memberSvc.TouchHeartbeat(context.WithoutCancel(r.Context()), roomID, userID)
		})
	}
}
