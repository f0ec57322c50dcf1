package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/service"
	httpmw "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/http/middleware"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/transport/ws"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/httputil"
)

type Deps struct {
	Handler        *Handler
	Auth           *httpmw.Auth
	MemberSvc      *service.MemberService
	WS             *ws.Server
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// WS endpoint хранилища; авторизация внутри HandleWS
	r.Get("/ws/store", d.WS.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(httputil.MiddlewareLogging)
		pr.Use(d.Auth.Middleware)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		h := d.Handler
		pr.Route("/rooms", func(rm chi.Router) {
			rm.Post("/", h.CreateRoom)
			rm.Get("/", h.ListRooms)
			rm.Post("/join", h.JoinRoom)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Use(httpmw.HeartbeatMiddleware(d.MemberSvc))
				rr.Get("/", h.GetRoom)
				rr.Post("/leave", h.LeaveRoom)
				rr.Post("/heartbeat", h.Heartbeat)
				rr.Get("/participants", h.GetParticipants)
				rr.Post("/playlist", h.AddToPlaylist)
				rr.Delete("/playlist/{key}", h.RemoveFromPlaylist)
			})
		})
	})

	return r
}
