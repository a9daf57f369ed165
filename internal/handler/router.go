package handler

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-chat/internal/handler/chat"
	"github.com/zhouzirui/tavern-chat/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/tavern-chat/internal/middleware"
	chatService "github.com/zhouzirui/tavern-chat/internal/service/chat"
	streamService "github.com/zhouzirui/tavern-chat/internal/service/stream"
	"github.com/zhouzirui/tavern-chat/pkg/utils"
)

// NewRouter wires HTTP routes to core services. bridge may be nil when no
// model is configured; static may be nil to skip the web UI.
func NewRouter(store chatService.Store, bridge *streamService.Bridge, sessions *middlewarePkg.SessionManager, static fs.FS) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(api chi.Router) {
		api.Use(sessions.Middleware)

		chat.New(store, sessions).RegisterRoutes(api)
		stream.New(bridge).RegisterRoutes(api)

		if static != nil {
			api.Handle("/*", http.FileServerFS(static))
		}
	})

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	var event *zerolog.Event
	switch {
	case status >= 500:
		event = hlog.FromRequest(r).Error()
	case status >= 400:
		event = hlog.FromRequest(r).Warn()
	default:
		event = hlog.FromRequest(r).Debug()
	}
	event.
		Str("req_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
