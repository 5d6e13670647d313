// Package handler wires HTTP routes to the core services.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	meetingHandler "github.com/actionsync/backend/internal/handler/meeting"
	processingHandler "github.com/actionsync/backend/internal/handler/processing"
	streamHandler "github.com/actionsync/backend/internal/handler/stream"
	trackerHandler "github.com/actionsync/backend/internal/handler/tracker"
	middlewarePkg "github.com/actionsync/backend/internal/middleware"
	"github.com/actionsync/backend/internal/service/connection"
	"github.com/actionsync/backend/internal/service/embedding"
	meetingService "github.com/actionsync/backend/internal/service/meeting"
	processingService "github.com/actionsync/backend/internal/service/processing"
	workService "github.com/actionsync/backend/internal/service/work"
	"github.com/actionsync/backend/internal/store"
	"github.com/actionsync/backend/pkg/utils"
)

// NewRouter assembles the HTTP surface.
func NewRouter(
	st *store.Store,
	runner *processingService.Runner,
	meetings *meetingService.Processor,
	work *workService.Processor,
	index *embedding.Service,
	conns *connection.Manager,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	processingH := processingHandler.New(runner, meetings, work)
	trackerH := trackerHandler.New(st)
	meetingH := meetingHandler.New(st, index)
	streamH := streamHandler.New(conns)

	r.Route("/api", func(api chi.Router) {
		processingH.RegisterRoutes(api)
		trackerH.RegisterRoutes(api)
		meetingH.RegisterRoutes(api)
		streamH.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	streamH.RegisterWebSocketRoutes(r)

	return r
}
