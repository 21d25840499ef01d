package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/havenline/haven/backend/internal/handler/chat"
	crisishandler "github.com/havenline/haven/backend/internal/handler/crisis"
	wshandler "github.com/havenline/haven/backend/internal/handler/ws"
	middlewarePkg "github.com/havenline/haven/backend/internal/middleware"
	"github.com/havenline/haven/backend/internal/model/resource"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	sessionservice "github.com/havenline/haven/backend/internal/service/session"
	wshub "github.com/havenline/haven/backend/internal/ws"
	"github.com/havenline/haven/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(
	sessions *sessionservice.Service,
	orch *orchestrator.Orchestrator,
	crisisMgr *crisisservice.Manager,
	resources resource.Store,
	hub *wshub.Hub,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chathandler.New(sessions, orch)
	crisisHandler := crisishandler.New(crisisMgr, resources)
	socketHandler := wshandler.New(orch, sessions, hub)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		crisisHandler.RegisterRoutes(api)
		socketHandler.RegisterRoutes(api)

		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
