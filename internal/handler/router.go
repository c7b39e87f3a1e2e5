package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chronoledger/internal/handler/sessions"
	"github.com/zhouzirui/chronoledger/internal/handler/stream"
	"github.com/zhouzirui/chronoledger/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/chronoledger/internal/middleware"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/pkg/utils"
)

// ModelLister reports the models the provider offers.
type ModelLister interface {
	Models(ctx context.Context) ([]ai.Model, error)
}

// Dependencies are the services the API exposes. Turns and Models are nil
// when no provider key is configured.
type Dependencies struct {
	Sessions *sessionService.Service
	Pages    *pageledger.Service
	Turns    *turn.Service
	Models   ModelLister
	Observer turn.Observer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"streaming": deps.Turns != nil,
		})
	})

	r.Route("/api", func(api chi.Router) {
		sessions.New(deps.Sessions, deps.Pages).RegisterRoutes(api)

		if deps.Turns == nil {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			}
			api.Get("/stream", unavailable)
			api.Get("/stream/{sessionID}", unavailable)
			api.Get("/ws/{sessionID}", unavailable)
		} else {
			stream.New(deps.Turns, deps.Sessions, deps.Observer).RegisterRoutes(api)
			ws.New(deps.Turns, deps.Sessions, deps.Observer).RegisterRoutes(api)
		}

		api.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			if deps.Models == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai provider not configured")
				return
			}
			models, err := deps.Models.Models(r.Context())
			if err != nil {
				utils.RespondError(w, http.StatusBadGateway, err.Error())
				return
			}
			utils.RespondJSON(w, http.StatusOK, models)
		})
	})

	return r
}
