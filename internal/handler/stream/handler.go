// Package stream relays a turn to the browser over Server-Sent Events.
package stream

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/pkg/utils"
)

// EventDone closes every stream; its payload is a turn.Summary.
const EventDone = "done"

// Handler streams agent responses via Server-Sent Events.
type Handler struct {
	turns    *turn.Service
	sessions *sessionService.Service
	observer turn.Observer
}

// New creates a stream handler. observer, when non-nil, sees every event
// alongside the client.
func New(turns *turn.Service, sessions *sessionService.Service, observer turn.Observer) *Handler {
	return &Handler{turns: turns, sessions: sessions, observer: observer}
}

// RegisterRoutes mounts GET /stream (new session) and GET /stream/{sessionID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	var handle *ledger.Session
	if sessionID := chi.URLParam(r, "sessionID"); sessionID != "" {
		session, err := h.sessions.LoadSession(r.Context(), sessionID)
		if err != nil {
			utils.RespondServiceError(w, err)
			return
		}
		if session.Closed() {
			utils.RespondServiceError(w, ledger.ErrSessionClosed)
			return
		}
		handle = session
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	relay := turn.ObserverFunc(func(e turn.Event) {
		utils.SendSSEEvent(w, flusher, string(e.Type), e)
		if h.observer != nil {
			h.observer.OnEvent(e)
		}
	})

	// A client disconnect cancels r.Context(); the pipeline still commits
	// what arrived.
	handle, result, err := h.turns.Ask(r.Context(), handle, message, relay)

	summary := turn.Summarize(handle, result, err)
	if err != nil {
		log.Warn().Err(err).Str("component", "stream").Str("session", summary.SessionID).Msg("turn did not finish")
	}
	utils.SendSSEEvent(w, flusher, EventDone, summary)
}
