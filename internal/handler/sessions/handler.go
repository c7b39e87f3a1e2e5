package sessions

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/pkg/utils"
)

// Handler 会话与页面的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
	pages    *pageledger.Service
}

// New 创建会话处理器
func New(sessions *sessionService.Service, pages *pageledger.Service) *Handler {
	return &Handler{sessions: sessions, pages: pages}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Post("/close", h.handleClose)
			r.Get("/pages", h.handlePages)
			r.Get("/pages/{pageID}", h.handlePage)
			r.Post("/invoke", h.handleInvoke)
			r.Get("/stats", h.handleStats)
			r.Get("/chrono", h.handleChrono)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload sessionService.CreateOptions
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), payload)
	if err != nil {
		if errors.Is(err, sessionService.ErrTitleRequired) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ledger.SessionFilter{}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	filter.Limit = limit

	sessions, err := h.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, ok := h.load(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload sessionService.Changes
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessions.EditSession(r.Context(), chi.URLParam(r, "sessionID"), payload)
	if err != nil {
		h.respondUpdateError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) respondUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, sessionService.ErrTitleRequired) ||
		errors.Is(err, sessionService.ErrWhoRequired) ||
		errors.Is(err, sessionService.ErrNothingToChange) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondServiceError(w, err)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.CloseSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.load(w, r)
	if !ok {
		return
	}

	var (
		pages []ledger.Page
		err   error
	)
	if r.URL.Query().Get("recent") != "" {
		recent, ok := intQuery(w, r, "recent")
		if !ok {
			return
		}
		pages, err = h.pages.GetRecentPages(r.Context(), session, recent)
	} else {
		pages, err = h.pages.GetPages(r.Context(), session)
	}
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	out := make([]ledger.PageWithDelta, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.WithDelta())
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.load(w, r)
	if !ok {
		return
	}
	pageID, err := strconv.ParseInt(chi.URLParam(r, "pageID"), 10, 64)
	if err != nil || pageID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "pageID must be a positive integer")
		return
	}

	page, err := h.pages.GetPage(r.Context(), session, pageID)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, page.WithDelta())
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Who     string   `json:"who"`
		Content string   `json:"content"`
		Rank    *float64 `json:"rank"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	session, ok := h.load(w, r)
	if !ok {
		return
	}
	page, err := h.pages.CreateInvoke(r.Context(), session, payload.Who, payload.Content, payload.Rank)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, page.WithDelta())
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	session, ok := h.load(w, r)
	if !ok {
		return
	}
	stats, err := h.pages.Stats(r.Context(), session)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleChrono(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		utils.RespondError(w, http.StatusBadRequest, "from and to page ids are required")
		return
	}

	session, ok := h.load(w, r)
	if !ok {
		return
	}
	delta, err := h.pages.ChronoDelta(r.Context(), session, from, to)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int64{"from": from, "to": to, "delta": delta})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*ledger.Session, bool) {
	session, err := h.sessions.LoadSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return nil, false
	}
	return session, true
}

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		utils.RespondError(w, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
