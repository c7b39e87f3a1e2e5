package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
)

type staticModels struct {
	models []ai.Model
	err    error
}

func (s staticModels) Models(context.Context) ([]ai.Model, error) { return s.models, s.err }

func newTestRouter(models ModelLister) http.Handler {
	store := memory.New()
	return NewRouter(Dependencies{
		Sessions: sessionService.NewService(store, store),
		Pages:    pageledger.NewService(store, store),
		Models:   models,
	})
}

func TestRouterWithoutProvider(t *testing.T) {
	r := newTestRouter(nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	for _, path := range []string{"/api/stream?message=hi", "/api/ws/abc", "/api/models"} {
		resp = httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, resp.Code)
		}
	}
}

func TestRouterMountsSessions(t *testing.T) {
	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{"title":"Mounted"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS headers on API responses")
	}
}

func TestRouterModels(t *testing.T) {
	r := newTestRouter(staticModels{models: []ai.Model{{ID: "openai/gpt-4o", Name: "GPT-4o"}}})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("GPT-4o")) {
		t.Fatalf("expected model list, got %s", resp.Body.String())
	}

	r = newTestRouter(staticModels{err: errors.New("provider down")})
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}
