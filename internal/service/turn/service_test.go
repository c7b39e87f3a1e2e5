package turn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
)

type upstreamRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newProviderServer(t *testing.T, requests *[]upstreamRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, `{"data":[{"id":"anthropic/claude-sonnet-4","name":"Claude Sonnet 4"}]}`)
		case "/chat/completions":
			var req upstreamRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			*requests = append(*requests, req)
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, part := range []string{frame("Hel"), frame("lo"), "data: [DONE]\n\n"} {
				_, _ = io.WriteString(w, part)
				flusher.Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTurnService(t *testing.T, srv *httptest.Server, opts Options) (*Service, *pageledger.Service) {
	t.Helper()
	store := memory.New()
	sessions := session.NewService(store, store)
	pages := pageledger.NewService(store, store)
	client := ai.NewClient(ai.Config{
		BaseURL: srv.URL,
		APIKey:  "sk-or-v1-abcdefghijklmnopqrstuvwxyz0123",
		Model:   "anthropic/claude-sonnet-4",
	}, srv.Client())
	return NewService(sessions, pages, client, opts), pages
}

func TestAskCreatesSessionAndCommitsAnswer(t *testing.T) {
	var requests []upstreamRequest
	srv := newProviderServer(t, &requests)
	svc, pages := newTurnService(t, srv, Options{UserWho: "@Lily"})
	ctx := context.Background()
	rec := &recorder{}

	handle, result, err := svc.Ask(ctx, nil, "  Hi  ", rec)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "Hi", handle.Title)
	assert.Equal(t, "Claude Sonnet 4", handle.Model)
	assert.Equal(t, "@Claude", handle.Who)
	assert.Equal(t, int64(2), handle.LastPageID)

	assert.Equal(t, Finished, result.Outcome)
	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, []EventType{EventInvoke, EventResponseStarted, EventToken, EventToken, EventResponseCommitted}, rec.types())

	stored, err := pages.GetPages(ctx, handle)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, ledger.PageInvoke, stored[0].Type)
	assert.Equal(t, "@Lily", stored[0].Who)
	assert.Equal(t, "Hi", stored[0].Content)
	assert.Equal(t, ledger.PageResponse, stored[1].Type)
	assert.Equal(t, "@Claude", stored[1].Who)
	assert.Equal(t, "Hello", stored[1].Content)

	require.Len(t, requests, 1)
	msgs := requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	header, body, err := ai.ParsePage(msgs[1].Content)
	require.NoError(t, err)
	assert.Equal(t, int64(1), header.PageID)
	assert.Equal(t, "Hi", body)
}

func TestAskContinuesSessionWithHistoryLimit(t *testing.T) {
	var requests []upstreamRequest
	srv := newProviderServer(t, &requests)
	svc, _ := newTurnService(t, srv, Options{HistoryLimit: 2})
	ctx := context.Background()

	handle, _, err := svc.Ask(ctx, nil, "first", nil)
	require.NoError(t, err)
	handle, result, err := svc.Ask(ctx, handle, "second", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Page.PageID)
	assert.Equal(t, int64(4), handle.LastPageID)

	require.Len(t, requests, 2)
	second := requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[1].Role)
	assert.True(t, strings.HasSuffix(second[2].Content, "\nsecond"))
}

func TestAskRejectsEmptyMessage(t *testing.T) {
	var requests []upstreamRequest
	srv := newProviderServer(t, &requests)
	svc, _ := newTurnService(t, srv, Options{})

	handle, _, err := svc.Ask(context.Background(), nil, "   ", nil)
	assert.True(t, errors.Is(err, ErrEmptyMessage))
	assert.Nil(t, handle)
	assert.Empty(t, requests)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "short", TitleFor(" short "))
	long := strings.Repeat("я", 60)
	assert.Equal(t, strings.Repeat("я", 50)+"...", TitleFor(long))
}

func TestSummarize(t *testing.T) {
	handle := &ledger.Session{ID: "s-1"}
	result := Result{Outcome: Cancelled, Page: ledger.Page{PageID: 4}, Content: "Hal", Malformed: 1}

	s := Summarize(handle, result, nil)
	assert.Equal(t, Summary{SessionID: "s-1", PageID: 4, Outcome: Cancelled, Content: "Hal", Malformed: 1}, s)

	s = Summarize(nil, Result{Outcome: Failed}, ErrEmptyMessage)
	assert.Empty(t, s.SessionID)
	assert.Equal(t, ErrEmptyMessage.Error(), s.Error)
}
