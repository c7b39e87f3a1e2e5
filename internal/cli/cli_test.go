package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
)

func newTestApp(t *testing.T, providerURL string) *app.App {
	t.Helper()
	store := memory.New()
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 250 * time.Millisecond)
	}
	a := &app.App{
		Store:    store,
		Sessions: session.NewService(store, store),
		Pages:    pageledger.NewService(store, store, pageledger.WithClock(clock)),
	}
	if providerURL != "" {
		a.Provider = ai.NewClient(ai.Config{
			BaseURL: providerURL,
			APIKey:  "sk-or-v1-abcdefghijklmnopqrstuvwxyz0123",
			Model:   "anthropic/claude-sonnet-4",
		}, nil)
		a.Turns = turn.NewService(a.Sessions, a.Pages, a.Provider, turn.Options{})
	}
	return a
}

func run(t *testing.T, a *app.App, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(func(context.Context) (*app.App, error) { return a, nil })
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func seed(t *testing.T, a *app.App) *ledger.Session {
	t.Helper()
	ctx := context.Background()
	s, err := a.Sessions.CreateTitled(ctx, "Field notes")
	require.NoError(t, err)
	_, err = a.Pages.CreateInvoke(ctx, s, "", "What is the tide doing?", nil)
	require.NoError(t, err)
	draft, err := a.Pages.StartResponse(ctx, s, "@Claude", nil)
	require.NoError(t, err)
	_, err = a.Pages.CommitResponse(ctx, s, draft.PageID, "Rising until noon.")
	require.NoError(t, err)
	return s
}

func TestSessionsAndShow(t *testing.T) {
	a := newTestApp(t, "")
	s := seed(t, a)

	out, _, err := run(t, a, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, s.ID)
	assert.Contains(t, out, "Field notes")

	out, _, err = run(t, a, "show", s.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Pages:   2")

	_, _, err = run(t, a, "show", "missing")
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestPagesShowsTiming(t *testing.T) {
	a := newTestApp(t, "")
	s := seed(t, a)

	out, _, err := run(t, a, "pages", s.ID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "INVOKE")
	assert.Contains(t, lines[2], "RESPONSE")
	assert.Contains(t, lines[2], "250ms")
	assert.Contains(t, lines[2], "Rising until noon.")

	out, _, err = run(t, a, "pages", s.ID, "--recent", "1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestStatsCloseRenameDelete(t *testing.T) {
	a := newTestApp(t, "")
	s := seed(t, a)

	out, _, err := run(t, a, "stats", s.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Responses:  1")
	assert.Contains(t, out, "Generating: 250ms")

	out, _, err = run(t, a, "rename", s.ID, "Tide log", "--who", "@Oracle", "--retag")
	require.NoError(t, err)
	assert.Contains(t, out, `"Tide log" by @Oracle`)
	page, err := a.Pages.GetPage(context.Background(), s, 2)
	require.NoError(t, err)
	assert.Equal(t, "@Oracle", page.Who)

	_, _, err = run(t, a, "rename", s.ID)
	assert.Error(t, err)

	_, _, err = run(t, a, "close", s.ID)
	require.NoError(t, err)
	out, _, err = run(t, a, "sessions", "--active")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions yet")

	_, _, err = run(t, a, "delete", s.ID)
	require.NoError(t, err)
	_, _, err = run(t, a, "show", s.ID)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestExport(t *testing.T) {
	a := newTestApp(t, "")
	s := seed(t, a)

	out, _, err := run(t, a, "export", s.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Field notes\n"))
	assert.Contains(t, out, "## 1 · INVOKE · @User")
	assert.Contains(t, out, "## 2 · RESPONSE · @Claude")
	assert.Contains(t, out, "250ms after page 1")

	path := filepath.Join(t.TempDir(), "notes.md")
	stdout, stderr, err := run(t, a, "export", s.ID, "--out", path)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, path)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(written))
}

func TestTranscriptMarksDrafts(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := Transcript(ledger.Session{ID: "s", Title: "T"}, []ledger.Page{
		{PageID: 2, Type: ledger.PageResponse, Who: "@Agent", TimeStart: start, TimeEnd: start},
	})
	assert.Contains(t, doc, "_(no content)_")
}

func TestAskStreamsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, `{"data":[]}`)
		case "/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Low \"}}]}\n\n"+
				"data: {\"choices\":[{\"delta\":{\"content\":\"tide.\"}}]}\n\ndata: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestApp(t, srv.URL)
	out, stderr, err := run(t, a, "ask", "tide", "now?")
	require.NoError(t, err)
	assert.Equal(t, "@Claude: Low tide.\n", out)
	assert.Contains(t, stderr, "session ")

	sessions, err := a.Sessions.ListSessions(context.Background(), ledger.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "tide now?", sessions[0].Title)
	assert.Equal(t, int64(2), sessions[0].LastPageID)
}

func TestAskWithoutProvider(t *testing.T) {
	a := newTestApp(t, "")
	_, _, err := run(t, a, "ask", "hello")
	assert.ErrorIs(t, err, errNoProvider)
}
