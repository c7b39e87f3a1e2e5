package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
)

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

// newProvider answers with two fragments, or one fragment and then hangs.
func newProvider(t *testing.T, hang bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, `{"data":[]}`)
		case "/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			if hang {
				_, _ = io.WriteString(w, frame("Par"))
				flusher.Flush()
				<-r.Context().Done()
				return
			}
			for _, part := range []string{frame("Ack"), frame("nowledged"), "data: [DONE]\n\n"} {
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

type fixture struct {
	server   *httptest.Server
	sessions *sessionService.Service
	pages    *pageledger.Service
}

func setup(t *testing.T, hang bool) fixture {
	t.Helper()
	provider := newProvider(t, hang)
	store := memory.New()
	sessions := sessionService.NewService(store, store)
	pages := pageledger.NewService(store, store)
	client := ai.NewClient(ai.Config{
		BaseURL: provider.URL,
		APIKey:  "sk-or-v1-abcdefghijklmnopqrstuvwxyz0123",
		Model:   "openai/gpt-4o",
	}, provider.Client())

	r := chi.NewRouter()
	New(turn.NewService(sessions, pages, client, turn.Options{}), sessions, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fixture{server: srv, sessions: sessions, pages: pages}
}

func (f fixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) ([]string, received) {
	t.Helper()
	var seen []string
	for {
		msg := read(t, conn)
		seen = append(seen, msg.Type)
		if msg.Type == msgType {
			return seen, msg
		}
	}
}

func TestAskOverWebSocket(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	s, err := f.sessions.CreateTitled(ctx, "Radio check")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := f.dial(t, s.ID)
	if msg := read(t, conn); msg.Type != TypeConnected {
		t.Fatalf("expected connected, got %s", msg.Type)
	}

	if err := conn.WriteJSON(inboundMessage{Type: TypeAsk, Text: "over"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen, done := readUntil(t, conn, TypeDone)
	want := "invoke,responseStarted,token,token,responseCommitted,done"
	if strings.Join(seen, ",") != want {
		t.Fatalf("unexpected message order: %v", seen)
	}

	var summary turn.Summary
	if err := json.Unmarshal(done.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Outcome != turn.Finished || summary.Content != "Acknowledged" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// The same socket keeps using the session for the next turn.
	if err := conn.WriteJSON(inboundMessage{Type: TypeAsk, Text: "again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, done = readUntil(t, conn, TypeDone)
	_ = json.Unmarshal(done.Data, &summary)
	if summary.PageID != 4 {
		t.Fatalf("expected second response on page 4, got %d", summary.PageID)
	}
}

func TestCancelCommitsPartialResponse(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	s, _ := f.sessions.CreateTitled(ctx, "Interrupted")

	conn := f.dial(t, s.ID)
	read(t, conn)

	if err := conn.WriteJSON(inboundMessage{Type: TypeAsk, Text: "tell me everything"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, string(turn.EventToken))
	if err := conn.WriteJSON(inboundMessage{Type: TypeCancel}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, done := readUntil(t, conn, TypeDone)

	var summary turn.Summary
	_ = json.Unmarshal(done.Data, &summary)
	if summary.Outcome != turn.Cancelled {
		t.Fatalf("expected cancelled, got %s", summary.Outcome)
	}

	handle, _ := f.sessions.LoadSession(ctx, s.ID)
	page, err := f.pages.GetPage(ctx, handle, 2)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if page.Content != "Par" || page.Type != ledger.PageResponse {
		t.Fatalf("expected partial response to be committed, got %+v", page)
	}
}

func TestUnsupportedAndIdleMessages(t *testing.T) {
	f := setup(t, false)
	s, _ := f.sessions.CreateTitled(context.Background(), "Misc")
	conn := f.dial(t, s.ID)
	read(t, conn)

	_ = conn.WriteJSON(inboundMessage{Type: "shout"})
	if msg := read(t, conn); msg.Type != TypeError {
		t.Fatalf("expected error, got %s", msg.Type)
	}
	_ = conn.WriteJSON(inboundMessage{Type: TypeCancel})
	if msg := read(t, conn); msg.Type != TypeError {
		t.Fatalf("expected error for idle cancel, got %s", msg.Type)
	}
	_ = conn.WriteJSON(inboundMessage{Type: TypePing})
	if msg := read(t, conn); msg.Type != TypePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
}

func TestPingsDuringTurns(t *testing.T) {
	f := setup(t, false)
	s, _ := f.sessions.CreateTitled(context.Background(), "Busy line")
	conn := f.dial(t, s.ID)
	read(t, conn)

	const turns, pingsPerTurn = 5, 40
	for i := 1; i <= turns; i++ {
		if err := conn.WriteJSON(inboundMessage{Type: TypeAsk, Text: "status?"}); err != nil {
			t.Fatalf("write ask: %v", err)
		}
		for j := 0; j < pingsPerTurn; j++ {
			if err := conn.WriteJSON(inboundMessage{Type: TypePing}); err != nil {
				t.Fatalf("write ping: %v", err)
			}
		}

		pongs, finished := 0, false
		for pongs < pingsPerTurn || !finished {
			msg := read(t, conn)
			switch msg.Type {
			case TypePong:
				if msg.SessionID != s.ID {
					t.Fatalf("pong for %q, want %q", msg.SessionID, s.ID)
				}
				pongs++
			case TypeDone:
				var summary turn.Summary
				if err := json.Unmarshal(msg.Data, &summary); err != nil {
					t.Fatalf("decode summary: %v", err)
				}
				if summary.PageID != int64(2*i) || summary.Outcome != turn.Finished {
					t.Fatalf("turn %d: unexpected summary %+v", i, summary)
				}
				finished = true
			case TypeError:
				t.Fatalf("turn %d: unexpected error message %s", i, msg.Data)
			}
		}
	}

	handle, err := f.sessions.LoadSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if handle.LastPageID != 2*turns {
		t.Fatalf("expected last page %d, got %d", 2*turns, handle.LastPageID)
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	f := setup(t, false)
	resp, err := http.Get(f.server.URL + "/ws/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
