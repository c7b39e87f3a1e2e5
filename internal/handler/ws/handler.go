package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
	"github.com/zhouzirui/chronoledger/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound message types.
const (
	TypeAsk    = "ask"
	TypeCancel = "cancel"
	TypePing   = "ping"
)

// Outbound message types besides the turn event types.
const (
	TypeConnected = "connected"
	TypeDone      = "done"
	TypeError     = "error"
	TypePong      = "pong"
)

// Handler WebSocket会话处理器
type Handler struct {
	turns    *turn.Service
	sessions *sessionService.Service
	observer turn.Observer
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(turns *turn.Service, sessions *sessionService.Service, observer turn.Observer) *Handler {
	return &Handler{
		turns:    turns,
		sessions: sessions,
		observer: observer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// peer serialises writes; gorilla allows one concurrent writer.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) send(msgType, sessionID string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{Type: msgType, SessionID: sessionID, Data: data, Timestamp: time.Now().UnixMilli()}
	if err := p.conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Str("component", "ws").Str("type", msgType).Msg("write failed")
	}
}

func (p *peer) sendError(sessionID, message string) {
	p.send(TypeError, sessionID, map[string]string{"message": message})
}

// connection holds the per-socket turn state. The session handle is only
// read or replaced under mu; a turn works on its own copy.
type connection struct {
	sessionID string

	mu     sync.Mutex
	handle ledger.Session
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *connection) snapshot() ledger.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// begin reserves the connection for one turn; false means one is running.
func (c *connection) begin(parent context.Context) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.wg.Add(1)
	return ctx, true
}

func (c *connection) end(handle *ledger.Session) {
	c.mu.Lock()
	if handle != nil {
		c.handle = *handle
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Done()
}

func (c *connection) interrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.LoadSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}
	if session.Closed() {
		utils.RespondServiceError(w, ledger.ErrSessionClosed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("component", "ws").Str("session", session.ID).Logger()
	logger.Info().Msg("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	state := &connection{sessionID: session.ID, handle: *session}
	defer func() {
		cancel()
		// Let an interrupted turn commit before the socket goes away.
		state.wg.Wait()
		logger.Info().Msg("connection closed")
	}()

	out := &peer{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go pingLoop(ctx, conn)

	out.send(TypeConnected, session.ID, session)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		sessionID := state.sessionID
		switch msg.Type {
		case TypeAsk:
			turnCtx, ok := state.begin(ctx)
			if !ok {
				out.sendError(sessionID, "a response is already streaming")
				continue
			}
			go h.runTurn(turnCtx, out, state, msg.Text)
		case TypeCancel:
			if !state.interrupt() {
				out.sendError(sessionID, "nothing to cancel")
			}
		case TypePing:
			out.send(TypePong, sessionID, nil)
		default:
			out.sendError(sessionID, "unsupported message type: "+msg.Type)
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, out *peer, state *connection, text string) {
	relay := turn.ObserverFunc(func(e turn.Event) {
		out.send(string(e.Type), e.SessionID, e)
		if h.observer != nil {
			h.observer.OnEvent(e)
		}
	})

	current := state.snapshot()
	handle, result, err := h.turns.Ask(ctx, &current, text, relay)
	summary := turn.Summarize(handle, result, err)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Str("session", summary.SessionID).Msg("turn did not finish")
	}
	state.end(handle)
	out.send(TypeDone, summary.SessionID, summary)
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
