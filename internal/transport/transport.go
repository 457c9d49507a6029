// Package transport implements the bidirectional client channel
// described in spec.md §6.1: one websocket connection per browser
// client, carrying named JSON events in both directions. Grounded on
// the teacher's own websocket stack (coder/websocket, already used for
// the Lokutor TTS duplex client) rather than introducing a second
// websocket library for the server side.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// inboundEnvelope is the wire shape of every client->server message:
// an event name plus a freeform JSON payload, decoded on demand per
// event (§6.1's table).
type inboundEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// outboundEnvelope mirrors inboundEnvelope for server->client events.
type outboundEnvelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// audioDataPayload is the §6.1 audio-data event body.
type audioDataPayload struct {
	SessionID  string  `json:"sessionId"`
	Samples    []int16 `json:"samples"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
}

type startSessionPayload struct {
	UserID       string `json:"userId"`
	LanguageCode string `json:"languageCode"`
}

type sessionScopedPayload struct {
	SessionID string `json:"sessionId"`
}

type historyPayload struct {
	Limit int `json:"limit"`
}

// Gateway owns the orchestrator and maps each websocket connection to
// zero-or-one Session, translating the §6.1 event protocol into calls
// against pkg/orchestrator and orchestrator.OutboundEvents back into
// JSON frames.
type Gateway struct {
	orch   *orchestrator.Orchestrator
	logger orchestrator.Logger
}

// NewGateway constructs a Gateway bound to orch. logger may be nil.
func NewGateway(orch *orchestrator.Orchestrator, logger orchestrator.Logger) *Gateway {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Gateway{orch: orch, logger: logger}
}

// ServeHTTP upgrades the request to a websocket connection and runs the
// per-connection read loop until the client disconnects or the request
// context is cancelled.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local dev / same-origin proxies; not a TLS concern for the ws framing itself
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	c := &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		ctx:    r.Context(),
		orch:   g.orch,
		logger: g.logger,
	}
	c.run()
}

// wsConn is the per-websocket-connection state: at most one Session
// (spec.md never requires multiplexing more than one per connection),
// a send mutex (coder/websocket forbids concurrent writes on one conn)
// and the write serialization every emitted OutboundEvent goes through.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	orch    *orchestrator.Orchestrator
	logger  orchestrator.Logger

	mu      sync.Mutex
	session *orchestrator.Session
}

func (c *wsConn) run() {
	c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventReady})

	for {
		var env inboundEnvelope
		if err := wsjson.Read(c.ctx, c.conn, &env); err != nil {
			break
		}
		c.handle(env)
	}

	if c.session != nil {
		c.orch.EndSession(c.session.ID)
	}
}

func (c *wsConn) handle(env inboundEnvelope) {
	switch env.Event {
	case "start-session":
		var p startSessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
			c.sendError("start-session requires a userId")
			return
		}
		lang := orchestrator.Language(p.LanguageCode)
		if lang == "" {
			lang = c.orch.Config().Language
		}
		c.session = c.orch.NewSession(p.UserID, c.sendEvent)
		c.session.SetLanguage(lang)
		c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventSessionCreated, Payload: map[string]interface{}{
			"sessionId": c.session.ID,
			"message":   "session created",
		}})

	case "start-processing":
		if !c.requireSession(env.Payload) {
			return
		}
		c.session.StartProcessing()
		c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventProcessingStarted, Payload: map[string]interface{}{
			"message": "processing started",
		}})

	case "stop-processing":
		if c.session == nil {
			c.sendError("no active session")
			return
		}
		c.session.StopProcessing()

	case "audio-data":
		var p audioDataPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError("malformed audio-data payload")
			return
		}
		if c.session == nil || p.SessionID != c.session.ID {
			c.sendError("unknown session for audio-data")
			return
		}
		sampleRate := p.SampleRate
		if sampleRate == 0 {
			sampleRate = c.orch.Config().SampleRate
		}
		channels := p.Channels
		if channels == 0 {
			channels = c.orch.Config().Channels
		}
		c.session.PushFrame(orchestrator.AudioFrame{
			Timestamp:  time.Now().UnixMilli(),
			Samples:    p.Samples,
			SampleRate: sampleRate,
			Channels:   channels,
		})

	case "get-conversation-history":
		if c.session == nil {
			c.sendError("no active session")
			return
		}
		var p historyPayload
		_ = json.Unmarshal(env.Payload, &p)
		history := c.session.GetHistory(p.Limit)
		c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventConversationHistory, Payload: map[string]interface{}{
			"history":   history,
			"userId":    c.session.UserID,
			"timestamp": time.Now().UnixMilli(),
		}})

	case "clear-conversation":
		if c.session == nil {
			c.sendError("no active session")
			return
		}
		c.session.ClearConversation()
		c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventConversationCleared, Payload: map[string]interface{}{
			"userId":    c.session.UserID,
			"timestamp": time.Now().UnixMilli(),
		}})

	case "get-conversation-stats":
		stats := c.orch.Store().Stats()
		c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventConversationStats, Payload: map[string]interface{}{
			"conversationCount": stats.ConversationCount,
			"totalTurns":        stats.TotalTurns,
			"timestamp":         time.Now().UnixMilli(),
		}})

	default:
		c.sendError(fmt.Sprintf("unknown event %q", env.Event))
	}
}

// requireSession validates a {sessionId} payload against the
// connection's current session, per §7's "malformed client message"
// policy: emit `error`, no state change.
func (c *wsConn) requireSession(raw json.RawMessage) bool {
	if c.session == nil {
		c.sendError("no active session")
		return false
	}
	var p sessionScopedPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
		if p.SessionID != "" && p.SessionID != c.session.ID {
			c.sendError("session id mismatch")
			return false
		}
	}
	return true
}

func (c *wsConn) sendError(message string) {
	c.sendEvent(orchestrator.OutboundEvent{Name: orchestrator.EventError, Payload: map[string]interface{}{
		"message": message,
	}})
}

// sendEvent is the emit func handed to every orchestrator.Session on
// this connection: it serializes writes (coder/websocket connections
// are not safe for concurrent writes) and never blocks the session's
// own serialized loop for longer than its 5-second write timeout.
func (c *wsConn) sendEvent(evt orchestrator.OutboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()

	if err := wsjson.Write(writeCtx, c.conn, outboundEnvelope{Event: string(evt.Name), Payload: evt.Payload}); err != nil {
		c.logger.Warn("websocket write failed", "connID", c.id, "event", evt.Name, "error", err)
	}
}
