package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Frame types on /ws.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameResponse    = "response"
	FrameError       = "error"
)

// Channels a UI session can subscribe to.
const (
	// ChannelNotification carries block errors and warnings from running tabs.
	ChannelNotification = "workspace.notification"

	// ChannelTabStatus carries tab load, reload and release events.
	ChannelTabStatus = "workspace.tab_status"
)

var knownChannels = map[string]bool{
	ChannelNotification: true,
	ChannelTabStatus:    true,
}

// sessionQueue is how many frames a session may fall behind before new
// events are dropped for it.
const sessionQueue = 256

// WSMessage is a frame sent to a session. Events carry the tab they concern.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	TabID     string `json:"tab_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names channels to (un)subscribe. Tabs narrows a
// subscription to events from those tabs; empty means every tab.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Tabs     []string `json:"tabs,omitempty"`
}

// inboundFrame is a frame received from a session.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans workspace events out to UI sessions.
//
// A session's queue is only written or closed under the hub lock, so an
// event never races a disconnect.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}

	dropped atomic.Int64
}

// HubStats is reported on /metrics.
type HubStats struct {
	Sessions      int
	DroppedFrames int64
}

type wsSession struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	tabs     map[string]struct{}
}

func newSession(h *Hub, conn *websocket.Conn) *wsSession {
	return &wsSession{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sessionQueue),
		channels: make(map[string]struct{}),
		tabs:     make(map[string]struct{}),
	}
}

// NewHub creates a hub with no sessions.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		delete(h.sessions, s)
		close(s.send)
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

func (h *Hub) attach(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket session opened", "sessions", n)
}

func (h *Hub) detach(s *wsSession) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
		close(s.send)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket session closed", "sessions", n)
	}
}

// Broadcast sends an event on channel to every session subscribed to it
// whose tab filter admits tabID.
func (h *Hub) Broadcast(channel, tabID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      FrameEvent,
		EventType: channel,
		TabID:     tabID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.wants(channel, tabID) {
			h.enqueue(s, data)
		}
	}
}

// deliver queues a frame for one session if it is still attached.
func (h *Hub) deliver(s *wsSession, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s]; ok {
		h.enqueue(s, data)
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(s *wsSession, data []byte) {
	select {
	case s.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats returns session and drop counts.
func (h *Hub) Stats() HubStats {
	return HubStats{Sessions: h.ClientCount(), DroppedFrames: h.dropped.Load()}
}

// HubNotifier delivers workspace notifications to sessions subscribed to
// ChannelNotification.
type HubNotifier struct {
	Hub *Hub
}

// Notify implements workspace.Notifier.
func (n HubNotifier) Notify(msg workspace.Notification) {
	if n.Hub == nil {
		return
	}
	n.Hub.Broadcast(ChannelNotification, msg.TabID, msg)
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// handleWebSocket upgrades to a session. A session receives nothing until
// it subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	sess := newSession(s.hub, conn)
	s.hub.attach(sess)

	go sess.writeLoop(s.wsCfg)
	go sess.readLoop(s.wsCfg)
}

func keepalive(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

func (ws *wsSession) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		ws.hub.detach(ws)
		ws.conn.Close()
	}()

	ping, pong := keepalive(cfg)
	extend := func() error { return ws.conn.SetReadDeadline(time.Now().Add(ping + pong)) }

	ws.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend() //nolint:errcheck // a failed deadline surfaces on read
	ws.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		_ = extend() //nolint:errcheck // a failed deadline surfaces on read
		ws.handle(data)
	}
}

func (ws *wsSession) writeLoop(cfg config.WebSocketConfig) {
	ping, pong := keepalive(cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		ws.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // a failed deadline surfaces on write
		return ws.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-ws.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (ws *wsSession) handle(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		ws.reply("", FrameError, errorBody("frame is not JSON"))
		return
	}

	switch in.Type {
	case FramePing:
		ws.reply(in.ID, FramePong, nil)
	case FrameSubscribe, FrameUnsubscribe:
		var sel WSSubscribePayload
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &sel) != nil {
			ws.reply(in.ID, FrameError, errorBody(in.Type+" needs a payload with channels"))
			return
		}
		if in.Type == FrameUnsubscribe {
			ws.unsubscribe(sel)
			ws.reply(in.ID, FrameResponse, map[string]any{"unsubscribed": sel.Channels})
			return
		}
		if bad := unknownChannels(sel.Channels); len(bad) > 0 {
			ws.reply(in.ID, FrameError, errorBody(fmt.Sprintf("unknown channels %v", bad)))
			return
		}
		ws.subscribe(sel)
		ws.hub.logger.Debug("websocket session subscribed", "channels", sel.Channels, "tabs", sel.Tabs)
		ws.reply(in.ID, FrameResponse, map[string]any{"subscribed": sel.Channels, "tabs": sel.Tabs})
	default:
		ws.reply(in.ID, FrameError, errorBody("unknown frame type "+in.Type))
	}
}

func unknownChannels(channels []string) []string {
	var bad []string
	for _, ch := range channels {
		if !knownChannels[ch] {
			bad = append(bad, ch)
		}
	}
	return bad
}

func (ws *wsSession) subscribe(sel WSSubscribePayload) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, ch := range sel.Channels {
		ws.channels[ch] = struct{}{}
	}
	for _, tab := range sel.Tabs {
		ws.tabs[tab] = struct{}{}
	}
}

// unsubscribe drops channels; tabs listed leave the filter.
func (ws *wsSession) unsubscribe(sel WSSubscribePayload) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, ch := range sel.Channels {
		delete(ws.channels, ch)
	}
	for _, tab := range sel.Tabs {
		delete(ws.tabs, tab)
	}
}

func (ws *wsSession) wants(channel, tabID string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if _, ok := ws.channels[channel]; !ok {
		return false
	}
	if len(ws.tabs) == 0 {
		return true
	}
	_, ok := ws.tabs[tabID]
	return ok
}

func (ws *wsSession) reply(id, frameType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	ws.hub.deliver(ws, data)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
