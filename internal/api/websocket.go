package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelPrefix prefixes every dispatch event channel.
	ChannelPrefix = "dispatch."

	wsSendBuffer = 256
)

// Channels lists the subscribable event channels.
var Channels = []string{
	ChannelPrefix + string(bus.StageSent),
	ChannelPrefix + string(bus.StageProcessed),
	ChannelPrefix + string(bus.StageCompleted),
	ChannelPrefix + string(bus.StageGroup),
}

// WSMessage is a frame exchanged with a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe frame.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound frame with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans dispatch events out to WebSocket subscribers.
//
// Hub implements bus.Observer. Observe runs on the dispatching goroutine and
// never blocks; a client whose buffer is full misses the event.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected subscriber.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.RWMutex
	channels map[string]struct{}
	closed   bool
	send     chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Observe implements bus.Observer by publishing ev on "dispatch.<stage>".
func (h *Hub) Observe(ev bus.Event) {
	channel := ChannelPrefix + string(ev.Stage)
	subs := h.subscribers(channel)
	if len(subs) == 0 {
		return
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("encoding dispatch event", "error", err)
		return
	}
	for _, c := range subs {
		c.enqueue(data)
	}
}

func (h *Hub) subscribers(channel string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*WSClient
	for c := range h.clients {
		if c.subscribed(channel) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// handleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		channels: make(map[string]struct{}),
		send:     make(chan []byte, wsSendBuffer),
	}
	s.hub.add(c)

	ping, pong := wsTimings(s.wsCfg)
	go c.writeLoop(ping, pong)
	go c.readLoop(int64(s.wsCfg.MaxMessageSize), ping+pong)
}

// wsTimings returns the ping interval and pong wait, defaulting unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func (c *WSClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(ping, wait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
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

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateChannels(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// updateChannels applies a subscribe or unsubscribe frame. Unknown channel
// names reject the whole frame.
func (c *WSClient) updateChannels(req wsRequest) {
	var body WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &body) != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid "+req.Type+" payload"))
		return
	}
	for _, ch := range body.Channels {
		if !slices.Contains(Channels, ch) {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	subscribe := req.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range body.Channels {
		if subscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *WSClient) reply(id, typ string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      typ,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue hands data to the write loop, dropping it if the buffer is full
// or the client is gone.
func (c *WSClient) enqueue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send channel once, ending the write loop.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
