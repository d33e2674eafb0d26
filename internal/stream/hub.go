// Package stream pushes appended chat messages to the browser tabs showing
// a session.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/identity"
)

const (
	// EventMessage carries one appended message.
	EventMessage = "message"
	// EventReset tells tabs the session was cleared.
	EventReset = "reset"

	writeTimeout = 10 * time.Second
)

// Options configures a Hub.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	// ReplaySize is how many events per session are kept for reconnects.
	ReplaySize int
	// SendBuffer is the per-connection queue; a tab that falls this far
	// behind is disconnected.
	SendBuffer int
	Logger     *slog.Logger
}

type client struct {
	id   int64
	send chan Event
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks WebSocket connections per session.
type Hub struct {
	mu    sync.RWMutex
	conns map[chat.Key]map[int64]*client

	queue   *replayQueue
	eventID atomic.Int64
	connID  atomic.Int64
	opts    Options
	logger  *slog.Logger
}

// NewHub creates a hub.
func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[chat.Key]map[int64]*client),
		queue:  newReplayQueue(opts.ReplaySize),
		opts:   opts,
		logger: logger,
	}
}

// Publish pushes msg to every tab of the session. It matches
// chat.AppendHook.
func (h *Hub) Publish(key chat.Key, msg domain.Message) {
	ev := Event{
		Type:      EventMessage,
		ID:        h.eventID.Add(1),
		Message:   &msg,
		Timestamp: time.Now().UTC(),
	}
	h.queue.enqueue(key, ev)
	h.broadcast(key, ev)
}

// Reset drops the session's replay buffer and tells its tabs.
func (h *Hub) Reset(key chat.Key) {
	h.queue.prune(key)
	h.broadcast(key, Event{Type: EventReset, Timestamp: time.Now().UTC()})
}

// Connections returns the number of open tabs for a session.
func (h *Hub) Connections(key chat.Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[key])
}

// Close disconnects every tab.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, clients := range h.conns {
		for _, c := range clients {
			c.close()
		}
		delete(h.conns, key)
	}
}

func (h *Hub) broadcast(key chat.Key, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns[key] {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("[STREAM] dropping slow connection", "user_id", key.UserID, "session_id", key.SessionID, "conn_id", c.id)
			c.close()
		}
	}
}

func (h *Hub) register(key chat.Key) *client {
	c := &client{
		id:   h.connID.Add(1),
		send: make(chan Event, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[key]; !ok {
		h.conns[key] = make(map[int64]*client)
	}
	h.conns[key][c.id] = c
	return c
}

func (h *Hub) unregister(key chat.Key, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.conns[key]; ok {
		delete(clients, c.id)
		if len(clients) == 0 {
			delete(h.conns, key)
		}
	}
	c.close()
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades GET /ws/chat. A last_event_id query parameter replays
// what the tab missed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chat.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
	if key.UserID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, `{"error": "origin not allowed"}`, http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	c := h.register(key)
	defer h.unregister(key, c)
	h.logger.Info("Chat feed connected", "user_id", key.UserID, "session_id", key.SessionID, "ip", identity.IPFromRequest(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var last int64
	if after, err := strconv.ParseInt(r.URL.Query().Get("last_event_id"), 10, 64); err == nil {
		for _, ev := range h.queue.missed(key, after) {
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
			last = ev.ID
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, key)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, c, last)
	}()
	wg.Wait()
	h.logger.Info("Chat feed disconnected", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, key chat.Key) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", key.UserID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, Event{Type: "pong", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// writeLoop forwards events; events already sent during replay are skipped.
func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, c *client, last int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.send:
			if ev.ID != 0 && ev.ID <= last {
				continue
			}
			if err := h.write(ctx, ws, ev); err != nil {
				h.logger.Debug("WebSocket write error", "error", err)
				return
			}
			if ev.ID != 0 {
				last = ev.ID
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
