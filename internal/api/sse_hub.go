package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"gomatter/app"
	"gomatter/internal"
)

// keepAlive is how long an idle event stream waits before sending a ping
var keepAlive = 30 * time.Second

// SSEHub fans node events out to the clients subscribed to a session
type SSEHub struct {
	clientsMu sync.RWMutex
	clients   map[string]map[chan app.NodeEvent]struct{}
	logger    *internal.Logger
}

var _ app.EventSink = (*SSEHub)(nil)

// NewSSEHub creates an empty hub
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &SSEHub{clients: make(map[string]map[chan app.NodeEvent]struct{}), logger: logger}
}

// Subscribe registers a buffered channel for a session; call the returned func to leave
func (h *SSEHub) Subscribe(sessionID string) (<-chan app.NodeEvent, func()) {
	ch := make(chan app.NodeEvent, 32)

	h.clientsMu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[chan app.NodeEvent]struct{})
	}
	h.clients[sessionID][ch] = struct{}{}
	h.logger.Debug("[SSE] client registered for session %s (total clients: %d)", sessionID, len(h.clients[sessionID]))
	h.clientsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.clientsMu.Lock()
			defer h.clientsMu.Unlock()
			if clients, ok := h.clients[sessionID]; ok {
				delete(clients, ch)
				close(ch)
				if len(clients) == 0 {
					delete(h.clients, sessionID)
				}
			}
		})
	}
}

// Publish delivers an event to every subscriber of its session. Slow clients
// whose buffer is full miss the event.
func (h *SSEHub) Publish(event app.NodeEvent) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for ch := range h.clients[event.SessionID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("[SSE] client channel full for session %s, skipping %s event", event.SessionID, event.Node)
		}
	}
}

// ClientCount returns the number of subscribers of a session
func (h *SSEHub) ClientCount(sessionID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[sessionID])
}

// HandleSSE streams "node" events for ?session_id= until the client disconnects
func (h *SSEHub) HandleSSE(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id parameter required"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events, leave := h.Subscribe(sessionID)
	defer leave()

	// send headers now so clients see the stream open before the first event
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			body, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("[SSE] failed to marshal event: %v", err)
				return true
			}
			c.SSEvent("node", string(body))
			return true
		case <-time.After(keepAlive):
			c.SSEvent("ping", `{"status":"alive"}`)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
