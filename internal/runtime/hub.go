package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-dictate/internal/session"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 20 * time.Second
	wsSendQueue    = 32
)

// streamMessage is one frame pushed to /v1/session/stream subscribers.
type streamMessage struct {
	Type    string           `json:"type"`
	Segment string           `json:"segment,omitempty"`
	Session session.Snapshot `json:"session"`
}

// hub fans controller events out to websocket subscribers. A subscriber that cannot keep
// up is disconnected rather than slowing the others down.
type hub struct {
	snapshot func() session.Snapshot
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient() *wsClient {
	return &wsClient{send: make(chan []byte, wsSendQueue), done: make(chan struct{})}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func newHub(snapshot func() session.Snapshot, log *slog.Logger) *hub {
	return &hub{
		snapshot: snapshot,
		log:      log.With(slog.String("component", "ws")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// observe is registered as a session observer.
func (h *hub) observe(ev session.Event) {
	data, err := json.Marshal(streamMessage{Type: string(ev.Kind), Segment: ev.Segment, Session: ev.Snapshot})
	if err != nil {
		h.log.Warn("failed to encode session event", slog.String("error", err.Error()))
		return
	}
	h.broadcast(data)
}

func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow websocket subscriber")
			delete(h.clients, c)
			c.close()
		}
	}
}

// register queues the current snapshot as the first frame and adds c. Both happen under
// h.mu so no broadcast lands between them.
func (h *hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	initial, err := json.Marshal(streamMessage{Type: string(session.EventState), Session: h.snapshot()})
	if err != nil {
		h.log.Warn("failed to encode session snapshot", slog.String("error", err.Error()))
		return false
	}
	c.send <- initial
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// close disconnects every subscriber; hijacked connections are not closed by http.Server.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := newWSClient()
	if !h.register(client) {
		return
	}
	defer h.unregister(client)

	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
