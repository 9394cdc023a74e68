package events

import (
	"net/http"
	"sync"
	"time"

	"castbridge/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // LAN-local daemon, no cross-origin policy to enforce
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is one JSON message pushed to UI clients.
type Event struct {
	Type      string         `json:"type"`
	Device    *domain.Device `json:"device,omitempty"`
	State     *StatePayload  `json:"state,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type StatePayload struct {
	Phase     string `json:"phase"`
	Device    string `json:"device,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	EventDeviceFound = "device_found"
	EventCastState   = "cast_state"
)

// Hub fans discovery and session events out to websocket clients. A slow or
// dead client is dropped; it never stalls the publisher.
type Hub struct {
	logger *zap.SugaredLogger

	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*hubClient
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:       logger,
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		clients:      make(map[string]*hubClient),
	}
}

// PublishDevice pushes a device_found event to every connected client.
func (h *Hub) PublishDevice(device domain.Device) {
	h.broadcast(Event{Type: EventDeviceFound, Device: &device, Timestamp: time.Now()})
}

// PublishState pushes a cast_state event to every connected client.
func (h *Hub) PublishState(state domain.CastState) {
	payload := &StatePayload{
		Phase:     string(state.Phase),
		StreamURL: state.StreamURL,
		Message:   state.Message,
	}
	if state.Device != nil {
		payload.Device = state.Device.Name
	}
	h.broadcast(Event{Type: EventCastState, State: payload, Timestamp: time.Now()})
}

// WatchRegistry forwards a registry subscription into the hub until the
// channel closes.
func (h *Hub) WatchRegistry(devices <-chan domain.Device) {
	go func() {
		for device := range devices {
			h.PublishDevice(device)
		}
	}()
}

// HandleWebSocket upgrades the request and serves events until the client
// goes away or the hub closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &hubClient{
		conn: conn,
		send: make(chan Event, 32),
		done: make(chan struct{}),
	}
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[id] = client
	h.mu.Unlock()

	h.logger.Infow("event client connected", "client_id", id, "remote", r.RemoteAddr)
	defer func() {
		h.removeClient(id)
		h.logger.Infow("event client disconnected", "client_id", id)
	}()

	// Reader goroutine only drains control frames and detects closure.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-readerGone:
			return
		case event := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client. The hub accepts no new connections after.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*hubClient)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
	}
}

// ClientCount reports currently attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- event:
		default:
		}
	}
}

func (h *Hub) removeClient(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}
