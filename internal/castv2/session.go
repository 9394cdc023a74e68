package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"castbridge/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	castPort = 8009

	senderID         = "sender-0"
	receiverEndpoint = "receiver-0"

	// Default media receiver application.
	defaultAppID = "CC1AD845"

	defaultRequestTimeout = 5 * time.Second
	dialTimeout           = 5 * time.Second
)

// waiter is one outstanding request in the pending table. The receive loop
// matches inbound payloads by content against the predicate; the first match
// resolves the waiter.
type waiter struct {
	predicate func(namespace string, payload map[string]any) (any, bool)
	result    chan any
}

// Channel is a Cast v2 control connection to one receiver over TLS.
//
// The receiver presents a self-signed certificate, so verification is
// disabled unconditionally; this is the protocol's trust model, not an
// oversight.
type Channel struct {
	logger         *zap.SugaredLogger
	requestTimeout time.Duration
	port           int

	requestID atomic.Int64

	writeMu sync.Mutex // one frame on the wire at a time
	mu      sync.Mutex
	conn    *tls.Conn
	pending map[string]*waiter
	closed  bool

	transportID    string
	mediaSessionID int

	recvDone chan struct{}
}

func NewChannel(logger *zap.SugaredLogger) *Channel {
	return &Channel{
		logger:         logger,
		requestTimeout: defaultRequestTimeout,
		port:           castPort,
		pending:        make(map[string]*waiter),
	}
}

// SetRequestTimeout overrides how long LAUNCH and LOAD wait for their
// matching status broadcast. Must be called before Connect.
func (c *Channel) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.requestTimeout = d
	}
}

// Connect opens the TLS channel and joins the virtual connection to the
// platform receiver endpoint.
func (c *Channel) Connect(ctx context.Context, address string) bool {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, fmt.Sprint(c.port)))
	if err != nil {
		c.logger.Warnw("cast tls dial failed", "address", address, "error", err)
		return false
	}
	conn := rawConn.(*tls.Conn)

	done := make(chan struct{})
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.closed = false
	c.recvDone = done
	c.mu.Unlock()

	go c.receiveLoop(conn, done)

	if !c.send(NamespaceConnection, receiverEndpoint, map[string]any{"type": "CONNECT"}) {
		c.Disconnect()
		return false
	}
	return true
}

// StartCasting launches the default media receiver, connects to its
// transport and loads the stream URL as live video.
func (c *Channel) StartCasting(ctx context.Context, streamURL string) bool {
	launchID := c.nextRequestID()
	transportCh, cancelTransport := c.await(func(_ string, payload map[string]any) (any, bool) {
		return extractTransportID(payload)
	})
	defer cancelTransport()

	if !c.send(NamespaceReceiver, receiverEndpoint, map[string]any{
		"type":      "LAUNCH",
		"appId":     defaultAppID,
		"requestId": launchID,
	}) {
		return false
	}

	transportID, err := c.waitResult(ctx, transportCh, domain.ErrLaunchTimeout)
	if err != nil {
		c.logger.Warnw("cast launch failed", "error", err)
		return false
	}
	c.mu.Lock()
	c.transportID = transportID.(string)
	transport := c.transportID
	c.mu.Unlock()

	// Second CONNECT, now targeted at the launched application.
	if !c.send(NamespaceConnection, transport, map[string]any{"type": "CONNECT"}) {
		return false
	}

	sessionCh, cancelSession := c.await(func(_ string, payload map[string]any) (any, bool) {
		return extractMediaSessionID(payload)
	})
	defer cancelSession()

	if !c.send(NamespaceMedia, transport, map[string]any{
		"type": "LOAD",
		"media": map[string]any{
			"contentId":   streamURL,
			"contentType": "video/mp4",
			"streamType":  "LIVE",
		},
		"autoplay":  true,
		"requestId": c.nextRequestID(),
	}) {
		return false
	}

	sessionID, err := c.waitResult(ctx, sessionCh, domain.ErrLoadTimeout)
	if err != nil {
		c.logger.Warnw("cast load failed", "error", err)
		return false
	}
	c.mu.Lock()
	c.mediaSessionID = sessionID.(int)
	c.mu.Unlock()

	c.logger.Infow("cast session started", "transport_id", transport, "media_session_id", sessionID)
	return true
}

// StopCasting stops the media session, then the receiver application.
func (c *Channel) StopCasting(ctx context.Context) {
	c.mu.Lock()
	transport := c.transportID
	mediaSession := c.mediaSessionID
	c.mu.Unlock()

	if transport != "" && mediaSession != 0 {
		c.send(NamespaceMedia, transport, map[string]any{
			"type":           "STOP",
			"mediaSessionId": mediaSession,
			"requestId":      c.nextRequestID(),
		})
	}
	c.send(NamespaceReceiver, receiverEndpoint, map[string]any{
		"type":      "STOP",
		"requestId": c.nextRequestID(),
	})
}

// SendHeartbeat pings the device. Callers invoke this periodically; the
// channel keeps no internal timer.
func (c *Channel) SendHeartbeat() bool {
	return c.send(NamespaceHeartbeat, receiverEndpoint, map[string]any{"type": "PING"})
}

// Disconnect closes the channel and fails every outstanding request.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	for id, w := range c.pending {
		close(w.result)
		delete(c.pending, id)
	}
	done := c.recvDone
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func (c *Channel) nextRequestID() int64 {
	return c.requestID.Add(1)
}

// send encodes and writes one message; the write mutex keeps frames atomic
// on the socket.
func (c *Channel) send(namespace, destination string, payload map[string]any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Errorw("cast payload marshal failed", "error", err)
		return false
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Debugw("cast send on closed channel", "namespace", namespace)
		return false
	}

	msg := Message{
		SourceID:      senderID,
		DestinationID: destination,
		Namespace:     namespace,
		PayloadUTF8:   string(body),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(conn, msg); err != nil {
		c.logger.Warnw("cast send failed", "namespace", namespace, "error", err)
		return false
	}
	return true
}

// await registers a pending request matched by content inspection. The
// returned cancel removes the entry whether or not it resolved.
func (c *Channel) await(predicate func(namespace string, payload map[string]any) (any, bool)) (<-chan any, func()) {
	id := uuid.NewString()
	w := &waiter{predicate: predicate, result: make(chan any, 1)}

	c.mu.Lock()
	c.pending[id] = w
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	return w.result, cancel
}

func (c *Channel) waitResult(ctx context.Context, ch <-chan any, timeoutErr error) (any, error) {
	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, domain.ErrChannelClosed
		}
		return result, nil
	case <-timer.C:
		return nil, timeoutErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// receiveLoop decodes inbound frames and resolves pending requests. Unrelated
// messages (status broadcasts, heartbeats from the device) are tolerated and
// skipped; inbound PINGs are answered so the device keeps the channel open.
// Each loop owns the done channel it was started with; a reconnect replaces
// c.recvDone, so the loop must not close whatever happens to be there at exit.
func (c *Channel) receiveLoop(conn *tls.Conn, done chan struct{}) {
	defer close(done)

	for {
		body, err := ReadFrame(conn)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debugw("cast receive ended", "error", err)
			}
			return
		}

		msg, ok := Decode(body)
		if !ok {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
			c.logger.Debugw("cast payload parse failed", "namespace", msg.Namespace)
			continue
		}

		if msg.Namespace == NamespaceHeartbeat {
			if t, _ := payload["type"].(string); t == "PING" {
				c.send(NamespaceHeartbeat, receiverEndpoint, map[string]any{"type": "PONG"})
			}
			continue
		}

		c.dispatch(msg.Namespace, payload)
	}
}

func (c *Channel) dispatch(namespace string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, w := range c.pending {
		if result, ok := w.predicate(namespace, payload); ok {
			w.result <- result
			delete(c.pending, id)
			return
		}
	}
}

// extractTransportID digs status.applications[0].transportId out of a
// RECEIVER_STATUS payload.
func extractTransportID(payload map[string]any) (any, bool) {
	status, ok := payload["status"].(map[string]any)
	if !ok {
		return nil, false
	}
	apps, ok := status["applications"].([]any)
	if !ok || len(apps) == 0 {
		return nil, false
	}
	first, ok := apps[0].(map[string]any)
	if !ok {
		return nil, false
	}
	transportID, ok := first["transportId"].(string)
	if !ok || transportID == "" {
		return nil, false
	}
	return transportID, true
}

// extractMediaSessionID digs status[0].mediaSessionId out of a MEDIA_STATUS
// payload. JSON numbers arrive as float64.
func extractMediaSessionID(payload map[string]any) (any, bool) {
	if id, ok := payload["mediaSessionId"].(float64); ok {
		return int(id), true
	}
	statusList, ok := payload["status"].([]any)
	if !ok || len(statusList) == 0 {
		return nil, false
	}
	first, ok := statusList[0].(map[string]any)
	if !ok {
		return nil, false
	}
	id, ok := first["mediaSessionId"].(float64)
	if !ok {
		return nil, false
	}
	return int(id), true
}
