package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPort       = 8888
	clientBufferSize  = 64
	shutdownGracetime = 2 * time.Second

	dlnaContentFeatures = "DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"

	crossDomainPolicy = `<?xml version="1.0"?>` + "\n" +
		`<!DOCTYPE cross-domain-policy SYSTEM "http://www.adobe.com/xml/dtds/cross-domain-policy.dtd">` + "\n" +
		`<cross-domain-policy><allow-access-from domain="*"/></cross-domain-policy>` + "\n"
)

type Config struct {
	Port int `yaml:"port"`
	// Host advertised in the stream URL. Empty means auto-detect the
	// outbound LAN address.
	AdvertiseHost string `yaml:"advertise_host"`
	// ConnectsPerSecond caps how fast new clients may attach.
	ConnectsPerSecond float64 `yaml:"connects_per_second"`
}

func DefaultConfig() Config {
	return Config{Port: defaultPort, ConnectsPerSecond: 10}
}

// client is one attached HTTP puller. Frames are queued on a bounded channel;
// a full queue drops the frame for this client only.
type client struct {
	id     string
	frames chan domain.EncodedFrame
	done   chan struct{}
}

// Relay serves one encoded-frame sequence over chunked HTTP to any number of
// pull clients. The most recent config frame is replayed to late joiners so
// they can decode from a valid stream header.
type Relay struct {
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector
	limiter *rate.Limiter

	mu          sync.Mutex
	source      <-chan domain.EncodedFrame
	clients     map[string]*client
	configFrame []byte
	listener    net.Listener
	server      *http.Server
	cancel      context.CancelFunc
	running     bool
}

func NewRelay(cfg Config, logger *zap.SugaredLogger, metrics *monitoring.Collector) *Relay {
	if cfg.ConnectsPerSecond <= 0 {
		cfg.ConnectsPerSecond = DefaultConfig().ConnectsPerSecond
	}
	return &Relay{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Limit(cfg.ConnectsPerSecond), int(cfg.ConnectsPerSecond)),
		clients: make(map[string]*client),
	}
}

func (r *Relay) SetFrameSource(frames <-chan domain.EncodedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = frames
}

// Start binds the listening port and launches the fan-out task. The frame
// source must be set first.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.source == nil {
		return domain.ErrNoFrameSource
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind relay port %d: %w", r.cfg.Port, err)
	}
	r.listener = listener

	fanoutCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/stream", r.handleStream)
	router.GET("/crossdomain.xml", r.handleCrossDomain)

	r.server = &http.Server{Handler: router}
	go func() {
		if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Warnw("relay server ended", "error", err)
		}
	}()
	go r.fanOut(fanoutCtx, r.source)

	r.running = true
	r.logger.Infow("relay started", "url", r.streamURLLocked())
	return nil
}

// Stop cancels the fan-out, disconnects every client and releases the port.
// Safe to call repeatedly.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	server := r.server
	clients := r.clients
	r.clients = make(map[string]*client)
	r.source = nil
	r.configFrame = nil
	r.listener = nil
	r.mu.Unlock()

	cancel()
	for _, c := range clients {
		close(c.done)
	}

	ctx, done := context.WithTimeout(context.Background(), shutdownGracetime)
	defer done()
	if err := server.Shutdown(ctx); err != nil {
		server.Close()
	}
}

func (r *Relay) StreamURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamURLLocked()
}

func (r *Relay) streamURLLocked() string {
	host := r.cfg.AdvertiseHost
	if host == "" {
		host = outboundIP()
	}
	port := r.cfg.Port
	if r.listener != nil {
		port = r.listener.Addr().(*net.TCPAddr).Port
	}
	return fmt.Sprintf("http://%s/stream", net.JoinHostPort(host, fmt.Sprint(port)))
}

// fanOut reads the source exactly once and distributes every frame to the
// current client set. Config frames are additionally retained for replay.
func (r *Relay) fanOut(ctx context.Context, source <-chan domain.EncodedFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				r.logger.Infow("relay frame source ended")
				return
			}
			r.mu.Lock()
			if frame.IsConfig {
				r.configFrame = append([]byte(nil), frame.Payload...)
			}
			for _, c := range r.clients {
				select {
				case c.frames <- frame:
				default:
					// Slow client: drop this frame for it rather
					// than stall the whole fan-out.
				}
			}
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.FrameRelayed(len(frame.Payload))
			}
		}
	}
}

func (r *Relay) handleStream(c *gin.Context) {
	if !r.limiter.Allow() {
		c.Status(http.StatusTooManyRequests)
		return
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		c.Status(http.StatusServiceUnavailable)
		return
	}
	cl := &client{
		id:     uuid.NewString(),
		frames: make(chan domain.EncodedFrame, clientBufferSize),
		done:   make(chan struct{}),
	}
	configFrame := r.configFrame
	r.clients[cl.id] = cl
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RelayClientConnected()
	}
	r.logger.Infow("relay client attached", "client_id", cl.id, "remote", c.ClientIP())
	defer func() {
		r.removeClient(cl.id)
		if r.metrics != nil {
			r.metrics.RelayClientDisconnected()
		}
	}()

	header := c.Writer.Header()
	header.Set("Content-Type", "video/mp4")
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Cache-Control", "no-cache")
	// Direct map writes keep the DLNA header casing intact; renderers match
	// these names case-sensitively.
	header["TransferMode.DLNA.ORG"] = []string{"Streaming"}
	header["contentFeatures.dlna.org"] = []string{dlnaContentFeatures}
	c.Status(http.StatusOK)
	c.Writer.Flush()

	// Late joiners get the stream header before any live frame.
	if len(configFrame) > 0 {
		if _, err := c.Writer.Write(configFrame); err != nil {
			return
		}
		c.Writer.Flush()
	}

	for {
		select {
		case <-cl.done:
			return
		case <-c.Request.Context().Done():
			return
		case frame := <-cl.frames:
			if _, err := c.Writer.Write(frame.Payload); err != nil {
				// Broken pipe on this client only.
				r.logger.Debugw("relay client write failed", "client_id", cl.id, "error", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func (r *Relay) handleCrossDomain(c *gin.Context) {
	c.Data(http.StatusOK, "text/x-cross-domain-policy", []byte(crossDomainPolicy))
}

func (r *Relay) removeClient(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// ClientCount reports the number of currently attached clients.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// outboundIP finds the local address used for LAN traffic. The dial never
// sends a packet; UDP connect only selects a route.
func outboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
