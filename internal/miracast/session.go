package miracast

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/infrastructure/monitoring"
	"castbridge/internal/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState tracks the WiFi-Display source lifecycle.
type SessionState string

const (
	StateStopped       SessionState = "stopped"
	StateListening     SessionState = "listening"
	StateSinkConnected SessionState = "sink_connected"
	StateStreaming     SessionState = "streaming"
)

const (
	// Well-known WFD session control port.
	defaultControlPort = 7236

	defaultAcceptTimeout = 30 * time.Second
	sessionTimeoutSecs   = 30

	// 90 kHz clock at a nominal 30 fps: fixed +3000 per frame, independent of
	// the frame's actual presentation time.
	rtpTimestampStep = 3000

	// Fixed WFD capability strings advertised to the sink.
	wfdVideoFormats = "00 00 02 04 0001DEAA 15555555 055555555 00 0000 0000 00 none none"
	wfdAudioCodecs  = "AAC 00000007 00"
)

var clientPortPattern = regexp.MustCompile(`client_port=(\d+)`)

// Config tunes a source session.
type Config struct {
	ControlPort   int
	AcceptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ControlPort:   defaultControlPort,
		AcceptTimeout: defaultAcceptTimeout,
	}
}

// Session is a WiFi-Display source: the sink-control half of RTSP over one
// TCP connection plus an RTP sender over UDP. A WiFi-Direct link to the sink
// must already exist.
type Session struct {
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector

	mu          sync.Mutex
	state       SessionState
	listener    net.Listener
	controlConn net.Conn
	rtpConn     net.PacketConn
	sinkIP      net.IP
	sinkRTPPort int
	sessionID   string

	// RTP counters: monotonic for the lifetime of this session object,
	// reset only by creating a new Session.
	seq       uint16
	timestamp uint32
	ssrc      uint32

	stopOnce sync.Once
	done     chan struct{}
}

func NewSession(cfg Config, logger *zap.SugaredLogger) *Session {
	if cfg.ControlPort < 0 {
		cfg.ControlPort = defaultControlPort
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = defaultAcceptTimeout
	}
	return &Session{
		cfg:       cfg,
		logger:    logger,
		state:     StateStopped,
		sessionID: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		ssrc:      uint32(time.Now().UnixNano()),
		done:      make(chan struct{}),
	}
}

// SetMetrics attaches the metrics collector; optional.
func (s *Session) SetMetrics(metrics *monitoring.Collector) {
	s.metrics = metrics
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ControlAddr returns the bound control listener address, or nil before Start.
func (s *Session) ControlAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start opens the RTSP control listener and the RTP socket, then accepts
// exactly one inbound sink connection asynchronously.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return fmt.Errorf("session already started in state %s", s.state)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ControlPort))
	if err != nil {
		return fmt.Errorf("failed to bind WFD control port: %w", err)
	}
	rtpConn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to open RTP socket: %w", err)
	}

	s.listener = listener
	s.rtpConn = rtpConn
	s.state = StateListening

	go s.acceptLoop(ctx, listener)
	return nil
}

func (s *Session) acceptLoop(ctx context.Context, listener net.Listener) {
	type deadliner interface{ SetDeadline(time.Time) error }
	if d, ok := listener.(deadliner); ok {
		d.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
	}

	conn, err := listener.Accept()
	if err != nil {
		s.logger.Debugw("wfd accept ended", "error", err)
		s.Stop()
		return
	}

	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.controlConn = conn
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.sinkIP = tcpAddr.IP
	}
	s.state = StateSinkConnected
	s.mu.Unlock()

	s.logger.Infow("wfd sink connected", "remote", conn.RemoteAddr().String())
	s.serveControl(ctx, conn)
}

// serveControl handles RTSP requests strictly in arrival order on the single
// control connection. A malformed request line ends the loop gracefully.
func (s *Session) serveControl(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for ctx.Err() == nil {
		req, err := ReadRequest(reader)
		if err != nil {
			if err == ErrMalformedRequestLine {
				s.logger.Debugw("wfd control ended on malformed request line")
			}
			s.Stop()
			return
		}

		resp, teardown := s.respond(req)
		if _, err := conn.Write([]byte(resp.Format())); err != nil {
			s.Stop()
			return
		}
		if teardown {
			go s.Stop()
			return
		}
	}
}

// respond implements the RTSP method table. The second return value is set
// when the session should stop after the response is written.
func (s *Session) respond(req *Request) (*Response, bool) {
	cseq := req.Header("CSeq")

	switch req.Method {
	case "OPTIONS":
		return NewResponse(200, "OK", cseq).
			AddHeader("Public", "OPTIONS, GET_PARAMETER, SET_PARAMETER, SETUP, PLAY, PAUSE, TEARDOWN"), false

	case "GET_PARAMETER":
		body := fmt.Sprintf("wfd_video_formats: %s\r\nwfd_audio_codecs: %s\r\nwfd_client_rtp_ports: RTP/AVP/UDP;unicast %d 0 mode=play\r\n",
			wfdVideoFormats, wfdAudioCodecs, s.localRTPPort())
		return NewResponse(200, "OK", cseq).SetBody("text/parameters", body), false

	case "SET_PARAMETER":
		// Sink capability negotiation is accepted without substantive parsing.
		return NewResponse(200, "OK", cseq), false

	case "SETUP":
		s.recordSinkRTPPort(req.Header("Transport"))
		return NewResponse(200, "OK", cseq).
			AddHeader("Session", fmt.Sprintf("%s;timeout=%d", s.sessionID, sessionTimeoutSecs)).
			AddHeader("Transport", fmt.Sprintf("RTP/AVP/UDP;unicast;client_port=%d;server_port=%d",
				s.sinkPort(), s.localRTPPort())), false

	case "PLAY":
		s.mu.Lock()
		s.state = StateStreaming
		s.mu.Unlock()
		s.logger.Infow("wfd streaming started", "sink_rtp_port", s.sinkPort())
		return NewResponse(200, "OK", cseq), false

	case "PAUSE":
		s.mu.Lock()
		if s.state == StateStreaming {
			s.state = StateSinkConnected
		}
		s.mu.Unlock()
		return NewResponse(200, "OK", cseq), false

	case "TEARDOWN":
		return NewResponse(200, "OK", cseq), true

	default:
		return NewResponse(501, "Not Implemented", cseq), false
	}
}

func (s *Session) recordSinkRTPPort(transport string) {
	match := clientPortPattern.FindStringSubmatch(transport)
	if len(match) != 2 {
		return
	}
	port, err := strconv.Atoi(match[1])
	if err != nil {
		return
	}
	s.mu.Lock()
	s.sinkRTPPort = port
	s.mu.Unlock()
}

func (s *Session) sinkPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkRTPPort
}

func (s *Session) localRTPPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rtpConn == nil {
		return 0
	}
	if udp, ok := s.rtpConn.LocalAddr().(*net.UDPAddr); ok {
		return udp.Port
	}
	return 0
}

// Deliver packetizes one encoded frame and sends it to the sink's negotiated
// RTP port. Frames arriving before the sink address and port are known, or
// before PLAY, are silently dropped.
func (s *Session) Deliver(frame domain.EncodedFrame) {
	s.mu.Lock()
	if s.state != StateStreaming || s.sinkIP == nil || s.sinkRTPPort == 0 || s.rtpConn == nil {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.timestamp += rtpTimestampStep
	seq := s.seq
	timestamp := s.timestamp
	ssrc := s.ssrc
	conn := s.rtpConn
	dst := &net.UDPAddr{IP: s.sinkIP, Port: s.sinkRTPPort}
	s.mu.Unlock()

	// Payload type 33 (MPEG2-TS) with the encoded unit forwarded verbatim;
	// no TS muxing is performed.
	packet := wire.BuildRTPHeader(seq, timestamp, ssrc, frame.IsKeyFrame, wire.PayloadTypeMP2T)
	packet = append(packet, frame.Payload...)

	if _, err := conn.WriteTo(packet, dst); err != nil {
		s.logger.Debugw("rtp send failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RTPPacketSent()
	}
}

// Stop tears the session down: listener, control connection and RTP socket.
// Idempotent and safe to call concurrently with an in-progress session.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		listener := s.listener
		controlConn := s.controlConn
		rtpConn := s.rtpConn
		s.listener = nil
		s.controlConn = nil
		s.rtpConn = nil
		s.state = StateStopped
		s.mu.Unlock()

		if listener != nil {
			listener.Close()
		}
		if controlConn != nil {
			controlConn.Close()
		}
		if rtpConn != nil {
			rtpConn.Close()
		}
		close(s.done)
		s.logger.Infow("wfd session stopped")
	})
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
