package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/core/ports"
	"castbridge/internal/infrastructure/monitoring"
	"castbridge/pkg/retry"
	"castbridge/pkg/validation"

	"go.uber.org/zap"
)

const (
	defaultMonitorInterval   = 5 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
)

type Config struct {
	// MonitorInterval is the DLNA GetTransportInfo poll period.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// HeartbeatInterval is the Cast v2 PING period.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Retry             retry.Config  `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MonitorInterval:   defaultMonitorInterval,
		HeartbeatInterval: defaultHeartbeatInterval,
		Retry:             retry.DefaultConfig(),
	}
}

// Deps are the collaborators a cast session is assembled from. Controllers
// and sessions are created per device through the factories so one manager
// can serve successive sessions against different devices.
type Deps struct {
	Relay      ports.StreamRelay
	Frames     ports.FrameSource
	WiFiDirect ports.WiFiDirect

	NewTransport   func(device domain.Device, logger *zap.SugaredLogger) (ports.TransportController, error)
	NewCastChannel func(logger *zap.SugaredLogger) ports.CastChannel
	NewMiracast    func(logger *zap.SugaredLogger) ports.MiracastSession
}

// Manager owns the process-wide CastState. All transitions go through the
// manager's mutex, so no two callers can race it into conflicting states.
type Manager struct {
	cfg     Config
	deps    Deps
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector

	mu    sync.Mutex
	state domain.CastState

	// Resources of the active session, released by teardown.
	transport     ports.TransportController
	castChannel   ports.CastChannel
	miracast      ports.MiracastSession
	wifiConnected bool
	relayStarted  bool
	framesOpened  bool
	cancelTasks   context.CancelFunc
	tasks         sync.WaitGroup
}

func NewManager(cfg Config, deps Deps, logger *zap.SugaredLogger, metrics *monitoring.Collector) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		state:   domain.Idle(),
	}
}

func (m *Manager) State() domain.CastState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartCasting drives the device-appropriate protocol through its connect
// sequence. A session already connecting or casting is rejected with no state
// mutation; any step failure triggers full symmetric teardown and leaves the
// state at Error.
func (m *Manager) StartCasting(ctx context.Context, device domain.Device) error {
	switch device.Type {
	case domain.DeviceDLNA, domain.DeviceChromecast, domain.DeviceMiracast:
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedDevice, device.Type)
	}

	// Check-and-set must be indivisible.
	m.mu.Lock()
	if m.state.Phase == domain.PhaseCasting || m.state.Phase == domain.PhaseConnecting {
		m.mu.Unlock()
		return domain.ErrAlreadyCasting
	}
	m.setStateLocked(domain.Connecting(device))
	taskCtx, cancel := context.WithCancel(context.Background())
	m.cancelTasks = cancel
	m.mu.Unlock()

	m.logger.Infow("cast session starting", "device", device.Name, "type", device.Type)

	streamURL, err := m.connect(ctx, taskCtx, device)
	if err != nil {
		m.logger.Warnw("cast session failed", "device", device.Name, "error", err)
		m.teardown()
		m.mu.Lock()
		m.setStateLocked(domain.Errored(err.Error()))
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.setStateLocked(domain.Casting(device, streamURL))
	m.mu.Unlock()
	m.logger.Infow("cast session established", "device", device.Name, "stream_url", streamURL)
	return nil
}

// StopCasting releases every resource the active session acquired and always
// returns the state to Idle. Safe to call in any state, any number of times.
func (m *Manager) StopCasting() {
	m.teardown()
	m.mu.Lock()
	if m.state.Phase != domain.PhaseIdle {
		m.setStateLocked(domain.Idle())
	}
	m.mu.Unlock()
}

func (m *Manager) connect(ctx context.Context, taskCtx context.Context, device domain.Device) (string, error) {
	switch device.Type {
	case domain.DeviceDLNA:
		return m.connectDLNA(ctx, taskCtx, device)
	case domain.DeviceChromecast:
		return m.connectCast(ctx, taskCtx, device)
	case domain.DeviceMiracast:
		return m.connectMiracast(ctx, taskCtx, device)
	}
	return "", domain.ErrUnsupportedDevice
}

func (m *Manager) connectDLNA(ctx context.Context, taskCtx context.Context, device domain.Device) (string, error) {
	streamURL, err := m.startRelay(taskCtx)
	if err != nil {
		return "", err
	}

	transport, err := m.deps.NewTransport(device, m.logger)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()

	err = retry.Retry(ctx, m.cfg.Retry, func() error {
		if !transport.SetAVTransportURI(ctx, streamURL, device.Name) {
			return fmt.Errorf("SetAVTransportURI rejected by %s", device.Name)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !transport.Play(ctx) {
		return "", fmt.Errorf("Play rejected by %s", device.Name)
	}

	m.tasks.Add(1)
	go m.monitorDLNA(taskCtx, transport)
	return streamURL, nil
}

func (m *Manager) connectCast(ctx context.Context, taskCtx context.Context, device domain.Device) (string, error) {
	streamURL, err := m.startRelay(taskCtx)
	if err != nil {
		return "", err
	}

	channel := m.deps.NewCastChannel(m.logger)
	m.mu.Lock()
	m.castChannel = channel
	m.mu.Unlock()

	err = retry.Retry(ctx, m.cfg.Retry, func() error {
		if !channel.Connect(ctx, device.Address) {
			return fmt.Errorf("cast connect to %s failed", device.Address)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !channel.StartCasting(ctx, streamURL) {
		return "", fmt.Errorf("cast launch on %s failed", device.Name)
	}

	m.tasks.Add(1)
	go m.heartbeatCast(taskCtx, channel)
	return streamURL, nil
}

func (m *Manager) connectMiracast(ctx context.Context, taskCtx context.Context, device domain.Device) (string, error) {
	if m.deps.WiFiDirect != nil {
		if !m.deps.WiFiDirect.Connect(ctx, device.Address) {
			return "", fmt.Errorf("wifi-direct connect to %s failed", device.Address)
		}
		m.mu.Lock()
		m.wifiConnected = true
		m.mu.Unlock()
	}

	mc := m.deps.NewMiracast(m.logger)
	m.mu.Lock()
	m.miracast = mc
	m.mu.Unlock()

	if err := mc.Start(ctx); err != nil {
		return "", err
	}

	frames := m.deps.Frames.Frames(taskCtx)
	m.mu.Lock()
	m.framesOpened = true
	m.mu.Unlock()

	m.tasks.Add(1)
	go m.pumpMiracast(taskCtx, mc, frames)

	// No HTTP pull URL: the sink receives RTP directly.
	return "", nil
}

// startRelay attaches the frame source and brings up the HTTP relay. Used by
// the pull-based protocols (DLNA, Cast).
func (m *Manager) startRelay(taskCtx context.Context) (string, error) {
	frames := m.deps.Frames.Frames(taskCtx)
	m.deps.Relay.SetFrameSource(frames)
	m.mu.Lock()
	m.framesOpened = true
	m.mu.Unlock()

	if err := m.deps.Relay.Start(taskCtx); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.relayStarted = true
	m.mu.Unlock()

	// A bad advertise_host yields a URL the renderer cannot pull; fail the
	// session here instead of handing the device a dead address.
	streamURL := m.deps.Relay.StreamURL()
	if err := validation.ValidateStreamURL(streamURL); err != nil {
		return "", err
	}
	return streamURL, nil
}

// monitorDLNA polls the renderer's transport state. A renderer that reports
// STOPPED or stops answering ends the session.
func (m *Manager) monitorDLNA(ctx context.Context, transport ports.TransportController) {
	defer m.tasks.Done()
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info := transport.GetTransportInfo(ctx)
			if info == nil {
				misses++
				if misses >= 3 {
					m.logger.Warnw("renderer stopped answering, ending session")
					go m.failSession("renderer unreachable")
					return
				}
				continue
			}
			misses = 0
			if info.State == domain.TransportStopped {
				m.logger.Infow("renderer reports stopped, ending session")
				go m.failSession("renderer stopped playback")
				return
			}
		}
	}
}

// heartbeatCast pings the receiver on a fixed cadence; a failed send means
// the channel is gone.
func (m *Manager) heartbeatCast(ctx context.Context, channel ports.CastChannel) {
	defer m.tasks.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !channel.SendHeartbeat() {
				m.logger.Warnw("cast heartbeat failed, ending session")
				go m.failSession("cast channel lost")
				return
			}
		}
	}
}

func (m *Manager) pumpMiracast(ctx context.Context, mc ports.MiracastSession, frames <-chan domain.EncodedFrame) {
	defer m.tasks.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			mc.Deliver(frame)
		}
	}
}

// failSession is invoked by monitor tasks when the remote side dies. It runs
// the same teardown as StopCasting but lands in Error rather than Idle.
func (m *Manager) failSession(message string) {
	m.teardown()
	m.mu.Lock()
	if m.state.Phase == domain.PhaseCasting || m.state.Phase == domain.PhaseConnecting {
		m.setStateLocked(domain.Errored(message))
	}
	m.mu.Unlock()
}

// teardown releases everything startCasting acquired, in reverse order of
// acquisition. Idempotent: fields are cleared as they are released.
func (m *Manager) teardown() {
	m.mu.Lock()
	cancel := m.cancelTasks
	m.cancelTasks = nil
	transport := m.transport
	m.transport = nil
	channel := m.castChannel
	m.castChannel = nil
	mc := m.miracast
	m.miracast = nil
	wifiConnected := m.wifiConnected
	m.wifiConnected = false
	relayStarted := m.relayStarted
	m.relayStarted = false
	framesOpened := m.framesOpened
	m.framesOpened = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.tasks.Wait()

	stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	if channel != nil {
		channel.StopCasting(stopCtx)
		channel.Disconnect()
	}
	if transport != nil {
		transport.Stop(stopCtx)
	}
	if mc != nil {
		mc.Stop()
	}
	if wifiConnected && m.deps.WiFiDirect != nil {
		m.deps.WiFiDirect.Disconnect(stopCtx)
	}
	if relayStarted {
		m.deps.Relay.Stop()
	}
	if framesOpened && m.deps.Frames != nil {
		if err := m.deps.Frames.Close(); err != nil {
			m.logger.Debugw("frame source close failed", "error", err)
		}
	}
}

func (m *Manager) setStateLocked(state domain.CastState) {
	m.state = state
	if m.metrics != nil {
		m.metrics.StateTransition(string(state.Phase))
	}
}
