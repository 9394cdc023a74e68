package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/wire"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	ssdpReadBufSize   = 8192
)

// Search targets sent in every round. Multiple overlapping targets raise the
// odds of an answer from renderers that only match specific ST values.
var ssdpSearchTargets = []string{
	"ssdp:all",
	"upnp:rootdevice",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:schemas-upnp-org:service:AVTransport:1",
	"urn:dial-multiscreen-org:service:dial:1",
}

// Services that identify media servers rather than renderers; responses
// advertising them are not casting targets.
var ssdpRejectMarkers = []string{"contentdirectory", "connectionmanager"}

// SSDPConfig tunes one discovery run.
type SSDPConfig struct {
	Window       time.Duration // overall discovery window
	Rounds       int           // M-SEARCH repetitions
	RoundDelay   time.Duration // delay between repetitions
	ReadTimeout  time.Duration // per-receive deadline
	FetchDetails bool          // fetch and parse device-description XML
}

// DefaultSSDPConfig returns the timings used when the config file leaves the
// discovery section empty.
func DefaultSSDPConfig() SSDPConfig {
	return SSDPConfig{
		Window:       8 * time.Second,
		Rounds:       3,
		RoundDelay:   500 * time.Millisecond,
		ReadTimeout:  1 * time.Second,
		FetchDetails: true,
	}
}

// SSDPDiscoverer finds UPnP renderers via multicast M-SEARCH. One instance
// supports repeated Discover runs; Stop cancels the run in flight.
type SSDPDiscoverer struct {
	cfg        SSDPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
}

// NewSSDPDiscoverer creates a discoverer. The limiter paces outbound M-SEARCH
// datagrams so repeated rounds do not burst onto the multicast group.
func NewSSDPDiscoverer(cfg SSDPConfig, logger *zap.SugaredLogger) *SSDPDiscoverer {
	return &SSDPDiscoverer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(50*time.Millisecond), len(ssdpSearchTargets)),
		logger:     logger,
	}
}

// Discover starts a discovery run and returns the device channel. The channel
// is closed when the window elapses, the context is cancelled or Stop is called.
func (d *SSDPDiscoverer) Discover(ctx context.Context) (<-chan domain.Device, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open SSDP socket: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Window)

	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.conn = conn
	d.cancel = cancel
	d.mu.Unlock()

	out := make(chan domain.Device, 8)
	go d.run(runCtx, conn, out)
	return out, nil
}

// Stop cancels the in-flight discovery and releases the socket. Safe to call
// when no run is active.
func (d *SSDPDiscoverer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *SSDPDiscoverer) run(ctx context.Context, conn net.PacketConn, out chan<- domain.Device) {
	defer close(out)
	defer conn.Close()
	defer func() {
		d.mu.Lock()
		if d.conn == conn {
			d.conn = nil
			d.cancel = nil
		}
		d.mu.Unlock()
	}()

	go d.sendSearchRounds(ctx, conn)

	seen := make(map[domain.DeviceID]struct{})
	buf := make([]byte, ssdpReadBufSize)

	for ctx.Err() == nil {
		deadline := time.Now().Add(d.cfg.ReadTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		conn.SetReadDeadline(deadline)

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		device, ok := parseSSDPResponse(string(buf[:n]), from)
		if !ok {
			continue
		}
		if _, dup := seen[device.ID]; dup {
			continue
		}
		seen[device.ID] = struct{}{}

		if d.cfg.FetchDetails {
			device = d.enrichDevice(ctx, device)
		}

		select {
		case out <- device:
			d.logger.Infow("ssdp device discovered",
				"id", device.ID, "name", device.Name, "address", device.Address)
		case <-ctx.Done():
			return
		}
	}
}

func (d *SSDPDiscoverer) sendSearchRounds(ctx context.Context, conn net.PacketConn) {
	dst, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		d.logger.Errorw("failed to resolve SSDP multicast address", "error", err)
		return
	}

	for round := 0; round < d.cfg.Rounds; round++ {
		for _, target := range ssdpSearchTargets {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			msg := buildMSearch(target)
			if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
				d.logger.Debugw("ssdp send failed", "target", target, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.RoundDelay):
		}
	}
}

func buildMSearch(target string) string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpMulticastAddr + "\r\n" +
		`MAN: "ssdp:discover"` + "\r\n" +
		"MX: 2\r\n" +
		"ST: " + target + "\r\n" +
		"\r\n"
}

// parseSSDPResponse accepts HTTP-response-shaped and NOTIFY payloads, parses
// the header block case-insensitively and builds the minimal device record.
// The LOCATION value doubles as the initial control URL until the description
// fetch replaces it.
func parseSSDPResponse(payload string, from net.Addr) (domain.Device, bool) {
	lines := strings.Split(payload, "\r\n")
	if len(lines) == 0 {
		return domain.Device{}, false
	}
	firstLine := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(firstLine, "HTTP/1.1 200") && !strings.HasPrefix(firstLine, "NOTIFY") {
		return domain.Device{}, false
	}

	headers := make(map[string]string, len(lines))
	for _, line := range lines[1:] {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		headers[key] = strings.TrimSpace(line[idx+1:])
	}

	location := headers["location"]
	if location == "" {
		return domain.Device{}, false
	}

	serviceType := headers["st"]
	if serviceType == "" {
		serviceType = headers["nt"]
	}
	lowerST := strings.ToLower(serviceType)
	for _, marker := range ssdpRejectMarkers {
		if strings.Contains(lowerST, marker) {
			return domain.Device{}, false
		}
	}

	usn := headers["usn"]
	idSource := usn
	if idSource == "" {
		idSource = location
	}

	address, port := hostPortFromLocation(location, from)

	deviceType := domain.DeviceDLNA
	if strings.Contains(strings.ToLower(headers["server"]), "roku") ||
		strings.Contains(lowerST, "roku") {
		deviceType = domain.DeviceRoku
	}

	return domain.Device{
		ID:         stableID(idSource),
		Name:       address,
		Type:       deviceType,
		Address:    address,
		Port:       port,
		ControlURL: location,
	}, true
}

func stableID(source string) domain.DeviceID {
	sum := sha1.Sum([]byte(source))
	return domain.DeviceID("ssdp-" + hex.EncodeToString(sum[:8]))
}

func hostPortFromLocation(location string, from net.Addr) (string, int) {
	if parsed, err := url.Parse(location); err == nil && parsed.Hostname() != "" {
		port := 80
		if p := parsed.Port(); p != "" {
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		return parsed.Hostname(), port
	}
	if udp, ok := from.(*net.UDPAddr); ok {
		return udp.IP.String(), udp.Port
	}
	return from.String(), 0
}

// enrichDevice fetches the device-description XML behind LOCATION and fills
// in friendly name, model, manufacturer and the AVTransport control URL.
// Any failure degrades to the minimal SSDP record.
func (d *SSDPDiscoverer) enrichDevice(ctx context.Context, device domain.Device) domain.Device {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, device.ControlURL, nil)
	if err != nil {
		return device
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Debugw("device description fetch failed", "id", device.ID, "error", err)
		return device
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil || resp.StatusCode != http.StatusOK {
		return device
	}

	location := device.ControlURL
	xml := string(body)
	if name, ok := wire.ExtractXMLValue(xml, "friendlyName"); ok {
		device.Name = name
	}
	if model, ok := wire.ExtractXMLValue(xml, "modelName"); ok {
		device.ModelName = model
	}
	if manufacturer, ok := wire.ExtractXMLValue(xml, "manufacturer"); ok {
		device.Manufacturer = manufacturer
	}
	if controlURL, ok := extractAVTransportControlURL(xml); ok {
		device.ControlURL = absolutizeURL(controlURL, location)
	}
	return device
}

// extractAVTransportControlURL finds the controlURL nested under the
// AVTransport service block rather than the first controlURL in the document.
func extractAVTransportControlURL(xml string) (string, bool) {
	idx := strings.Index(xml, "urn:schemas-upnp-org:service:AVTransport")
	if idx < 0 {
		return "", false
	}
	return wire.ExtractXMLValue(xml[idx:], "controlURL")
}

func absolutizeURL(raw, base string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.IsAbs() {
		return raw
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}
	return baseURL.ResolveReference(parsed).String()
}
