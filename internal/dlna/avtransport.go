package dlna

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/infrastructure/monitoring"
	"castbridge/internal/wire"
	"castbridge/pkg/tracing"

	"go.uber.org/zap"
)

const (
	avTransportNamespace = "urn:schemas-upnp-org:service:AVTransport:1"

	// Fixed DLNA.ORG protocolInfo for a live MP4 stream: byte seek allowed,
	// no conversion indication, streaming-mode flags.
	dlnaProtocolInfo = "http-get:*:video/mp4:DLNA.ORG_OP=01;DLNA.ORG_CI=0;" +
		"DLNA.ORG_FLAGS=01700000000000000000000000000000"
)

// AVTransportClient drives a single renderer's AVTransport control endpoint
// over SOAP. Network and protocol failures surface as false/nil results and
// never cross this boundary as panics or raw errors.
type AVTransportClient struct {
	controlURL string
	httpClient *http.Client
	logger     *zap.SugaredLogger
	metrics    *monitoring.Collector
}

func NewAVTransportClient(device domain.Device, logger *zap.SugaredLogger) (*AVTransportClient, error) {
	if strings.TrimSpace(device.ControlURL) == "" {
		return nil, domain.ErrNoControlURL
	}
	return &AVTransportClient{
		controlURL: device.ControlURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}, nil
}

func (c *AVTransportClient) SetMetrics(metrics *monitoring.Collector) {
	c.metrics = metrics
}

// SetAVTransportURI points the renderer at the stream URL with DIDL-Lite
// metadata. Both the URI and the metadata are XML-escaped before embedding.
func (c *AVTransportClient) SetAVTransportURI(ctx context.Context, uri, title string) bool {
	metadata := buildDIDLMetadata(uri, title)
	_, ok := c.invoke(ctx, "SetAVTransportURI", []wire.SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: wire.EscapeXML(uri)},
		{Name: "CurrentURIMetaData", Value: wire.EscapeXML(metadata)},
	})
	return ok
}

func (c *AVTransportClient) Play(ctx context.Context) bool {
	_, ok := c.invoke(ctx, "Play", []wire.SOAPArg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Speed", Value: "1"},
	})
	return ok
}

func (c *AVTransportClient) Pause(ctx context.Context) bool {
	_, ok := c.invoke(ctx, "Pause", []wire.SOAPArg{{Name: "InstanceID", Value: "0"}})
	return ok
}

func (c *AVTransportClient) Stop(ctx context.Context) bool {
	_, ok := c.invoke(ctx, "Stop", []wire.SOAPArg{{Name: "InstanceID", Value: "0"}})
	return ok
}

// GetTransportInfo reads the renderer's playback state; nil on any failure.
func (c *AVTransportClient) GetTransportInfo(ctx context.Context) *domain.TransportInfo {
	body, ok := c.invoke(ctx, "GetTransportInfo", []wire.SOAPArg{{Name: "InstanceID", Value: "0"}})
	if !ok {
		return nil
	}

	state, found := wire.ExtractXMLValue(body, "CurrentTransportState")
	if !found {
		return nil
	}
	status, found := wire.ExtractXMLValue(body, "CurrentTransportStatus")
	if !found {
		status = "OK"
	}
	speed, found := wire.ExtractXMLValue(body, "CurrentSpeed")
	if !found {
		speed = "1"
	}

	return &domain.TransportInfo{
		State:  MapTransportState(state),
		Status: status,
		Speed:  speed,
	}
}

// invoke sends one SOAP action and returns the response body and whether the
// renderer answered with a 2xx status.
func (c *AVTransportClient) invoke(ctx context.Context, action string, args []wire.SOAPArg) (respBody string, ok bool) {
	ctx, span := tracing.TraceSOAPAction(ctx, action, c.controlURL)
	defer span.End()
	defer func() {
		if c.metrics != nil {
			c.metrics.SOAPRequest(action, ok)
		}
	}()

	envelope := wire.BuildSOAPEnvelope(action, avTransportNamespace, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.controlURL, strings.NewReader(envelope))
	if err != nil {
		c.logger.Debugw("soap request build failed", "action", action, "error", err)
		return "", false
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", avTransportNamespace+"#"+action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debugw("soap request failed", "action", action, "error", err)
		return "", false
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		c.logger.Debugw("soap response read failed", "action", action, "error", err)
		return "", false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debugw("soap action rejected", "action", action, "status", resp.StatusCode)
		return string(raw), false
	}
	return string(raw), true
}

// buildDIDLMetadata renders the DIDL-Lite item describing the live video
// stream. The result is embedded as escaped argument text, so it stays raw here.
func buildDIDLMetadata(uri, title string) string {
	return `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/"` +
		` xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
		`<item id="0" parentID="-1" restricted="1">` +
		`<dc:title>` + wire.EscapeXML(title) + `</dc:title>` +
		`<upnp:class>object.item.videoItem</upnp:class>` +
		`<res protocolInfo="` + dlnaProtocolInfo + `">` + wire.EscapeXML(uri) + `</res>` +
		`</item></DIDL-Lite>`
}

// MapTransportState maps the renderer-reported state string to the enum,
// case-insensitively, defaulting to UNKNOWN.
func MapTransportState(raw string) domain.TransportState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "STOPPED":
		return domain.TransportStopped
	case "PLAYING":
		return domain.TransportPlaying
	case "PAUSED_PLAYBACK":
		return domain.TransportPausedPlayback
	case "TRANSITIONING":
		return domain.TransportTransitioning
	case "NO_MEDIA_PRESENT":
		return domain.TransportNoMediaPresent
	default:
		return domain.TransportUnknown
	}
}
