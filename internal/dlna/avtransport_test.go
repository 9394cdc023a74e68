package dlna

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"castbridge/internal/core/domain"
	"castbridge/internal/infrastructure/monitoring"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedRequest struct {
	soapAction  string
	contentType string
	body        string
}

func newSOAPServer(t *testing.T, status int, responseBody string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			soapAction:  r.Header.Get("SOAPAction"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		w.WriteHeader(status)
		w.Write([]byte(responseBody))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newClient(t *testing.T, controlURL string) *AVTransportClient {
	t.Helper()
	client, err := NewAVTransportClient(domain.Device{
		ID:         "dev-1",
		Type:       domain.DeviceDLNA,
		ControlURL: controlURL,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresControlURL(t *testing.T) {
	_, err := NewAVTransportClient(domain.Device{ID: "dev-1"}, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, domain.ErrNoControlURL)
}

func TestSetAVTransportURIEscapesTitle(t *testing.T) {
	server, requests := newSOAPServer(t, http.StatusOK, "")
	client := newClient(t, server.URL)

	ok := client.SetAVTransportURI(context.Background(), "http://10.0.0.2:8080/stream", "O'Brien & Sons")
	require.True(t, ok)
	require.Len(t, *requests, 1)

	req := (*requests)[0]
	assert.Equal(t, `"urn:schemas-upnp-org:service:AVTransport:1#SetAVTransportURI"`, req.soapAction)
	assert.Equal(t, `text/xml; charset="utf-8"`, req.contentType)

	// Title is escaped inside the DIDL metadata, then the metadata is escaped
	// again for envelope embedding.
	assert.Contains(t, req.body, "O&amp;apos;Brien &amp;amp; Sons")
	assert.NotContains(t, req.body, "O'Brien")
}

func TestPlayPauseStopInterpretStatus(t *testing.T) {
	okServer, _ := newSOAPServer(t, http.StatusOK, "")
	failServer, _ := newSOAPServer(t, http.StatusInternalServerError, "")

	okClient := newClient(t, okServer.URL)
	failClient := newClient(t, failServer.URL)
	ctx := context.Background()

	assert.True(t, okClient.Play(ctx))
	assert.True(t, okClient.Pause(ctx))
	assert.True(t, okClient.Stop(ctx))

	assert.False(t, failClient.Play(ctx))
	assert.False(t, failClient.Pause(ctx))
	assert.False(t, failClient.Stop(ctx))
}

func TestPlayUnreachableRenderer(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:1/control")
	assert.False(t, client.Play(context.Background()))
}

func TestGetTransportInfo(t *testing.T) {
	response := `<s:Envelope><s:Body><u:GetTransportInfoResponse>` +
		`<CurrentTransportState>paused_playback</CurrentTransportState>` +
		`<CurrentTransportStatus>OK</CurrentTransportStatus>` +
		`</u:GetTransportInfoResponse></s:Body></s:Envelope>`
	server, _ := newSOAPServer(t, http.StatusOK, response)
	client := newClient(t, server.URL)

	info := client.GetTransportInfo(context.Background())
	require.NotNil(t, info)
	assert.Equal(t, domain.TransportPausedPlayback, info.State)
	assert.Equal(t, "OK", info.Status)
	assert.Equal(t, "1", info.Speed) // defaulted, not present in response
}

func TestInvokeCountsSOAPRequests(t *testing.T) {
	okServer, _ := newSOAPServer(t, http.StatusOK, "")
	failServer, _ := newSOAPServer(t, http.StatusInternalServerError, "")

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewCollector(registry)

	okClient := newClient(t, okServer.URL)
	okClient.SetMetrics(metrics)
	failClient := newClient(t, failServer.URL)
	failClient.SetMetrics(metrics)

	ctx := context.Background()
	require.True(t, okClient.Play(ctx))
	require.False(t, failClient.Play(ctx))

	assert.Equal(t, 1.0, counterValue(t, registry, "castbridge_soap_requests_total", "Play", "ok"))
	assert.Equal(t, 1.0, counterValue(t, registry, "castbridge_soap_requests_total", "Play", "error"))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, action, outcome string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["action"] == action && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestGetTransportInfoFailure(t *testing.T) {
	server, _ := newSOAPServer(t, http.StatusOK, "<nothing/>")
	client := newClient(t, server.URL)
	assert.Nil(t, client.GetTransportInfo(context.Background()))
}

func TestMapTransportState(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.TransportState
	}{
		{"PLAYING", domain.TransportPlaying},
		{"playing", domain.TransportPlaying},
		{"PAUSED_PLAYBACK", domain.TransportPausedPlayback},
		{"Stopped", domain.TransportStopped},
		{"TRANSITIONING", domain.TransportTransitioning},
		{"NO_MEDIA_PRESENT", domain.TransportNoMediaPresent},
		{"SOMETHING_ELSE", domain.TransportUnknown},
		{"", domain.TransportUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapTransportState(tt.raw), tt.raw)
	}
}

func TestBuildDIDLMetadata(t *testing.T) {
	metadata := buildDIDLMetadata("http://10.0.0.2:8080/stream?a=1&b=2", "O'Brien & Sons")
	assert.Contains(t, metadata, "O&apos;Brien &amp; Sons")
	assert.Contains(t, metadata, "object.item.videoItem")
	assert.Contains(t, metadata, "DLNA.ORG_OP=01")
	assert.False(t, strings.Contains(metadata, "a=1&b"), "raw ampersand in res URI")
}
