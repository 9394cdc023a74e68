package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"castbridge/internal/core/domain"
	"castbridge/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRelay(t *testing.T) (*Relay, chan domain.EncodedFrame) {
	t.Helper()
	source := make(chan domain.EncodedFrame, 16)
	r := NewRelay(
		Config{Port: 0, AdvertiseHost: "127.0.0.1", ConnectsPerSecond: 100},
		zap.NewNop().Sugar(),
		monitoring.NewCollector(prometheus.NewRegistry()),
	)
	r.SetFrameSource(source)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r, source
}

func relayPort(r *Relay) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener.Addr().(*net.TCPAddr).Port
}

func openStream(t *testing.T, r *Relay) *http.Response {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/stream", relayPort(r)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitForClients(t *testing.T, r *Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (now %d)", n, r.ClientCount())
}

func TestRelayStartWithoutSource(t *testing.T) {
	r := NewRelay(Config{Port: 0}, zap.NewNop().Sugar(), nil)
	assert.ErrorIs(t, r.Start(context.Background()), domain.ErrNoFrameSource)
}

func TestRelayStreamHeaders(t *testing.T) {
	r, _ := newTestRelay(t)
	resp := openStream(t, r)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "Streaming", resp.Header.Get("TransferMode.DLNA.ORG"))
	assert.Contains(t, resp.Header.Get("contentFeatures.dlna.org"), "DLNA.ORG_OP=01")
}

func TestRelayCrossDomainPolicy(t *testing.T) {
	r, _ := newTestRelay(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/crossdomain.xml", relayPort(r)))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `<allow-access-from domain="*"/>`)
}

func TestRelayLateJoinerGetsConfigFrameFirst(t *testing.T) {
	r, source := newTestRelay(t)

	source <- domain.EncodedFrame{Payload: []byte("CONFIG"), IsConfig: true}

	// Wait until the fan-out has captured the config frame.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		captured := len(r.configFrame) > 0
		r.mu.Unlock()
		if captured {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := openStream(t, r)
	waitForClients(t, r, 1)
	source <- domain.EncodedFrame{Payload: []byte("LIVE1"), IsKeyFrame: true}

	buf := make([]byte, len("CONFIG")+len("LIVE1"))
	_, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "CONFIGLIVE1", string(buf))
}

func TestRelayBrokenPipeIsolation(t *testing.T) {
	r, source := newTestRelay(t)

	first := openStream(t, r)
	second := openStream(t, r)
	waitForClients(t, r, 2)

	// Kill the first client mid-stream.
	first.Body.Close()

	for i := 0; i < 5; i++ {
		source <- domain.EncodedFrame{Payload: []byte{byte(i)}}
	}

	// The surviving client keeps receiving frames.
	buf := make([]byte, 5)
	_, err := io.ReadFull(second.Body, buf)
	require.NoError(t, err)

	waitForClients(t, r, 1)
}

func TestRelayStopDisconnectsAndReleasesPort(t *testing.T) {
	source := make(chan domain.EncodedFrame)
	r := NewRelay(Config{Port: 0, AdvertiseHost: "127.0.0.1"}, zap.NewNop().Sugar(), nil)
	r.SetFrameSource(source)
	require.NoError(t, r.Start(context.Background()))

	resp := openStream(t, r)
	waitForClients(t, r, 1)

	r.Stop()
	r.Stop() // idempotent

	// The attached client sees end-of-stream.
	buf := make([]byte, 1)
	_, err := resp.Body.Read(buf)
	assert.Error(t, err)

	// Port is released: a fresh relay can start again immediately.
	r2 := NewRelay(Config{Port: 0, AdvertiseHost: "127.0.0.1"}, zap.NewNop().Sugar(), nil)
	r2.SetFrameSource(source)
	require.NoError(t, r2.Start(context.Background()))
	r2.Stop()
}

func TestRelayStreamURL(t *testing.T) {
	r, _ := newTestRelay(t)
	url := r.StreamURL()
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/stream", relayPort(r)), url)
}
