package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"castbridge/internal/core/domain"
	"castbridge/internal/discovery"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubManager struct {
	state    domain.CastState
	startErr error
	stopped  int
}

func (s *stubManager) StartCasting(ctx context.Context, device domain.Device) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.state = domain.Casting(device, "http://192.168.1.10:8888/stream")
	return nil
}

func (s *stubManager) StopCasting() {
	s.stopped++
	s.state = domain.Idle()
}

func (s *stubManager) State() domain.CastState { return s.state }

type stubRelay struct{}

func (stubRelay) SetFrameSource(<-chan domain.EncodedFrame) {}
func (stubRelay) Start(context.Context) error               { return nil }
func (stubRelay) Stop()                                     {}
func (stubRelay) StreamURL() string                         { return "http://192.168.1.10:8888/stream" }

type testServer struct {
	router   *gin.Engine
	registry *discovery.Registry
	manager  *stubManager
	started  int
	stopped  int
}

func newTestServer() *testServer {
	ts := &testServer{
		registry: discovery.NewRegistry(),
		manager:  &stubManager{state: domain.Idle()},
	}
	handler := NewControlHandler(
		ts.registry, ts.manager, stubRelay{}, nil, nil,
		func() { ts.started++ },
		func() { ts.stopped++ },
		zap.NewNop().Sugar(),
	)
	ts.router = gin.New()
	handler.SetupRoutes(ts.router, nil)
	return ts
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestListDevices(t *testing.T) {
	ts := newTestServer()
	ts.registry.Upsert(domain.Device{ID: "dlna-1", Name: "Living Room TV", Type: domain.DeviceDLNA})

	rec := ts.request(t, http.MethodGet, "/api/v1/devices", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Devices []domain.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "Living Room TV", resp.Devices[0].Name)
}

func TestDiscoveryEndpoints(t *testing.T) {
	ts := newTestServer()

	rec := ts.request(t, http.MethodPost, "/api/v1/discovery/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.started)

	rec = ts.request(t, http.MethodPost, "/api/v1/discovery/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.stopped)
}

func TestStartCast(t *testing.T) {
	ts := newTestServer()
	ts.registry.Upsert(domain.Device{ID: "cc-1", Name: "TV", Type: domain.DeviceChromecast})

	rec := ts.request(t, http.MethodPost, "/api/v1/cast", gin.H{"device_id": "cc-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://192.168.1.10:8888/stream")
}

func TestStartCastUnknownDevice(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(t, http.MethodPost, "/api/v1/cast", gin.H{"device_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCastMissingBody(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(t, http.MethodPost, "/api/v1/cast", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCastConflict(t *testing.T) {
	ts := newTestServer()
	ts.registry.Upsert(domain.Device{ID: "cc-1", Name: "TV", Type: domain.DeviceChromecast})
	ts.manager.startErr = domain.ErrAlreadyCasting

	rec := ts.request(t, http.MethodPost, "/api/v1/cast", gin.H{"device_id": "cc-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopCast(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(t, http.MethodPost, "/api/v1/cast/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.manager.stopped)
}

func TestGetState(t *testing.T) {
	ts := newTestServer()
	device := domain.Device{ID: "d-1", Name: "TV", Type: domain.DeviceDLNA}
	ts.manager.state = domain.Casting(device, "http://192.168.1.10:8888/stream")

	rec := ts.request(t, http.MethodGet, "/api/v1/state", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"casting"`)
	assert.Contains(t, rec.Body.String(), "stream_url")
}

func TestHealthzWithoutChecker(t *testing.T) {
	ts := newTestServer()
	rec := ts.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
