package http

import (
	"errors"
	"net/http"

	"castbridge/internal/core/domain"
	"castbridge/internal/core/ports"
	"castbridge/internal/events"
	"castbridge/internal/infrastructure/monitoring"
	"castbridge/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ControlHandler exposes the daemon's operations over HTTP: device listing,
// discovery restart, session start/stop and the event stream.
type ControlHandler struct {
	registry ports.DeviceRegistry
	manager  ports.SessionManager
	relay    ports.StreamRelay
	hub      *events.Hub
	health   *monitoring.HealthChecker
	startRun func()
	stopRun  func()
	logger   *zap.SugaredLogger
}

func NewControlHandler(
	registry ports.DeviceRegistry,
	manager ports.SessionManager,
	relay ports.StreamRelay,
	hub *events.Hub,
	health *monitoring.HealthChecker,
	startDiscovery func(),
	stopDiscovery func(),
	logger *zap.SugaredLogger,
) *ControlHandler {
	return &ControlHandler{
		registry: registry,
		manager:  manager,
		relay:    relay,
		hub:      hub,
		health:   health,
		startRun: startDiscovery,
		stopRun:  stopDiscovery,
		logger:   logger,
	}
}

func (h *ControlHandler) SetupRoutes(router *gin.Engine, gatherer prometheus.Gatherer) {
	api := router.Group("/api/v1")
	{
		api.GET("/devices", h.ListDevices)
		api.POST("/discovery/start", h.StartDiscovery)
		api.POST("/discovery/stop", h.StopDiscovery)
		api.POST("/cast", h.StartCast)
		api.POST("/cast/stop", h.StopCast)
		api.GET("/state", h.GetState)
	}

	router.GET("/healthz", h.Healthz)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if h.hub != nil {
		router.GET("/ws/events", gin.WrapF(h.hub.HandleWebSocket))
	}
}

func (h *ControlHandler) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.registry.List()})
}

func (h *ControlHandler) StartDiscovery(c *gin.Context) {
	h.startRun()
	c.JSON(http.StatusAccepted, gin.H{"status": "discovery started"})
}

func (h *ControlHandler) StopDiscovery(c *gin.Context) {
	h.stopRun()
	c.JSON(http.StatusOK, gin.H{"status": "discovery stopped"})
}

func (h *ControlHandler) StartCast(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, ok := h.registry.Get(domain.DeviceID(req.DeviceID))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrDeviceNotFound.Error()})
		return
	}

	if err := h.manager.StartCasting(c.Request.Context(), device); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrAlreadyCasting):
			status = http.StatusConflict
		case errors.Is(err, domain.ErrUnsupportedDevice):
			status = http.StatusUnprocessableEntity
		}
		h.publishState()
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.publishState()
	state := h.manager.State()
	c.JSON(http.StatusOK, gin.H{
		"status":     "casting",
		"stream_url": state.StreamURL,
	})
}

func (h *ControlHandler) StopCast(c *gin.Context) {
	h.manager.StopCasting()
	h.publishState()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *ControlHandler) GetState(c *gin.Context) {
	state := h.manager.State()
	resp := gin.H{"phase": state.Phase}
	if state.Device != nil {
		resp["device"] = state.Device
	}
	if state.StreamURL != "" {
		resp["stream_url"] = state.StreamURL
	}
	if state.Message != "" {
		resp["message"] = state.Message
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ControlHandler) Healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *ControlHandler) publishState() {
	if h.hub != nil {
		h.hub.PublishState(h.manager.State())
	}
}
