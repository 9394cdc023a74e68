package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"castbridge/internal/capture"
	"castbridge/internal/castv2"
	"castbridge/internal/core/domain"
	"castbridge/internal/core/ports"
	"castbridge/internal/discovery"
	"castbridge/internal/dlna"
	"castbridge/internal/events"
	httphandlers "castbridge/internal/handlers/http"
	"castbridge/internal/infrastructure/middleware"
	"castbridge/internal/infrastructure/monitoring"
	"castbridge/internal/miracast"
	"castbridge/internal/relay"
	"castbridge/internal/session"
	"castbridge/internal/wifidirect"
	"castbridge/pkg/config"
	"castbridge/pkg/logger"
	"castbridge/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CASTBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "castbridge: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "castbridge",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	metrics := monitoring.NewCollector(prometheus.DefaultRegisterer)

	// Discovery: SSDP for DLNA/Roku, mDNS for Cast receivers.
	registry := discovery.NewRegistry()
	discoverers := []ports.Discoverer{
		discovery.NewSSDPDiscoverer(discovery.SSDPConfig{
			Window:       cfg.Discovery.SSDPWindow,
			Rounds:       cfg.Discovery.SSDPRounds,
			RoundDelay:   cfg.Discovery.SSDPRoundDelay,
			ReadTimeout:  time.Second,
			FetchDetails: true,
		}, log),
	}
	if cfg.Discovery.MDNSEnabled {
		discoverers = append(discoverers, discovery.NewCastDiscoverer(cfg.Discovery.MDNSTimeout, log))
	}
	coordinator := discovery.NewCoordinator(registry, log, discoverers...)
	coordinator.SetMetrics(metrics)

	// Event hub pushes registry and session changes to UI clients.
	hub := events.NewHub(log)
	deviceEvents, unsubscribe := registry.Subscribe()
	defer unsubscribe()
	hub.WatchRegistry(deviceEvents)

	// The capture pipeline feeds encoded video through stdin.
	frameSource := capture.NewReaderSource(os.Stdin, log)

	streamRelay := relay.NewRelay(relay.Config{
		Port:              cfg.Relay.Port,
		AdvertiseHost:     cfg.Relay.AdvertiseHost,
		ConnectsPerSecond: cfg.Relay.ConnectsPerSecond,
	}, log, metrics)

	manager := session.NewManager(
		session.Config{
			MonitorInterval:   cfg.Session.MonitorInterval,
			HeartbeatInterval: cfg.Session.HeartbeatInterval,
			Retry:             session.DefaultConfig().Retry,
		},
		session.Deps{
			Relay:      streamRelay,
			Frames:     frameSource,
			WiFiDirect: wifidirect.NewNoopAdapter(log),
			NewTransport: func(device domain.Device, lg *zap.SugaredLogger) (ports.TransportController, error) {
				transport, err := dlna.NewAVTransportClient(device, lg)
				if err != nil {
					return nil, err
				}
				transport.SetMetrics(metrics)
				return transport, nil
			},
			NewCastChannel: func(lg *zap.SugaredLogger) ports.CastChannel {
				channel := castv2.NewChannel(lg)
				channel.SetRequestTimeout(cfg.CastV2.RequestTimeout)
				return channel
			},
			NewMiracast: func(lg *zap.SugaredLogger) ports.MiracastSession {
				mc := miracast.NewSession(miracast.Config{
					ControlPort:   cfg.Miracast.ControlPort,
					AcceptTimeout: cfg.Miracast.AcceptTimeout,
				}, lg)
				mc.SetMetrics(metrics)
				return mc
			},
		},
		log, metrics,
	)

	health := monitoring.NewHealthChecker()
	health.AddCheck("cast_session", func(ctx context.Context) (bool, error) {
		return manager.State().Phase != domain.PhaseError, nil
	}, time.Second)

	handler := httphandlers.NewControlHandler(
		registry, manager, streamRelay, hub, health,
		func() { coordinator.Start(context.Background()) },
		coordinator.Stop,
		log,
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(50, 100))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = prometheus.DefaultGatherer
	}
	handler.SetupRoutes(router, gatherer)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// First discovery run starts at boot; the API can restart it at will.
	coordinator.Start(context.Background())

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("castbridge control server starting", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("control server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("shutdown signal received", "signal", sig)
	}

	coordinator.Stop()
	manager.StopCasting()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("control server shutdown incomplete", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warnw("tracer shutdown incomplete", "error", err)
	}
	log.Info("castbridge stopped")
}
