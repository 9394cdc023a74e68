package discovery

import (
	"context"
	"sync"

	"castbridge/internal/core/domain"
	"castbridge/internal/core/ports"
	"castbridge/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// Coordinator runs every configured discoverer concurrently and funnels their
// devices into the registry, which is the single writer-serialized view.
type Coordinator struct {
	registry    ports.DeviceRegistry
	discoverers []ports.Discoverer
	logger      *zap.SugaredLogger
	metrics     *monitoring.Collector

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewCoordinator(registry ports.DeviceRegistry, logger *zap.SugaredLogger, discoverers ...ports.Discoverer) *Coordinator {
	return &Coordinator{
		registry:    registry,
		discoverers: discoverers,
		logger:      logger,
	}
}

// SetMetrics attaches the metrics collector; optional.
func (c *Coordinator) SetMetrics(metrics *monitoring.Collector) {
	c.metrics = metrics
}

// Start resets the registry and launches a fresh discovery run. A run already
// in progress is stopped first, so Start doubles as restart.
func (c *Coordinator) Start(ctx context.Context) {
	c.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.registry.Reset()

	for _, discoverer := range c.discoverers {
		devices, err := discoverer.Discover(runCtx)
		if err != nil {
			c.logger.Warnw("discoverer failed to start", "error", err)
			continue
		}
		c.running.Add(1)
		go c.collect(devices)
	}
}

// Stop cancels the run in flight and waits for the collectors to drain.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, discoverer := range c.discoverers {
		discoverer.Stop()
	}
	c.running.Wait()
}

func (c *Coordinator) collect(devices <-chan domain.Device) {
	defer c.running.Done()
	for device := range devices {
		c.registry.Upsert(device)
		if c.metrics != nil {
			c.metrics.DeviceDiscovered(string(device.Type))
		}
	}
}
