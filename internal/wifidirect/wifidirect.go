package wifidirect

import (
	"context"

	"castbridge/internal/core/ports"

	"go.uber.org/zap"
)

// NoopAdapter satisfies the WiFi-Direct port on platforms without an OS
// integration. Peer discovery yields nothing and connect/disconnect report
// success so a Miracast session against an already-paired sink can proceed.
type NoopAdapter struct {
	logger *zap.SugaredLogger
}

func NewNoopAdapter(logger *zap.SugaredLogger) *NoopAdapter {
	return &NoopAdapter{logger: logger}
}

func (a *NoopAdapter) DiscoverPeers(ctx context.Context) (<-chan ports.WiFiDirectPeer, error) {
	peers := make(chan ports.WiFiDirectPeer)
	close(peers)
	return peers, nil
}

func (a *NoopAdapter) Connect(ctx context.Context, address string) bool {
	a.logger.Debugw("wifi-direct connect delegated to the operating system", "address", address)
	return true
}

func (a *NoopAdapter) Disconnect(ctx context.Context) bool {
	return true
}
