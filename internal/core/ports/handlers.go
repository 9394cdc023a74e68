package ports

import (
	"context"

	"castbridge/internal/core/domain"
)

// FrameSource is the external capture/encoder pipeline. Frames arrives lazily
// and unbounded; the sequence is not restartable.
type FrameSource interface {
	Frames(ctx context.Context) <-chan domain.EncodedFrame
	Close() error
}

// WiFiDirectPeer is one peer reported by the OS WiFi-Direct subsystem.
type WiFiDirectPeer struct {
	Address        string
	Name           string
	DeviceTypeHint string
}

// WiFiDirect is the narrow capability interface over the operating system's
// WiFi-Direct subsystem. The radio-level handshake is the OS's responsibility.
type WiFiDirect interface {
	DiscoverPeers(ctx context.Context) (<-chan WiFiDirectPeer, error)
	Connect(ctx context.Context, address string) bool
	Disconnect(ctx context.Context) bool
}
