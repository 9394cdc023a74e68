package ports

import (
	"context"

	"castbridge/internal/core/domain"
)

// Discoverer emits devices on a channel until its context is cancelled or
// Stop is called. The channel is closed when the discovery run ends.
type Discoverer interface {
	Discover(ctx context.Context) (<-chan domain.Device, error)
	Stop()
}

// TransportController drives a UPnP AVTransport renderer. Every method maps to
// one SOAP action; protocol-level failure is reported as false/nil, never a panic.
type TransportController interface {
	SetAVTransportURI(ctx context.Context, uri, title string) bool
	Play(ctx context.Context) bool
	Pause(ctx context.Context) bool
	Stop(ctx context.Context) bool
	GetTransportInfo(ctx context.Context) *domain.TransportInfo
}

// CastChannel is a Cast v2 control connection to a single receiver.
type CastChannel interface {
	Connect(ctx context.Context, address string) bool
	StartCasting(ctx context.Context, streamURL string) bool
	StopCasting(ctx context.Context)
	SendHeartbeat() bool
	Disconnect()
}

// MiracastSession is a WiFi-Display source session. Start begins listening for
// the sink's RTSP control connection; Stop is idempotent and safe to call
// concurrently with a session in progress.
type MiracastSession interface {
	Start(ctx context.Context) error
	Stop()
	Deliver(frame domain.EncodedFrame)
}

// StreamRelay fans one encoded-frame sequence out to any number of HTTP
// pull clients.
type StreamRelay interface {
	SetFrameSource(frames <-chan domain.EncodedFrame)
	Start(ctx context.Context) error
	Stop()
	StreamURL() string
}

// SessionManager owns the single process-wide CastState.
type SessionManager interface {
	StartCasting(ctx context.Context, device domain.Device) error
	StopCasting()
	State() domain.CastState
}
