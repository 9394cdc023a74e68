package domain

import "fmt"

type DeviceID string
type SessionID string

// DeviceType identifies the control protocol a playback target speaks.
type DeviceType string

const (
	DeviceDLNA       DeviceType = "DLNA"
	DeviceMiracast   DeviceType = "MIRACAST"
	DeviceChromecast DeviceType = "CHROMECAST"
	DeviceRoku       DeviceType = "ROKU"
	DeviceUnknown    DeviceType = "UNKNOWN"
)

// Device is an immutable record for a discovered playback target. Re-resolution
// replaces the whole record under the same ID; the type never changes once set.
type Device struct {
	ID           DeviceID
	Name         string
	Type         DeviceType
	Address      string
	Port         int
	ControlURL   string
	ModelName    string
	Manufacturer string
}

// Endpoint returns the host:port pair used to reach the device.
func (d Device) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// TransportState is the AVTransport playback state reported by a DLNA renderer.
type TransportState string

const (
	TransportStopped        TransportState = "STOPPED"
	TransportPlaying        TransportState = "PLAYING"
	TransportPausedPlayback TransportState = "PAUSED_PLAYBACK"
	TransportTransitioning  TransportState = "TRANSITIONING"
	TransportNoMediaPresent TransportState = "NO_MEDIA_PRESENT"
	TransportUnknown        TransportState = "UNKNOWN"
)

// TransportInfo is the decoded result of a GetTransportInfo exchange.
type TransportInfo struct {
	State  TransportState
	Status string
	Speed  string
}
