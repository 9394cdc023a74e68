package domain

import "errors"

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrAlreadyCasting    = errors.New("a casting session is already active")
	ErrNoControlURL      = errors.New("device has no AVTransport control URL")
	ErrUnsupportedDevice = errors.New("no controller for device type")
	ErrChannelClosed     = errors.New("control channel is closed")
	ErrNoFrameSource     = errors.New("no frame source configured")
	ErrLaunchTimeout     = errors.New("receiver did not report a transport id")
	ErrLoadTimeout       = errors.New("receiver did not report a media session id")
)
