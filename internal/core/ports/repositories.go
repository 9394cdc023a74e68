package ports

import "castbridge/internal/core/domain"

// DeviceRegistry accumulates devices seen by concurrent discoverers.
// Updates are last-write-wins keyed by device ID; entries live until the
// registry is reset by a discovery restart.
type DeviceRegistry interface {
	Upsert(device domain.Device)
	Get(id domain.DeviceID) (domain.Device, bool)
	List() []domain.Device
	Reset()
	Subscribe() (<-chan domain.Device, func())
}
