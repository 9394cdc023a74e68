package discovery

import (
	"sort"
	"strings"
	"sync"

	"castbridge/internal/core/domain"
)

const subscriberBuffer = 16

// Registry is the mutex-guarded device map shared by all discoverers.
// Updates are last-write-wins keyed by device ID, except that a device's type
// never changes once recorded. Entries live until Reset.
type Registry struct {
	mu          sync.RWMutex
	devices     map[domain.DeviceID]domain.Device
	subscribers map[int]chan domain.Device
	nextSub     int
}

func NewRegistry() *Registry {
	return &Registry{
		devices:     make(map[domain.DeviceID]domain.Device),
		subscribers: make(map[int]chan domain.Device),
	}
}

// Upsert records a sighting. Repeat sightings with the same ID replace the
// record wholesale (richer metadata wins), keeping the originally discovered type.
func (r *Registry) Upsert(device domain.Device) {
	r.mu.Lock()
	if existing, ok := r.devices[device.ID]; ok {
		device.Type = existing.Type
	}
	r.devices[device.ID] = device
	subs := make([]chan domain.Device, 0, len(r.subscribers))
	for _, ch := range r.subscribers {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	// Slow subscribers miss events rather than stalling discovery.
	for _, ch := range subs {
		select {
		case ch <- device:
		default:
		}
	}
}

func (r *Registry) Get(id domain.DeviceID) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	return device, ok
}

// List returns a snapshot sorted by name then ID.
func (r *Registry) List() []domain.Device {
	r.mu.RLock()
	out := make([]domain.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, device)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset drops all entries; called when discovery is restarted.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[domain.DeviceID]domain.Device)
}

// Subscribe returns a channel receiving every upsert and a cancel function.
func (r *Registry) Subscribe() (<-chan domain.Device, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan domain.Device, subscriberBuffer)
	r.subscribers[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(existing)
		}
	}
}
