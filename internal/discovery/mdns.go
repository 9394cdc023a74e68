package discovery

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"castbridge/internal/core/domain"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

const castServiceType = "_googlecast._tcp"

// Trailing "-a1b2c3d4e5f6..." instance suffixes that Cast devices append to
// their service names.
var hexSuffixPattern = regexp.MustCompile(`-[0-9a-fA-F]{8,}$`)

// CastDiscoverer browses mDNS for Cast receivers and emits one CHROMECAST
// device per resolved instance, keyed by host.
type CastDiscoverer struct {
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCastDiscoverer(timeout time.Duration, logger *zap.SugaredLogger) *CastDiscoverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CastDiscoverer{timeout: timeout, logger: logger}
}

// Discover browses _googlecast._tcp until the timeout elapses or Stop is
// called. The returned channel is closed when the browse ends.
func (d *CastDiscoverer) Discover(ctx context.Context) (<-chan domain.Device, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.mu.Unlock()

	out := make(chan domain.Device, 4)
	entries := make(chan *mdns.ServiceEntry, 8)

	go func() {
		defer close(out)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for entry := range entries {
				device, ok := deviceFromCastEntry(entry)
				if !ok {
					continue
				}
				select {
				case out <- device:
					d.logger.Infow("cast device discovered",
						"id", device.ID, "name", device.Name, "address", device.Address)
				case <-runCtx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:             castServiceType,
			Domain:              "local",
			Timeout:             d.timeout,
			Entries:             entries,
			WantUnicastResponse: false,
		}
		if err := mdns.Query(params); err != nil {
			d.logger.Debugw("mdns query failed", "error", err)
		}
		close(entries)
		<-done
	}()

	return out, nil
}

// Stop cancels the browse in flight.
func (d *CastDiscoverer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func deviceFromCastEntry(entry *mdns.ServiceEntry) (domain.Device, bool) {
	if entry == nil {
		return domain.Device{}, false
	}

	host := ""
	if entry.AddrV4 != nil {
		host = entry.AddrV4.String()
	} else if entry.Addr != nil {
		host = entry.Addr.String()
	}
	if host == "" {
		return domain.Device{}, false
	}

	txt := parseTXTFields(entry.InfoFields)
	name := txt["fn"]
	if name == "" {
		name = sanitizeServiceName(entry.Name)
	}

	return domain.Device{
		ID:        domain.DeviceID("chromecast-" + host),
		Name:      name,
		Type:      domain.DeviceChromecast,
		Address:   host,
		Port:      entry.Port,
		ModelName: txt["md"],
	}, true
}

func parseTXTFields(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		idx := strings.Index(field, "=")
		if idx <= 0 {
			continue
		}
		out[field[:idx]] = field[idx+1:]
	}
	return out
}

// sanitizeServiceName turns "Living-Room-TV-a94b3c21...._googlecast._tcp.local."
// into a readable name when the fn TXT record is absent.
func sanitizeServiceName(raw string) string {
	name := raw
	if idx := strings.Index(name, "._"); idx > 0 {
		name = name[:idx]
	}
	name = hexSuffixPattern.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}
