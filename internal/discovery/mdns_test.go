package discovery

import (
	"net"
	"testing"

	"castbridge/internal/core/domain"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFromCastEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "Living-Room-TV-a94b3c21d4e5f607._googlecast._tcp.local.",
		AddrV4: net.ParseIP("192.168.1.20"),
		Port:   8009,
		InfoFields: []string{
			"id=a94b3c21",
			"fn=Living Room TV",
			"md=Chromecast Ultra",
		},
	}

	device, ok := deviceFromCastEntry(entry)
	require.True(t, ok)
	assert.Equal(t, domain.DeviceID("chromecast-192.168.1.20"), device.ID)
	assert.Equal(t, domain.DeviceChromecast, device.Type)
	assert.Equal(t, "Living Room TV", device.Name)
	assert.Equal(t, "Chromecast Ultra", device.ModelName)
	assert.Equal(t, 8009, device.Port)
}

func TestDeviceFromCastEntryFallbackName(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "Bedroom-Display-deadbeef01234567._googlecast._tcp.local.",
		AddrV4: net.ParseIP("192.168.1.30"),
		Port:   8009,
	}

	device, ok := deviceFromCastEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "Bedroom Display", device.Name)
}

func TestDeviceFromCastEntryNoAddress(t *testing.T) {
	_, ok := deviceFromCastEntry(&mdns.ServiceEntry{Name: "x._googlecast._tcp.local."})
	assert.False(t, ok)
}

func TestSanitizeServiceName(t *testing.T) {
	assert.Equal(t, "Kitchen Hub", sanitizeServiceName("Kitchen-Hub-0123456789abcdef._googlecast._tcp.local."))
	assert.Equal(t, "plain", sanitizeServiceName("plain"))
}
