package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const maxDeviceIDLength = 256

// ValidateDeviceID checks a device identifier before it is used for a
// registry lookup. IDs come off the network (SSDP USN headers, mDNS instance
// names), so the shape is loose: printable, non-empty, bounded.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("device ID is required")
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("device ID is too long (max %d characters)", maxDeviceIDLength)
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("device ID contains non-printable characters")
		}
	}
	return nil
}

// ValidateStreamURL checks a URL handed to a renderer or receiver.
func ValidateStreamURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("stream URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid stream URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("stream URL must have a host")
	}
	return nil
}

// ValidatePort checks a TCP/UDP port number. Zero is allowed and means an
// ephemeral port chosen by the kernel.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}
