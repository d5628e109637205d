package mdns

import (
	"fmt"
	"strings"
	"time"
)

// Device represents a devboot device found on the network
type Device struct {
	// Instance is the advertised service instance name (the device hostname)
	Instance string

	// Hostname is the mDNS hostname (e.g., "esp-device.local.")
	Hostname string

	// IP is the device address, IPv4 preferred
	IP string

	// Port is the dashboard HTTP port
	Port int

	// Metadata contains the TXT record data
	// Common fields: "devboot=<version>", "mode=client", "path=/"
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("devboot %s (%s) at %s:%d", d.Instance, d.Hostname, d.IP, d.Port)
}

// Name returns the hostname without the ".local." suffix
func (d *Device) Name() string {
	return strings.TrimSuffix(strings.TrimSuffix(d.Hostname, "."), ".local")
}

// BaseURL returns the HTTP base URL for the dashboard
func (d *Device) BaseURL() string {
	if strings.Contains(d.IP, ":") {
		return fmt.Sprintf("http://[%s]:%d", d.IP, d.Port)
	}
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}
