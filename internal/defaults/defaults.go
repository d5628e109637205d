// Package defaults holds the credentials compiled into the binary.
//
// Each value can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/devboot/internal/defaults.SSID=HomeNet \
//	                   -X github.com/muurk/devboot/internal/defaults.Password=secret123"
//
// Unset values keep the placeholder sentinels below. The credential resolver
// refuses a sentinel as if it were real configuration.
package defaults

// Placeholder sentinels. A build that does not override them has no
// compiled-in network or messaging configuration.
const (
	SentinelSSID     = "MyDefaultSSID"
	SentinelPassword = "MyDefaultPassword"
	SentinelBroker   = "tcp://localhost:1883"

	DefaultHostname = "esp-device"
	DefaultClientID = "esp32-client"
)

var (
	// SSID is the network name to join in client mode
	SSID = SentinelSSID
	// Password is the network passphrase
	Password = SentinelPassword
	// Hostname is announced over mDNS as <hostname>.local
	Hostname = DefaultHostname

	// MQTTBroker is the messaging broker URI
	MQTTBroker = SentinelBroker
	// MQTTClientID identifies the device to the broker
	MQTTClientID = DefaultClientID
	// MQTTUsername and MQTTPassword are optional broker credentials
	MQTTUsername = ""
	MQTTPassword = ""
)

// Values is a snapshot of the compiled-in defaults.
type Values struct {
	SSID     string
	Password string
	Hostname string

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

// Compiled returns the defaults linked into this binary.
func Compiled() Values {
	return Values{
		SSID:         SSID,
		Password:     Password,
		Hostname:     Hostname,
		MQTTBroker:   MQTTBroker,
		MQTTClientID: MQTTClientID,
		MQTTUsername: MQTTUsername,
		MQTTPassword: MQTTPassword,
	}
}
