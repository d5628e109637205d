package credentials

import "fmt"

// Persistent keys for the network and messaging credential sets.
const (
	KeySSID     = "wifi.ssid"
	KeyPassword = "wifi.password"
	KeyHostname = "wifi.hostname"

	KeyBroker       = "mqtt.broker"
	KeyClientID     = "mqtt.client_id"
	KeyMQTTUsername = "mqtt.username"
	KeyMQTTPassword = "mqtt.password"
)

// Domain groups keys that are read and validated together.
type Domain int

const (
	// DomainNetwork is the WiFi credential set
	DomainNetwork Domain = iota
	// DomainMessaging is the MQTT credential set
	DomainMessaging
)

// String returns a human-readable name for the domain
func (d Domain) String() string {
	switch d {
	case DomainNetwork:
		return "network"
	case DomainMessaging:
		return "messaging"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// KeySpec describes one persistent key.
type KeySpec struct {
	Name   string
	MaxLen int
	Domain Domain
}

// Keys lists every credential key with its length bound.
var Keys = []KeySpec{
	{KeySSID, 32, DomainNetwork},
	{KeyPassword, 64, DomainNetwork},
	{KeyHostname, 32, DomainNetwork},
	{KeyBroker, 256, DomainMessaging},
	{KeyClientID, 64, DomainMessaging},
	{KeyMQTTUsername, 64, DomainMessaging},
	{KeyMQTTPassword, 128, DomainMessaging},
}

// Bound returns the maximum value length for key.
func Bound(key string) (int, bool) {
	for _, k := range Keys {
		if k.Name == key {
			return k.MaxLen, true
		}
	}
	return 0, false
}

func mustBound(key string) int {
	n, ok := Bound(key)
	if !ok {
		panic("credentials: unknown key " + key)
	}
	return n
}
