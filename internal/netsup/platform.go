package netsup

import (
	"context"
	"fmt"
	"net/netip"
)

// RadioState is what the WiFi driver reports about itself.
type RadioState int

const (
	RadioInvalid RadioState = iota
	RadioStaStarted
	RadioStaConnected
	RadioStaDisconnected
	RadioApStarted
	RadioStopped
)

// String returns a human-readable name for the radio state
func (s RadioState) String() string {
	switch s {
	case RadioInvalid:
		return "invalid"
	case RadioStaStarted:
		return "sta-started"
	case RadioStaConnected:
		return "sta-connected"
	case RadioStaDisconnected:
		return "sta-disconnected"
	case RadioApStarted:
		return "ap-started"
	case RadioStopped:
		return "stopped"
	default:
		return fmt.Sprintf("RadioState(%d)", int(s))
	}
}

// Event is a radio event the supervisor waits on.
type Event int

const (
	EventStaDisconnected Event = iota
	EventApStop
)

// String returns a human-readable name for the event
func (e Event) String() string {
	switch e {
	case EventStaDisconnected:
		return "sta-disconnected"
	case EventApStop:
		return "ap-stop"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// RadioConfig is applied before starting the radio. Password is empty for
// an open access point.
type RadioConfig struct {
	AccessPoint bool
	SSID        string
	Password    string
}

// Radio is the WiFi controller.
type Radio interface {
	State() RadioState
	IsStarted() (bool, error)
	SetConfiguration(cfg RadioConfig) error
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	WaitForEvent(ctx context.Context, ev Event) error
}

// IPConfig selects how the stack obtains its address.
type IPConfig struct {
	// DHCP requests an address from the network. When false, Static is
	// assigned and Gateway is the default route.
	DHCP    bool
	Static  netip.Prefix
	Gateway netip.Addr
}

// Stack is the IP stack running on the radio's interface.
type Stack interface {
	LinkUp() bool
	IPv4() (netip.Prefix, bool)

	// Interface names the host interface, or "" when the stack is not bound
	// to a named interface.
	Interface() string
}

// Platform constructs the radio and IP stack. Failures here are initial
// bring-up errors and stop the boot from reaching the network.
type Platform interface {
	NewRadio() (Radio, error)
	NewStack(radio Radio, cfg IPConfig) (Stack, error)
}

// Responder is the DHCP service started alongside the access point.
type Responder interface {
	Run(ctx context.Context) error
}
