// Package status holds the process-wide signals the boot core produces and
// the passive collaborators (dashboard, indicator, monitor) consume.
//
// Every field is an atomic. Setters publish a Snapshot to subscribers only
// when the value actually changes.
package status

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LinkState is the network link as seen by the supervisor.
type LinkState int32

const (
	LinkDown LinkState = iota
	LinkUp
	LinkAddressAcquired
)

// String returns a human-readable name for the link state
func (l LinkState) String() string {
	switch l {
	case LinkDown:
		return "down"
	case LinkUp:
		return "link-up"
	case LinkAddressAcquired:
		return "address-acquired"
	default:
		return fmt.Sprintf("LinkState(%d)", int32(l))
	}
}

// MarshalText renders the state name in JSON.
func (l LinkState) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (l *LinkState) UnmarshalText(text []byte) error {
	for v := LinkDown; v <= LinkAddressAcquired; v++ {
		if v.String() == string(text) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown link state %q", text)
}

// SupervisorState is the network supervisor's state machine position.
type SupervisorState int32

const (
	SupervisorIdle SupervisorState = iota
	SupervisorStarting
	SupervisorConnected
	SupervisorApActive
	SupervisorDisconnected
	SupervisorStopped
)

// String returns a human-readable name for the supervisor state
func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorStarting:
		return "starting"
	case SupervisorConnected:
		return "connected"
	case SupervisorApActive:
		return "ap-active"
	case SupervisorDisconnected:
		return "disconnected"
	case SupervisorStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SupervisorState(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s SupervisorState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *SupervisorState) UnmarshalText(text []byte) error {
	for v := SupervisorIdle; v <= SupervisorStopped; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown supervisor state %q", text)
}

// Snapshot is a consistent-enough copy of every signal. Fields are read one
// at a time, so a snapshot taken during an update may mix old and new values
// of different fields; each field on its own is always current.
type Snapshot struct {
	NetworkReady              bool            `json:"network_ready"`
	ClientMode                bool            `json:"client_mode"`
	FirmwareUpgradeInProgress bool            `json:"firmware_upgrade_in_progress"`
	TimeSynced                bool            `json:"time_synced"`
	Link                      LinkState       `json:"link"`
	Supervisor                SupervisorState `json:"supervisor"`
	Address                   string          `json:"address,omitempty"`
}

// Status is the shared signal set. The zero value is ready to use.
type Status struct {
	networkReady atomic.Bool
	clientMode   atomic.Bool
	upgrade      atomic.Bool
	timeSynced   atomic.Bool
	link         atomic.Int32
	supervisor   atomic.Int32
	address      atomic.Pointer[string]

	mu   sync.Mutex
	subs map[<-chan Snapshot]chan Snapshot
}

// New returns an empty Status.
func New() *Status { return &Status{} }

// NetworkReady reports whether the network has an address and is usable.
func (s *Status) NetworkReady() bool { return s.networkReady.Load() }

// SetNetworkReady sets the network-ready flag.
func (s *Status) SetNetworkReady(v bool) {
	if s.networkReady.Swap(v) != v {
		s.publish()
	}
}

// ClientMode reports whether the device joined a network rather than
// hosting its own access point.
func (s *Status) ClientMode() bool { return s.clientMode.Load() }

// SetClientMode sets the mode flag.
func (s *Status) SetClientMode(v bool) {
	if s.clientMode.Swap(v) != v {
		s.publish()
	}
}

// FirmwareUpgradeInProgress reports whether an image is being written.
func (s *Status) FirmwareUpgradeInProgress() bool { return s.upgrade.Load() }

// SetFirmwareUpgradeInProgress sets the upgrade flag.
func (s *Status) SetFirmwareUpgradeInProgress(v bool) {
	if s.upgrade.Swap(v) != v {
		s.publish()
	}
}

// TimeSynced reports whether wall-clock time has been synchronized.
func (s *Status) TimeSynced() bool { return s.timeSynced.Load() }

// SetTimeSynced sets the time-synchronized flag.
func (s *Status) SetTimeSynced(v bool) {
	if s.timeSynced.Swap(v) != v {
		s.publish()
	}
}

// Link returns the current link state.
func (s *Status) Link() LinkState { return LinkState(s.link.Load()) }

// SetLink sets the link state.
func (s *Status) SetLink(l LinkState) {
	if LinkState(s.link.Swap(int32(l))) != l {
		s.publish()
	}
}

// Supervisor returns the supervisor state.
func (s *Status) Supervisor() SupervisorState { return SupervisorState(s.supervisor.Load()) }

// SetSupervisor sets the supervisor state.
func (s *Status) SetSupervisor(st SupervisorState) {
	if SupervisorState(s.supervisor.Swap(int32(st))) != st {
		s.publish()
	}
}

// Address returns the device's IPv4 address in CIDR form, if any.
func (s *Status) Address() string {
	if p := s.address.Load(); p != nil {
		return *p
	}
	return ""
}

// SetAddress records the device address.
func (s *Status) SetAddress(addr string) {
	old := s.address.Swap(&addr)
	if old == nil || *old != addr {
		s.publish()
	}
}

// Snapshot returns the current value of every signal.
func (s *Status) Snapshot() Snapshot {
	return Snapshot{
		NetworkReady:              s.NetworkReady(),
		ClientMode:                s.ClientMode(),
		FirmwareUpgradeInProgress: s.FirmwareUpgradeInProgress(),
		TimeSynced:                s.TimeSynced(),
		Link:                      s.Link(),
		Supervisor:                s.Supervisor(),
		Address:                   s.Address(),
	}
}

// Subscribe returns a channel that receives a Snapshot after every change.
// The channel holds only the latest snapshot: a slow reader skips
// intermediate states but never blocks a setter.
func (s *Status) Subscribe() <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[<-chan Snapshot]chan Snapshot)
	}
	ch := make(chan Snapshot, 1)
	s.subs[ch] = ch
	return ch
}

// Unsubscribe stops deliveries to ch and closes it.
func (s *Status) Unsubscribe(ch <-chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(c)
	}
}

func (s *Status) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
