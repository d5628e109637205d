// Package sim provides a host implementation of the network platform: a
// simulated WiFi radio and the IP stack bound to it. It lets the whole boot
// sequence run on a workstation, and tests drive disconnects and access
// point stops through it.
package sim

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/netsup"
)

// DefaultClientAddress is handed out by the simulated upstream network.
var DefaultClientAddress = netip.MustParsePrefix("192.168.0.50/24")

var (
	// ErrNotConfigured is returned by Start before SetConfiguration.
	ErrNotConfigured = errors.New("radio not configured")

	// ErrNotStarted is returned by Connect before Start.
	ErrNotStarted = errors.New("radio not started")

	// ErrConnectRejected is returned while the simulated network refuses
	// the station.
	ErrConnectRejected = errors.New("association rejected")

	// ErrWrongPassword is returned when the station password does not match
	// the simulated network's.
	ErrWrongPassword = errors.New("authentication failed")
)

// Options tunes the simulated hardware.
type Options struct {
	// InitError, when set, fails radio construction.
	InitError error

	// StackError, when set, fails IP stack construction.
	StackError error

	// StartFailures and ConnectFailures fail that many calls before the
	// operation starts succeeding.
	StartFailures   int
	ConnectFailures int

	// Password, when set, is the only password the simulated network
	// accepts.
	Password string

	// ClientAddress is assigned by the simulated upstream DHCP server.
	ClientAddress netip.Prefix

	// Interface is reported by the stack for binding services.
	Interface string
}

// Platform implements netsup.Platform.
type Platform struct {
	opts Options

	mu    sync.Mutex
	radio *Radio
}

// NewPlatform returns a platform with the given options.
func NewPlatform(opts Options) *Platform {
	if !opts.ClientAddress.IsValid() {
		opts.ClientAddress = DefaultClientAddress
	}
	return &Platform{opts: opts}
}

// NewRadio constructs the radio.
func (p *Platform) NewRadio() (netsup.Radio, error) {
	if p.opts.InitError != nil {
		return nil, p.opts.InitError
	}
	r := &Radio{
		startFailures:   p.opts.StartFailures,
		connectFailures: p.opts.ConnectFailures,
		password:        p.opts.Password,
		changed:         make(chan struct{}),
	}
	p.mu.Lock()
	p.radio = r
	p.mu.Unlock()
	return r, nil
}

// NewStack binds an IP stack to a radio built by this platform.
func (p *Platform) NewStack(radio netsup.Radio, cfg netsup.IPConfig) (netsup.Stack, error) {
	if p.opts.StackError != nil {
		return nil, p.opts.StackError
	}
	r, ok := radio.(*Radio)
	if !ok {
		return nil, errors.New("sim: foreign radio")
	}
	return &Stack{radio: r, cfg: cfg, clientAddress: p.opts.ClientAddress, iface: p.opts.Interface}, nil
}

// Radio returns the last radio constructed, or nil.
func (p *Platform) Radio() *Radio {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.radio
}

// Radio is a simulated WiFi controller.
type Radio struct {
	mu              sync.Mutex
	cfg             *netsup.RadioConfig
	state           netsup.RadioState
	started         bool
	startFailures   int
	connectFailures int
	password        string

	disconnects int
	apStops     int
	changed     chan struct{}

	starts   int
	connects int
}

// State returns the radio state.
func (r *Radio) State() netsup.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsStarted reports whether Start has succeeded since the last stop.
func (r *Radio) IsStarted() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, nil
}

// SetConfiguration stores the configuration used by the next Start.
func (r *Radio) SetConfiguration(cfg netsup.RadioConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = &cfg
	return nil
}

// Start powers the radio up in the configured mode.
func (r *Radio) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.starts++
	if r.cfg == nil {
		return ErrNotConfigured
	}
	if r.startFailures > 0 {
		r.startFailures--
		return errors.New("radio start failed")
	}
	r.started = true
	if r.cfg.AccessPoint {
		r.setStateLocked(netsup.RadioApStarted)
		logging.Debug("sim: access point up", zap.String("ssid", r.cfg.SSID))
	} else {
		r.setStateLocked(netsup.RadioStaStarted)
	}
	return nil
}

// Connect associates the station with the configured network.
func (r *Radio) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connects++
	if !r.started || r.cfg == nil || r.cfg.AccessPoint {
		return ErrNotStarted
	}
	if r.connectFailures > 0 {
		r.connectFailures--
		return ErrConnectRejected
	}
	if r.password != "" && r.cfg.Password != r.password {
		return ErrWrongPassword
	}
	r.setStateLocked(netsup.RadioStaConnected)
	logging.Debug("sim: station associated", zap.String("ssid", r.cfg.SSID))
	return nil
}

// WaitForEvent blocks until ev happens after the call starts.
func (r *Radio) WaitForEvent(ctx context.Context, ev netsup.Event) error {
	r.mu.Lock()
	seen := r.countLocked(ev)
	for {
		if r.countLocked(ev) > seen {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
		r.mu.Lock()
	}
}

// Calls returns how many times Start and Connect were called.
func (r *Radio) Calls() (starts, connects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.connects
}

// Disconnect drops the station link as if the access point went away.
func (r *Radio) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != netsup.RadioStaConnected {
		return
	}
	r.disconnects++
	r.setStateLocked(netsup.RadioStaDisconnected)
}

// StopAccessPoint stops the hosted network and powers the radio down.
func (r *Radio) StopAccessPoint() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != netsup.RadioApStarted {
		return
	}
	r.apStops++
	r.started = false
	r.setStateLocked(netsup.RadioStopped)
}

func (r *Radio) countLocked(ev netsup.Event) int {
	if ev == netsup.EventApStop {
		return r.apStops
	}
	return r.disconnects
}

func (r *Radio) setStateLocked(s netsup.RadioState) {
	r.state = s
	close(r.changed)
	r.changed = make(chan struct{})
}

// Stack is the simulated IP stack.
type Stack struct {
	radio         *Radio
	cfg           netsup.IPConfig
	clientAddress netip.Prefix
	iface         string
}

// LinkUp reports whether the radio carries traffic.
func (s *Stack) LinkUp() bool {
	st := s.radio.State()
	return st == netsup.RadioStaConnected || st == netsup.RadioApStarted
}

// IPv4 returns the static address, or the leased one once associated.
func (s *Stack) IPv4() (netip.Prefix, bool) {
	if !s.LinkUp() {
		return netip.Prefix{}, false
	}
	if s.cfg.DHCP {
		return s.clientAddress, true
	}
	return s.cfg.Static, s.cfg.Static.IsValid()
}

// Interface returns the host interface name services should bind to.
func (s *Stack) Interface() string { return s.iface }
