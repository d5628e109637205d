package netsup

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/clock"
	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/status"
)

const (
	// DefaultBackoff is the pause after any steady-state failure.
	DefaultBackoff = 5 * time.Second

	// DefaultPollInterval is the readiness polling period.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultAPSSID is broadcast when no client credentials are usable.
	DefaultAPSSID = "esp-wifi"
)

// DefaultAPGateway is the device address in access point mode.
var DefaultAPGateway = netip.MustParsePrefix("192.168.1.1/28")

// Config holds everything the supervisor needs for one boot.
type Config struct {
	Mode        credentials.NetworkMode
	Credentials credentials.Network

	APSSID    string
	APGateway netip.Prefix

	Backoff      time.Duration
	PollInterval time.Duration

	Clock  clock.Clock
	Status *status.Status

	// NewResponder builds the DHCP responder for the access point subnet.
	// It is only called in access point mode; nil disables the responder.
	NewResponder func(iface string, gateway netip.Prefix) (Responder, error)
}

func (c *Config) applyDefaults() {
	if c.APSSID == "" {
		c.APSSID = DefaultAPSSID
	}
	if !c.APGateway.IsValid() {
		c.APGateway = DefaultAPGateway
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Status == nil {
		c.Status = status.New()
	}
}

// Supervisor brings the network up in one fixed mode and keeps it up.
type Supervisor struct {
	platform Platform
	cfg      Config

	mu    sync.Mutex
	radio Radio
	stack Stack

	loops sync.WaitGroup
}

// New creates a supervisor. Nothing touches the radio until Bringup.
func New(platform Platform, cfg Config) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{platform: platform, cfg: cfg}
}

// Mode returns the network mode fixed for this boot.
func (s *Supervisor) Mode() credentials.NetworkMode { return s.cfg.Mode }

// Stack returns the IP stack once Bringup has constructed it.
func (s *Supervisor) Stack() Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack
}

func (s *Supervisor) accessPoint() bool { return s.cfg.Mode == credentials.ModeAccessPoint }

func (s *Supervisor) ipConfig() IPConfig {
	if s.accessPoint() {
		return IPConfig{Static: s.cfg.APGateway, Gateway: s.cfg.APGateway.Addr()}
	}
	return IPConfig{DHCP: true}
}

func (s *Supervisor) radioConfig() RadioConfig {
	if s.accessPoint() {
		return RadioConfig{AccessPoint: true, SSID: s.cfg.APSSID}
	}
	return RadioConfig{SSID: s.cfg.Credentials.SSID, Password: s.cfg.Credentials.Password}
}

// Bringup constructs the radio and IP stack, starts the connection loop and
// in access point mode the DHCP responder, then blocks until the stack has
// a link and an IPv4 address. Construction failures are returned as *Error;
// once the loop is running only ctx ends Bringup early.
func (s *Supervisor) Bringup(ctx context.Context) error {
	st := s.cfg.Status
	st.SetClientMode(!s.accessPoint())

	radio, err := s.platform.NewRadio()
	if err != nil {
		return &Error{Op: "init radio", Err: err}
	}
	stack, err := s.platform.NewStack(radio, s.ipConfig())
	if err != nil {
		return &Error{Op: "init stack", Err: err}
	}

	s.mu.Lock()
	s.radio = radio
	s.stack = stack
	s.mu.Unlock()

	logging.Info("Starting network supervisor",
		zap.Stringer("mode", s.cfg.Mode),
		zap.String("ssid", s.radioConfig().SSID))

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.connectionLoop(ctx, radio)
	}()

	if s.accessPoint() && s.cfg.NewResponder != nil {
		responder, err := s.cfg.NewResponder(stack.Interface(), s.cfg.APGateway)
		if err != nil {
			logging.Error("DHCP responder not started", zap.Error(&Error{Op: "dhcp", Err: err}))
		} else {
			s.loops.Add(1)
			go func() {
				defer s.loops.Done()
				if err := responder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logging.Error("DHCP responder stopped", zap.Error(err))
				}
			}()
		}
	}

	logging.Info("Waiting for link up")
	for !stack.LinkUp() {
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
	st.SetLink(status.LinkUp)
	logging.Info("Link is up")

	logging.Info("Waiting to get IP address")
	var addr netip.Prefix
	for {
		if p, ok := stack.IPv4(); ok {
			addr = p
			break
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
	st.SetAddress(addr.String())
	st.SetLink(status.LinkAddressAcquired)
	st.SetNetworkReady(true)
	logging.Info("Got IP", zap.Stringer("address", addr))
	return nil
}

// Wait blocks until the loops started by Bringup have returned, which only
// happens once their context is cancelled.
func (s *Supervisor) Wait() { s.loops.Wait() }

// connectionLoop keeps the radio in the configured mode. It never gives up;
// every failure is logged and retried after the backoff.
func (s *Supervisor) connectionLoop(ctx context.Context, radio Radio) {
	st := s.cfg.Status
	defer st.SetSupervisor(status.SupervisorStopped)

	for ctx.Err() == nil {
		switch state := radio.State(); {
		case !s.accessPoint() && state == RadioStaConnected:
			st.SetSupervisor(status.SupervisorConnected)
			s.refreshLink()
			if err := radio.WaitForEvent(ctx, EventStaDisconnected); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Warn("Waiting for disconnect failed", zap.Error(err))
			}
			st.SetSupervisor(status.SupervisorDisconnected)
			st.SetLink(status.LinkDown)
			logging.Warn("Station disconnected")
			if s.sleep(ctx, s.cfg.Backoff) != nil {
				return
			}
		case s.accessPoint() && state == RadioApStarted:
			st.SetSupervisor(status.SupervisorApActive)
			if err := radio.WaitForEvent(ctx, EventApStop); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Warn("Waiting for access point stop failed", zap.Error(err))
			}
			st.SetSupervisor(status.SupervisorStopped)
			logging.Warn("Access point stopped")
			if s.sleep(ctx, s.cfg.Backoff) != nil {
				return
			}
		}

		started, err := radio.IsStarted()
		if err != nil {
			if s.retry(ctx, "query radio", err) != nil {
				return
			}
			continue
		}
		if !started {
			st.SetSupervisor(status.SupervisorStarting)
			if err := radio.SetConfiguration(s.radioConfig()); err != nil {
				if s.retry(ctx, "set configuration", err) != nil {
					return
				}
				continue
			}
			logging.Info("Starting radio", zap.Bool("access_point", s.accessPoint()))
			if err := radio.Start(ctx); err != nil {
				if s.retry(ctx, "start radio", err) != nil {
					return
				}
				continue
			}
			logging.Info("Radio started")
		}

		if s.accessPoint() {
			if radio.State() != RadioApStarted {
				if s.retry(ctx, "start access point", fmt.Errorf("radio state %v", radio.State())) != nil {
					return
				}
			}
			continue
		}

		logging.Info("Connecting", zap.String("ssid", s.cfg.Credentials.SSID))
		if err := radio.Connect(ctx); err != nil {
			if s.retry(ctx, "connect", err) != nil {
				return
			}
			continue
		}
		logging.Info("Connected", zap.String("ssid", s.cfg.Credentials.SSID))
	}
}

// refreshLink republishes the link state after a reconnect.
func (s *Supervisor) refreshLink() {
	stack := s.Stack()
	if stack == nil || !s.cfg.Status.NetworkReady() {
		return
	}
	if _, ok := stack.IPv4(); ok {
		s.cfg.Status.SetLink(status.LinkAddressAcquired)
	} else if stack.LinkUp() {
		s.cfg.Status.SetLink(status.LinkUp)
	}
}

// retry logs a steady-state failure and waits out the backoff.
func (s *Supervisor) retry(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Error("Network operation failed, retrying",
		zap.Error(&Error{Op: op, Err: err}),
		zap.Duration("backoff", s.cfg.Backoff))
	return s.sleep(ctx, s.cfg.Backoff)
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.cfg.Clock.After(d):
		return nil
	}
}
