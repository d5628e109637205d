package boot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/clock"
	"github.com/muurk/devboot/internal/config"
	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/dashboard"
	"github.com/muurk/devboot/internal/defaults"
	"github.com/muurk/devboot/internal/dhcpd"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/indicator"
	"github.com/muurk/devboot/internal/kvstore"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/mdns"
	"github.com/muurk/devboot/internal/netsup"
	"github.com/muurk/devboot/internal/ota"
	"github.com/muurk/devboot/internal/partition"
	"github.com/muurk/devboot/internal/status"
)

// Options are the collaborators of one boot. Config, Device and Platform
// are required.
type Options struct {
	Config   *config.Config
	Device   flash.Device
	Platform netsup.Platform

	// Defaults are the compiled-in credentials; nil means defaults.Compiled().
	Defaults *defaults.Values

	// Indicator renders the status LED; nil logs color changes.
	Indicator indicator.Driver

	// NewResponder overrides the DHCP responder factory used in access
	// point mode.
	NewResponder func(iface string, gateway netip.Prefix) (netsup.Responder, error)

	// Advertise overrides the mDNS announcement in client mode.
	Advertise func(mdns.Announcement) (*mdns.Advertiser, error)

	Clock   clock.Clock
	Version string
}

// System owns every long-lived handle of a running device. It is built
// once by New and passed explicitly to whatever needs it.
type System struct {
	opts   Options
	BootID ulid.ULID
	Status *status.Status

	// Store is nil when the configuration store could be neither mounted
	// nor formatted.
	Store *kvstore.Store
	Table *partition.Table

	// OTA is nil when the partition table lacks the OTA partitions.
	OTA *ota.Manager

	Network   credentials.NetworkDecision
	Messaging credentials.MessagingDecision

	Supervisor *netsup.Supervisor
	Indicator  *indicator.Indicator
	Dashboard  *dashboard.Server
	Advertiser *mdns.Advertiser

	mu   sync.Mutex
	dhcp *dhcpd.Server

	ready  chan struct{}
	idle   chan struct{}
	tasks  sync.WaitGroup
	cancel context.CancelFunc
}

// New validates the options and prepares a system. Nothing is read from
// flash until Run.
func New(opts Options) (*System, error) {
	if opts.Config == nil {
		return nil, errors.New("boot: no configuration")
	}
	if opts.Device == nil {
		return nil, errors.New("boot: no flash device")
	}
	if opts.Platform == nil {
		return nil, errors.New("boot: no network platform")
	}
	if opts.Defaults == nil {
		d := defaults.Compiled()
		opts.Defaults = &d
	}
	if opts.Indicator == nil {
		opts.Indicator = &indicator.LogDriver{}
	}
	if opts.Advertise == nil {
		opts.Advertise = mdns.Advertise
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	return &System{
		opts:   opts,
		BootID: ulid.Make(),
		Status: status.New(),
		ready:  make(chan struct{}),
		idle:   make(chan struct{}),
	}, nil
}

// Ready is closed once the network is up and the dashboard is listening.
func (s *System) Ready() <-chan struct{} { return s.ready }

// Idle is closed when network initialization failed and the system is
// parked until shutdown.
func (s *System) Idle() <-chan struct{} { return s.idle }

// DHCP returns the access point responder, if one was started.
func (s *System) DHCP() *dhcpd.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dhcp
}

// Run performs the boot sequence and then keeps the device services running
// until ctx is cancelled:
//
//  1. OTA: confirm the running slot
//  2. Storage: mount the configuration store, formatting only if mount fails
//  3. Credentials: resolve network and messaging credentials
//  4. Indicator: start the status LED
//  5. Network: bring the supervisor up and wait for an address
//  6. Services: announce over mDNS in client mode and start the dashboard
//
// Failures in steps 1 to 3 are logged and boot continues. A failure to
// construct the network leaves the device idle until ctx is cancelled.
func (s *System) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	previous := logging.GetLogger()
	logging.SetLogger(previous.With(zap.String("boot_id", s.BootID.String())))
	defer logging.SetLogger(previous)

	cfg := s.opts.Config
	logging.Info("Booting", zap.String("version", s.opts.Version))

	logging.Banner("OTA Init")
	s.initOTA()

	logging.Banner("Storage Init")
	s.initStorage()

	logging.Banner("Credentials")
	s.resolveCredentials()

	logging.Banner("Indicator Init")
	s.Indicator = indicator.New(s.Status, s.opts.Indicator, s.opts.Clock, cfg.Indicator.Interval)
	s.spawn(func() { s.Indicator.Run(ctx) })

	logging.Banner("Network Init")
	gateway, err := cfg.Gateway()
	if err != nil {
		logging.Warn("Using default access point gateway", zap.Error(err))
		gateway = netsup.DefaultAPGateway
	}
	newResponder := s.opts.NewResponder
	if newResponder == nil {
		newResponder = s.newDHCPResponder
	}
	s.Supervisor = netsup.New(s.opts.Platform, netsup.Config{
		Mode:         s.Network.Mode,
		Credentials:  s.Network.Credentials,
		APSSID:       cfg.Network.APSSID,
		APGateway:    gateway,
		Backoff:      cfg.Network.Backoff,
		PollInterval: cfg.Network.PollInterval,
		Clock:        s.opts.Clock,
		Status:       s.Status,
		NewResponder: newResponder,
	})
	if err := s.Supervisor.Bringup(ctx); err != nil {
		if !netsup.IsInitError(err) {
			if ctx.Err() != nil {
				return s.shutdown(nil)
			}
			return s.shutdown(err)
		}
		logging.Error("Network initialization failed, idling until reset", zap.Error(err))
		close(s.idle)
		<-ctx.Done()
		return s.shutdown(nil)
	}

	logging.Banner("Services")
	if s.Network.Mode == credentials.ModeClient {
		// The host clock stands in for the network time client.
		s.Status.SetTimeSynced(true)
	}

	s.Dashboard = dashboard.New(dashboard.Config{
		Addr:      cfg.Dashboard.Addr,
		KeepAlive: cfg.Dashboard.KeepAlive,
		Status:    s.Status,
		Store:     s.settingsStore(),
		NewOTA:    s.uploadOTA(),
		Version:   s.opts.Version,
	})
	addr, err := s.Dashboard.Listen()
	if err != nil {
		return s.shutdown(err)
	}
	s.spawn(func() {
		logging.TryAndLog(s.Dashboard.Serve(ctx), "dashboard")
	})

	if s.Network.Mode == credentials.ModeClient {
		s.announce(addr)
	}

	logging.Info("Boot complete",
		zap.Stringer("mode", s.Network.Mode),
		zap.String("address", s.Status.Address()),
		zap.Stringer("dashboard", addr))
	close(s.ready)

	<-ctx.Done()
	return s.shutdown(nil)
}

func (s *System) spawn(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}

func (s *System) shutdown(err error) error {
	s.cancel()
	if s.Advertiser != nil {
		s.Advertiser.Shutdown()
	}
	if s.Supervisor != nil {
		s.Supervisor.Wait()
	}
	s.tasks.Wait()
	logging.Info("Shut down")
	return err
}

// initOTA reads the partition table and confirms the running image. Every
// failure here is logged and tolerated.
func (s *System) initOTA() {
	table, err := partition.Read(s.opts.Device, s.opts.Config.Flash.PartitionTable)
	if !logging.TryAndLog(err, "read partition table") {
		return
	}
	s.Table = table

	mgr, err := ota.New(s.opts.Device, table)
	if !logging.TryAndLog(err, "OTA init") {
		return
	}
	s.OTA = mgr

	changed, err := mgr.Validate()
	if logging.TryAndLog(err, "OTA validation") && changed {
		logging.Info("Running OTA image confirmed")
	}
}

// initStorage mounts the store and formats it only when mounting fails.
func (s *System) initStorage() {
	cfg := s.opts.Config.Store
	pages, err := flash.NewPageAdapter(s.opts.Device, cfg.Offset, cfg.Pages)
	if !logging.TryAndLog(err, "configuration store region") {
		return
	}
	store := kvstore.New(pages)

	if err := store.Mount(); err != nil {
		logging.Warn("Configuration store mount failed, formatting", zap.Error(err))
		if !logging.TryAndLog(store.Format(), "configuration store format") {
			return
		}
	}
	usage := store.Usage()
	logging.Info("Configuration store ready",
		zap.String("offset", fmt.Sprintf("0x%x", cfg.Offset)),
		zap.Int("pages", cfg.Pages),
		zap.Int("records", usage.LiveRecords))
	s.Store = store
}

// uploadOTA returns the dashboard's OTA factory, or nil when OTA init
// failed. Each upload gets its own manager; the boot handle stays with boot.
func (s *System) uploadOTA() func() (*ota.Manager, error) {
	if s.OTA == nil {
		return nil
	}
	dev, table := s.opts.Device, s.Table
	return func() (*ota.Manager, error) { return ota.New(dev, table) }
}

// reader returns the store as a credentials.Reader, or nil without a store.
func (s *System) reader() credentials.Reader {
	if s.Store == nil {
		return nil
	}
	return s.Store
}

// settingsStore returns the store for the dashboard, or nil without one.
func (s *System) settingsStore() credentials.ReadWriter {
	if s.Store == nil {
		return nil
	}
	return s.Store
}

func (s *System) resolveCredentials() {
	s.Network = credentials.ResolveNetwork(s.reader(), *s.opts.Defaults)
	logging.Info("Network credentials resolved",
		zap.Stringer("mode", s.Network.Mode),
		zap.Stringer("source", s.Network.Source),
		zap.String("hostname", s.Network.Credentials.Hostname))

	s.Messaging = credentials.ResolveMessaging(s.reader(), *s.opts.Defaults)
	logging.Info("Messaging credentials resolved",
		zap.Bool("enabled", s.Messaging.Enabled),
		zap.Stringer("source", s.Messaging.Source))
}

func (s *System) newDHCPResponder(iface string, gateway netip.Prefix) (netsup.Responder, error) {
	cfg := s.opts.Config
	srv, err := dhcpd.New(dhcpd.Config{
		Interface: iface,
		Gateway:   gateway,
		Port:      cfg.DHCP.Port,
		LeaseTime: cfg.DHCP.LeaseTime,
		MaxLeases: cfg.DHCP.MaxLeases,
		BindRetry: cfg.Network.Backoff,
		Clock:     s.opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.dhcp = srv
	s.mu.Unlock()
	return srv, nil
}

// announce advertises <hostname>.local for the dashboard. Failure only
// costs the name, so it is logged and ignored.
func (s *System) announce(dashboardAddr net.Addr) {
	prefix, err := netip.ParsePrefix(s.Status.Address())
	if !logging.TryAndLog(err, "mDNS address") {
		return
	}
	port := 0
	if tcp, ok := dashboardAddr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	adv, err := s.opts.Advertise(mdns.Announcement{
		Hostname: s.Network.Credentials.Hostname,
		Addr:     prefix.Addr(),
		Port:     port,
		Version:  s.opts.Version,
		Mode:     s.Network.Mode.String(),
	})
	if logging.TryAndLog(err, "mDNS announce") {
		s.Advertiser = adv
	}
}
