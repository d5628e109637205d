package mdns

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
)

// hostnamePattern is a single DNS label as accepted for <hostname>.local
var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// Announcement describes what a device advertises once its network is up.
type Announcement struct {
	Hostname string
	Addr     netip.Addr
	Port     int
	Version  string
	Mode     string
}

// Text returns the TXT records for the announcement.
func (a Announcement) Text() []string {
	return []string{
		MarkerKey + "=" + a.Version,
		"mode=" + a.Mode,
		"path=/",
	}
}

// Validate checks the hostname and address before anything is sent.
func (a Announcement) Validate() error {
	if !hostnamePattern.MatchString(a.Hostname) {
		return fmt.Errorf("invalid mDNS hostname %q", a.Hostname)
	}
	if !a.Addr.IsValid() {
		return fmt.Errorf("no address to announce for %s.local", a.Hostname)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("invalid port %d", a.Port)
	}
	return nil
}

// registerFunc matches zeroconf.RegisterProxy.
type registerFunc func(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Advertiser answers mDNS queries for the device until Shutdown.
type Advertiser struct {
	announcement Announcement
	server       *zeroconf.Server
}

var register registerFunc = zeroconf.RegisterProxy

// Advertise announces <hostname>.local at the given address with the
// dashboard as an _http._tcp service.
func Advertise(a Announcement) (*Advertiser, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	server, err := register(a.Hostname, ServiceType, ServiceDomain, a.Port,
		a.Hostname, []string{a.Addr.String()}, a.Text(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("mDNS name announced",
		zap.String("name", a.Hostname+".local"),
		zap.Stringer("addr", a.Addr),
		zap.Int("port", a.Port))
	return &Advertiser{announcement: a, server: server}, nil
}

// Announcement returns what is being advertised.
func (a *Advertiser) Announcement() Announcement { return a.announcement }

// Shutdown withdraws the announcement.
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
	}
}
