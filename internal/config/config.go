package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/muurk/devboot/internal/dashboard"
	"github.com/muurk/devboot/internal/dhcpd"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/indicator"
	"github.com/muurk/devboot/internal/netsup"
	"github.com/muurk/devboot/internal/partition"
)

// CurrentVersion is the only file version this build understands.
const CurrentVersion = 1

// Config is the device configuration file.
type Config struct {
	Version   int       `yaml:"version"`
	Flash     Flash     `yaml:"flash"`
	Store     Store     `yaml:"store"`
	Network   Network   `yaml:"network"`
	DHCP      DHCP      `yaml:"dhcp"`
	Dashboard Dashboard `yaml:"dashboard"`
	Logging   Logging   `yaml:"logging"`
	Indicator Indicator `yaml:"indicator"`
}

// Flash describes the emulated flash part.
type Flash struct {
	Image          string `yaml:"image"`                     // Path of the flash image file
	Size           uint32 `yaml:"size"`                      // Image size in bytes
	PartitionTable uint32 `yaml:"partition_table,omitempty"` // Byte offset of the partition table
}

// Store locates the configuration store in flash.
type Store struct {
	Offset uint32 `yaml:"offset"`
	Pages  int    `yaml:"pages"`
}

// Network tunes the supervisor.
type Network struct {
	Backoff      time.Duration `yaml:"backoff"`
	PollInterval time.Duration `yaml:"poll_interval"`
	APSSID       string        `yaml:"ap_ssid"`
	APGateway    string        `yaml:"ap_gateway"` // Address and prefix, e.g. 192.168.1.1/28
	Interface    string        `yaml:"interface,omitempty"`
}

// DHCP tunes the access point responder.
type DHCP struct {
	LeaseTime time.Duration `yaml:"lease_time"`
	MaxLeases int           `yaml:"max_leases"`
	Port      int           `yaml:"port,omitempty"`
}

// Dashboard configures the status web server.
type Dashboard struct {
	Addr      string        `yaml:"addr"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// Logging sets the default log level. DEVBOOT_LOG_LEVEL still wins.
type Logging struct {
	Level string `yaml:"level"`
}

// Indicator sets the status LED blink period.
type Indicator struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration devboot runs with when no file exists.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Flash: Flash{
			Image:          "devboot-flash.bin",
			Size:           partition.DefaultFlashSize,
			PartitionTable: partition.TableOffset,
		},
		Store: Store{
			Offset: partition.DefaultStoreOffset,
			Pages:  partition.DefaultStorePages,
		},
		Network: Network{
			Backoff:      netsup.DefaultBackoff,
			PollInterval: netsup.DefaultPollInterval,
			APSSID:       netsup.DefaultAPSSID,
			APGateway:    netsup.DefaultAPGateway.String(),
		},
		DHCP: DHCP{
			LeaseTime: dhcpd.DefaultLeaseTime,
			MaxLeases: dhcpd.DefaultMaxLeases,
		},
		Dashboard: Dashboard{
			Addr:      dashboard.DefaultAddr,
			KeepAlive: dashboard.DefaultKeepAlive,
		},
		Logging:   Logging{Level: "info"},
		Indicator: Indicator{Interval: indicator.DefaultInterval},
	}
}

// fillDefaults sets every zero field to its default, so a file only needs
// the values it changes.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Flash.Image == "" {
		c.Flash.Image = d.Flash.Image
	}
	if c.Flash.Size == 0 {
		c.Flash.Size = d.Flash.Size
	}
	if c.Flash.PartitionTable == 0 {
		c.Flash.PartitionTable = d.Flash.PartitionTable
	}
	if c.Store.Offset == 0 {
		c.Store.Offset = d.Store.Offset
	}
	if c.Store.Pages == 0 {
		c.Store.Pages = d.Store.Pages
	}
	if c.Network.Backoff == 0 {
		c.Network.Backoff = d.Network.Backoff
	}
	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = d.Network.PollInterval
	}
	if c.Network.APSSID == "" {
		c.Network.APSSID = d.Network.APSSID
	}
	if c.Network.APGateway == "" {
		c.Network.APGateway = d.Network.APGateway
	}
	if c.DHCP.LeaseTime == 0 {
		c.DHCP.LeaseTime = d.DHCP.LeaseTime
	}
	if c.DHCP.MaxLeases == 0 {
		c.DHCP.MaxLeases = d.DHCP.MaxLeases
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = d.Dashboard.Addr
	}
	if c.Dashboard.KeepAlive == 0 {
		c.Dashboard.KeepAlive = d.Dashboard.KeepAlive
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Indicator.Interval == 0 {
		c.Indicator.Interval = d.Indicator.Interval
	}
}

// Gateway parses the access point gateway prefix.
func (c *Config) Gateway() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(c.Network.APGateway)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("network.ap_gateway: %w", err)
	}
	return p, nil
}

// Validate checks that the layout fits the flash part and the network
// settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion))
	}
	if c.Flash.Size == 0 || c.Flash.Size%flash.SectorSize != 0 {
		errs = append(errs, fmt.Errorf("flash.size %d is not a whole number of %d byte sectors", c.Flash.Size, flash.SectorSize))
	}
	if c.Store.Offset%flash.SectorSize != 0 {
		errs = append(errs, fmt.Errorf("store.offset 0x%x is not sector aligned", c.Store.Offset))
	}
	if c.Store.Pages < 2 {
		errs = append(errs, fmt.Errorf("store.pages must be at least 2, got %d", c.Store.Pages))
	}
	end := uint64(c.Store.Offset) + uint64(c.Store.Pages)*flash.PageSize
	if end > uint64(c.Flash.Size) {
		errs = append(errs, fmt.Errorf("store ends at 0x%x, beyond flash size 0x%x", end, c.Flash.Size))
	}
	if uint64(c.Flash.PartitionTable)+partition.MaxTableLen > uint64(c.Flash.Size) {
		errs = append(errs, fmt.Errorf("flash.partition_table 0x%x lies outside the image", c.Flash.PartitionTable))
	}
	if c.Network.Backoff < 0 || c.Network.PollInterval < 0 {
		errs = append(errs, errors.New("network intervals must not be negative"))
	}
	if n := len(c.Network.APSSID); n == 0 || n > 32 {
		errs = append(errs, fmt.Errorf("network.ap_ssid must be 1 to 32 bytes, got %d", n))
	}
	if gw, err := c.Gateway(); err != nil {
		errs = append(errs, err)
	} else if !gw.Addr().Is4() {
		errs = append(errs, fmt.Errorf("network.ap_gateway %s is not IPv4", gw))
	}
	if c.DHCP.MaxLeases < 0 {
		errs = append(errs, fmt.Errorf("dhcp.max_leases must not be negative, got %d", c.DHCP.MaxLeases))
	}
	return errors.Join(errs...)
}
