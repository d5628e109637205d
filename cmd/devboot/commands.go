package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muurk/devboot/internal/boot"
	"github.com/muurk/devboot/internal/config"
	"github.com/muurk/devboot/internal/dashboard"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/mdns"
	"github.com/muurk/devboot/internal/sim"
	"github.com/muurk/devboot/internal/ui"
	"github.com/muurk/devboot/internal/version"
)

// Command flags
var (
	configPath string
	imagePath  string
	logLevel   string
	logFile    string
	monitor    bool

	simPassword        string
	simStartFailures   int
	simConnectFailures int
	simAddress         string

	scanTimeout int
	watchHost   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: user config dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)
}

// runCmd boots the device
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the device and keep it running",
	Long: `Boot the device from a flash image and run it until interrupted.

The image must already exist; create one with 'devboot-flash mkimage'.
The radio is simulated: the --sim flags decide which password the network
accepts, how many start and connect attempts fail, and which address the
upstream DHCP server hands out.

With --monitor the terminal shows a live status view and logs go to
--log-file instead.`,
	Example: `  # Boot from the configured image
  devboot run

  # Boot a specific image with a live status view
  devboot run --image bench.bin --monitor

  # Reject two connection attempts before the network accepts
  devboot run --sim-connect-failures 2 --log-level debug`,
	RunE: runDevice,
}

func init() {
	runCmd.Flags().StringVar(&imagePath, "image", "", "Flash image file (overrides the configuration)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&monitor, "monitor", false, "Show a live status view")
	runCmd.Flags().StringVar(&logFile, "log-file", "devboot.log", "Log destination while --monitor is active")
	runCmd.Flags().StringVar(&simPassword, "sim-password", "", "Only password the simulated network accepts (empty accepts any)")
	runCmd.Flags().IntVar(&simStartFailures, "sim-start-failures", 0, "Radio start attempts that fail before succeeding")
	runCmd.Flags().IntVar(&simConnectFailures, "sim-connect-failures", 0, "Connection attempts that fail before succeeding")
	runCmd.Flags().StringVar(&simAddress, "sim-address", sim.DefaultClientAddress.String(), "Address the simulated upstream DHCP server assigns")
}

func runDevice(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if imagePath != "" {
		cfg.Flash.Image = imagePath
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	if monitor {
		err = logging.InitializeFile(level, logFile)
	} else {
		err = logging.Initialize(level)
	}
	if err != nil {
		return err
	}
	defer logging.Sync()

	address, err := netip.ParsePrefix(simAddress)
	if err != nil {
		return fmt.Errorf("invalid --sim-address: %w", err)
	}

	if _, err := os.Stat(cfg.Flash.Image); errors.Is(err, fs.ErrNotExist) {
		ui.NewPrinter(nil).PrintFailure("No flash image", err, []string{
			"Create one with: devboot-flash mkimage --image " + cfg.Flash.Image,
			"Or point --image at an existing image",
		})
		return fmt.Errorf("flash image %s not found", cfg.Flash.Image)
	}
	dev, err := flash.OpenFile(cfg.Flash.Image, cfg.Flash.Size)
	if err != nil {
		return err
	}
	defer func() {
		logging.TryAndLog(dev.Close(), "close flash image")
	}()

	sys, err := boot.New(boot.Options{
		Config: cfg,
		Device: dev,
		Platform: sim.NewPlatform(sim.Options{
			Password:        simPassword,
			StartFailures:   simStartFailures,
			ConnectFailures: simConnectFailures,
			ClientAddress:   address,
			Interface:       cfg.Network.Interface,
		}),
		Version: version.Version,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !monitor {
		return sys.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()

	snapshots := sys.Status.Subscribe()
	defer sys.Status.Unsubscribe(snapshots)
	if err := ui.RunMonitor(ctx, "devboot "+version.Version, snapshots); err != nil {
		logging.Error("Monitor failed", zap.Error(err))
	}
	cancel()
	return <-done
}

// watchCmd follows a running device's status stream
var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Show the live status of a running device",
	Long: `Connect to a device dashboard and show its status as it changes.

Give the dashboard URL directly, or --host to find the device over mDNS.
Without either, devices on the network are listed to choose from.`,
	Example: `  # Pick from the devices on the network
  devboot watch

  # Watch a device by address
  devboot watch http://192.168.0.50

  # Find the device by its mDNS name
  devboot watch --host esp-device`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchHost, "host", "", "Device hostname to find over mDNS")
	watchCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Scan timeout in seconds when picking a device")
}

func runWatch(cmd *cobra.Command, args []string) error {
	var baseURL string
	switch {
	case len(args) == 1:
		baseURL = args[0]
	case watchHost != "":
		fmt.Printf("Looking for %s.local...\n", watchHost)
		device, err := mdns.FindDevice(watchHost)
		if err != nil {
			return err
		}
		baseURL = device.BaseURL()
	default:
		chosen, err := ui.RunPicker(func(ctx context.Context) ([]*mdns.Device, error) {
			scanner := mdns.NewScanner()
			scanner.Timeout = time.Duration(scanTimeout) * time.Second
			return scanner.ScanForDevicesWithContext(ctx)
		})
		if err != nil {
			return err
		}
		if chosen == "" {
			return nil
		}
		baseURL = chosen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, err := dashboard.Watch(ctx, nil, baseURL)
	if err != nil {
		return err
	}
	return ui.RunMonitor(ctx, baseURL, snapshots)
}

// scanCmd discovers devices on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for devboot devices on the network",
	Long: `Scan for devices announcing their dashboard over mDNS.

Only devices in client mode announce themselves; a device hosting its own
access point is reached at its gateway address instead.`,
	Example: `  # Scan for 10 seconds (default)
  devboot scan

  # Quick 3-second scan
  devboot scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(nil)
	fmt.Printf("Scanning for devboot devices (timeout: %ds)...\n\n", scanTimeout)

	devices, err := mdns.ScanForDevices(time.Duration(scanTimeout) * time.Second)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(devices) == 0 {
		p.PrintWarning("No devices found", map[string]string{
			"Timeout": strconv.Itoa(scanTimeout) + "s",
			"Hint":    "only client-mode devices announce themselves",
		})
		return nil
	}

	rows := [][]string{{"NAME", "DASHBOARD", "MODE", "VERSION"}}
	for _, d := range devices {
		rows = append(rows, []string{d.Name(), d.BaseURL(), d.GetMetadata("mode"), d.GetMetadata(mdns.MarkerKey)})
	}
	p.PrintTable(rows)
	p.Newline()
	p.Println("Use 'devboot watch <dashboard>' to follow a device")
	return nil
}

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Configuration written", map[string]string{"Path": path})
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
