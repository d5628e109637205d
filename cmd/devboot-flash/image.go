package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/config"
	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/kvstore"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/partition"
	"github.com/muurk/devboot/internal/ui"
)

// Command flags
var (
	configPath string
	imagePath  string
	logLevel   string
	assumeYes  bool

	imageSize uint32
	force     bool
	seed      seedOptions
)

// seedOptions are the credentials mkimage writes into a new store.
type seedOptions struct {
	Network   credentials.Network
	Messaging credentials.Messaging
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "", "Flash image file (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation of destructive operations")

	rootCmd.AddCommand(mkimageCmd)
	rootCmd.AddCommand(partitionsCmd)
}

// loadConfig returns the configuration with the --image override applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if imagePath != "" {
		cfg.Flash.Image = imagePath
	}
	return cfg, nil
}

// openImage maps an existing image, whatever its size.
func openImage(cfg *config.Config) (*flash.FileDevice, error) {
	if _, err := os.Stat(cfg.Flash.Image); err != nil {
		return nil, fmt.Errorf("flash image %s: %w", cfg.Flash.Image, err)
	}
	return flash.OpenFile(cfg.Flash.Image, 0)
}

// flashPages is the configuration store region of an image.
func flashPages(dev flash.Device, cfg *config.Config) (*flash.PageAdapter, error) {
	return flash.NewPageAdapter(dev, cfg.Store.Offset, cfg.Store.Pages)
}

// openStore mounts the configuration store of an image.
func openStore(dev flash.Device, cfg *config.Config) (*kvstore.Store, error) {
	pages, err := flashPages(dev, cfg)
	if err != nil {
		return nil, err
	}
	store := kvstore.New(pages)
	if err := store.Mount(); err != nil {
		return nil, err
	}
	return store, nil
}

// mkimageCmd creates a new flash image
var mkimageCmd = &cobra.Command{
	Use:   "mkimage",
	Short: "Create a flash image",
	Long: `Create a flash image with the default partition layout and a formatted
configuration store.

Network and messaging credentials can be seeded into the store so the
device joins a network on its first boot. Without them it falls back to
its compiled-in credentials, and to hosting its own access point.`,
	Example: `  # Create the configured image
  devboot-flash mkimage

  # Create an image that joins "home" on first boot
  devboot-flash mkimage --image bench.bin --ssid home --password secret

  # Replace an existing image
  devboot-flash mkimage --force`,
	RunE: runMkimage,
}

func init() {
	mkimageCmd.Flags().Uint32Var(&imageSize, "size", 0, "Image size in bytes (default from configuration)")
	mkimageCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing image")
	mkimageCmd.Flags().StringVar(&seed.Network.SSID, "ssid", "", "Network name to seed")
	mkimageCmd.Flags().StringVar(&seed.Network.Password, "password", "", "Network password to seed")
	mkimageCmd.Flags().StringVar(&seed.Network.Hostname, "hostname", "", "Device hostname to seed")
	mkimageCmd.Flags().StringVar(&seed.Messaging.Broker, "broker", "", "MQTT broker URL to seed")
	mkimageCmd.Flags().StringVar(&seed.Messaging.ClientID, "client-id", "", "MQTT client id to seed")
	mkimageCmd.Flags().StringVar(&seed.Messaging.Username, "mqtt-username", "", "MQTT username to seed")
	mkimageCmd.Flags().StringVar(&seed.Messaging.Password, "mqtt-password", "", "MQTT password to seed")
}

func runMkimage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if imageSize != 0 {
		cfg.Flash.Size = imageSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Flash Image",
		Command: "devboot-flash mkimage",
		Params: map[string]string{
			"Image": cfg.Flash.Image,
			"Size":  formatSize(cfg.Flash.Size),
		},
		Steps: mkimageSteps,
		Hints: []string{
			"Use --force to replace an existing image",
			"Check that the image directory is writable",
		},
	})
	return runner.Run(func(step ui.StepFunc) (map[string]string, error) {
		return buildImage(cfg, seed, force, step)
	})
}

var mkimageSteps = []string{
	"Create image",
	"Write partition table",
	"Format configuration store",
	"Seed network credentials",
	"Seed messaging credentials",
}

// buildImage creates cfg.Flash.Image and reports each mkimage step.
func buildImage(cfg *config.Config, seed seedOptions, overwrite bool, step ui.StepFunc) (map[string]string, error) {
	path := cfg.Flash.Image

	step(1, ui.StepRunning, "")
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			step(1, ui.StepFailed, "exists")
			return nil, fmt.Errorf("%s already exists", path)
		}
		if err := os.Remove(path); err != nil {
			step(1, ui.StepFailed, "")
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		step(1, ui.StepFailed, "")
		return nil, err
	}
	dev, err := flash.OpenFile(path, cfg.Flash.Size)
	if err != nil {
		step(1, ui.StepFailed, "")
		return nil, err
	}
	defer dev.Close()
	step(1, ui.StepComplete, formatSize(cfg.Flash.Size))

	step(2, ui.StepRunning, "")
	table := partition.DefaultLayout()
	if err := partition.Write(dev, cfg.Flash.PartitionTable, table); err != nil {
		step(2, ui.StepFailed, "")
		return nil, err
	}
	for _, e := range table.Entries {
		logging.Debug("Partition written", zap.String("entry", e.Describe()))
	}
	step(2, ui.StepComplete, fmt.Sprintf("%d partitions", len(table.Entries)))

	step(3, ui.StepRunning, "")
	pages, err := flashPages(dev, cfg)
	if err != nil {
		step(3, ui.StepFailed, "")
		return nil, err
	}
	store := kvstore.New(pages)
	if err := store.Format(); err != nil {
		step(3, ui.StepFailed, "")
		return nil, err
	}
	step(3, ui.StepComplete, fmt.Sprintf("%d pages", cfg.Store.Pages))

	details := map[string]string{
		"Image":          path,
		"Size":           formatSize(cfg.Flash.Size),
		"Store":          fmt.Sprintf("0x%08x", cfg.Store.Offset),
		"Network seed":   "none",
		"Messaging seed": "none",
	}

	if seed.Network.SSID == "" && seed.Network.Password == "" {
		step(4, ui.StepSkipped, "no --ssid")
	} else {
		step(4, ui.StepRunning, "")
		if err := seedNetwork(store, seed.Network); err != nil {
			step(4, ui.StepFailed, "")
			return nil, err
		}
		step(4, ui.StepComplete, seed.Network.SSID)
		details["Network seed"] = seed.Network.SSID
	}

	if seed.Messaging.Broker == "" {
		step(5, ui.StepSkipped, "no --broker")
	} else {
		step(5, ui.StepRunning, "")
		verified, err := credentials.UpdateMessaging(store, seed.Messaging)
		if err != nil || !verified {
			step(5, ui.StepFailed, "")
			return nil, verifyError(err)
		}
		step(5, ui.StepComplete, seed.Messaging.Broker)
		details["Messaging seed"] = seed.Messaging.Broker
	}

	if err := dev.Sync(); err != nil {
		return nil, err
	}
	return details, nil
}

func seedNetwork(store credentials.ReadWriter, n credentials.Network) error {
	if !n.Usable() {
		return errors.New("network seed needs both --ssid and --password")
	}
	verified, err := credentials.UpdateNetwork(store, n)
	if err != nil || !verified {
		return verifyError(err)
	}
	return nil
}

func verifyError(err error) error {
	if err != nil {
		return err
	}
	return errors.New("stored value did not read back as written")
}

func formatSize(n uint32) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// partitionsCmd prints the partition table
var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Print the partition table of an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dev, err := openImage(cfg)
		if err != nil {
			return err
		}
		defer dev.Close()

		table, err := partition.Read(dev, cfg.Flash.PartitionTable)
		if err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintTable(partitionRows(table))
		return nil
	},
}

func partitionRows(table *partition.Table) [][]string {
	rows := [][]string{{"LABEL", "TYPE", "SUBTYPE", "OFFSET", "SIZE"}}
	for _, e := range table.Entries {
		rows = append(rows, []string{
			e.Label,
			e.Type.String(),
			fmt.Sprintf("0x%02x", uint8(e.SubType)),
			fmt.Sprintf("0x%08x", e.Offset),
			formatSize(e.Size),
		})
	}
	return rows
}
