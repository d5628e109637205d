package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/kvstore"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/ui"
)

var revealSecrets bool

func init() {
	rootCmd.AddCommand(kvCmd)
	kvCmd.AddCommand(kvListCmd)
	kvCmd.AddCommand(kvGetCmd)
	kvCmd.AddCommand(kvSetCmd)
	kvCmd.AddCommand(kvExportCmd)
	kvCmd.AddCommand(kvFormatCmd)

	kvListCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "Show password values")
	kvExportCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "Include password values")
}

// kvCmd groups the configuration store commands
var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Read or change the configuration store",
	Long: `Read or change the configuration store of an image.

Credential keys are checked against their length bounds before they are
written. Password values are masked unless --reveal is given.`,
}

// withStore mounts the store of the configured image for fn.
func withStore(fn func(store *kvstore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openImage(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	store, err := openStore(dev, cfg)
	if err != nil {
		return fmt.Errorf("configuration store: %w", err)
	}
	if err := fn(store); err != nil {
		return err
	}
	return dev.Sync()
}

func isSecret(key string) bool {
	return strings.HasSuffix(key, "password")
}

// dump reads every key, masking secrets unless reveal is set.
func dump(store *kvstore.Store, reveal bool) (map[string]string, error) {
	out := make(map[string]string)
	for _, key := range store.Keys() {
		v, err := store.Read(key, 0)
		if err != nil {
			return nil, err
		}
		out[key] = v.String()
		if isSecret(key) && !reveal {
			out[key] = strings.Repeat("*", 8)
		}
	}
	return out, nil
}

var kvListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys and values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *kvstore.Store) error {
			values, err := dump(store, revealSecrets)
			if err != nil {
				return err
			}
			usage := store.Usage()
			rows := [][]string{{"KEY", "VALUE"}}
			for _, key := range store.Keys() {
				rows = append(rows, []string{key, values[key]})
			}
			p := ui.NewPrinter(nil)
			p.PrintTable(rows)
			p.Newline()
			p.Println(fmt.Sprintf("%d records, %d of %d bytes used, %d of %d pages erased",
				usage.LiveRecords, usage.LiveBytes, usage.Capacity, usage.ErasedPages, usage.Pages))
			return nil
		})
	},
}

var kvGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *kvstore.Store) error {
			v, err := store.Read(args[0], 0)
			if err != nil {
				return err
			}
			logging.LogRawBytes(args[0], v.Data)
			fmt.Println(v.String())
			return nil
		})
	},
}

var kvSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if limit, ok := credentials.Bound(key); ok && len(value) > limit {
			return fmt.Errorf("%s is limited to %d bytes, got %d", key, limit, len(value))
		}
		return withStore(func(store *kvstore.Store) error {
			if err := store.Write(key, []byte(value)); err != nil {
				return err
			}
			ui.NewPrinter(nil).PrintSuccess("Value written", map[string]string{"Key": key, "Length": fmt.Sprint(len(value))})
			return nil
		})
	},
}

var kvExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the store as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *kvstore.Store) error {
			values, err := dump(store, revealSecrets)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(values)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		})
	},
}

var kvFormatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase the configuration store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !assumeYes && !ui.ConfirmDestructive(os.Stdin, os.Stdout, "Format configuration store", []string{
			"Every stored key is erased, including network credentials",
			"The device falls back to its compiled-in credentials on next boot",
		}) {
			return errors.New("aborted")
		}

		dev, err := openImage(cfg)
		if err != nil {
			return err
		}
		defer dev.Close()
		pages, err := flashPages(dev, cfg)
		if err != nil {
			return err
		}
		if err := kvstore.New(pages).Format(); err != nil {
			return err
		}
		if err := dev.Sync(); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Store formatted", map[string]string{
			"Offset": fmt.Sprintf("0x%08x", cfg.Store.Offset),
			"Pages":  fmt.Sprint(cfg.Store.Pages),
		})
		return nil
	},
}
