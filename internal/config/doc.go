// Package config manages the devboot device configuration file.
//
// The file is YAML and describes the emulated hardware and the tunables of
// the boot sequence: where the flash image lives and how large it is, where
// the partition table and configuration store sit inside it, supervisor
// backoff and polling, the access point subnet, DHCP lease limits, the
// dashboard address and the default log level.
//
// # Configuration File Location
//
// Unless a path is given explicitly, the file is read from:
//   - Linux: $XDG_CONFIG_HOME/devboot/config.yaml or $HOME/.config/devboot/config.yaml
//   - macOS: $HOME/.config/devboot/config.yaml
//   - Windows: %LOCALAPPDATA%\devboot\config.yaml
//
// A missing file is not an error: Load returns Default().
//
// # Security
//
// Network and broker credentials are never written here. They live in the
// configuration store inside the flash image and are managed with
// devboot-flash kv or the dashboard.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Network.Backoff = 10 * time.Second
//	if err := cfg.Save(""); err != nil {
//	    log.Fatal(err)
//	}
package config
