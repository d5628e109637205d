// Package logging provides structured logging for the devboot firmware core.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used throughout the boot sequence, the configuration store and the
// network supervisor. The device has no interactive error surface: everything
// that goes wrong is observable only through this diagnostic stream.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (flash hex dumps, DHCP packets, WebSocket frames)
//   - Info: Normal operations (boot stages, mode selection, readiness)
//   - Warn: Non-fatal issues (truncated reads, retries, fallbacks)
//   - Error: Failed operations that boot recovers from
//
// # Boot Banners
//
// Each boot stage starts with a fixed-width banner line:
//
//	logging.Banner("Storage Init")
//	// ****************** Storage Init ******************
//
// # Try And Log
//
// Fallible operations whose failure must not stop the boot sequence are
// wrapped uniformly:
//
//	logging.TryAndLog(manager.SetState(ota.StateValid), "OTA set state")
//	logging.Try(func() error { return store.Format() }, "store format")
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// The DEVBOOT_LOG_LEVEL environment variable overrides the level passed in.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Replace the global
// logger with SetLogger only before goroutines that log have started.
package logging
