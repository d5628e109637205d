// Package boot wires the device subsystems together and runs the boot
// sequence: OTA confirmation, configuration store, credential resolution,
// status indicator, network bring-up, and finally the dashboard and mDNS
// announcement.
//
// A System owns every long-lived handle. It is built with New and driven
// by Run, which returns once its context is cancelled and every service has
// stopped:
//
//	sys, err := boot.New(boot.Options{
//	    Config:   cfg,
//	    Device:   dev,
//	    Platform: sim.NewPlatform(sim.Options{}),
//	    Version:  version.Version,
//	})
//	if err != nil {
//	    return err
//	}
//	return sys.Run(ctx)
package boot
