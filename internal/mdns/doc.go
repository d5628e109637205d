// Package mdns announces devboot devices on the local network and finds
// them again.
//
// A device in client mode advertises its dashboard as an "_http._tcp"
// service under <hostname>.local once it has an address. The TXT record
// carries a "devboot" key with the firmware version, which is how the
// scanner tells devboot devices apart from every other HTTP service on the
// segment.
//
// # Usage Example
//
//	devices, err := mdns.ScanForDevices(5 * time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, device := range devices {
//	    fmt.Printf("Found: %s at %s\n", device.Name(), device.BaseURL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Devices must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package mdns
