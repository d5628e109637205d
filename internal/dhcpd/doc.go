// Package dhcpd is the small DHCP responder that runs beside the access
// point.
//
// It leases the host addresses of the gateway's subnet (192.168.1.2 to
// 192.168.1.14 for the default 192.168.1.1/28) for two hours, never more
// than 64 at once, and remembers which client had which address. The wire
// codec and UDP plumbing come from github.com/insomniacslk/dhcp.
package dhcpd
