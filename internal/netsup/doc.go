// Package netsup supervises the wireless network for the lifetime of the
// process.
//
// The mode is fixed when the Supervisor is created: Client joins the network
// named by the resolved credentials and takes its address from DHCP;
// AccessPoint broadcasts an open network and assigns itself a static
// gateway address, with a DHCP responder serving the rest of the subnet.
//
// Bringup returns once the stack has an address. The connection loop it
// starts keeps running afterwards: every failure is logged and retried after
// a fixed backoff, and there is no terminal state.
//
//	Idle -> Starting -> Connected | ApActive -> Disconnected | Stopped -> Starting
//
// The radio and IP stack are platform services behind the Radio, Stack and
// Platform interfaces; internal/sim provides a host implementation.
package netsup
