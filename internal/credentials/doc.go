// Package credentials resolves the network and messaging credential sets the
// device boots with, and persists new settings with read-back verification.
//
// Resolution is a fixed precedence chain: the set stored in the
// configuration store, then the link-time defaults from package defaults,
// then an empty set. For the network domain the empty set means the device
// starts its own access point; for messaging it means messaging is off.
//
// Length policy: values are never truncated. A compiled default over its
// bound is rejected, a stored value that does not fit its bound is invalid
// data, and an update with an over-long field is refused before any write.
package credentials
