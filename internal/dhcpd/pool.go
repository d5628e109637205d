package dhcpd

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/muurk/devboot/internal/clock"
)

const (
	// DefaultLeaseTime is granted with every offer and acknowledgement.
	DefaultLeaseTime = 2 * time.Hour

	// DefaultMaxLeases caps the lease table.
	DefaultMaxLeases = 64
)

var (
	// ErrPoolExhausted means every address in the pool is leased.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrNotInPool means the address is outside the served range.
	ErrNotInPool = errors.New("address not in pool")

	// ErrAddressInUse means another client holds the address.
	ErrAddressInUse = errors.New("address leased to another client")
)

// Lease binds a client hardware address to a pool address.
type Lease struct {
	MAC     net.HardwareAddr
	Addr    netip.Addr
	Expires time.Time
}

// Expired reports whether the lease has run out at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.Expires)
}

// Pool hands out the host addresses of the gateway's subnet, excluding the
// network, broadcast and gateway addresses. Leases are sticky per client: a
// returning client gets its previous address back while nobody else holds it.
type Pool struct {
	mu        sync.Mutex
	gateway   netip.Prefix
	addrs     []netip.Addr
	inPool    map[netip.Addr]bool
	leaseTime time.Duration
	maxLeases int
	clock     clock.Clock

	byMAC  map[string]*Lease
	byAddr map[netip.Addr]*Lease
}

// NewPool creates a pool for the subnet of gateway.
func NewPool(gateway netip.Prefix, leaseTime time.Duration, maxLeases int, clk clock.Clock) (*Pool, error) {
	if !gateway.IsValid() || !gateway.Addr().Is4() {
		return nil, fmt.Errorf("gateway %s is not an IPv4 prefix", gateway)
	}
	if leaseTime <= 0 {
		leaseTime = DefaultLeaseTime
	}
	if maxLeases <= 0 {
		maxLeases = DefaultMaxLeases
	}
	if clk == nil {
		clk = clock.Real()
	}

	network := gateway.Masked()
	broadcast := lastAddr(network)
	p := &Pool{
		gateway:   gateway,
		inPool:    make(map[netip.Addr]bool),
		leaseTime: leaseTime,
		maxLeases: maxLeases,
		clock:     clk,
		byMAC:     make(map[string]*Lease),
		byAddr:    make(map[netip.Addr]*Lease),
	}
	for a := network.Addr().Next(); a.IsValid() && a.Less(broadcast); a = a.Next() {
		if a == gateway.Addr() {
			continue
		}
		p.addrs = append(p.addrs, a)
		p.inPool[a] = true
	}
	if len(p.addrs) == 0 {
		return nil, fmt.Errorf("subnet %s has no addresses to lease", network)
	}
	return p, nil
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().As4()
	hostBits := 32 - p.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := hostBits
		if n > 8 {
			n = 8
		}
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return netip.AddrFrom4(b)
}

// Gateway returns the server address and prefix.
func (p *Pool) Gateway() netip.Prefix { return p.gateway }

// Size returns the number of leasable addresses.
func (p *Pool) Size() int { return len(p.addrs) }

// Contains reports whether addr is one of the leasable addresses.
func (p *Pool) Contains(addr netip.Addr) bool { return p.inPool[addr] }

// Offer picks an address for mac: its current lease if it has one, the
// requested address if free, otherwise the lowest free address.
func (p *Pool) Offer(mac net.HardwareAddr, requested netip.Addr) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if l, ok := p.byMAC[mac.String()]; ok {
		l.Expires = now.Add(p.leaseTime)
		return *l, nil
	}
	if requested.IsValid() && p.freeLocked(requested, now) {
		return p.grantLocked(mac, requested, now)
	}
	for _, a := range p.addrs {
		if p.freeLocked(a, now) {
			return p.grantLocked(mac, a, now)
		}
	}
	return Lease{}, ErrPoolExhausted
}

// Bind confirms addr for mac, moving the client's lease if it held a
// different address.
func (p *Pool) Bind(mac net.HardwareAddr, addr netip.Addr) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if !p.inPool[addr] {
		return Lease{}, ErrNotInPool
	}
	if l, ok := p.byMAC[mac.String()]; ok && l.Addr == addr {
		l.Expires = now.Add(p.leaseTime)
		return *l, nil
	}
	if !p.freeLocked(addr, now) {
		return Lease{}, ErrAddressInUse
	}
	if l, ok := p.byMAC[mac.String()]; ok {
		delete(p.byAddr, l.Addr)
		delete(p.byMAC, mac.String())
	}
	return p.grantLocked(mac, addr, now)
}

// Release frees the lease mac holds on addr. Releasing an address the
// client does not hold is ignored.
func (p *Pool) Release(mac net.HardwareAddr, addr netip.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.byMAC[mac.String()]
	if !ok || (addr.IsValid() && l.Addr != addr) {
		return false
	}
	delete(p.byMAC, mac.String())
	delete(p.byAddr, l.Addr)
	return true
}

// Leases returns the unexpired leases ordered by address.
func (p *Pool) Leases() []Lease {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]Lease, 0, len(p.byMAC))
	for _, l := range p.byMAC {
		if !l.Expired(now) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

func (p *Pool) freeLocked(addr netip.Addr, now time.Time) bool {
	if !p.inPool[addr] {
		return false
	}
	l, ok := p.byAddr[addr]
	return !ok || l.Expired(now)
}

func (p *Pool) grantLocked(mac net.HardwareAddr, addr netip.Addr, now time.Time) (Lease, error) {
	if old, ok := p.byAddr[addr]; ok {
		delete(p.byMAC, old.MAC.String())
		delete(p.byAddr, addr)
	}
	if len(p.byMAC) >= p.maxLeases && !p.evictExpiredLocked(now) {
		return Lease{}, ErrPoolExhausted
	}
	l := &Lease{
		MAC:     append(net.HardwareAddr(nil), mac...),
		Addr:    addr,
		Expires: now.Add(p.leaseTime),
	}
	p.byMAC[mac.String()] = l
	p.byAddr[addr] = l
	return *l, nil
}

func (p *Pool) evictExpiredLocked(now time.Time) bool {
	for key, l := range p.byMAC {
		if l.Expired(now) {
			delete(p.byMAC, key)
			delete(p.byAddr, l.Addr)
			return true
		}
	}
	return false
}
