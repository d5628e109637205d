package dhcpd

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"

	"github.com/muurk/devboot/internal/clock"
)

var (
	gateway = netip.MustParsePrefix("192.168.1.1/28")
	macA    = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xa}
	macB    = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xb}
	epoch   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestPool(t *testing.T, clk clock.Clock) *Pool {
	t.Helper()
	p, err := NewPool(gateway, 0, 0, clk)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return p
}

func TestNewPool_Range(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))

	if p.Size() != 13 {
		t.Errorf("Expected 13 leasable addresses, got %d", p.Size())
	}
	for _, tt := range []struct {
		addr string
		want bool
	}{
		{"192.168.1.0", false},
		{"192.168.1.1", false},
		{"192.168.1.2", true},
		{"192.168.1.14", true},
		{"192.168.1.15", false},
		{"192.168.1.16", false},
	} {
		if got := p.Contains(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestNewPool_Invalid(t *testing.T) {
	if _, err := NewPool(netip.Prefix{}, 0, 0, nil); err == nil {
		t.Error("Expected error for missing gateway")
	}
	if _, err := NewPool(netip.MustParsePrefix("10.0.0.1/31"), 0, 0, nil); err == nil {
		t.Error("Expected error for a subnet without host addresses")
	}
}

func TestPool_StickyPerClient(t *testing.T) {
	clk := clock.Fake(epoch)
	p := newTestPool(t, clk)

	first, err := p.Offer(macA, netip.Addr{})
	if err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if first.Addr != netip.MustParseAddr("192.168.1.2") {
		t.Errorf("Expected lowest address, got %s", first.Addr)
	}
	if first.Expires != epoch.Add(DefaultLeaseTime) {
		t.Errorf("Expected 2h lease, expires %v", first.Expires)
	}

	clk.Advance(3 * time.Hour)
	again, err := p.Offer(macA, netip.MustParseAddr("192.168.1.9"))
	if err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if again.Addr != first.Addr {
		t.Errorf("Expected sticky address %s, got %s", first.Addr, again.Addr)
	}
}

func TestPool_RequestedAddress(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))

	l, err := p.Offer(macA, netip.MustParseAddr("192.168.1.9"))
	if err != nil || l.Addr != netip.MustParseAddr("192.168.1.9") {
		t.Errorf("Expected requested address, got %s, %v", l.Addr, err)
	}
	l, err = p.Offer(macB, netip.MustParseAddr("192.168.1.9"))
	if err != nil || l.Addr != netip.MustParseAddr("192.168.1.2") {
		t.Errorf("Expected fallback to lowest free address, got %s, %v", l.Addr, err)
	}
	l, err = p.Offer(net.HardwareAddr{2, 0, 0, 0, 0, 0xc}, netip.MustParseAddr("10.0.0.5"))
	if err != nil || !p.Contains(l.Addr) {
		t.Errorf("Expected foreign request to get a pool address, got %s, %v", l.Addr, err)
	}
}

func TestPool_Exhausted(t *testing.T) {
	clk := clock.Fake(epoch)
	p := newTestPool(t, clk)

	for i := 0; i < p.Size(); i++ {
		mac := net.HardwareAddr{2, 0, 0, 0, 1, byte(i)}
		if _, err := p.Offer(mac, netip.Addr{}); err != nil {
			t.Fatalf("Offer(%d) error = %v", i, err)
		}
	}
	if _, err := p.Offer(macA, netip.Addr{}); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}

	clk.Advance(DefaultLeaseTime)
	if _, err := p.Offer(macA, netip.Addr{}); err != nil {
		t.Errorf("Expected an expired lease to be reused, got %v", err)
	}
}

func TestPool_MaxLeases(t *testing.T) {
	p, err := NewPool(netip.MustParsePrefix("10.0.0.1/24"), time.Hour, 2, clock.Fake(epoch))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	p.Offer(macA, netip.Addr{})
	p.Offer(macB, netip.Addr{})
	if _, err := p.Offer(net.HardwareAddr{2, 0, 0, 0, 0, 0xc}, netip.Addr{}); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected lease cap to apply, got %v", err)
	}
}

func TestPool_BindAndRelease(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))
	addr := netip.MustParseAddr("192.168.1.5")

	if _, err := p.Bind(macA, addr); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := p.Bind(macB, addr); !errors.Is(err, ErrAddressInUse) {
		t.Errorf("Expected ErrAddressInUse, got %v", err)
	}
	if _, err := p.Bind(macB, netip.MustParseAddr("192.168.1.1")); !errors.Is(err, ErrNotInPool) {
		t.Errorf("Expected ErrNotInPool for the gateway, got %v", err)
	}

	if p.Release(macB, addr) {
		t.Error("Release by another client should be ignored")
	}
	if !p.Release(macA, addr) {
		t.Error("Expected Release to free the lease")
	}
	if _, err := p.Bind(macB, addr); err != nil {
		t.Errorf("Expected released address to be bindable, got %v", err)
	}
	if leases := p.Leases(); len(leases) != 1 || leases[0].Addr != addr {
		t.Errorf("Expected one lease on %s, got %+v", addr, leases)
	}
}

func TestReply_DiscoverRequestRelease(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))

	discover, err := dhcpv4.NewDiscovery(macA)
	if err != nil {
		t.Fatalf("NewDiscovery() error = %v", err)
	}
	offer := p.Reply(discover)
	if offer == nil || offer.MessageType() != dhcpv4.MessageTypeOffer {
		t.Fatalf("Expected OFFER, got %v", offer)
	}
	offered := toAddr(offer.YourIPAddr)
	if !p.Contains(offered) {
		t.Errorf("Offered address %s outside the pool", offered)
	}
	if sid := toAddr(offer.ServerIdentifier()); sid != gateway.Addr() {
		t.Errorf("Expected server identifier %s, got %s", gateway.Addr(), sid)
	}
	if mask := offer.SubnetMask(); mask.String() != net.CIDRMask(28, 32).String() {
		t.Errorf("Expected /28 netmask, got %s", mask)
	}

	request, err := dhcpv4.NewRequestFromOffer(offer)
	if err != nil {
		t.Fatalf("NewRequestFromOffer() error = %v", err)
	}
	ack := p.Reply(request)
	if ack == nil || ack.MessageType() != dhcpv4.MessageTypeAck {
		t.Fatalf("Expected ACK, got %v", ack)
	}
	if toAddr(ack.YourIPAddr) != offered {
		t.Errorf("Expected ACK for %s, got %s", offered, ack.YourIPAddr)
	}

	release, _ := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
		dhcpv4.WithHwAddr(macA),
		dhcpv4.WithClientIP(net.IP(offered.AsSlice())))
	if resp := p.Reply(release); resp != nil {
		t.Errorf("Expected no reply to RELEASE, got %v", resp.MessageType())
	}
	if len(p.Leases()) != 0 {
		t.Errorf("Expected lease to be freed, got %+v", p.Leases())
	}
}

func TestReply_NakForeignAddress(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))

	req, _ := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithHwAddr(macA),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(10, 0, 0, 7))))
	resp := p.Reply(req)
	if resp == nil || resp.MessageType() != dhcpv4.MessageTypeNak {
		t.Fatalf("Expected NAK, got %v", resp)
	}
	if dest := replyAddr(req, resp); !dest.IP.Equal(net.IPv4bcast) {
		t.Errorf("Expected NAK to be broadcast, got %s", dest)
	}
}

func TestReply_IgnoresOtherServer(t *testing.T) {
	p := newTestPool(t, clock.Fake(epoch))

	req, _ := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithHwAddr(macA),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 1, 99))),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 3))))
	if resp := p.Reply(req); resp != nil {
		t.Errorf("Expected no reply for another server, got %v", resp.MessageType())
	}
}

type fakeListener struct {
	mu      sync.Mutex
	closed  chan struct{}
	serves  int
	failing int
}

func (f *fakeListener) Serve() error {
	f.mu.Lock()
	f.serves++
	fail := f.failing > 0
	if fail {
		f.failing--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("read failed")
	}
	<-f.closed
	return net.ErrClosed
}

func (f *fakeListener) Close() error {
	close(f.closed)
	return nil
}

func (f *fakeListener) serveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serves
}

func TestRun_RetriesBindAndServe(t *testing.T) {
	clk := clock.Fake(epoch)
	srv, err := New(Config{Gateway: gateway, Clock: clk})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	fl := &fakeListener{closed: make(chan struct{}), failing: 1}
	var mu sync.Mutex
	binds := 0
	var gotAddr *net.UDPAddr
	srv.listen = func(iface string, addr *net.UDPAddr, h server4.Handler) (listener, error) {
		mu.Lock()
		defer mu.Unlock()
		binds++
		gotAddr = addr
		if binds <= 2 {
			return nil, errors.New("address in use")
		}
		return fl, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	clk.BlockUntil(1)
	clk.Advance(DefaultBindRetry)
	clk.BlockUntil(1)
	clk.Advance(DefaultBindRetry)

	clk.BlockUntil(1)
	if d, _ := clk.NextDeadline(); d != DefaultServeRetry {
		t.Errorf("Expected serve retry of %v, got %v", DefaultServeRetry, d)
	}
	clk.Advance(DefaultServeRetry)

	deadline := time.Now().Add(5 * time.Second)
	for fl.serveCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for serve restart")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if binds != 3 {
		t.Errorf("Expected 3 bind attempts, got %d", binds)
	}
	if gotAddr.Port != 67 || !gotAddr.IP.Equal(net.IPv4zero) {
		t.Errorf("Expected bind on 0.0.0.0:67, got %s", gotAddr)
	}
}

type capturePacketConn struct {
	net.PacketConn
	data []byte
	dest net.Addr
}

func (c *capturePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.data = append([]byte(nil), b...)
	c.dest = addr
	return len(b), nil
}

func TestHandle_WritesBroadcastOffer(t *testing.T) {
	srv, err := New(Config{Gateway: gateway, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	discover, _ := dhcpv4.NewDiscovery(macB)
	conn := &capturePacketConn{}

	srv.handle(conn, &net.UDPAddr{IP: net.IPv4zero, Port: 68}, discover)

	if conn.data == nil {
		t.Fatal("Expected a reply to be written")
	}
	reply, err := dhcpv4.FromBytes(conn.data)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if reply.MessageType() != dhcpv4.MessageTypeOffer {
		t.Errorf("Expected OFFER, got %v", reply.MessageType())
	}
	if udp, ok := conn.dest.(*net.UDPAddr); !ok || !udp.IP.Equal(net.IPv4bcast) || udp.Port != 68 {
		t.Errorf("Expected broadcast to port 68, got %v", conn.dest)
	}
}
