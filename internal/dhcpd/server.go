package dhcpd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/clock"
	"github.com/muurk/devboot/internal/logging"
)

const (
	// DefaultBindRetry is the pause between attempts to bind the server port.
	DefaultBindRetry = 5 * time.Second

	// DefaultServeRetry is the pause before serving again after an error.
	DefaultServeRetry = 500 * time.Millisecond
)

// Config configures the responder.
type Config struct {
	// Interface restricts the socket to one interface; "" binds all.
	Interface string

	// Gateway is the server address and subnet, e.g. 192.168.1.1/28.
	Gateway netip.Prefix

	// Port defaults to the standard server port 67.
	Port int

	LeaseTime  time.Duration
	MaxLeases  int
	BindRetry  time.Duration
	ServeRetry time.Duration
	Clock      clock.Clock
}

// listener is the part of server4.Server the responder drives.
type listener interface {
	Serve() error
	Close() error
}

type listenFunc func(iface string, addr *net.UDPAddr, handler server4.Handler) (listener, error)

func listenUDP(iface string, addr *net.UDPAddr, handler server4.Handler) (listener, error) {
	srv, err := server4.NewServer(iface, addr, handler, server4.WithLogger(zapLogger{}))
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Server answers DHCP clients on the access point subnet.
type Server struct {
	cfg    Config
	pool   *Pool
	listen listenFunc
}

// New creates a responder. It does not touch the network until Run.
func New(cfg Config) (*Server, error) {
	if cfg.Port == 0 {
		cfg.Port = dhcpv4.ServerPort
	}
	if cfg.BindRetry <= 0 {
		cfg.BindRetry = DefaultBindRetry
	}
	if cfg.ServeRetry <= 0 {
		cfg.ServeRetry = DefaultServeRetry
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	pool, err := NewPool(cfg.Gateway, cfg.LeaseTime, cfg.MaxLeases, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("dhcp pool: %w", err)
	}
	return &Server{cfg: cfg, pool: pool, listen: listenUDP}, nil
}

// Pool returns the lease pool.
func (s *Server) Pool() *Pool { return s.pool }

// Run binds 0.0.0.0:<port> and serves until ctx is cancelled. A failed bind
// is retried every BindRetry; a serve error restarts serving after
// ServeRetry. Run only returns ctx's error.
func (s *Server) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: s.cfg.Port}
	log := logging.With(zap.Stringer("listen", addr), zap.String("interface", s.cfg.Interface))

	var srv listener
	for {
		var err error
		srv, err = s.listen(s.cfg.Interface, addr, s.handle)
		if err == nil {
			break
		}
		log.Error("DHCP server: failed to bind socket", zap.Error(err), zap.Duration("retry", s.cfg.BindRetry))
		if err := s.sleep(ctx, s.cfg.BindRetry); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	log.Info("DHCP server started",
		zap.Stringer("gateway", s.cfg.Gateway),
		zap.Int("pool_size", s.pool.Size()))
	for {
		err := srv.Serve()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("DHCP server error", zap.Error(err))
		if err := s.sleep(ctx, s.cfg.ServeRetry); err != nil {
			return err
		}
	}
}

func (s *Server) handle(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4) {
	resp := s.pool.Reply(req)
	if resp == nil {
		return
	}
	dest := replyAddr(req, resp)
	if _, err := conn.WriteTo(resp.ToBytes(), dest); err != nil {
		logging.Warn("DHCP server: failed to send reply",
			zap.Stringer("peer", peer),
			zap.Stringer("dest", dest),
			zap.Error(err))
	}
}

func (s *Server) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.cfg.Clock.After(d):
		return nil
	}
}

// zapLogger routes server4's message logging through the process logger.
type zapLogger struct{}

func (zapLogger) PrintMessage(prefix string, message *dhcpv4.DHCPv4) {
	logging.Debug(prefix, zap.String("message", message.Summary()))
}

func (zapLogger) Printf(format string, v ...interface{}) {
	logging.Debug(fmt.Sprintf(format, v...))
}
