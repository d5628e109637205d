package dhcpd

import (
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
)

// Reply computes the response to one client message. It returns nil when
// the message needs no answer: releases, declines, requests addressed to
// another server and anything that is not a client request.
func (p *Pool) Reply(req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	if req == nil || req.OpCode != dhcpv4.OpcodeBootRequest {
		return nil
	}
	mac := req.ClientHWAddr
	log := logging.With(
		zap.Stringer("type", req.MessageType()),
		zap.Stringer("mac", mac),
		zap.String("xid", req.TransactionID.String()))

	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		lease, err := p.Offer(mac, toAddr(req.RequestedIPAddress()))
		if err != nil {
			log.Warn("No address to offer", zap.Error(err))
			return nil
		}
		log.Debug("Offering address", zap.Stringer("addr", lease.Addr))
		return p.build(req, dhcpv4.MessageTypeOffer, lease.Addr)

	case dhcpv4.MessageTypeRequest:
		if sid := toAddr(req.ServerIdentifier()); sid.IsValid() && sid != p.gateway.Addr() {
			log.Debug("Request for another server", zap.Stringer("server", sid))
			return nil
		}
		want := toAddr(req.RequestedIPAddress())
		if !want.IsValid() {
			want = toAddr(req.ClientIPAddr)
		}
		lease, err := p.Bind(mac, want)
		if err != nil {
			log.Info("Refusing request", zap.Stringer("addr", want), zap.Error(err))
			return p.build(req, dhcpv4.MessageTypeNak, netip.Addr{})
		}
		log.Info("Leased address", zap.Stringer("addr", lease.Addr), zap.Time("expires", lease.Expires))
		return p.build(req, dhcpv4.MessageTypeAck, lease.Addr)

	case dhcpv4.MessageTypeRelease:
		if p.Release(mac, toAddr(req.ClientIPAddr)) {
			log.Info("Released address", zap.Stringer("addr", req.ClientIPAddr))
		}
		return nil

	case dhcpv4.MessageTypeDecline:
		log.Warn("Client declined address", zap.Stringer("addr", req.RequestedIPAddress()))
		p.Release(mac, toAddr(req.RequestedIPAddress()))
		return nil

	default:
		log.Debug("Ignoring message")
		return nil
	}
}

func (p *Pool) build(req *dhcpv4.DHCPv4, typ dhcpv4.MessageType, yiaddr netip.Addr) *dhcpv4.DHCPv4 {
	server := net.IP(p.gateway.Addr().AsSlice())
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(typ),
		dhcpv4.WithServerIP(server),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(server)),
	}
	if typ != dhcpv4.MessageTypeNak {
		mods = append(mods,
			dhcpv4.WithYourIP(net.IP(yiaddr.AsSlice())),
			dhcpv4.WithNetmask(net.CIDRMask(p.gateway.Bits(), 32)),
			dhcpv4.WithRouter(server),
			dhcpv4.WithLeaseTime(uint32(p.leaseTime.Seconds())),
		)
	}
	resp, err := dhcpv4.NewReplyFromRequest(req, mods...)
	if err != nil {
		logging.Error("Failed to build DHCP reply", zap.Error(err))
		return nil
	}
	return resp
}

// replyAddr picks where a reply goes: back through the relay, to the
// client's configured address, or broadcast on the local segment.
func replyAddr(req, resp *dhcpv4.DHCPv4) *net.UDPAddr {
	switch {
	case isSet(req.GatewayIPAddr):
		return &net.UDPAddr{IP: req.GatewayIPAddr, Port: dhcpv4.ServerPort}
	case resp.MessageType() == dhcpv4.MessageTypeNak:
		return &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
	case isSet(req.ClientIPAddr):
		return &net.UDPAddr{IP: req.ClientIPAddr, Port: dhcpv4.ClientPort}
	default:
		return &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
	}
}

func isSet(ip net.IP) bool {
	return ip != nil && !ip.IsUnspecified()
}

func toAddr(ip net.IP) netip.Addr {
	if !isSet(ip) {
		return netip.Addr{}
	}
	a, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return netip.Addr{}
	}
	return a
}
