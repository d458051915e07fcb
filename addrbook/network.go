// Package addrbook implements Kyoto's eclipse-resistant peer address book:
// a new/tried bucketed table pair in the style of Bitcoin Core's AddrMan,
// selection biased toward fresher addresses, and the feeler-driven eviction
// test spec §4.4 requires before a challenger displaces a tried incumbent.
//
// The group-classification helpers in this file are adapted in place from
// the teacher's vendored addrmgr/network.go: btcd's own addrmgr bakes in
// file persistence and has no hook for Kyoto's pluggable PeerStore or for
// treating a feeler connection as a first-class operation, so the bucket
// manager itself is hand-written, but there is no reason to rederive IP
// group classification when the reference logic is already right here.
package addrbook

import (
	"fmt"
	"net"

	"github.com/btcsuite/btcd/wire"
)

var (
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}
	rfc2544Net = ipNet("198.18.0.0", 15, 32)
	rfc3849Net = ipNet("2001:DB8::", 32, 128)
	rfc3927Net = ipNet("169.254.0.0", 16, 32)
	rfc3964Net = ipNet("2002::", 16, 128)
	rfc4193Net = ipNet("FC00::", 7, 128)
	rfc4380Net = ipNet("2001::", 32, 128)
	rfc4843Net = ipNet("2001:10::", 28, 128)
	rfc4862Net = ipNet("FE80::", 64, 128)
	rfc5737Net = []net.IPNet{
		ipNet("192.0.2.0", 24, 32),
		ipNet("198.51.100.0", 24, 32),
		ipNet("203.0.113.0", 24, 32),
	}
	rfc6052Net  = ipNet("64:FF9B::", 96, 128)
	rfc6145Net  = ipNet("::FFFF:0:0:0", 96, 128)
	rfc6598Net  = ipNet("100.64.0.0", 10, 32)
	onionCatNet = ipNet("fd87:d87e:eb43::", 48, 128)
	zero4Net    = ipNet("0.0.0.0", 8, 32)
	heNet       = ipNet("2001:470::", 32, 128)
)

func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

func isIPv4(ip net.IP) bool { return ip.To4() != nil }

func isLocal(ip net.IP) bool { return ip.IsLoopback() || zero4Net.Contains(ip) }

func isOnionCatTor(ip net.IP) bool { return onionCatNet.Contains(ip) }

func isRFC1918(ip net.IP) bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(ip) {
			return true
		}
	}
	return false
}

func isRFC4193(ip net.IP) bool { return rfc4193Net.Contains(ip) }
func isRFC3849(ip net.IP) bool { return rfc3849Net.Contains(ip) }
func isRFC3927(ip net.IP) bool { return rfc3927Net.Contains(ip) }
func isRFC3964(ip net.IP) bool { return rfc3964Net.Contains(ip) }
func isRFC4380(ip net.IP) bool { return rfc4380Net.Contains(ip) }
func isRFC4843(ip net.IP) bool { return rfc4843Net.Contains(ip) }
func isRFC4862(ip net.IP) bool { return rfc4862Net.Contains(ip) }
func isRFC2544(ip net.IP) bool { return rfc2544Net.Contains(ip) }
func isRFC6052(ip net.IP) bool { return rfc6052Net.Contains(ip) }
func isRFC6145(ip net.IP) bool { return rfc6145Net.Contains(ip) }
func isRFC6598(ip net.IP) bool { return rfc6598Net.Contains(ip) }

func isRFC5737(ip net.IP) bool {
	for _, rfc := range rfc5737Net {
		if rfc.Contains(ip) {
			return true
		}
	}
	return false
}

// isValid rejects the zero address and the IPv4 broadcast address.
func isValid(ip net.IP) bool {
	return ip != nil && !(ip.IsUnspecified() || ip.Equal(net.IPv4bcast))
}

// isRoutable reports whether ip is reachable over the public internet.
func isRoutable(ip net.IP) bool {
	return isValid(ip) && !(isRFC1918(ip) || isRFC2544(ip) ||
		isRFC3927(ip) || isRFC4862(ip) || isRFC3849(ip) ||
		isRFC4843(ip) || isRFC5737(ip) || isRFC6598(ip) ||
		isLocal(ip) || (isRFC4193(ip) && !isOnionCatTor(ip)))
}

// groupKey returns the network group ip belongs to for the purposes of
// spec §4.4's eclipse-resistance rule: the /16 for IPv4, the /32 (/36 for
// he.net) for IPv6, "local" for a local address, "tor:<nibble>" for a Tor
// onion address, and "unroutable" for anything else.
func groupKey(ip net.IP) string {
	if isLocal(ip) {
		return "local"
	}
	if !isRoutable(ip) {
		return "unroutable"
	}
	if isIPv4(ip) {
		return ip.Mask(net.CIDRMask(16, 32)).String()
	}
	if isRFC6145(ip) || isRFC6052(ip) {
		v4 := ip[12:16]
		return v4.Mask(net.CIDRMask(16, 32)).String()
	}
	if isRFC3964(ip) {
		v4 := ip[2:6]
		return v4.Mask(net.CIDRMask(16, 32)).String()
	}
	if isRFC4380(ip) {
		v4 := net.IP(make([]byte, 4))
		for i, b := range ip[12:16] {
			v4[i] = b ^ 0xff
		}
		return v4.Mask(net.CIDRMask(16, 32)).String()
	}
	if isOnionCatTor(ip) {
		return fmt.Sprintf("tor:%d", ip[6]&((1<<4)-1))
	}

	bits := 32
	if heNet.Contains(ip) {
		bits = 36
	}
	return ip.Mask(net.CIDRMask(bits, 128)).String()
}

// GroupKey is the exported form of groupKey, used by the connection
// supervisor to enforce spec §4.4 rule 3 across simultaneous dial
// candidates without reaching into addrbook internals.
func GroupKey(na *wire.NetAddress) string {
	return groupKey(na.IP)
}
