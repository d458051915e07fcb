package supervisor

import (
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// buildRawDialer returns the low-level TCP dial function the supervisor
// hands to peer.Dial for each connection attempt: a plain net.Dialer, or,
// when cfg.Proxy is set, a SOCKS5 dialer with remote DNS resolution
// (ATYP=0x03, spec §6), so Tor onion addresses are reachable without the
// host ever resolving them locally.
func buildRawDialer(cfg *ProxyConfig, timeout time.Duration) func(addr *net.TCPAddr) (net.Conn, error) {
	if cfg == nil {
		d := &net.Dialer{Timeout: timeout}
		return func(addr *net.TCPAddr) (net.Conn, error) {
			return d.Dial("tcp", addr.String())
		}
	}

	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}

	return func(addr *net.TCPAddr) (net.Conn, error) {
		dialer, err := proxy.SOCKS5("tcp", cfg.Address, auth, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return dialer.Dial("tcp", addr.String())
	}
}
