// Package supervisor maintains Kyoto's outbound connection set: it wraps
// btcsuite/btcd/connmgr.ConnManager for the generic "hold N connections,
// retry with backoff" mechanics and layers the data-peer/gossip-peer
// classification, banning, and addrbook consultation spec §4.5 describes on
// top of connmgr's Dial/OnConnection/OnDisconnection/GetNewAddress hooks.
package supervisor

import (
	"errors"
	"net"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/chaincfg"
	"github.com/kyoto-spv/kyoto/peer"
)

// ProxyConfig routes every outbound dial through a SOCKS5 proxy with
// remote DNS resolution, per spec §6. A nil *ProxyConfig means dial
// directly.
type ProxyConfig struct {
	// Address is the proxy's host:port.
	Address string
	// Username/Password authenticate to the proxy, if it requires it.
	Username, Password string
}

// Config holds everything the supervisor needs to maintain Kyoto's
// outbound connection set.
type Config struct {
	Network chaincfg.Network

	// ConnectionTarget is the number of simultaneous outbound
	// connections to maintain. Spec §4.5 default is 1, recommended
	// 2-8.
	ConnectionTarget uint16

	// RequiredServices gates which peers qualify as data peers; a
	// session lacking these flags in its version message is classified
	// GossipPeer.
	RequiredServices wire.ServiceFlag

	// ConfiguredPeers are addresses supplied directly by the embedder
	// (spec §6's {configured_peers}); they are seeded into the address
	// book once at Start; banning and backoff apply to them as to any
	// other address.
	ConfiguredPeers []string

	// PeerConfig is the template handed to peer.Dial for every outbound
	// session. The supervisor passes it unchanged, except that a feeler
	// connection clears RequireFilters and uses 5-second dial and
	// handshake timeouts.
	PeerConfig peer.Config

	// Proxy, if non-nil, routes every TCP dial through a SOCKS5 proxy.
	Proxy *ProxyConfig

	// Nonce returns a fresh per-connection version nonce.
	Nonce func() uint64
	// BestHeight returns the locally known chain height to advertise.
	BestHeight func() int32

	// OnSessionReady fires once a session reaches peer.Ready, classified
	// into its Role.
	OnSessionReady func(sess *peer.Session, role Role)
	// OnSessionClosed fires once a ready session's connection ends.
	OnSessionClosed func(sess *peer.Session, role Role, reason peer.CloseReason)
}

// ErrNoConnectionTarget is returned by New when ConnectionTarget is zero;
// spec §4.5 requires at least one connection.
var ErrNoConnectionTarget = errors.New("supervisor: connection target must be at least 1")

func (c Config) validate() error {
	if c.ConnectionTarget == 0 {
		return ErrNoConnectionTarget
	}
	if c.Nonce == nil || c.BestHeight == nil || c.PeerConfig.Net == 0 {
		return errors.New("supervisor: Config.Nonce, BestHeight and PeerConfig.Net are required")
	}
	return nil
}

// resolveTCPAddr parses a configured-peer host:port string, filling in the
// network's default port when omitted.
func resolveTCPAddr(network chaincfg.Network, hostport string) (*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		port, err = network.DefaultPort()
		if err != nil {
			return nil, err
		}
	}

	return net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
}

const defaultDialTimeout = 10 * time.Second
