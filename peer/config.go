package peer

import (
	"time"

	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/transport"
)

// Config holds the per-session parameters the connection supervisor
// supplies when dialing a peer. Every timeout has the default spec §4.3
// names, kept here rather than hardcoded so the supervisor can shrink them
// for a feeler connection.
type Config struct {
	Net             btcwire.BitcoinNet
	ProtocolVersion uint32
	UserAgentSuffix string

	// RequireFilters rejects the handshake unless the remote advertises
	// NODE_COMPACT_FILTERS, for sessions opened specifically as data
	// peers.
	RequireFilters bool

	V2Policy transport.Policy

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	HeaderTimeout       time.Duration
	FilterHeaderTimeout time.Duration
	FilterTimeout       time.Duration
	BlockTimeout        time.Duration

	KeepaliveInterval time.Duration

	OutboundQueueSize int
}

// DefaultConfig returns the timeout defaults named in spec §4.3.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:     uint32(btcwire.FeeFilterVersion),
		V2Policy:            transport.Prefer,
		DialTimeout:         5 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		HeaderTimeout:       10 * time.Second,
		FilterHeaderTimeout: 10 * time.Second,
		FilterTimeout:       30 * time.Second,
		BlockTimeout:        30 * time.Second,
		KeepaliveInterval:   2 * time.Minute,
		OutboundQueueSize:   64,
	}
}
