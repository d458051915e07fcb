package kyoto

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/addrbook"
	"github.com/kyoto-spv/kyoto/chaincfg"
	"github.com/kyoto-spv/kyoto/supervisor"
	"github.com/kyoto-spv/kyoto/transport"
)

// Anchor is the header-only chain's starting point: an embedder-supplied
// checkpoint rather than genesis, since a header-only SPV core has no way
// to derive a safe one for a network it has never synced (spec §1, §6).
type Anchor struct {
	Height       int32
	Header       btcwire.BlockHeader
	FilterHeader chainhash.Hash
}

// WatchEntry is one script to add to the watchlist at construction,
// together with the height below which it is known not to have been
// active (spec §4.6's rescan floor).
type WatchEntry struct {
	Script      []byte
	SinceHeight int32
}

// Timeouts collects every per-operation deadline spec §6's configuration
// enumeration lists.
type Timeouts struct {
	Dial              time.Duration
	Handshake         time.Duration
	RequestHeaders    time.Duration
	RequestFilterHdrs time.Duration
	RequestFilter     time.Duration
	RequestBlock      time.Duration
	Keepalive         time.Duration
}

// DefaultTimeouts matches the defaults spec §4.3 states.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Dial:              5 * time.Second,
		Handshake:         10 * time.Second,
		RequestHeaders:    10 * time.Second,
		RequestFilterHdrs: 10 * time.Second,
		RequestFilter:     30 * time.Second,
		RequestBlock:      30 * time.Second,
		Keepalive:         2 * time.Minute,
	}
}

// Config is everything an embedder supplies to construct a Node (spec §6's
// "Construct a node with {...}" client API surface).
type Config struct {
	Network chaincfg.Network

	// ConnectionTarget is the number of simultaneous outbound connections
	// to maintain (spec §4.5 default 1, recommended 2-8).
	ConnectionTarget uint16

	// ConfiguredPeers are addresses supplied directly by the embedder,
	// never eligible as broadcast relays. They are added to the address
	// book's new table at start and drawn like any other address; they
	// get no preference for the first connection slots.
	ConfiguredPeers []string

	// RequiredServices gates which peers qualify as data peers. Zero
	// defaults to requiring NODE_COMPACT_FILTERS, since a core with no
	// data peer at all cannot make progress.
	RequiredServices btcwire.ServiceFlag

	Watchlist []WatchEntry
	Anchor    Anchor

	Proxy *supervisor.ProxyConfig

	// UserAgentSuffix is appended to the constant Kyoto user agent
	// prefix, e.g. "/Kyoto:0.1.0/my-wallet:1.2/".
	UserAgentSuffix string

	// PeerStore persists the address book across restarts. Nil disables
	// persistence (spec §6: the core owns no on-disk state).
	PeerStore addrbook.PeerStore
	// AddrFlushPeriod is how often the address book flushes to PeerStore.
	// Zero defaults to ten minutes (spec §4.4).
	AddrFlushPeriod time.Duration

	V2Transport transport.Policy

	Timeouts Timeouts

	MaxOutstandingBlocks int
	FilterBatchSize      int

	EventBufferSize int
}

func (c Config) requiredServices() btcwire.ServiceFlag {
	if c.RequiredServices != 0 {
		return c.RequiredServices
	}
	return btcwire.SFNodeCF
}

func (c Config) connectionTarget() uint16 {
	if c.ConnectionTarget == 0 {
		return 1
	}
	return c.ConnectionTarget
}
