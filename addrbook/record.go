package addrbook

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// PeerRecord is the unit of persistence spec §6's pluggable PeerStore
// exchanges with the book: everything the book needs to reconstruct its
// tables across a restart.
type PeerRecord struct {
	Addr      wire.NetAddress
	Source    wire.NetAddress
	LastSeen  time.Time
	LastTried time.Time
	Attempts  int
	V2Capable bool
}

// key identifies a record independent of which table or slot currently
// holds it, for the book's byKey map.
func (r PeerRecord) key() string {
	return net2string(r.Addr)
}

func net2string(na wire.NetAddress) string {
	return na.IP.String() + ":" + itoa(na.Port)
}

func itoa(port uint16) string {
	const digits = "0123456789"
	if port == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for port > 0 {
		i--
		buf[i] = digits[port%10]
		port /= 10
	}
	return string(buf[i:])
}

// PeerStore is the pluggable persistence hook spec §6 delegates ownership
// of on-disk storage to. Kyoto never touches disk on its own; the
// embedding host decides whether and how records survive a restart.
type PeerStore interface {
	// Load returns every record the host previously flushed, in no
	// particular order.
	Load() ([]PeerRecord, error)

	// Flush persists the given records, replacing whatever the store
	// previously held.
	Flush(records []PeerRecord) error
}
