package kyoto

import "github.com/kyoto-spv/kyoto/chain"

// Event is anything the node emits on its progress stream: the engine's
// sync emissions (spec §4.6) re-exported verbatim, since the node facade
// adds no chain-state events of its own.
type Event = chain.Event

// Re-exported so callers never need to import the chain package directly
// to type-switch on an Event.
type (
	HeadersExtended = chain.HeadersExtended
	FilterProgress  = chain.FilterProgress
	BlockMatched    = chain.BlockMatched
	Reorg           = chain.Reorg
	TipUpdated      = chain.TipUpdated
	Disconnect      = chain.Disconnect
)

// BroadcastStatus classifies the outcome of a Broadcast call (spec §4.7
// and the Rejected variant this implementation supplements, §7).
type BroadcastStatus uint8

const (
	// BroadcastAccepted means some peer fetched the transaction after
	// the inv.
	BroadcastAccepted BroadcastStatus = iota
	// BroadcastNoPeerFetched means no peer requested the transaction
	// within the timeout across every retry.
	BroadcastNoPeerFetched
	// BroadcastRejected means a peer answered the inv with a reject
	// message before requesting the transaction. A reject arriving after
	// the transaction was sent is not observed: Accepted is returned as
	// soon as the transaction is sent.
	BroadcastRejected
)

func (s BroadcastStatus) String() string {
	switch s {
	case BroadcastAccepted:
		return "accepted"
	case BroadcastNoPeerFetched:
		return "no_peer_fetched"
	case BroadcastRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// BroadcastOutcome is Broadcast's result.
type BroadcastOutcome struct {
	Status BroadcastStatus
	// RejectReason is set only when Status is BroadcastRejected.
	RejectReason string
}
