package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Event is anything the engine emits to the node facade's progress stream.
// It is a closed set (only this package's types implement it), unlike
// Message which is open for anyone embedding BaseMessage.
type Event interface {
	eventMarker()
}

type baseEvent struct{}

func (baseEvent) eventMarker() {}

// HeadersExtended reports that one headers message was accepted, covering
// heights From to To. Side-branch headers count too; when a header in the
// message caused a reorg, a Reorg event is emitted before this one.
type HeadersExtended struct {
	baseEvent
	From, To int32
}

// FilterProgress reports that filter sync has validated and matched
// through Height.
type FilterProgress struct {
	baseEvent
	Height int32
}

// BlockMatched reports that a fetched block matched the watchlist.
// TxIndices names which transactions in the block matched.
type BlockMatched struct {
	baseEvent
	Height    int32
	Hash      chainhash.Hash
	TxIndices []int
}

// Reorg reports that the best chain changed branches.
type Reorg struct {
	baseEvent
	FromHeight, ToHeight int32
}

// TipUpdated reports the new best-chain tip after any change (extension or
// reorg).
type TipUpdated struct {
	baseEvent
	Height int32
	Hash   chainhash.Hash
}

// Disconnect reports that the engine banned a peer over the filter headers
// it served. Other session closes emit no Disconnect.
type Disconnect struct {
	baseEvent
	PeerID string
	Reason string
}
