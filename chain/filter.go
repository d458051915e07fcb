package chain

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/gcs"
	"github.com/btcsuite/btcd/btcutil/gcs/builder"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// filterParams are BIP-158's basic-filter parameters: Golomb-Rice parameter
// P=19 and inverse false-positive rate M=784931. Kyoto only ever builds
// and matches against the basic filter type.
var filterParams = gcs.Params{P: 19, M: 784931}

// Watchlist holds the scripts Kyoto is watching for, guarded by a
// reader-writer lock: a match holds the read lock for the duration of one
// filter's worth of membership checks, and an addition only needs the
// write lock for the slice append itself (Design Notes §9). This lets
// AddScript run concurrently with an in-flight match without either racing
// or blocking the match on every single addition.
type Watchlist struct {
	mu      sync.RWMutex
	scripts [][]byte

	// earliestHeight tracks the lowest height any currently-watched
	// script could first appear at, for the engine's AddScript handling
	// (onAddScript) to know how far back to rewind the filter cursor.
	earliestHeight int32
}

// NewWatchlist creates an empty watchlist anchored at startHeight: scripts
// added without an explicit "active since" height are assumed relevant
// from startHeight onward.
func NewWatchlist(startHeight int32) *Watchlist {
	return &Watchlist{earliestHeight: startHeight}
}

// Add appends script to the watchlist. sinceHeight is the earliest height
// the script could plausibly have been used at; if it is below the
// watchlist's current earliestHeight, the caller must trigger a rescan
// (Engine.AddScript does this).
func (w *Watchlist) Add(script []byte, sinceHeight int32) (needsRescan bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.scripts = append(w.scripts, script)
	if sinceHeight < w.earliestHeight {
		w.earliestHeight = sinceHeight
		return true
	}
	return false
}

// EarliestHeight returns the lowest height any watched script could be
// relevant from.
func (w *Watchlist) EarliestHeight() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.earliestHeight
}

// Match decodes filterBytes as a BIP-158 basic filter keyed to blockHash and
// checks every watched script for membership, holding the watchlist's read
// lock for the whole operation.
func (w *Watchlist) Match(blockHash chainhash.Hash,
	filterBytes []byte) (matched bool, err error) {

	filter, err := gcs.FromNBytes(filterParams.P, filterParams.M, filterBytes)
	if err != nil {
		return false, fmt.Errorf("chain: decoding filter: %w", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.scripts) == 0 {
		return false, nil
	}

	key := builder.DeriveKey(&blockHash)
	return filter.MatchAny(key, w.scripts)
}

// MatchingTxIndices scans a fetched block's transactions directly, once a
// filter match has justified downloading it, and returns the index of every
// transaction with at least one output script on the watchlist. This is a
// plain linear scan rather than a GCS membership test: the block is already
// in hand, so there is no reason to pay the filter's false-positive rate
// here.
func (w *Watchlist) MatchingTxIndices(block *wire.MsgBlock) []int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var indices []int
	for i, tx := range block.Transactions {
		for _, out := range tx.TxOut {
			if w.containsScript(out.PkScript) {
				indices = append(indices, i)
				break
			}
		}
	}
	return indices
}

func (w *Watchlist) containsScript(script []byte) bool {
	for _, s := range w.scripts {
		if bytes.Equal(s, script) {
			return true
		}
	}
	return false
}

// BuildFilter constructs a BIP-158 basic filter for a block's scripts,
// using the same parameters Match decodes against. Kyoto never needs to
// build its own filters in normal operation (it consumes filters peers
// serve), and the engine does not call it: filter-header conflicts are
// settled by peer vote in ConflictSet, not by recomputing a filter.
func BuildFilter(blockHash chainhash.Hash, scripts [][]byte) (*gcs.Filter, error) {
	key := builder.DeriveKey(&blockHash)
	b := builder.WithKeyPropertiesP(key, filterParams.P, filterParams.M)
	b.AddEntries(scripts)
	return b.Build()
}
