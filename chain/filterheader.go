package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// FilterHeaderChain tracks the validated BIP-157 filter-header commitment
// per height on the current best chain. Each filter header is the double
// hash of (filter hash || previous filter header), so the chain can only be
// extended sequentially from its cursor.
//
// Conflicting filter headers at the same height from two different peers
// can't both be right; the engine bans both sources and tries a third, per
// spec §4.6.
type FilterHeaderChain struct {
	mu sync.RWMutex

	// byHeight holds the filter header Kyoto has accepted as correct
	// for each height.
	byHeight map[int32]chainhash.Hash

	// cursor is the highest height for which a filter header has been
	// accepted; the next cfheaders request continues from cursor+1.
	cursor int32
}

// NewFilterHeaderChain seeds the chain at anchorHeight with the filter
// header committed at that height (the embedder's checkpoint must supply
// this alongside the block header, since there is no way to derive it
// without syncing from genesis).
func NewFilterHeaderChain(anchorHeight int32,
	anchorFilterHeader chainhash.Hash) *FilterHeaderChain {

	return &FilterHeaderChain{
		byHeight: map[int32]chainhash.Hash{anchorHeight: anchorFilterHeader},
		cursor:   anchorHeight,
	}
}

// Cursor returns the highest height with an accepted filter header.
func (c *FilterHeaderChain) Cursor() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

// HeaderAt returns the accepted filter header at height, if any.
func (c *FilterHeaderChain) HeaderAt(height int32) (chainhash.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byHeight[height]
	return h, ok
}

// ErrFilterHeaderMismatch is returned by Extend when a batch's recomputed
// chain doesn't connect to the previously accepted header at its start
// height.
var ErrFilterHeaderMismatch = errors.New("chain: filter header batch doesn't connect to accepted chain")

// Batch is one peer's answer to a getcfheaders request: the starting
// (already-accepted) filter header and the filter hashes for every
// subsequent height up to startHeight+len(hashes).
type Batch struct {
	StartHeight int32
	StartHeader chainhash.Hash
	FilterHashes []chainhash.Hash
}

// Recompute walks b's hash chain forward from StartHeader, returning the
// filter header at every height in the batch. This is the same computation
// both the sender and Kyoto perform; if two peers' batches disagree on the
// filter header at a shared height, at least one is lying or desynced.
func (b Batch) Recompute() []chainhash.Hash {
	out := make([]chainhash.Hash, len(b.FilterHashes))
	prev := b.StartHeader
	for i, fh := range b.FilterHashes {
		prev = chainhash.DoubleHashH(append(fh[:], prev[:]...))
		out[i] = prev
	}
	return out
}

// Extend validates and accepts b against the chain's current cursor. b must
// start exactly at cursor+1 and its StartHeader must match the accepted
// header at cursor.
func (c *FilterHeaderChain) Extend(b Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.StartHeight != c.cursor+1 {
		return fmt.Errorf("chain: filter header batch starts at height %d, "+
			"expected %d", b.StartHeight, c.cursor+1)
	}
	accepted, ok := c.byHeight[c.cursor]
	if !ok || accepted != b.StartHeader {
		return ErrFilterHeaderMismatch
	}

	recomputed := b.Recompute()
	for i, h := range recomputed {
		c.byHeight[b.StartHeight+int32(i)] = h
	}
	c.cursor = b.StartHeight + int32(len(recomputed)) - 1

	return nil
}

// Rewind drops every accepted filter header above height, moving the
// cursor back. Used both by reorg handling (the disconnected segment's
// filter headers are no longer part of the best chain) and by a rescan that
// needs to re-derive filters from an earlier height (spec §4.6's rescan
// only rewinds the filter cursor, never the header cursor).
func (c *FilterHeaderChain) Rewind(height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height >= c.cursor {
		return
	}
	for h := range c.byHeight {
		if h > height {
			delete(c.byHeight, h)
		}
	}
	c.cursor = height
}

// ConflictSet collects filter-header batches from more than one peer for
// the same height range, to detect and resolve disagreement.
type ConflictSet struct {
	byPeer map[string]Batch
}

// NewConflictSet starts an empty set.
func NewConflictSet() *ConflictSet {
	return &ConflictSet{byPeer: make(map[string]Batch)}
}

// Add records peerID's batch.
func (s *ConflictSet) Add(peerID string, b Batch) {
	s.byPeer[peerID] = b
}

// Resolve finds the first height (relative index into the batches) where
// recomputed filter headers disagree across peers. It returns ok=false if
// all peers agree at every height they cover, in which case any one
// response can be trusted. When peers disagree, it returns the offending
// height and the set of peer IDs whose batch differs from the majority
// value at that height; those peers should be banned (spec §4.6). When the
// leading values are tied, every peer that voted at that height is bad.
func (s *ConflictSet) Resolve() (mismatchHeight int32, badPeers []string, ok bool) {
	if len(s.byPeer) < 2 {
		return 0, nil, false
	}

	type peerRecompute struct {
		peerID string
		start  int32
		hashes []chainhash.Hash
	}
	var sets []peerRecompute
	maxLen := 0
	for peerID, b := range s.byPeer {
		recomputed := b.Recompute()
		sets = append(sets, peerRecompute{peerID, b.StartHeight, recomputed})
		if len(recomputed) > maxLen {
			maxLen = len(recomputed)
		}
	}

	for i := 0; i < maxLen; i++ {
		votes := make(map[chainhash.Hash][]string)
		for _, ps := range sets {
			if i >= len(ps.hashes) {
				continue
			}
			h := ps.hashes[i]
			votes[h] = append(votes[h], ps.peerID)
		}
		if len(votes) <= 1 {
			continue
		}

		// Disagreement at this height. The value with the most
		// corroborating peers is trusted; everyone else is bad. A
		// tie means no value is trusted and every voter here is bad
		// (spec §4.6).
		var bestPeers []string
		tied := false
		for _, peers := range votes {
			if len(peers) > len(bestPeers) {
				bestPeers = peers
				tied = false
			} else if len(peers) == len(bestPeers) {
				tied = true
			}
		}
		for _, peers := range votes {
			if tied || len(peers) < len(bestPeers) {
				badPeers = append(badPeers, peers...)
			}
		}

		return sets[0].start + int32(i), badPeers, true
	}

	return 0, nil, false
}
