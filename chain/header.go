// Package chain implements Kyoto's actor-style SPV engine: header sync with
// reorg handling, BIP-157/158 filter-header and filter sync, block fetch
// planning, and rescan. The header DAG is stored as a dense vector of nodes
// addressed by numeric id, with prev/next relations kept as id pairs rather
// than owning pointers (Design Notes §9); this keeps each step of an
// ancestor walk O(1) and
// avoids any cyclic-pointer bookkeeping during a reorg.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// headerID indexes a node in graph.nodes. It is never reused: once a node is
// written it keeps its id even if a later reorg makes it no longer part of
// the best chain, so stale locators and in-flight filter requests that
// reference it by id remain meaningful.
type headerID int32

// noParent marks the anchor node, which has no known predecessor in the
// graph (its parent exists on-chain but was never fetched).
const noParent headerID = -1

type node struct {
	header wire.BlockHeader
	height int32
	prev   headerID

	// work is this header's own proof-of-work contribution
	// (blockchain.CalcWork of its bits), not the cumulative total; Graph
	// sums these along a branch in cumulativeWork when it needs a total.
	work *big.Int
}

// Graph is the header-only chain: every header reachable from the anchor,
// indexed by hash and by height along the current best chain.
type Graph struct {
	mu sync.RWMutex

	nodes  []node
	byHash map[chainhash.Hash]headerID

	// heightIndex maps height to the node id on the current best chain
	// at that height. It is rebuilt for the affected range on reorg.
	heightIndex map[int32]headerID

	tip       headerID
	tipHeight int32

	anchorHeight int32
}

// ErrUnknownParent is returned by Extend when a header's PrevBlock does not
// match any header already in the graph.
var ErrUnknownParent = errors.New("chain: header's parent is not in the graph")

// ErrInvalidProofOfWork is returned by Extend when a header's hash does not
// meet its own declared target.
var ErrInvalidProofOfWork = errors.New("chain: header does not meet its declared target")

// NewGraph seeds a Graph at anchor: the embedder-supplied checkpoint header
// sync starts from (spec §1, §6 — Kyoto never derives a safe anchor on its
// own). anchorHeader is the actual header at that height/hash, needed to
// seed difficulty-adjustment lookback.
func NewGraph(anchorHeight int32, anchorHeader wire.BlockHeader) *Graph {
	g := &Graph{
		byHash:       make(map[chainhash.Hash]headerID),
		heightIndex:  make(map[int32]headerID),
		anchorHeight: anchorHeight,
	}

	id := g.push(node{
		header: anchorHeader,
		height: anchorHeight,
		prev:   noParent,
		work:   blockchain.CalcWork(anchorHeader.Bits),
	})
	g.tip = id
	g.tipHeight = anchorHeight
	g.byHash[anchorHeader.BlockHash()] = id
	g.heightIndex[anchorHeight] = id

	return g
}

func (g *Graph) push(n node) headerID {
	id := headerID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return id
}

// TipHeight returns the height of the current best chain's tip.
func (g *Graph) TipHeight() int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tipHeight
}

// TipHash returns the hash of the current best chain's tip.
func (g *Graph) TipHash() chainhash.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[g.tip].header.BlockHash()
}

// HasHeader reports whether hash is known to the graph, on any branch.
func (g *Graph) HasHeader(hash chainhash.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.byHash[hash]
	return ok
}

// HeightOfHash returns the best-chain height of hash, if hash is on the
// best chain. A header known only on an abandoned branch reports ok=false
// even though HasHeader would report true for it.
func (g *Graph) HeightOfHash(hash chainhash.Hash) (int32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byHash[hash]
	if !ok {
		return 0, false
	}
	height := g.nodes[id].height
	if g.heightIndex[height] != id {
		return 0, false
	}
	return height, true
}

// nodeByHash returns the node id for hash on any branch the graph knows
// about, not just the current best chain. Used when validating a header
// that might extend a branch that hasn't (yet) overtaken the best chain.
func (g *Graph) nodeByHash(hash chainhash.Hash) (headerID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byHash[hash]
	return id, ok
}

// headerAndHeight returns id's header and height directly, regardless of
// which branch it's on.
func (g *Graph) headerAndHeight(id headerID) (wire.BlockHeader, int32) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.nodes[id]
	return n.header, n.height
}

// ancestorAt walks backward from id along its own branch to height,
// correctly handling the case where id is not on the current best chain
// (heightIndex only ever points at the best chain's nodes).
func (g *Graph) ancestorAt(id headerID, height int32) (wire.BlockHeader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for cur := id; cur != noParent; cur = g.nodes[cur].prev {
		if g.nodes[cur].height == height {
			return g.nodes[cur].header, true
		}
		if g.nodes[cur].height < height {
			break
		}
	}
	return wire.BlockHeader{}, false
}

// HeaderByHeight returns the header on the current best chain at height.
func (g *Graph) HeaderByHeight(height int32) (wire.BlockHeader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.heightIndex[height]
	if !ok {
		return wire.BlockHeader{}, false
	}
	return g.nodes[id].header, true
}

// cumulativeWork sums blockchain.CalcWork from id back to the anchor,
// inclusive. Used when comparing a candidate branch's total work against
// the current best chain during a reorg decision.
func (g *Graph) cumulativeWork(id headerID) *big.Int {
	total := big.NewInt(0)
	for cur := id; cur != noParent; cur = g.nodes[cur].prev {
		total.Add(total, g.nodes[cur].work)
	}
	return total
}

// ExtendResult reports what Extend did with a single header.
type ExtendResult struct {
	ID          headerID
	Height      int32
	CausedReorg bool
	// ReorgFrom/ReorgTo are only meaningful when CausedReorg is true:
	// the common ancestor height and the new tip height.
	ReorgFrom int32
	ReorgTo   int32
}

// Extend validates and inserts header into the graph. Validation is
// structural only (prev-hash known, PoW meets the header's own declared
// target); full difficulty-adjustment validation against network rules is
// Validator's job, called by the engine before Extend.
func (g *Graph) Extend(header wire.BlockHeader) (ExtendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hash := header.BlockHash()
	if id, ok := g.byHash[hash]; ok {
		return ExtendResult{ID: id, Height: g.nodes[id].height}, nil
	}

	parentID, ok := g.byHash[header.PrevBlock]
	if !ok {
		return ExtendResult{}, ErrUnknownParent
	}

	stub := btcutil.NewBlock(&wire.MsgBlock{Header: header})
	if err := blockchain.CheckProofOfWork(
		stub, blockchain.CompactToBig(header.Bits)); err != nil {

		return ExtendResult{}, fmt.Errorf("%w: %v", ErrInvalidProofOfWork, err)
	}

	parent := g.nodes[parentID]
	id := g.push(node{
		header: header,
		height: parent.height + 1,
		prev:   parentID,
		work:   blockchain.CalcWork(header.Bits),
	})
	g.byHash[hash] = id

	result := ExtendResult{ID: id, Height: parent.height + 1}

	if parentID == g.tip {
		// Simple extension of the best chain.
		g.tip = id
		g.tipHeight = result.Height
		g.heightIndex[result.Height] = id
		return result, nil
	}

	// This header extends a branch that wasn't the best chain. Compare
	// cumulative work to decide whether it becomes the new best chain.
	candidateWork := g.cumulativeWork(id)
	bestWork := g.cumulativeWork(g.tip)
	if candidateWork.Cmp(bestWork) <= 0 {
		return result, nil
	}

	ancestor, err := g.commonAncestor(id, g.tip)
	if err != nil {
		return result, err
	}

	oldTipHeight := g.tipHeight
	g.reindexBestChain(id, ancestor)
	g.tip = id
	g.tipHeight = result.Height

	result.CausedReorg = true
	result.ReorgFrom = g.nodes[ancestor].height
	result.ReorgTo = result.Height
	log.Infof("reorg: common ancestor height=%d, old tip height=%d, "+
		"new tip height=%d", g.nodes[ancestor].height, oldTipHeight,
		result.Height)

	return result, nil
}

// commonAncestor walks both branches back to the anchor-rooted tree's
// lowest shared id. Heights on the two branches may differ; walk the deeper
// one up first.
func (g *Graph) commonAncestor(a, b headerID) (headerID, error) {
	ah, bh := g.nodes[a].height, g.nodes[b].height
	for ah > bh {
		a = g.nodes[a].prev
		ah = g.nodes[a].height
	}
	for bh > ah {
		b = g.nodes[b].prev
		bh = g.nodes[b].height
	}
	for a != b {
		if a == noParent || b == noParent {
			return noParent, fmt.Errorf("chain: branches share no ancestor in graph")
		}
		a = g.nodes[a].prev
		b = g.nodes[b].prev
	}
	return a, nil
}

// reindexBestChain rewrites heightIndex for every height between ancestor
// (exclusive) and newTip (inclusive) to point at the new branch's nodes.
func (g *Graph) reindexBestChain(newTip, ancestor headerID) {
	for cur := newTip; cur != ancestor; cur = g.nodes[cur].prev {
		g.heightIndex[g.nodes[cur].height] = cur
	}
}

// Locator builds a getheaders-style locator from the tip: the tip itself,
// then exponentially sparser ancestors, terminating at the anchor.
func (g *Graph) Locator() []chainhash.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var hashes []chainhash.Hash
	step := 1
	cur := g.tip
	for {
		hashes = append(hashes, g.nodes[cur].header.BlockHash())
		if g.nodes[cur].height <= g.anchorHeight {
			break
		}
		for i := 0; i < step && g.nodes[cur].prev != noParent; i++ {
			cur = g.nodes[cur].prev
		}
		if cur == noParent {
			break
		}
		if len(hashes) >= 10 {
			step *= 2
		}
	}
	return hashes
}
