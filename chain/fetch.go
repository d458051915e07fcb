package chain

import (
	"math/rand"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultMaxOutstandingBlocks is the default global concurrency of
// in-flight getdata(block) requests (spec §4.6: "up to a small global
// concurrency, default 4"). Desktop embedders may raise it.
const DefaultMaxOutstandingBlocks = 4

// blockRequest is a pending getdata(block) the fetch planner has decided
// to issue but hasn't yet assigned a peer to.
type blockRequest struct {
	height int32
	hash   chainhash.Hash
}

// FetchPlanner tracks outstanding block-fetch requests and enforces both
// the global concurrency cap and the one-outstanding-block-per-peer rule
// (spec §4.6). It doesn't own any peer handles itself; Assign returns a
// peer ID the engine should issue the request to, chosen at random among
// eligible data peers for anonymity (the filter match and the resulting
// block fetch need not come from the same peer).
type FetchPlanner struct {
	mu sync.Mutex

	maxOutstanding int
	outstanding    map[chainhash.Hash]string // block hash -> peer ID
	busy           map[string]bool           // peer ID -> has an outstanding request
	queue          []blockRequest

	rng *rand.Rand
}

// NewFetchPlanner creates a planner capped at maxOutstanding concurrent
// block fetches.
func NewFetchPlanner(maxOutstanding int, rng *rand.Rand) *FetchPlanner {
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstandingBlocks
	}
	return &FetchPlanner{
		maxOutstanding: maxOutstanding,
		outstanding:    make(map[chainhash.Hash]string),
		busy:           make(map[string]bool),
		rng:            rng,
	}
}

// Enqueue schedules height/hash for fetch once a peer slot is free.
func (p *FetchPlanner) Enqueue(height int32, hash chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, already := p.outstanding[hash]; already {
		return
	}
	p.queue = append(p.queue, blockRequest{height: height, hash: hash})
}

// Assign pops the next queued request and binds it to a randomly chosen
// peer from eligible (peers not currently serving another block request),
// returning ok=false if the queue is empty or every eligible peer is busy
// or the global cap is reached.
func (p *FetchPlanner) Assign(eligible []string) (req blockRequest, peerID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 || len(p.outstanding) >= p.maxOutstanding {
		return blockRequest{}, "", false
	}

	var free []string
	for _, id := range eligible {
		if !p.busy[id] {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return blockRequest{}, "", false
	}

	req = p.queue[0]
	p.queue = p.queue[1:]

	peerID = free[p.rng.Intn(len(free))]
	p.outstanding[req.hash] = peerID
	p.busy[peerID] = true

	return req, peerID, true
}

// Complete releases the slot held for hash, whether the fetch succeeded,
// failed, or timed out; the caller is responsible for re-Enqueue on
// failure if a retry is warranted.
func (p *FetchPlanner) Complete(hash chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	peerID, ok := p.outstanding[hash]
	if !ok {
		return
	}
	delete(p.outstanding, hash)
	delete(p.busy, peerID)
}

// Outstanding reports how many block fetches are currently in flight.
func (p *FetchPlanner) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}
