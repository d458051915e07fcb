package chain

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/actor"
	kyotochaincfg "github.com/kyoto-spv/kyoto/chaincfg"
	"github.com/kyoto-spv/kyoto/fn"
	"github.com/kyoto-spv/kyoto/peer"
	"github.com/kyoto-spv/kyoto/supervisor"
)

// maxHeadersPerMsg is the reference client's cap on headers per getheaders
// reply; receiving exactly this many signals there is more to fetch.
const maxHeadersPerMsg = 2000

// DefaultFilterBatchSize is how many filter heights the engine keeps
// outstanding at once once filter-header sync has validated them (spec
// §4.6: "default 500 at a time").
const DefaultFilterBatchSize = 500

// Config wires an Engine to everything it needs but does not own: the
// network's consensus parameters and anchor, and a BanPeer callback the node
// facade supplies so the engine never needs a direct reference to the
// connection supervisor (peer selection and banning are the supervisor's
// job; the engine only decides when they're needed).
type Config struct {
	Network kyotochaincfg.Network

	AnchorHeight        int32
	AnchorHeader        btcwire.BlockHeader
	AnchorFilterHeader  chainhash.Hash

	MaxOutstandingBlocks int
	FilterBatchSize      int

	// BanPeer is called with a session the engine has determined is
	// violating consensus rules (bad PoW, orphan header, conflicting
	// filter header, bad Merkle root). The supervisor owns the address
	// book consequence of a ban.
	BanPeer func(sess *peer.Session)

	EventBufferSize int

	Rand *rand.Rand
}

type peerHandle struct {
	session *peer.Session
	role    supervisor.Role
}

// Engine is Kyoto's actor-style chain engine: a single goroutine, driven by
// actor.Actor's mailbox, owns every mutation of the header graph, the
// filter-header chain, the watchlist, and the fetch planner. Everything
// else talks to it by sending messages, never by touching its state
// directly, so none of those types need their own external locking beyond
// what they already use for read access from other goroutines (Design
// Notes §9).
type Engine struct {
	cfg Config

	graph     *Graph
	validator *Validator
	fhc       *FilterHeaderChain
	watch     *Watchlist
	fetch     *FetchPlanner

	rng *rand.Rand

	peers map[string]*peerHandle

	headerPeerID       string
	filterHeaderPeerID string

	pendingCFH         *ConflictSet
	pendingCFHStart    int32
	pendingCFHExpected int

	filterCursor    int32
	pendingFilters  map[int32]bool

	events chan Event

	actorInst *actor.Actor[actor.Message, any]
	ref       actor.ActorRef[actor.Message, any]
}

// NewEngine constructs an Engine anchored at cfg.AnchorHeight and starts its
// processing loop. Call Stop to shut it down.
func NewEngine(cfg Config) (*Engine, error) {
	params, err := cfg.Network.Params()
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}

	if cfg.MaxOutstandingBlocks <= 0 {
		cfg.MaxOutstandingBlocks = DefaultMaxOutstandingBlocks
	}
	if cfg.FilterBatchSize <= 0 {
		cfg.FilterBatchSize = DefaultFilterBatchSize
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}

	e := &Engine{
		cfg:            cfg,
		graph:          NewGraph(cfg.AnchorHeight, cfg.AnchorHeader),
		validator:      NewValidator(params),
		fhc:            NewFilterHeaderChain(cfg.AnchorHeight, cfg.AnchorFilterHeader),
		watch:          NewWatchlist(cfg.AnchorHeight),
		fetch:          NewFetchPlanner(cfg.MaxOutstandingBlocks, cfg.Rand),
		rng:            cfg.Rand,
		peers:          make(map[string]*peerHandle),
		pendingFilters: make(map[int32]bool),
		filterCursor:   cfg.AnchorHeight,
		events:         make(chan Event, cfg.EventBufferSize),
	}

	e.actorInst = actor.NewActor[actor.Message, any](actor.ActorConfig[actor.Message, any]{
		ID:          "chain-engine",
		Behavior:    actor.NewFunctionBehavior(e.receive),
		MailboxSize: 256,
	})
	e.ref = e.actorInst.Ref()
	e.actorInst.Start()

	return e, nil
}

// Events returns the channel the node facade should drain for progress
// emissions.
func (e *Engine) Events() <-chan Event { return e.events }

// TipHeight returns the current best chain's tip height, safe to call
// concurrently with the engine's own processing loop since it only reads
// the graph, which guards itself with its own lock.
func (e *Engine) TipHeight() int32 { return e.graph.TipHeight() }

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		log.Warnf("event channel full, dropping %T", ev)
	}
}

// Stop halts the engine's processing loop.
func (e *Engine) Stop() {
	e.actorInst.Stop()
}

// PeerReady registers sess as available for requests. The caller — the node
// facade, demultiplexing each session's single inbound channel across the
// engine and its own gossip/bookkeeping concerns — remains responsible for
// forwarding chain-relevant messages via Deliver and for calling PeerClosed
// once the session ends.
func (e *Engine) PeerReady(sess *peer.Session, role supervisor.Role) {
	e.ref.Tell(context.Background(), peerReadyMsg{session: sess, role: role})
}

// PeerClosed tells the engine sess is gone: any request it was servicing
// (header sync, filter-header sync, an outstanding block fetch) is
// rerouted to another data peer if one is available.
func (e *Engine) PeerClosed(sess *peer.Session) {
	e.ref.Tell(context.Background(), peerClosedMsg{session: sess})
}

// Deliver hands the engine one inbound message from sess. Callers should
// only forward the message types onInbound switches on (headers, cfheaders,
// cfilter, block); anything else is silently ignored here, so the node
// facade is free to pass everything through without pre-filtering.
func (e *Engine) Deliver(sess *peer.Session, msg btcwire.Message) {
	e.ref.Tell(context.Background(), inboundMsg{session: sess, msg: msg})
}

// AddScript starts watching script, rescanning from sinceHeight if it is
// below the watchlist's current floor (spec §4.6's rescan rule).
func (e *Engine) AddScript(script []byte, sinceHeight int32) {
	e.ref.Tell(context.Background(), addScriptMsg{script: script, sinceHeight: sinceHeight})
}

func sessionID(sess *peer.Session) string {
	return fmt.Sprintf("%p", sess)
}

// receive is the engine's single entry point; actor.Actor calls it
// sequentially from its own goroutine, so every field access below is
// single-threaded by construction.
func (e *Engine) receive(ctx context.Context, msg actor.Message) fn.Result[any] {
	switch m := msg.(type) {
	case peerReadyMsg:
		e.onPeerReady(m)
	case peerClosedMsg:
		e.onPeerClosed(m)
	case inboundMsg:
		e.onInbound(m)
	case addScriptMsg:
		e.onAddScript(m)
	case shutdownMsg:
		// No state to flush (spec §1): nothing to do beyond letting
		// the actor's own Stop() tear down the mailbox.
	}
	return fn.Ok[any](nil)
}

func (e *Engine) onPeerReady(m peerReadyMsg) {
	id := sessionID(m.session)
	e.peers[id] = &peerHandle{session: m.session, role: m.role}

	if m.role != supervisor.DataPeer {
		return
	}

	if e.headerPeerID == "" {
		e.headerPeerID = id
		e.requestHeaders(m.session)
	}

	e.maybeRequestFilterHeaders()
	e.maybeRequestFilters()
}

func (e *Engine) onPeerClosed(m peerClosedMsg) {
	id := sessionID(m.session)
	delete(e.peers, id)

	if id == e.headerPeerID {
		e.headerPeerID = ""
		if next := e.anyDataPeer(""); next != nil {
			e.headerPeerID = sessionID(next.session)
			e.requestHeaders(next.session)
		}
	}
	if id == e.filterHeaderPeerID {
		e.filterHeaderPeerID = ""
		e.pendingCFH = nil
		e.maybeRequestFilterHeaders()
	}

	var orphaned []chainhash.Hash
	for hash, peerID := range e.fetch.outstanding {
		if peerID == id {
			orphaned = append(orphaned, hash)
		}
	}
	for _, hash := range orphaned {
		e.fetch.Complete(hash)
		if height, ok := e.graph.HeightOfHash(hash); ok {
			e.fetch.Enqueue(height, hash)
		}
	}
	e.tryAssignBlockFetch()
}

func (e *Engine) onInbound(m inboundMsg) {
	id := sessionID(m.session)
	if _, ok := e.peers[id]; !ok {
		return
	}

	switch wm := m.msg.(type) {
	case *btcwire.MsgHeaders:
		e.onHeaders(id, wm)
	case *btcwire.MsgCFHeaders:
		e.onCFHeaders(id, wm)
	case *btcwire.MsgCFilter:
		e.onCFilter(id, wm)
	case *btcwire.MsgBlock:
		e.onBlock(id, wm)
	}
}

func (e *Engine) onAddScript(m addScriptMsg) {
	needsRescan := e.watch.Add(m.script, m.sinceHeight)
	if !needsRescan {
		return
	}

	rescanFrom := e.watch.EarliestHeight()
	log.Infof("rescan: rewinding filter cursor from %d to %d", e.filterCursor, rescanFrom)

	e.fhc.Rewind(rescanFrom - 1)
	e.filterCursor = rescanFrom - 1
	for h := range e.pendingFilters {
		if h >= rescanFrom {
			delete(e.pendingFilters, h)
		}
	}

	e.maybeRequestFilterHeaders()
	e.maybeRequestFilters()
}

func (e *Engine) banPeer(id string) {
	h, ok := e.peers[id]
	if !ok {
		return
	}
	delete(e.peers, id)
	if e.cfg.BanPeer != nil {
		e.cfg.BanPeer(h.session)
	}
	if id == e.headerPeerID {
		e.headerPeerID = ""
	}
	if id == e.filterHeaderPeerID {
		e.filterHeaderPeerID = ""
	}
}

func (e *Engine) dataPeers(excluding string) []*peerHandle {
	var out []*peerHandle
	for id, h := range e.peers {
		if id == excluding || h.role != supervisor.DataPeer {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (e *Engine) anyDataPeer(excluding string) *peerHandle {
	peers := e.dataPeers(excluding)
	if len(peers) == 0 {
		return nil
	}
	return peers[e.rng.Intn(len(peers))]
}

// requestHeaders issues getheaders from the graph's current locator.
func (e *Engine) requestHeaders(sess *peer.Session) {
	locator := e.graph.Locator()
	req := btcwire.NewMsgGetHeaders()
	for i := range locator {
		h := locator[i]
		req.BlockLocatorHashes = append(req.BlockLocatorHashes, &h)
	}
	if err := sess.Request(req, peer.ReqHeaders); err != nil {
		log.Debugf("getheaders request failed: %v", err)
	}
}

func (e *Engine) onHeaders(id string, m *btcwire.MsgHeaders) {
	var from, to int32
	advanced := false

	for _, hdr := range m.Headers {
		parentID, ok := e.graph.nodeByHash(hdr.PrevBlock)
		if !ok {
			log.Warnf("peer %s sent orphan header after locator exchange", id)
			e.banPeer(id)
			return
		}

		if err := e.validator.Validate(e.graph, parentID, *hdr); err != nil {
			log.Warnf("peer %s sent header with bad difficulty: %v", id, err)
			e.banPeer(id)
			return
		}

		result, err := e.graph.Extend(*hdr)
		if err != nil {
			log.Warnf("peer %s sent invalid header: %v", id, err)
			e.banPeer(id)
			return
		}

		if result.CausedReorg {
			e.onReorg(result)
		}

		if !advanced {
			from = result.Height
			advanced = true
		}
		to = result.Height
	}

	if advanced {
		e.emit(HeadersExtended{From: from, To: to})
		e.emit(TipUpdated{Height: e.graph.TipHeight(), Hash: e.graph.TipHash()})
	}

	if h, ok := e.peers[id]; ok {
		if len(m.Headers) >= maxHeadersPerMsg {
			e.requestHeaders(h.session)
		} else {
			e.maybeRequestFilterHeaders()
		}
	}
}

// onReorg rewinds filter-header and filter state for the disconnected
// segment, per spec §4.6: "roll back filter-header and matched-block state
// for the disconnected segment, and re-drive filter sync from the
// ancestor."
func (e *Engine) onReorg(result ExtendResult) {
	e.fhc.Rewind(result.ReorgFrom)
	if e.filterCursor > result.ReorgFrom {
		e.filterCursor = result.ReorgFrom
	}
	for h := range e.pendingFilters {
		if h > result.ReorgFrom {
			delete(e.pendingFilters, h)
		}
	}
	e.pendingCFH = nil

	e.emit(Reorg{FromHeight: result.ReorgFrom, ToHeight: result.ReorgTo})
}

// maybeRequestFilterHeaders issues a getcfheaders batch to up to two data
// peers (preferring peers other than the header-sync peer, per spec §4.6),
// if the filter-header cursor is behind the header chain and no request is
// already outstanding.
func (e *Engine) maybeRequestFilterHeaders() {
	if e.pendingCFH != nil {
		return
	}

	nextHeight := e.fhc.Cursor() + 1
	if nextHeight > e.graph.TipHeight() {
		return
	}

	stopHeight := e.graph.TipHeight()
	stopHeader, ok := e.graph.HeaderByHeight(stopHeight)
	if !ok {
		return
	}
	stopHash := stopHeader.BlockHash()

	candidates := e.dataPeers("")
	if len(candidates) == 0 {
		return
	}

	var chosen []*peerHandle
	for _, h := range candidates {
		if sessionID(h.session) != e.headerPeerID {
			chosen = append(chosen, h)
		}
	}
	if len(chosen) == 0 {
		chosen = candidates
	}
	if len(chosen) > 2 {
		chosen = chosen[:2]
	}

	req := btcwire.NewMsgGetCFHeaders(btcwire.GCSFilterRegular, uint32(nextHeight), &stopHash)

	e.pendingCFH = NewConflictSet()
	e.pendingCFHStart = nextHeight
	e.pendingCFHExpected = len(chosen)

	for _, h := range chosen {
		if err := h.session.Request(req, peer.ReqFilterHeaders); err != nil {
			log.Debugf("getcfheaders request failed: %v", err)
			continue
		}
		if e.filterHeaderPeerID == "" || sessionID(h.session) != e.headerPeerID {
			e.filterHeaderPeerID = sessionID(h.session)
		}
	}
}

func (e *Engine) onCFHeaders(id string, m *btcwire.MsgCFHeaders) {
	if e.pendingCFH == nil {
		return
	}

	startHeader, ok := e.fhc.HeaderAt(e.pendingCFHStart - 1)
	if !ok {
		return
	}

	if m.PrevFilterHeader != startHeader {
		log.Warnf("peer %s sent cfheaders not connecting to filter header %d",
			id, e.pendingCFHStart-1)
		e.banPeer(id)
		e.emit(Disconnect{PeerID: id, Reason: "filter header mismatch"})
		e.pendingCFH = nil
		e.maybeRequestFilterHeaders()
		return
	}

	hashes := make([]chainhash.Hash, len(m.FilterHashes))
	for i, h := range m.FilterHashes {
		hashes[i] = *h
	}

	batch := Batch{
		StartHeight:  e.pendingCFHStart,
		StartHeader:  startHeader,
		FilterHashes: hashes,
	}
	e.pendingCFH.Add(id, batch)

	if len(e.pendingCFH.byPeer) < e.pendingCFHExpected {
		return
	}

	mismatchHeight, badPeers, conflict := e.pendingCFH.Resolve()
	if conflict {
		log.Warnf("filter header conflict at height %d among %d peers",
			mismatchHeight, len(badPeers))
		for _, bad := range badPeers {
			e.banPeer(bad)
			e.emit(Disconnect{PeerID: bad, Reason: "filter header conflict"})
		}
		e.pendingCFH = nil
		e.maybeRequestFilterHeaders()
		return
	}

	var accepted Batch
	for _, b := range e.pendingCFH.byPeer {
		accepted = b
		break
	}
	e.pendingCFH = nil

	if err := e.fhc.Extend(accepted); err != nil {
		log.Warnf("filter header batch rejected: %v", err)
		return
	}

	e.maybeRequestFilterHeaders()
	e.maybeRequestFilters()
}

// maybeRequestFilters fills the filter-fetch window up to cfg.FilterBatchSize
// heights ahead of the filter cursor, each from an independently chosen
// random data peer (spec §4.6).
func (e *Engine) maybeRequestFilters() {
	limit := e.fhc.Cursor()
	window := e.filterCursor + int32(e.cfg.FilterBatchSize)
	if window < limit {
		limit = window
	}

	for h := e.filterCursor + 1; h <= limit; h++ {
		if e.pendingFilters[h] {
			continue
		}
		header, ok := e.graph.HeaderByHeight(h)
		if !ok {
			break
		}
		peerH := e.anyDataPeer("")
		if peerH == nil {
			break
		}

		blockHash := header.BlockHash()
		req := btcwire.NewMsgGetCFilters(btcwire.GCSFilterRegular, uint32(h), &blockHash)
		if err := peerH.session.Request(req, peer.ReqFilters); err != nil {
			log.Debugf("getcfilters request failed: %v", err)
			continue
		}
		e.pendingFilters[h] = true
	}
}

func (e *Engine) onCFilter(id string, m *btcwire.MsgCFilter) {
	height, ok := e.graph.HeightOfHash(m.BlockHash)
	if !ok {
		return
	}
	delete(e.pendingFilters, height)

	matched, err := e.watch.Match(m.BlockHash, m.Data)
	if err != nil {
		log.Warnf("peer %s sent undecodable filter: %v", id, err)
		e.banPeer(id)
		return
	}

	if matched {
		e.fetch.Enqueue(height, m.BlockHash)
		e.tryAssignBlockFetch()
	}

	if height == e.filterCursor+1 {
		e.filterCursor = height
		e.emit(FilterProgress{Height: e.filterCursor})
		e.maybeRequestFilters()
	}
}

func (e *Engine) tryAssignBlockFetch() {
	for {
		var eligible []string
		for id, h := range e.peers {
			if h.role == supervisor.DataPeer {
				eligible = append(eligible, id)
			}
		}
		req, peerID, ok := e.fetch.Assign(eligible)
		if !ok {
			return
		}

		h, ok := e.peers[peerID]
		if !ok {
			e.fetch.Complete(req.hash)
			continue
		}

		gd := btcwire.NewMsgGetData()
		_ = gd.AddInvVect(btcwire.NewInvVect(btcwire.InvTypeWitnessBlock, &req.hash))
		if err := h.session.Request(gd, peer.ReqBlock); err != nil {
			log.Debugf("getdata(block) request failed: %v", err)
			e.fetch.Complete(req.hash)
			continue
		}
	}
}

func (e *Engine) onBlock(id string, m *btcwire.MsgBlock) {
	hash := m.Header.BlockHash()
	height, ok := e.graph.HeightOfHash(hash)
	if !ok {
		return
	}

	merkles := blockchain.BuildMerkleTreeStore(btcutil.NewBlock(m).Transactions(), false)
	root := merkles[len(merkles)-1]
	if !m.Header.MerkleRoot.IsEqual(root) {
		log.Warnf("peer %s sent block with bad merkle root at height %d", id, height)
		e.banPeer(id)
		e.fetch.Complete(hash)
		e.tryAssignBlockFetch()
		return
	}

	e.fetch.Complete(hash)
	idxs := e.watch.MatchingTxIndices(m)
	e.emit(BlockMatched{Height: height, Hash: hash, TxIndices: idxs})

	e.tryAssignBlockFetch()
}
