package kyoto

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/addrbook"
	"github.com/kyoto-spv/kyoto/chain"
	"github.com/kyoto-spv/kyoto/peer"
	"github.com/kyoto-spv/kyoto/supervisor"
)

// defaultAddrFlushPeriod matches spec §4.4's "default 10 min".
const defaultAddrFlushPeriod = 10 * time.Minute

func sessionID(sess *peer.Session) string {
	return fmt.Sprintf("%p", sess)
}

// Node is Kyoto's top-level facade: it owns the address book, connection
// supervisor, and chain engine, and wires their callbacks together the way
// spec §4.7 describes — an asynchronous run() driver plus a client handle.
type Node struct {
	cfg Config

	book   *addrbook.Book
	super  *supervisor.Supervisor
	engine *chain.Engine

	fees       *feeTracker
	broadcasts *broadcastRegistry

	client *Client

	rngMu sync.Mutex
	prng  *rand.Rand

	nonceMu sync.Mutex
	nonces  map[uint64]bool

	addrv2Mu sync.Mutex
	addrv2   map[string]bool
}

// New constructs a Node. Call Run to begin connecting and syncing.
func New(cfg Config) (*Node, error) {
	params, err := cfg.Network.Params()
	if err != nil {
		return nil, fmt.Errorf("kyoto: %w", err)
	}

	flushPeriod := cfg.AddrFlushPeriod
	if flushPeriod == 0 {
		flushPeriod = defaultAddrFlushPeriod
	}
	book, err := addrbook.New(cfg.PeerStore, flushPeriod)
	if err != nil {
		return nil, fmt.Errorf("kyoto: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		book:       book,
		fees:       newFeeTracker(),
		broadcasts: newBroadcastRegistry(),
		prng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		nonces:     make(map[uint64]bool),
		addrv2:     make(map[string]bool),
	}
	n.client = &Client{node: n}

	timeouts := cfg.Timeouts
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts()
	}

	peerCfg := peer.Config{
		Net:                 params.Net,
		ProtocolVersion:     uint32(btcwire.FeeFilterVersion),
		UserAgentSuffix:     cfg.UserAgentSuffix,
		V2Policy:            cfg.V2Transport,
		DialTimeout:         timeouts.Dial,
		HandshakeTimeout:    timeouts.Handshake,
		HeaderTimeout:       timeouts.RequestHeaders,
		FilterHeaderTimeout: timeouts.RequestFilterHdrs,
		FilterTimeout:       timeouts.RequestFilter,
		BlockTimeout:        timeouts.RequestBlock,
		KeepaliveInterval:   timeouts.Keepalive,
		OutboundQueueSize:   64,
	}

	super, err := supervisor.New(supervisor.Config{
		Network:          cfg.Network,
		ConnectionTarget: cfg.connectionTarget(),
		RequiredServices: cfg.requiredServices(),
		ConfiguredPeers:  cfg.ConfiguredPeers,
		PeerConfig:       peerCfg,
		Proxy:            cfg.Proxy,
		Nonce:            n.nextNonce,
		BestHeight:       n.bestHeight,
		OnSessionReady:   n.onSessionReady,
		OnSessionClosed:  n.onSessionClosed,
	}, book)
	if err != nil {
		return nil, fmt.Errorf("kyoto: %w", err)
	}
	n.super = super

	engine, err := chain.NewEngine(chain.Config{
		Network:              cfg.Network,
		AnchorHeight:         cfg.Anchor.Height,
		AnchorHeader:         cfg.Anchor.Header,
		AnchorFilterHeader:   cfg.Anchor.FilterHeader,
		MaxOutstandingBlocks: cfg.MaxOutstandingBlocks,
		FilterBatchSize:      cfg.FilterBatchSize,
		BanPeer:              n.super.Ban,
		EventBufferSize:      cfg.EventBufferSize,
		Rand:                 n.rng(),
	})
	if err != nil {
		return nil, fmt.Errorf("kyoto: %w", err)
	}
	n.engine = engine

	for _, w := range cfg.Watchlist {
		n.engine.AddScript(w.Script, w.SinceHeight)
	}

	return n, nil
}

func (n *Node) rng() *rand.Rand {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	// rand.Rand is not safe for concurrent use; every call site that
	// needs one generates a fresh one seeded off the shared source so
	// callers (broadcast retries, the supervisor's own selection) never
	// share mutable state across goroutines.
	return rand.New(rand.NewSource(n.prng.Int63()))
}

func (n *Node) nextNonce() uint64 {
	n.nonceMu.Lock()
	defer n.nonceMu.Unlock()
	for {
		n.rngMu.Lock()
		nonce := n.prng.Uint64()
		n.rngMu.Unlock()
		if !n.nonces[nonce] {
			n.nonces[nonce] = true
			return nonce
		}
	}
}

func (n *Node) bestHeight() int32 {
	return n.engine.TipHeight()
}

// Client returns the handle embedders drive the node through.
func (n *Node) Client() *Client { return n.client }

// Run starts the supervisor and blocks until ctx is cancelled, then tears
// everything down (spec §5's structured cancellation: cancelling the node
// task cancels all descendants). Client.Shutdown alone does not end Run.
func (n *Node) Run(ctx context.Context) error {
	if err := n.super.Start(ctx); err != nil {
		return fmt.Errorf("kyoto: %w", err)
	}

	<-ctx.Done()

	n.super.Stop()
	n.engine.Stop()
	if err := n.book.Close(); err != nil {
		log.Warnf("address book close: %v", err)
	}

	return nil
}

// onSessionReady fans a newly Ready session out to the chain engine (data
// peers only drive sync; both roles get the node's own demux loop so
// gossip/bookkeeping traffic on a data-peer session is still observed).
func (n *Node) onSessionReady(sess *peer.Session, role supervisor.Role) {
	n.engine.PeerReady(sess, role)
	n.negotiateAddrRelay(sess)
	go n.demux(sess, role)
}

func (n *Node) onSessionClosed(sess *peer.Session, role supervisor.Role, reason peer.CloseReason) {
	id := sessionID(sess)
	n.fees.forget(id)
	n.addrv2Mu.Lock()
	delete(n.addrv2, id)
	n.addrv2Mu.Unlock()
}

// negotiateAddrRelay sends sendaddrv2 then getaddr right after Ready, so
// the address book can grow beyond its configured/DNS-seeded starting set
// (spec §7's supplemented sendaddrv2 bookkeeping).
func (n *Node) negotiateAddrRelay(sess *peer.Session) {
	if err := sess.Send(btcwire.NewMsgSendAddrV2()); err != nil {
		return
	}
	_ = sess.Send(btcwire.NewMsgGetAddr())
}

// demux is the single consumer of sess's inbound channel: it hands
// chain-relevant messages to the engine and handles everything else
// itself (address relay, fee filter tracking, broadcast replies).
func (n *Node) demux(sess *peer.Session, role supervisor.Role) {
	id := sessionID(sess)
	for {
		select {
		case msg, ok := <-sess.Inbound():
			if !ok {
				return
			}
			n.handleInbound(id, sess, msg)
		case <-sess.Closed():
			n.engine.PeerClosed(sess)
			return
		}
	}
}

func (n *Node) handleInbound(id string, sess *peer.Session, msg btcwire.Message) {
	switch m := msg.(type) {
	case *btcwire.MsgHeaders, *btcwire.MsgCFHeaders, *btcwire.MsgCFilter, *btcwire.MsgBlock:
		n.engine.Deliver(sess, msg)

	case *btcwire.MsgFeeFilter:
		n.fees.observe(id, m.MinFee)

	case *btcwire.MsgSendAddrV2:
		n.addrv2Mu.Lock()
		n.addrv2[id] = true
		n.addrv2Mu.Unlock()

	case *btcwire.MsgAddr:
		source := sess.RemoteNetAddress()
		for _, na := range m.AddrList {
			n.book.AddNew(*na, source)
		}

	case *btcwire.MsgGetData:
		for _, iv := range m.InvList {
			if iv.Type == btcwire.InvTypeTx {
				n.broadcasts.notifyGetData(id, iv.Hash)
			}
		}

	case *btcwire.MsgReject:
		if m.Cmd == btcwire.CmdTx {
			n.broadcasts.notifyReject(id, m.Hash, m.Reason)
		}

	case *btcwire.MsgPing:
		_ = sess.Send(btcwire.NewMsgPong(m.Nonce))
	}
}
