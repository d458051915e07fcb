package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/addrbook"
	"github.com/kyoto-spv/kyoto/fn"
	"github.com/kyoto-spv/kyoto/peer"
)

// maxGetNewAddressAttempts bounds how many candidates GetNewAddress draws
// from the book before giving up and letting connmgr's own retry cadence
// try again later.
const maxGetNewAddressAttempts = 8

// registeredSession is the supervisor's bookkeeping record for one
// established connection: enough to demote/ban its address, tell connmgr
// it has gone away, and report its Role to callers.
type registeredSession struct {
	sess *peer.Session
	role Role
	addr wire.NetAddress
}

// Supervisor maintains Kyoto's outbound connection set: target count,
// eclipse-resistant address selection, banning, and per-address backoff,
// wrapping btcsuite/btcd/connmgr.ConnManager for the connection-count
// maintenance loop itself.
type Supervisor struct {
	cfg  Config
	book *addrbook.Book

	rawDial func(*net.TCPAddr) (net.Conn, error)
	connMgr *connmgr.ConnManager

	backoff *backoffTracker
	bans    *banList

	mu           sync.Mutex
	sessions     map[string]*registeredSession
	pending      map[string]*peer.Session
	activeGroups map[string]int

	// preconfigured marks addresses that came from cfg.ConfiguredPeers or
	// a DNS seed, rather than organic peer gossip, so the broadcast
	// policy can exclude them (spec §4.7: never broadcast through a
	// configured/seeded peer).
	preconfigured map[string]bool

	gm *fn.GoroutineManager

	rngMu sync.Mutex
	rng   *rand.Rand

	runCtx context.Context
}

// New constructs a Supervisor against book. Call Start to begin
// maintaining connections.
func New(cfg Config, book *addrbook.Book) (*Supervisor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Supervisor{
		cfg:          cfg,
		book:         book,
		backoff:      newBackoffTracker(),
		bans:         newBanList(),
		sessions:      make(map[string]*registeredSession),
		pending:       make(map[string]*peer.Session),
		activeGroups:  make(map[string]int),
		preconfigured: make(map[string]bool),
		gm:            fn.NewGoroutineManager(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start seeds the address book (configured peers always, DNS seeds if both
// tables are empty, per spec §4.4 rule 4) and launches the underlying
// connmgr.ConnManager.
func (s *Supervisor) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.rawDial = buildRawDialer(s.cfg.Proxy, defaultDialTimeout)

	if err := s.seedConfiguredPeers(); err != nil {
		return err
	}
	if s.book.Len() == 0 {
		if err := s.seedFromDNS(); err != nil {
			log.Debugf("dns seeding failed: %v", err)
		}
	}

	cmgr, err := connmgr.New(&connmgr.Config{
		TargetOutbound: uint32(s.cfg.ConnectionTarget),
		RetryDuration:  5 * time.Second,
		GetNewAddress:  s.getNewAddress,
		Dial:           s.dial,
		OnConnection:   s.onConnection,
		OnDisconnection: s.onDisconnection,
	})
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	s.connMgr = cmgr
	s.connMgr.Start()

	return nil
}

// Stop tears down every active session and the underlying connmgr.
func (s *Supervisor) Stop() {
	if s.connMgr != nil {
		s.connMgr.Stop()
	}
	s.gm.Stop()

	s.mu.Lock()
	sessions := make([]*peer.Session, 0, len(s.sessions))
	for _, r := range s.sessions {
		sessions = append(sessions, r.sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Shutdown()
	}
}

func (s *Supervisor) seedConfiguredPeers() error {
	for _, hostport := range s.cfg.ConfiguredPeers {
		tcpAddr, err := resolveTCPAddr(s.cfg.Network, hostport)
		if err != nil {
			return fmt.Errorf("supervisor: configured peer %q: %w", hostport, err)
		}
		na := wire.NetAddress{Timestamp: time.Now(), IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}
		s.book.AddNew(na, na)
		s.preconfigured[tcpAddr.String()] = true
	}
	return nil
}

func (s *Supervisor) seedFromDNS() error {
	seeds := s.cfg.Network.DNSSeeds()
	if len(seeds) == 0 {
		return nil
	}
	port, err := s.cfg.Network.DefaultPort()
	if err != nil {
		return err
	}
	addrs, err := resolveDNSSeeds(seeds, port)
	if err != nil {
		return err
	}
	for _, na := range addrs {
		s.book.AddNew(na, na)
		s.preconfigured[(&net.TCPAddr{IP: na.IP, Port: int(na.Port)}).String()] = true
	}
	return nil
}

// getNewAddress implements connmgr.Config.GetNewAddress: it draws a
// candidate from the address book, skipping banned addresses, addresses
// still inside their backoff window, and (when another group is already
// represented among the active connection set) addresses sharing that
// network group, per spec §4.4's eclipse-resistance rule.
func (s *Supervisor) getNewAddress() (net.Addr, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	excluded := s.activeGroupSet()

	for attempt := 0; attempt < maxGetNewAddressAttempts; attempt++ {
		rec, _, err := s.book.Select(s.rng, excluded)
		if err != nil {
			return nil, err
		}

		addrStr := (&net.TCPAddr{IP: rec.Addr.IP, Port: int(rec.Addr.Port)}).String()
		if s.bans.IsBanned(addrStr) {
			continue
		}
		if !s.backoff.Eligible(addrStr) {
			continue
		}

		s.book.MarkAttempt(rec.Addr)
		return &net.TCPAddr{IP: rec.Addr.IP, Port: int(rec.Addr.Port)}, nil
	}

	return nil, errors.New("supervisor: no eligible address after rejection sampling")
}

func (s *Supervisor) activeGroupSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(s.activeGroups))
	for g, n := range s.activeGroups {
		if n > 0 {
			out[g] = true
		}
	}
	return out
}

// dial implements connmgr.Config.Dial: it performs the full peer.Dial
// handshake (TCP/proxy connect, opportunistic v2 transport, version/
// verack) synchronously, since connmgr expects Dial to block until the
// connection either succeeds or fails outright. On success, the resulting
// session is stashed for onConnection to pick up and its underlying
// transport connection is returned so connmgr can track/close it.
func (s *Supervisor) dial(addr net.Addr) (net.Conn, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("supervisor: non-TCP address %v", addr)
	}
	addrStr := tcpAddr.String()

	lowDial := func() (net.Conn, error) { return s.rawDial(tcpAddr) }

	pcfg := s.cfg.PeerConfig
	sess, err := peer.Dial(s.runCtx, tcpAddr, pcfg, lowDial, s.cfg.Nonce(), s.cfg.BestHeight())
	if err != nil {
		s.backoff.RecordFailure(addrStr)
		return nil, err
	}

	s.mu.Lock()
	s.pending[addrStr] = sess
	s.mu.Unlock()

	return sess.Conn(), nil
}

// onConnection implements connmgr.Config.OnConnection: classification,
// address-book promotion, ban/backoff wiring, and the closed-session
// watcher that informs connmgr once the peer drops.
func (s *Supervisor) onConnection(connReq *connmgr.ConnReq, conn net.Conn) {
	addrStr := connReq.Addr.String()

	s.mu.Lock()
	sess, ok := s.pending[addrStr]
	delete(s.pending, addrStr)
	s.mu.Unlock()

	if !ok {
		_ = conn.Close()
		return
	}

	role := classify(sess.Services())
	if sess.Services()&s.cfg.RequiredServices != s.cfg.RequiredServices {
		role = GossipPeer
	}
	na := sess.RemoteNetAddress()
	group := addrbook.GroupKey(&na)

	s.promoteAfterHandshake(na)
	s.backoff.RecordSuccess(addrStr)
	s.book.MarkGood(na)

	s.mu.Lock()
	s.sessions[addrStr] = &registeredSession{sess: sess, role: role, addr: na}
	s.activeGroups[group]++
	s.mu.Unlock()

	sess.OnViolation(func(reason peer.CloseReason) {
		s.handleViolation(addrStr, na, reason)
	})

	if s.cfg.OnSessionReady != nil {
		s.cfg.OnSessionReady(sess, role)
	}

	s.gm.Go(s.runCtx, func(ctx context.Context) {
		s.watchClosed(ctx, addrStr, sess, connReq, role)
	})

	s.maybeEvictForDataPeer(role)
}

// promoteAfterHandshake runs spec §4.4's new->tried promotion, dialing a
// feeler connection to resolve a tried-slot collision if one arises.
func (s *Supervisor) promoteAfterHandshake(na wire.NetAddress) {
	incumbent, err := s.book.Promote(na)
	if err != nil || incumbent == nil {
		return
	}

	go s.runFeeler(na, *incumbent)
}

// runFeeler dials incumbent with a short, filter-free handshake to decide
// whether it is still reachable; the outcome resolves the tried-slot
// collision Promote reported for challenger.
func (s *Supervisor) runFeeler(challenger, incumbent wire.NetAddress) {
	tcpAddr := &net.TCPAddr{IP: incumbent.IP, Port: int(incumbent.Port)}

	feelerCfg := s.cfg.PeerConfig
	feelerCfg.RequireFilters = false
	feelerCfg.DialTimeout = 5 * time.Second
	feelerCfg.HandshakeTimeout = 5 * time.Second

	lowDial := func() (net.Conn, error) { return s.rawDial(tcpAddr) }
	sess, err := peer.Dial(s.runCtx, tcpAddr, feelerCfg, lowDial, s.cfg.Nonce(), s.cfg.BestHeight())

	succeeded := err == nil && sess.State() == peer.Ready
	if sess != nil {
		sess.Shutdown()
	}

	if resolveErr := s.book.ResolveFeeler(challenger, incumbent, succeeded); resolveErr != nil {
		log.Debugf("feeler resolution for %v: %v", incumbent, resolveErr)
	}
}

// watchClosed waits for sess to leave Ready and informs connmgr, so its
// own internal reconnection/backoff machinery (layered underneath ours)
// treats the slot as free again.
func (s *Supervisor) watchClosed(ctx context.Context, addrStr string, sess *peer.Session,
	connReq *connmgr.ConnReq, role Role) {

	select {
	case <-sess.Closed():
	case <-ctx.Done():
		sess.Shutdown()
		<-sess.Closed()
	}

	reason := sess.CloseReason()

	s.mu.Lock()
	if r, ok := s.sessions[addrStr]; ok {
		s.activeGroups[addrbook.GroupKey(&r.addr)]--
	}
	delete(s.sessions, addrStr)
	s.mu.Unlock()

	s.connMgr.Disconnect(connReq.ID())

	if s.cfg.OnSessionClosed != nil {
		s.cfg.OnSessionClosed(sess, role, reason)
	}
}

func (s *Supervisor) onDisconnection(*connmgr.ConnReq) {
	// All state cleanup happens in watchClosed, which runs first since
	// it is what triggers this callback via connMgr.Disconnect.
}

// handleViolation applies spec §4.5's banning policy: a protocol
// violation or checksum failure bans immediately; a request timeout bans
// only once it has repeated past maxTimeoutViolations, since an isolated
// timeout is ordinary network flakiness.
func (s *Supervisor) handleViolation(addrStr string, na wire.NetAddress, reason peer.CloseReason) {
	switch reason {
	case peer.ProtocolViolation, peer.ChecksumFailure, peer.ServiceMismatch:
		s.ban(addrStr, na)
	case peer.RequestTimeout:
		if s.backoff.RecordTimeoutViolation(addrStr) {
			s.ban(addrStr, na)
		}
	}
}

func (s *Supervisor) ban(addrStr string, na wire.NetAddress) {
	s.bans.Ban(addrStr)
	s.book.Demote(na)
}

// Ban bans addr for the remainder of the process and demotes its
// address-book record. Exported so the chain engine can ban a peer for
// consensus-level faults (invalid headers, bad filter commitment) that
// the supervisor has no way to observe on its own.
func (s *Supervisor) Ban(sess *peer.Session) {
	na := sess.RemoteNetAddress()
	addrStr := (&net.TCPAddr{IP: na.IP, Port: int(na.Port)}).String()
	s.ban(addrStr, na)
	sess.Shutdown()
}

// maybeEvictForDataPeer enforces spec §4.5's "guarantees at least one data
// peer": if the new connection was a gossip peer, the connection set is
// already at target, and no data peer exists, a random gossip peer is
// dropped to free a slot for the next dial attempt to try again.
func (s *Supervisor) maybeEvictForDataPeer(justAdded Role) {
	if justAdded == DataPeer {
		return
	}

	s.mu.Lock()
	belowTarget := len(s.sessions) < int(s.cfg.ConnectionTarget)
	var hasData bool
	var gossipVictims []*registeredSession
	if !belowTarget {
		for _, r := range s.sessions {
			if r.role == DataPeer {
				hasData = true
				continue
			}
			gossipVictims = append(gossipVictims, r)
		}
	}
	s.mu.Unlock()

	if belowTarget || hasData || len(gossipVictims) == 0 {
		return
	}

	s.rngMu.Lock()
	idx := s.rng.Intn(len(gossipVictims))
	s.rngMu.Unlock()

	gossipVictims[idx].sess.Shutdown()
}

// DataPeers returns every currently ready session classified as a data
// peer.
func (s *Supervisor) DataPeers() []*peer.Session {
	return s.sessionsByRole(DataPeer)
}

// GossipPeers returns every currently ready session classified as a
// gossip peer.
func (s *Supervisor) GossipPeers() []*peer.Session {
	return s.sessionsByRole(GossipPeer)
}

func (s *Supervisor) sessionsByRole(role Role) []*peer.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*peer.Session
	for _, r := range s.sessions {
		if r.role == role {
			out = append(out, r.sess)
		}
	}
	return out
}

// ErrNoGossipPeer is returned by RandomGossipPeer when no eligible gossip
// peer is currently connected.
var ErrNoGossipPeer = errors.New("supervisor: no gossip peer connected")

// RandomGossipPeer picks a uniformly random gossip peer that was not
// dialed from cfg.ConfiguredPeers or a DNS seed, the broadcast policy
// spec §4.7 requires: a transaction should never be revealed first to a
// peer the host (or its configuration) chose deliberately, only to one
// discovered organically through gossip.
func (s *Supervisor) RandomGossipPeer(rng *rand.Rand) (*peer.Session, error) {
	s.mu.Lock()
	var eligible []*peer.Session
	for addrStr, r := range s.sessions {
		if r.role == GossipPeer && !s.preconfigured[addrStr] {
			eligible = append(eligible, r.sess)
		}
	}
	s.mu.Unlock()

	if len(eligible) == 0 {
		return nil, ErrNoGossipPeer
	}
	return eligible[rng.Intn(len(eligible))], nil
}
