package peer

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/fn"
	"github.com/kyoto-spv/kyoto/queue"
	"github.com/kyoto-spv/kyoto/transport"
	"github.com/kyoto-spv/kyoto/wire"
)

// outboundItem is one entry in the writer's queue: a message to send and,
// if it expects a timed response, the request kind and per-kind timeout to
// arm once it is written.
type outboundItem struct {
	msg         btcwire.Message
	expects     RequestKind
	hasDeadline bool
	timeout     time.Duration
}

// Session is one outbound connection to a peer, running the reader/writer
// tasks spec §4.3 describes and exposing a State machine the connection
// supervisor observes.
type Session struct {
	cfg  Config
	addr *net.TCPAddr

	conn *transport.Conn
	rd   *bufio.Reader

	mu          sync.Mutex
	state       State
	closeReason CloseReason

	services btcwire.ServiceFlag
	v2Active bool

	inbound  chan btcwire.Message
	outbound *queue.BackpressureQueue[outboundItem]

	deadlines *deadlineSet
	pinger    *pingManager

	gm *fn.GoroutineManager

	closed chan struct{}

	onViolation func(CloseReason)
}

// ErrNotReady is returned by Request/Send when the session has not reached
// the Ready state.
var ErrNotReady = errors.New("peer: session is not ready")

// Dial establishes a new session against addr: TCP (or proxied) connect,
// opportunistic v2 handshake, then the version/verack exchange. It blocks
// until the session reaches Ready or fails, returning the session in
// either case so the caller can inspect CloseReason() on failure.
func Dial(ctx context.Context, addr *net.TCPAddr, cfg Config,
	dial func() (net.Conn, error), nonce uint64, bestHeight int32) (*Session, error) {

	s := &Session{
		cfg:       cfg,
		addr:      addr,
		state:     Connecting,
		inbound:   make(chan btcwire.Message, 64),
		deadlines: newDeadlineSet(),
		pinger:    newPingManager(cfg.KeepaliveInterval),
		gm:        fn.NewGoroutineManager(),
		closed:    make(chan struct{}),
	}
	s.outbound = queue.NewBackpressureQueue[outboundItem](
		cfg.OutboundQueueSize,
		queue.RandomEarlyDrop[outboundItem](
			cfg.OutboundQueueSize*3/4, cfg.OutboundQueueSize,
		),
	)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	type dialResult struct {
		conn *transport.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := transport.Dial(dial, cfg.V2Policy, cfg.HandshakeTimeout)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			s.pinger.stop()
			s.fail(DialTimeout)
			return s, res.err
		}
		s.conn = res.conn
		s.v2Active = res.conn.V2Active()
	case <-dialCtx.Done():
		s.pinger.stop()
		s.fail(DialTimeout)
		return s, dialCtx.Err()
	}

	s.rd = bufio.NewReader(s.conn)

	if err := s.handshake(ctx, nonce, bestHeight); err != nil {
		s.pinger.stop()
		s.fail(s.closeReasonFor(err))
		_ = s.conn.Close()
		return s, err
	}

	s.setState(Ready)
	s.pinger.start(func(n uint64) {
		_ = s.Send(btcwire.NewMsgPing(n))
	})
	s.gm.Go(ctx, s.readerLoop)
	s.gm.Go(ctx, s.writerLoop)

	return s, nil
}

func (s *Session) closeReasonFor(err error) CloseReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return HandshakeTimeout
	}
	if errors.Is(err, errServiceMismatch) {
		return ServiceMismatch
	}
	return ProtocolViolation
}

var errServiceMismatch = errors.New("peer: remote lacks required services")

// handshake performs the version/verack exchange. If cfg.RequireFilters is
// set, a remote that doesn't advertise NODE_COMPACT_FILTERS fails the
// handshake (spec §4.3).
func (s *Session) handshake(ctx context.Context, nonce uint64, bestHeight int32) error {
	s.setState(Handshaking)

	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	versionMsg := wire.BuildVersionMsg(
		s.addr, btcwire.SFNodeNetwork|btcwire.SFNodeWitness,
		bestHeight, nonce, s.cfg.UserAgentSuffix,
	)
	if err := s.writeRaw(versionMsg); err != nil {
		return err
	}

	var gotVersion, gotVerAck bool
	for !gotVersion || !gotVerAck {
		msg, err := s.readOneWithDeadline(hsCtx)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *btcwire.MsgVersion:
			s.services = m.Services
			if s.cfg.RequireFilters && s.services&btcwire.SFNodeCF == 0 {
				return errServiceMismatch
			}
			if err := s.writeRaw(btcwire.NewMsgVerAck()); err != nil {
				return err
			}
			gotVersion = true
		case *btcwire.MsgVerAck:
			gotVerAck = true
		default:
			// Tolerate anything else (e.g. sendaddrv2) during the
			// handshake window; only version/verack gate Ready.
		}
	}

	return nil
}

func (s *Session) readOneWithDeadline(ctx context.Context) (btcwire.Message, error) {
	type readResult struct {
		msg btcwire.Message
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		msg, err := s.readRaw()
		resultCh <- readResult{msg, err}
	}()

	select {
	case res := <-resultCh:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readRaw reads one message off the active transport, whether v1 plaintext
// or v2 encrypted.
func (s *Session) readRaw() (btcwire.Message, error) {
	if !s.v2Active {
		return wire.Read(s.rd, s.cfg.ProtocolVersion, s.cfg.Net)
	}

	payload, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return wire.Read(
		bufioFromBytes(payload), s.cfg.ProtocolVersion, s.cfg.Net,
	)
}

func (s *Session) writeRaw(msg btcwire.Message) error {
	if !s.v2Active {
		return wire.Write(s.conn, msg, s.cfg.ProtocolVersion, s.cfg.Net)
	}

	var buf bufferWriter
	if err := wire.Write(&buf, msg, s.cfg.ProtocolVersion, s.cfg.Net); err != nil {
		return err
	}
	return s.conn.WriteMessage(buf.Bytes())
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseReason returns why the session closed; valid only once State() is
// Closed.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Services returns the service flags the remote advertised in its version
// message.
func (s *Session) Services() btcwire.ServiceFlag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services
}

// Inbound returns the channel of messages parsed from the peer while Ready.
func (s *Session) Inbound() <-chan btcwire.Message { return s.inbound }

// Closed returns a channel closed once the session reaches the Closed
// state.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Conn returns the underlying transport connection, so the connection
// supervisor can hand it to btcd/connmgr for lifecycle bookkeeping
// (Close on disconnect/remove).
func (s *Session) Conn() net.Conn { return s.conn }

// RemoteNetAddress reconstructs the remote's wire.NetAddress from the
// dialed address and the services it advertised during the handshake, for
// address-book bookkeeping (Promote/MarkGood/Demote) by the connection
// supervisor.
func (s *Session) RemoteNetAddress() btcwire.NetAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return btcwire.NetAddress{
		Timestamp: time.Now(),
		Services:  s.services,
		IP:        s.addr.IP,
		Port:      uint16(s.addr.Port),
	}
}

// OnViolation registers a callback invoked whenever this session transitions
// to Draining for any reason other than an explicit shutdown (protocol
// violations, timeouts and socket errors alike), letting the
// connection supervisor apply address-book demotion/banning (spec §4.5).
func (s *Session) OnViolation(f func(CloseReason)) {
	s.mu.Lock()
	s.onViolation = f
	s.mu.Unlock()
}

// Send enqueues msg for the writer task without arming a response
// deadline.
func (s *Session) Send(msg btcwire.Message) error {
	return s.enqueue(outboundItem{msg: msg})
}

// Request enqueues msg and arms the per-kind deadline named in spec §4.3;
// a response of the matching kind must call the engine's cancellation path
// (via the reader loop) before timeout or the session is marked unreliable.
func (s *Session) Request(msg btcwire.Message, kind RequestKind) error {
	return s.enqueue(outboundItem{
		msg: msg, expects: kind, hasDeadline: true,
		timeout: s.timeoutFor(kind),
	})
}

func (s *Session) timeoutFor(kind RequestKind) time.Duration {
	switch kind {
	case ReqHeaders:
		return s.cfg.HeaderTimeout
	case ReqFilterHeaders:
		return s.cfg.FilterHeaderTimeout
	case ReqFilters:
		return s.cfg.FilterTimeout
	case ReqBlock:
		return s.cfg.BlockTimeout
	default:
		return s.cfg.HeaderTimeout
	}
}

func (s *Session) enqueue(item outboundItem) error {
	if s.State() != Ready {
		return ErrNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.outbound.Enqueue(ctx, item)
}

// Shutdown transitions the session to Draining with ExplicitShutdown and
// closes the underlying connection, unblocking the reader/writer tasks.
func (s *Session) Shutdown() {
	s.drain(ExplicitShutdown)
}

func (s *Session) fail(reason CloseReason) {
	s.mu.Lock()
	s.state = Closed
	s.closeReason = reason
	s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *Session) drain(reason CloseReason) {
	s.mu.Lock()
	if s.state == Closed || s.state == Draining {
		s.mu.Unlock()
		return
	}
	s.state = Draining
	cb := s.onViolation
	s.mu.Unlock()

	if cb != nil && reason != ExplicitShutdown {
		cb(reason)
	}

	log.Debugf("session %v draining: %v", s.addr, reason)

	s.deadlines.cancelAll()
	s.pinger.stop()

	// Close before waiting on the goroutine manager: the reader loop's
	// blocking socket Read only unblocks when the underlying connection
	// closes, context cancellation alone won't interrupt it.
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.gm.Stop()

	s.fail(reason)
}

func (s *Session) readerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.readRaw()
		if err != nil {
			go s.drain(SocketError)
			return
		}

		switch m := msg.(type) {
		case *btcwire.MsgPong:
			s.pinger.onPong(m.Nonce)
		case *btcwire.MsgHeaders:
			s.deadlines.cancel(ReqHeaders)
		case *btcwire.MsgCFHeaders:
			s.deadlines.cancel(ReqFilterHeaders)
		case *btcwire.MsgCFilter:
			s.deadlines.cancel(ReqFilters)
		case *btcwire.MsgBlock:
			s.deadlines.cancel(ReqBlock)
		}

		select {
		case s.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writerLoop(ctx context.Context) {
	for {
		res := s.outbound.Dequeue(ctx)
		item, err := res.Unpack()
		if err != nil {
			return
		}

		if err := s.writeRaw(item.msg); err != nil {
			go s.drain(SocketError)
			return
		}
		s.pinger.resetIdle()

		if item.hasDeadline {
			kind := item.expects
			s.deadlines.arm(kind, item.timeout, func() {
				go s.drain(RequestTimeout)
			})
		}
	}
}
