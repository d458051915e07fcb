package chain

import (
	"bufio"
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	kyotochaincfg "github.com/kyoto-spv/kyoto/chaincfg"
	"github.com/kyoto-spv/kyoto/peer"
	"github.com/kyoto-spv/kyoto/supervisor"
	"github.com/kyoto-spv/kyoto/transport"
	kyotowire "github.com/kyoto-spv/kyoto/wire"
)

// dialTestPeer drives a full v1 handshake over a net.Pipe and returns a
// Ready session plus the server-side connection the test can use to play
// the remote peer.
func dialTestPeer(t *testing.T, services btcwire.ServiceFlag) (*peer.Session, net.Conn, btcwire.BitcoinNet) {
	t.Helper()

	client, server := net.Pipe()
	testNet := btcwire.BitcoinNet(0xf00dcafe)

	cfg := peer.DefaultConfig()
	cfg.Net = testNet
	cfg.V2Policy = transport.Disable
	cfg.DialTimeout = time.Second
	cfg.HandshakeTimeout = time.Second
	cfg.HeaderTimeout = 2 * time.Second
	cfg.FilterHeaderTimeout = 2 * time.Second
	cfg.FilterTimeout = 2 * time.Second
	cfg.BlockTimeout = 2 * time.Second

	go func() {
		r := bufio.NewReader(server)
		_, _ = kyotowire.Read(r, uint32(btcwire.FeeFilterVersion), testNet)

		remoteAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}
		versionMsg := kyotowire.BuildVersionMsg(remoteAddr, services, 0, 42, "")
		_ = kyotowire.Write(server, versionMsg, uint32(btcwire.FeeFilterVersion), testNet)

		_, _ = kyotowire.Read(r, uint32(btcwire.FeeFilterVersion), testNet)
		_ = kyotowire.Write(server, btcwire.NewMsgVerAck(), uint32(btcwire.FeeFilterVersion), testNet)
	}()

	dialer := func() (net.Conn, error) { return client, nil }
	sess, err := peer.Dial(
		context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8333},
		cfg, dialer, 1, 0,
	)
	require.NoError(t, err)
	require.Equal(t, peer.Ready, sess.State())

	return sess, server, testNet
}

func newTestEngine(t *testing.T, anchor btcwire.BlockHeader) *Engine {
	t.Helper()

	banned := make(chan *peer.Session, 8)
	e, err := NewEngine(Config{
		Network:      kyotochaincfg.Regtest,
		AnchorHeight: 0,
		AnchorHeader: anchor,
		BanPeer: func(sess *peer.Session) {
			banned <- sess
		},
		Rand: rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

// forwardToEngine mimics the node facade's demultiplexing loop: drain
// sess's inbound channel and hand every message straight to the engine
// until the session closes.
func forwardToEngine(e *Engine, sess *peer.Session) {
	go func() {
		for {
			select {
			case msg, ok := <-sess.Inbound():
				if !ok {
					return
				}
				e.Deliver(sess, msg)
			case <-sess.Closed():
				e.PeerClosed(sess)
				return
			}
		}
	}()
}

func TestEnginePeerReadyRequestsHeaders(t *testing.T) {
	anchor := regtestAnchor(t)
	e := newTestEngine(t, anchor)

	sess, server, testNet := dialTestPeer(t, btcwire.SFNodeNetwork|btcwire.SFNodeCF)
	defer sess.Shutdown()

	e.PeerReady(sess, supervisor.DataPeer)
	forwardToEngine(e, sess)

	r := bufio.NewReader(server)
	msg, err := kyotowire.Read(r, uint32(btcwire.FeeFilterVersion), testNet)
	require.NoError(t, err)

	getHeaders, ok := msg.(*btcwire.MsgGetHeaders)
	require.True(t, ok)
	require.Len(t, getHeaders.BlockLocatorHashes, 1)
	require.Equal(t, anchor.BlockHash(), *getHeaders.BlockLocatorHashes[0])
}

func TestEngineAcceptsHeadersAndEmitsProgress(t *testing.T) {
	anchor := regtestAnchor(t)
	e := newTestEngine(t, anchor)

	sess, server, testNet := dialTestPeer(t, btcwire.SFNodeNetwork|btcwire.SFNodeCF)
	defer sess.Shutdown()

	e.PeerReady(sess, supervisor.DataPeer)
	forwardToEngine(e, sess)

	r := bufio.NewReader(server)
	_, err := kyotowire.Read(r, uint32(btcwire.FeeFilterVersion), testNet) // getheaders
	require.NoError(t, err)

	child := childHeader(anchor, t)
	headersMsg := btcwire.NewMsgHeaders()
	require.NoError(t, headersMsg.AddBlockHeader(&child))
	require.NoError(t, kyotowire.Write(server, headersMsg, uint32(btcwire.FeeFilterVersion), testNet))

	select {
	case ev := <-e.Events():
		extended, ok := ev.(HeadersExtended)
		require.True(t, ok)
		require.Equal(t, int32(1), extended.From)
		require.Equal(t, int32(1), extended.To)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HeadersExtended")
	}
}

func TestEngineAddScriptBeforeAnyPeerIsSafe(t *testing.T) {
	anchor := regtestAnchor(t)
	e := newTestEngine(t, anchor)

	e.AddScript([]byte{0x01, 0x02}, 0)

	// No peer is connected; this should settle without panicking or
	// blocking the mailbox. Give the actor loop a moment to process it.
	time.Sleep(50 * time.Millisecond)
}
