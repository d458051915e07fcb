package peer

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyoto-spv/kyoto/transport"
	"github.com/kyoto-spv/kyoto/wire"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "connecting", Connecting.String())
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "closed", Closed.String())
}

func TestCloseReasonString(t *testing.T) {
	require.Equal(t, "dial_timeout", DialTimeout.String())
	require.Equal(t, "request_timeout", RequestTimeout.String())
}

func TestDeadlineSetCancel(t *testing.T) {
	d := newDeadlineSet()
	fired := make(chan struct{})
	d.arm(ReqHeaders, 20*time.Millisecond, func() { close(fired) })

	require.True(t, d.cancel(ReqHeaders))

	select {
	case <-fired:
		t.Fatal("deadline fired after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeadlineSetFiresOnExpiry(t *testing.T) {
	d := newDeadlineSet()
	fired := make(chan struct{})
	d.arm(ReqBlock, 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestDeadlineSetCancelUnknownReturnsFalse(t *testing.T) {
	d := newDeadlineSet()
	require.False(t, d.cancel(ReqFilters))
}

// fakeRemoteHandshake drives the remote side of a plaintext v1 handshake:
// it reads the dialer's version message and replies with its own version
// then verack.
func fakeRemoteHandshake(t *testing.T, conn net.Conn, net_ btcwire.BitcoinNet) {
	t.Helper()

	r := bufio.NewReader(conn)
	_, err := wire.Read(r, uint32(btcwire.FeeFilterVersion), net_)
	require.NoError(t, err)

	remoteAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}
	versionMsg := wire.BuildVersionMsg(
		remoteAddr, btcwire.SFNodeNetwork|btcwire.SFNodeCF, 0, 42, "",
	)
	require.NoError(t, wire.Write(conn, versionMsg, uint32(btcwire.FeeFilterVersion), net_))

	// Drain the dialer's verack, sent in response to our version, before
	// sending our own: net.Pipe has no buffering, so both sides blocking
	// in Write at once would deadlock.
	_, err = wire.Read(r, uint32(btcwire.FeeFilterVersion), net_)
	require.NoError(t, err)

	require.NoError(t, wire.Write(conn, btcwire.NewMsgVerAck(), uint32(btcwire.FeeFilterVersion), net_))
}

func TestDialReachesReadyOverV1(t *testing.T) {
	client, server := net.Pipe()

	testNet := btcwire.BitcoinNet(0xf00dcafe)
	cfg := DefaultConfig()
	cfg.Net = testNet
	cfg.V2Policy = transport.Disable
	cfg.RequireFilters = true
	cfg.DialTimeout = time.Second
	cfg.HandshakeTimeout = time.Second

	go fakeRemoteHandshake(t, server, testNet)

	dialer := func() (net.Conn, error) { return client, nil }

	sess, err := Dial(
		context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8333},
		cfg, dialer, 1, 0,
	)
	require.NoError(t, err)
	require.Equal(t, Ready, sess.State())
	require.NotZero(t, sess.Services()&btcwire.SFNodeCF)

	sess.Shutdown()
	<-sess.Closed()
	require.Equal(t, ExplicitShutdown, sess.CloseReason())
}

func TestDialFailsWhenServicesMismatch(t *testing.T) {
	client, server := net.Pipe()

	testNet := btcwire.BitcoinNet(0xf00dcafe)
	cfg := DefaultConfig()
	cfg.Net = testNet
	cfg.V2Policy = transport.Disable
	cfg.RequireFilters = true
	cfg.DialTimeout = time.Second
	cfg.HandshakeTimeout = 300 * time.Millisecond

	go func() {
		r := bufio.NewReader(server)
		_, _ = wire.Read(r, uint32(btcwire.FeeFilterVersion), testNet)

		remoteAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}
		versionMsg := wire.BuildVersionMsg(
			remoteAddr, btcwire.SFNodeNetwork, 0, 42, "",
		)
		_ = wire.Write(server, versionMsg, uint32(btcwire.FeeFilterVersion), testNet)
	}()

	dialer := func() (net.Conn, error) { return client, nil }

	sess, err := Dial(
		context.Background(), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8333},
		cfg, dialer, 1, 0,
	)
	require.Error(t, err)
	require.Equal(t, Closed, sess.State())
	require.Equal(t, ServiceMismatch, sess.CloseReason())
}
