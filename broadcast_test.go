package kyoto

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestBroadcastRegistryNotifyGetData(t *testing.T) {
	reg := newBroadcastRegistry()
	hash := chainhash.Hash{0x01}

	ch := reg.register("peerA", hash)
	reg.notifyGetData("peerA", hash)

	select {
	case sig := <-ch:
		require.True(t, sig.fetched)
		require.False(t, sig.rejected)
	default:
		t.Fatal("expected a signal on the waiter channel")
	}
}

func TestBroadcastRegistryNotifyRejectCarriesReason(t *testing.T) {
	reg := newBroadcastRegistry()
	hash := chainhash.Hash{0x02}

	ch := reg.register("peerA", hash)
	reg.notifyReject("peerA", hash, "insufficient fee")

	sig := <-ch
	require.True(t, sig.rejected)
	require.Equal(t, "insufficient fee", sig.rejectReason)
}

func TestBroadcastRegistryIgnoresUnknownWaiter(t *testing.T) {
	reg := newBroadcastRegistry()
	hash := chainhash.Hash{0x03}

	// No register call for this key; notify must not panic or block.
	reg.notifyGetData("peerB", hash)
	reg.notifyReject("peerB", hash, "whatever")
}

func TestBroadcastRegistryUnregisterStopsDelivery(t *testing.T) {
	reg := newBroadcastRegistry()
	hash := chainhash.Hash{0x04}

	ch := reg.register("peerA", hash)
	reg.unregister("peerA", hash)
	reg.notifyGetData("peerA", hash)

	select {
	case <-ch:
		t.Fatal("expected no signal after unregister")
	default:
	}
}

func TestBroadcastRegistryKeysAreScopedPerSession(t *testing.T) {
	reg := newBroadcastRegistry()
	hash := chainhash.Hash{0x05}

	chA := reg.register("peerA", hash)
	chB := reg.register("peerB", hash)

	reg.notifyGetData("peerA", hash)

	select {
	case <-chA:
	default:
		t.Fatal("peerA waiter should have fired")
	}
	select {
	case <-chB:
		t.Fatal("peerB waiter should not have fired")
	default:
	}
}
