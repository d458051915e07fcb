package supervisor

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyoto-spv/kyoto/chaincfg"
	"github.com/kyoto-spv/kyoto/peer"
)

func TestClassifyByServices(t *testing.T) {
	require.Equal(t, DataPeer, classify(wire.SFNodeNetwork|wire.SFNodeCF))
	require.Equal(t, GossipPeer, classify(wire.SFNodeNetwork))
}

func TestRoleString(t *testing.T) {
	require.Equal(t, "data", DataPeer.String())
	require.Equal(t, "gossip", GossipPeer.String())
}

func TestConfigValidateRejectsZeroTarget(t *testing.T) {
	cfg := Config{
		Nonce:      func() uint64 { return 1 },
		BestHeight: func() int32 { return 0 },
	}
	cfg.PeerConfig.Net = 1
	require.ErrorIs(t, cfg.validate(), ErrNoConnectionTarget)
}

func TestConfigValidateRequiresCallbacks(t *testing.T) {
	cfg := Config{ConnectionTarget: 1}
	require.Error(t, cfg.validate())
}

func TestResolveTCPAddrFillsDefaultPort(t *testing.T) {
	addr, err := resolveTCPAddr(chaincfg.Regtest, "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", addr.IP.String())
	require.NotZero(t, addr.Port)
}

func TestResolveTCPAddrHonorsExplicitPort(t *testing.T) {
	addr, err := resolveTCPAddr(chaincfg.Regtest, "127.0.0.1:9999")
	require.NoError(t, err)
	require.Equal(t, 9999, addr.Port)
}

func TestBackoffTrackerDoublesAndCaps(t *testing.T) {
	b := newBackoffTracker()
	addr := "1.2.3.4:8333"

	require.True(t, b.Eligible(addr))

	b.RecordFailure(addr)
	require.False(t, b.Eligible(addr))

	// Record the deadline after one failure, then verify that further
	// failures push it later but never past maxBackoff from now.
	b.mu.Lock()
	single := b.nextOK[addr]
	b.mu.Unlock()

	for i := 0; i < 20; i++ {
		b.RecordFailure(addr)
	}
	b.mu.Lock()
	capped := b.nextOK[addr]
	b.mu.Unlock()

	require.True(t, capped.Sub(time.Now()) <= maxBackoff+time.Second)
	require.True(t, capped.After(single))
}

func TestBackoffTrackerRecordSuccessClearsState(t *testing.T) {
	b := newBackoffTracker()
	addr := "1.2.3.4:8333"

	b.RecordFailure(addr)
	require.False(t, b.Eligible(addr))

	b.RecordSuccess(addr)
	require.True(t, b.Eligible(addr))
}

func TestBackoffTrackerTimeoutViolationThreshold(t *testing.T) {
	b := newBackoffTracker()
	addr := "1.2.3.4:8333"

	for i := 0; i < maxTimeoutViolations-1; i++ {
		require.False(t, b.RecordTimeoutViolation(addr))
	}
	require.True(t, b.RecordTimeoutViolation(addr))
}

func TestBanListTracksAddresses(t *testing.T) {
	bl := newBanList()
	require.False(t, bl.IsBanned("1.2.3.4:8333"))

	bl.Ban("1.2.3.4:8333")
	require.True(t, bl.IsBanned("1.2.3.4:8333"))
	require.False(t, bl.IsBanned("5.6.7.8:8333"))
}

func TestHandleViolationToleratesTimeoutsBelowThreshold(t *testing.T) {
	s := &Supervisor{
		backoff: newBackoffTracker(),
		bans:    newBanList(),
	}
	// book is nil and ban() calls s.book.Demote, so only timeouts below
	// the ban threshold are exercised here: none of them bans the address.
	addr := "1.2.3.4:8333"
	na := wire.NetAddress{IP: []byte{1, 2, 3, 4}, Port: 8333}

	for i := 0; i < maxTimeoutViolations-1; i++ {
		s.handleViolation(addr, na, peer.RequestTimeout)
		require.False(t, s.bans.IsBanned(addr))
	}
}
