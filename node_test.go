package kyoto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyoto-spv/kyoto/chaincfg"
)

func TestNewWiresSubsystemsWithoutDialing(t *testing.T) {
	n, err := New(Config{
		Network:          chaincfg.Regtest,
		ConnectionTarget: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, n.Client())
	require.Same(t, n, n.Client().node)

	// No sessions have connected, so height and fee estimate must report
	// their zero-value states rather than panicking.
	require.Equal(t, int32(0), n.bestHeight())
	_, ok := n.Client().FeeEstimate()
	require.False(t, ok)
}

func TestNewSeedsWatchlistIntoEngine(t *testing.T) {
	script := []byte{0x51}
	n, err := New(Config{
		Network:          chaincfg.Regtest,
		ConnectionTarget: 1,
		Watchlist: []WatchEntry{
			{Script: script, SinceHeight: 0},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, n)
}

func TestNewRejectsUnknownNetwork(t *testing.T) {
	_, err := New(Config{
		Network:          chaincfg.Network(255),
		ConnectionTarget: 1,
	})
	require.Error(t, err)
}
