package chain

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestWatchlistMatchRoundTrip(t *testing.T) {
	blockHash := hashFromByte(0x42)
	watched := []byte{0x76, 0xa9, 0x14, 0x01, 0x02, 0x03}
	other := []byte{0x00, 0xff}

	filter, err := BuildFilter(blockHash, [][]byte{watched, other})
	require.NoError(t, err)

	bytes, err := filter.NBytes()
	require.NoError(t, err)

	w := NewWatchlist(0)
	w.Add(watched, 0)

	matched, err := w.Match(blockHash, bytes)
	require.NoError(t, err)
	require.True(t, matched)
}

func TestWatchlistMatchMissReportsNoMatch(t *testing.T) {
	blockHash := hashFromByte(0x43)
	inFilter := []byte{0x11, 0x22, 0x33}

	filter, err := BuildFilter(blockHash, [][]byte{inFilter})
	require.NoError(t, err)
	bytes, err := filter.NBytes()
	require.NoError(t, err)

	w := NewWatchlist(0)
	w.Add([]byte{0xaa, 0xbb, 0xcc, 0xdd}, 0)

	matched, err := w.Match(blockHash, bytes)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestWatchlistAddBelowFloorTriggersRescan(t *testing.T) {
	w := NewWatchlist(1000)
	require.False(t, w.Add([]byte{0x01}, 1500))
	require.True(t, w.Add([]byte{0x02}, 500))
	require.Equal(t, int32(500), w.EarliestHeight())
}

func TestWatchlistMatchingTxIndices(t *testing.T) {
	target := []byte{0xde, 0xad, 0xbe, 0xef}
	w := NewWatchlist(0)
	w.Add(target, 0)

	block := &wire.MsgBlock{
		Transactions: []*wire.MsgTx{
			{TxOut: []*wire.TxOut{{PkScript: []byte{0x00}}}},
			{TxOut: []*wire.TxOut{{PkScript: target}}},
			{TxOut: []*wire.TxOut{{PkScript: []byte{0x01}}}},
		},
	}

	idxs := w.MatchingTxIndices(block)
	require.Equal(t, []int{1}, idxs)
}
