package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// mineHeader brute-forces a nonce until header satisfies its own declared
// target. Regtest's target is loose enough that this terminates quickly.
func mineHeader(t *testing.T, h wire.BlockHeader) wire.BlockHeader {
	t.Helper()

	target := blockchain.CompactToBig(h.Bits)
	for nonce := uint32(0); nonce < 1<<20; nonce++ {
		h.Nonce = nonce
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return h
		}
	}
	t.Fatal("failed to mine a header within the nonce budget")
	return h
}

func childHeader(parent wire.BlockHeader, t *testing.T) wire.BlockHeader {
	return mineHeader(t, wire.BlockHeader{
		Version:   1,
		PrevBlock: parent.BlockHash(),
		Timestamp: parent.Timestamp.Add(10 * time.Minute),
		Bits:      chaincfg.RegressionNetParams.PowLimitBits,
	})
}

func regtestAnchor(t *testing.T) wire.BlockHeader {
	return mineHeader(t, wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1_600_000_000, 0),
		Bits:      chaincfg.RegressionNetParams.PowLimitBits,
	})
}

func TestGraphExtendSimpleChain(t *testing.T) {
	anchor := regtestAnchor(t)
	g := NewGraph(0, anchor)

	require.Equal(t, int32(0), g.TipHeight())
	require.Equal(t, anchor.BlockHash(), g.TipHash())

	h1 := childHeader(anchor, t)
	result, err := g.Extend(h1)
	require.NoError(t, err)
	require.False(t, result.CausedReorg)
	require.Equal(t, int32(1), result.Height)
	require.Equal(t, int32(1), g.TipHeight())

	h2 := childHeader(h1, t)
	result, err = g.Extend(h2)
	require.NoError(t, err)
	require.Equal(t, int32(2), result.Height)
	require.Equal(t, h2.BlockHash(), g.TipHash())
}

func TestGraphExtendUnknownParentFails(t *testing.T) {
	anchor := regtestAnchor(t)
	g := NewGraph(0, anchor)

	orphan := mineHeader(t, wire.BlockHeader{
		Version:   1,
		PrevBlock: chainhash.Hash{0xff},
		Timestamp: anchor.Timestamp.Add(10 * time.Minute),
		Bits:      chaincfg.RegressionNetParams.PowLimitBits,
	})

	_, err := g.Extend(orphan)
	require.ErrorIs(t, err, ErrUnknownParent)
}

func TestGraphDuplicateExtendIsIdempotent(t *testing.T) {
	anchor := regtestAnchor(t)
	g := NewGraph(0, anchor)

	h1 := childHeader(anchor, t)
	first, err := g.Extend(h1)
	require.NoError(t, err)

	second, err := g.Extend(h1)
	require.NoError(t, err)
	require.Equal(t, first.Height, second.Height)
	require.Equal(t, int32(1), g.TipHeight())
}

func TestGraphReorgToHigherWorkBranch(t *testing.T) {
	anchor := regtestAnchor(t)
	g := NewGraph(0, anchor)

	a1 := childHeader(anchor, t)
	_, err := g.Extend(a1)
	require.NoError(t, err)
	a2 := childHeader(a1, t)
	_, err = g.Extend(a2)
	require.NoError(t, err)

	require.Equal(t, int32(2), g.TipHeight())
	require.Equal(t, a2.BlockHash(), g.TipHash())

	// A competing branch from the anchor that ends up one block deeper.
	b1 := childHeader(anchor, t)
	_, err = g.Extend(b1)
	require.NoError(t, err)
	b2 := childHeader(b1, t)
	_, err = g.Extend(b2)
	require.NoError(t, err)
	b3 := childHeader(b2, t)
	result, err := g.Extend(b3)
	require.NoError(t, err)

	require.True(t, result.CausedReorg)
	require.Equal(t, int32(0), result.ReorgFrom)
	require.Equal(t, int32(3), result.ReorgTo)
	require.Equal(t, b3.BlockHash(), g.TipHash())

	hdr, ok := g.HeaderByHeight(1)
	require.True(t, ok)
	require.Equal(t, b1.BlockHash(), hdr.BlockHash())
}

func TestGraphLocatorTerminatesAtAnchor(t *testing.T) {
	anchor := regtestAnchor(t)
	g := NewGraph(0, anchor)

	cur := anchor
	for i := 0; i < 5; i++ {
		cur = childHeader(cur, t)
		_, err := g.Extend(cur)
		require.NoError(t, err)
	}

	locator := g.Locator()
	require.NotEmpty(t, locator)
	require.Equal(t, g.TipHash(), locator[0])
	require.Equal(t, anchor.BlockHash(), locator[len(locator)-1])
}
