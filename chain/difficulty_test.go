package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testParams is a small synthetic network with a two-block retarget window,
// independent of whatever real chaincfg.RegressionNetParams happens to be
// tuned to, so the window-boundary arithmetic is exercised deterministically
// and quickly.
func testParams() *chaincfg.Params {
	powLimit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	return &chaincfg.Params{
		PowLimit:                 powLimit,
		PowLimitBits:             blockchain.BigToCompact(powLimit),
		TargetTimespan:           20 * time.Minute,
		TargetTimePerBlock:       10 * time.Minute,
		RetargetAdjustmentFactor: 4,
		ReduceMinDifficulty:      false,
	}
}

func easyHeader(t *testing.T, prev wire.BlockHeader, bits uint32, ts time.Time) wire.BlockHeader {
	return mineHeader(t, wire.BlockHeader{
		Version:   1,
		PrevBlock: prev.BlockHash(),
		Timestamp: ts,
		Bits:      bits,
	})
}

func TestValidatorNonRetargetHeightKeepsParentBits(t *testing.T) {
	params := testParams()
	v := NewValidator(params)
	require.Equal(t, int32(2), v.blocksPerRetarget)

	anchor := mineHeader(t, wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1_600_000_000, 0),
		Bits:      params.PowLimitBits,
	})
	g := NewGraph(0, anchor)

	parentID, ok := g.nodeByHash(anchor.BlockHash())
	require.True(t, ok)

	required, err := v.RequiredBits(g, parentID, anchor.Timestamp.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, params.PowLimitBits, required)
}

func TestValidatorRetargetNarrowsTargetWhenBlocksCameFast(t *testing.T) {
	params := testParams()
	v := NewValidator(params)

	anchor := mineHeader(t, wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1_600_000_000, 0),
		Bits:      params.PowLimitBits,
	})
	g := NewGraph(0, anchor)

	// Two blocks mined back-to-back, far faster than the 20-minute
	// timespan the window targets: the next retarget should tighten
	// (lower) the target, i.e. raise required bits' implied difficulty.
	h1 := easyHeader(t, anchor, params.PowLimitBits, anchor.Timestamp.Add(time.Minute))
	_, err := g.Extend(h1)
	require.NoError(t, err)
	h2 := easyHeader(t, h1, params.PowLimitBits, h1.Timestamp.Add(time.Minute))
	_, err = g.Extend(h2)
	require.NoError(t, err)

	// With h1 as parent the next header sits at height 2, a retarget
	// height, and the window h0..h1 took one minute.
	parentID, ok := g.nodeByHash(h1.BlockHash())
	require.True(t, ok)

	required, err := v.RequiredBits(g, parentID, h1.Timestamp.Add(time.Minute))
	require.NoError(t, err)

	newTarget := blockchain.CompactToBig(required)
	require.Equal(t, -1, newTarget.Cmp(params.PowLimit))
}

func TestValidatorRejectsWrongBits(t *testing.T) {
	params := testParams()
	v := NewValidator(params)

	anchor := mineHeader(t, wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1_600_000_000, 0),
		Bits:      params.PowLimitBits,
	})
	g := NewGraph(0, anchor)
	parentID, ok := g.nodeByHash(anchor.BlockHash())
	require.True(t, ok)

	wrong := mineHeader(t, wire.BlockHeader{
		Version:   1,
		PrevBlock: anchor.BlockHash(),
		Timestamp: anchor.Timestamp.Add(10 * time.Minute),
		Bits:      params.PowLimitBits - 1,
	})

	err := v.Validate(g, parentID, wrong)
	require.ErrorIs(t, err, ErrDifficultyOutOfBounds)
}
