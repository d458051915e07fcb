package chain

import (
	"errors"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// ErrDifficultyOutOfBounds is returned when a header's declared target does
// not match what the network's difficulty-adjustment rule requires at its
// height.
var ErrDifficultyOutOfBounds = errors.New("chain: header's target is outside the network's required difficulty bounds")

// Validator checks a candidate header's declared difficulty against the
// network's retarget rule, independently of Graph's structural PoW check.
// It needs enough chain history to find the previous retarget boundary,
// which Graph already holds.
type Validator struct {
	params           *chaincfg.Params
	blocksPerRetarget int32
	minRetarget       int64
	maxRetarget       int64
}

// NewValidator builds a Validator for params.
func NewValidator(params *chaincfg.Params) *Validator {
	blocksPerRetarget := int32(params.TargetTimespan / params.TargetTimePerBlock)
	targetTimespan := int64(params.TargetTimespan / time.Second)

	return &Validator{
		params:            params,
		blocksPerRetarget: blocksPerRetarget,
		minRetarget:       targetTimespan / params.RetargetAdjustmentFactor,
		maxRetarget:       targetTimespan * params.RetargetAdjustmentFactor,
	}
}

// RequiredBits returns the difficulty bits a header extending parent (by
// node id, not necessarily on the current best chain) with timestamp
// newBlockTime must declare. Using parent's own id rather than a height
// lookup keeps this correct for a header extending a branch that hasn't
// (yet) overtaken the best chain, since a reorg candidate is validated
// header-by-header before the graph knows whether it will win.
func (v *Validator) RequiredBits(g *Graph, parent headerID,
	newBlockTime time.Time) (uint32, error) {

	parentHeader, parentHeight := g.headerAndHeight(parent)

	nextHeight := parentHeight + 1
	if nextHeight%v.blocksPerRetarget != 0 {
		if v.params.ReduceMinDifficulty {
			reduceAfter := parentHeader.Timestamp.Add(
				v.params.MinDiffReductionTime,
			)
			if newBlockTime.After(reduceAfter) {
				return v.params.PowLimitBits, nil
			}
			return v.findPrevNonReducedBits(g, parent, parentHeight)
		}
		return parentHeader.Bits, nil
	}

	firstHeight := nextHeight - v.blocksPerRetarget
	first, ok := g.ancestorAt(parent, firstHeight)
	if !ok {
		return 0, errors.New("chain: retarget window start not found in graph")
	}

	actualTimespan := parentHeader.Timestamp.Unix() - first.Timestamp.Unix()
	adjusted := actualTimespan
	if adjusted < v.minRetarget {
		adjusted = v.minRetarget
	} else if adjusted > v.maxRetarget {
		adjusted = v.maxRetarget
	}

	oldTarget := blockchain.CompactToBig(parentHeader.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(adjusted))
	newTarget.Div(newTarget, big.NewInt(int64(v.params.TargetTimespan/time.Second)))

	if newTarget.Cmp(v.params.PowLimit) > 0 {
		newTarget.Set(v.params.PowLimit)
	}

	return blockchain.BigToCompact(newTarget), nil
}

// findPrevNonReducedBits searches backwards along parent's own branch for
// the last header that didn't have the testnet-style minimum-difficulty
// exception applied, per the same rule bitcoind and btcd use for finding
// the "real" running difficulty on networks with ReduceMinDifficulty.
func (v *Validator) findPrevNonReducedBits(g *Graph, parent headerID, fromHeight int32) (uint32, error) {
	height := fromHeight
	for height%v.blocksPerRetarget != 0 {
		hdr, ok := g.ancestorAt(parent, height)
		if !ok {
			break
		}
		if hdr.Bits != v.params.PowLimitBits {
			return hdr.Bits, nil
		}
		height--
	}

	hdr, ok := g.ancestorAt(parent, height)
	if !ok {
		return v.params.PowLimitBits, nil
	}
	return hdr.Bits, nil
}

// Validate checks that header's declared bits match what RequiredBits
// computes for a header extending parent.
func (v *Validator) Validate(g *Graph, parent headerID,
	header wire.BlockHeader) error {

	required, err := v.RequiredBits(g, parent, header.Timestamp)
	if err != nil {
		return err
	}
	if header.Bits != required {
		return ErrDifficultyOutOfBounds
	}
	return nil
}
