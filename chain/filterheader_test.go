package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestFilterHeaderChainExtendAdvancesCursor(t *testing.T) {
	anchorFH := hashFromByte(0x01)
	c := NewFilterHeaderChain(100, anchorFH)
	require.Equal(t, int32(100), c.Cursor())

	batch := Batch{
		StartHeight:  101,
		StartHeader:  anchorFH,
		FilterHashes: []chainhash.Hash{hashFromByte(0x02), hashFromByte(0x03)},
	}
	err := c.Extend(batch)
	require.NoError(t, err)
	require.Equal(t, int32(102), c.Cursor())

	hdr, ok := c.HeaderAt(102)
	require.True(t, ok)
	want := batch.Recompute()[1]
	require.Equal(t, want, hdr)
}

func TestFilterHeaderChainExtendRejectsMismatchedStart(t *testing.T) {
	c := NewFilterHeaderChain(100, hashFromByte(0x01))

	batch := Batch{
		StartHeight:  105,
		StartHeader:  hashFromByte(0x01),
		FilterHashes: []chainhash.Hash{hashFromByte(0x02)},
	}
	err := c.Extend(batch)
	require.Error(t, err)
}

func TestFilterHeaderChainExtendRejectsWrongStartHeader(t *testing.T) {
	c := NewFilterHeaderChain(100, hashFromByte(0x01))

	batch := Batch{
		StartHeight:  101,
		StartHeader:  hashFromByte(0xff), // doesn't match the accepted header at 100
		FilterHashes: []chainhash.Hash{hashFromByte(0x02)},
	}
	err := c.Extend(batch)
	require.ErrorIs(t, err, ErrFilterHeaderMismatch)
}

func TestFilterHeaderChainRewind(t *testing.T) {
	c := NewFilterHeaderChain(100, hashFromByte(0x01))
	batch := Batch{
		StartHeight:  101,
		StartHeader:  hashFromByte(0x01),
		FilterHashes: []chainhash.Hash{hashFromByte(0x02), hashFromByte(0x03), hashFromByte(0x04)},
	}
	require.NoError(t, c.Extend(batch))
	require.Equal(t, int32(103), c.Cursor())

	c.Rewind(101)
	require.Equal(t, int32(101), c.Cursor())
	_, ok := c.HeaderAt(102)
	require.False(t, ok)
}

func TestConflictSetResolveDetectsMinorityMismatch(t *testing.T) {
	s := NewConflictSet()

	agreeing := Batch{
		StartHeight:  1,
		StartHeader:  hashFromByte(0x00),
		FilterHashes: []chainhash.Hash{hashFromByte(0x10), hashFromByte(0x11)},
	}
	lying := Batch{
		StartHeight:  1,
		StartHeader:  hashFromByte(0x00),
		FilterHashes: []chainhash.Hash{hashFromByte(0x10), hashFromByte(0xEE)},
	}

	s.Add("peerA", agreeing)
	s.Add("peerB", agreeing)
	s.Add("peerC", lying)

	mismatchHeight, badPeers, ok := s.Resolve()
	require.True(t, ok)
	require.Equal(t, int32(2), mismatchHeight)
	require.Equal(t, []string{"peerC"}, badPeers)
}

func TestConflictSetResolveNoConflict(t *testing.T) {
	s := NewConflictSet()
	batch := Batch{
		StartHeight:  1,
		StartHeader:  hashFromByte(0x00),
		FilterHashes: []chainhash.Hash{hashFromByte(0x10)},
	}
	s.Add("peerA", batch)
	s.Add("peerB", batch)

	_, _, ok := s.Resolve()
	require.False(t, ok)
}
