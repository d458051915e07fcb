package kyoto

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestFeeTrackerMedianEmpty(t *testing.T) {
	f := newFeeTracker()
	_, ok := f.median()
	require.False(t, ok)
}

func TestFeeTrackerMedianOfThree(t *testing.T) {
	f := newFeeTracker()
	f.observe("a", 1000)
	f.observe("b", 2000)
	f.observe("c", 3000)

	got, ok := f.median()
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(2000), got)
}

func TestFeeTrackerForgetRemovesSession(t *testing.T) {
	f := newFeeTracker()
	f.observe("a", 1000)
	f.observe("b", 5000)
	f.forget("b")

	got, ok := f.median()
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(1000), got)
}

func TestFeeTrackerObserveOverwritesPreviousValue(t *testing.T) {
	f := newFeeTracker()
	f.observe("a", 1000)
	f.observe("a", 4000)

	got, ok := f.median()
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(4000), got)
}
