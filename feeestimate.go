package kyoto

import (
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
)

// feeTracker aggregates the minimum relay fee every connected peer last
// advertised via feefilter (spec §7's supplemented fee estimation: a
// median of what peers already broadcast, not a mempool-driven
// estimator).
type feeTracker struct {
	mu   sync.Mutex
	byID map[string]btcutil.Amount
}

func newFeeTracker() *feeTracker {
	return &feeTracker{byID: make(map[string]btcutil.Amount)}
}

func (f *feeTracker) observe(sessionID string, minFee int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[sessionID] = btcutil.Amount(minFee)
}

func (f *feeTracker) forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, sessionID)
}

// median returns the median of every tracked session's last-seen
// feefilter value, or false if no peer has sent one yet.
func (f *feeTracker) median() (btcutil.Amount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.byID) == 0 {
		return 0, false
	}

	vals := make([]btcutil.Amount, 0, len(f.byID))
	for _, v := range f.byID {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	return vals[len(vals)/2], true
}
