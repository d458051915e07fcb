package addrbook

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrEmpty is returned by Select when neither table has a usable candidate,
// signaling the caller to perform DNS seed resolution (spec §4.4 rule 4).
var ErrEmpty = errors.New("addrbook: no candidate address available")

// maxRejectionAttempts bounds the rejection-sampling loop in Select so a
// book full of stale addresses cannot spin forever; when the draws run out
// (this many, or four per candidate if that is fewer) without an
// acceptance, the highest-weight candidate drawn is returned.
const maxRejectionAttempts = 32

// ageWeight implements spec §4.4's selection bias: newer addresses are
// drawn with probability proportional to 1.2^(-age_days), floored at 0.01
// so very old addresses are still reachable, just unlikely.
func ageWeight(age time.Duration) float64 {
	days := age.Hours() / 24
	w := math.Pow(1.2, -days)
	if w < 0.01 {
		return 0.01
	}
	return w
}

// Select draws one outbound dial candidate, implementing spec §4.4 rules
// 2-3: a coin flip between tried and new (falling back to whichever table
// is non-empty), rejection sampling weighted toward fresher last_seen
// times, and exclusion of any address sharing a network group with
// excludeGroups (the groups already in flight as simultaneous candidates).
func (b *Book) Select(rng *rand.Rand, excludeGroups map[string]bool) (*PeerRecord, TableKind, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tryTried := rng.Float64() < 0.5

	if rec, ok := b.selectFromLocked(Tried, rng, excludeGroups); ok && tryTried {
		return rec, Tried, nil
	}
	if rec, ok := b.selectFromLocked(New, rng, excludeGroups); ok {
		return rec, New, nil
	}
	if rec, ok := b.selectFromLocked(Tried, rng, excludeGroups); ok {
		return rec, Tried, nil
	}

	return nil, 0, ErrEmpty
}

func (b *Book) selectFromLocked(table TableKind, rng *rand.Rand,
	excludeGroups map[string]bool) (*PeerRecord, bool) {

	candidates := b.candidateKeysLocked(table)
	if len(candidates) == 0 {
		return nil, false
	}

	now := time.Now()
	var best *PeerRecord
	var bestWeight float64 = -1

	for attempt := 0; attempt < maxRejectionAttempts && attempt < len(candidates)*4; attempt++ {
		k := candidates[rng.Intn(len(candidates))]
		e, ok := b.byKey[k]
		if !ok {
			continue
		}
		if excludeGroups != nil && excludeGroups[groupKey(e.rec.Addr.IP)] {
			continue
		}

		age := now.Sub(e.rec.LastSeen)
		w := ageWeight(age)
		if w > bestWeight {
			rec := e.rec
			best = &rec
			bestWeight = w
		}

		if rng.Float64() < w {
			rec := e.rec
			return &rec, true
		}
	}

	return best, best != nil
}

func (b *Book) candidateKeysLocked(table TableKind) []string {
	keys := make([]string, 0)
	for k, e := range b.byKey {
		if e.table == table {
			keys = append(keys, k)
		}
	}
	return keys
}
