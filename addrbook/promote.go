package addrbook

import (
	"errors"

	"github.com/btcsuite/btcd/wire"
)

// ErrUnknownAddress is returned when a caller references an address the
// book has never seen.
var ErrUnknownAddress = errors.New("addrbook: address not known to book")

// Promote attempts to move addr from the new table into tried following a
// successful handshake and first useful response (spec §4.4). If addr's
// tried slot is free, the promotion completes immediately and incumbent is
// nil. If the slot is occupied by a different address, Promote leaves both
// addresses exactly where they are and returns that address as incumbent:
// the caller (the connection supervisor) must feeler-test it and report the
// outcome through ResolveFeeler before either address moves.
func (b *Book) Promote(addr wire.NetAddress) (incumbent *wire.NetAddress, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byKey[net2string(addr)]
	if !ok {
		return nil, ErrUnknownAddress
	}
	if e.table == Tried {
		return nil, nil
	}

	bucket := b.triedBucket(addr)
	slot := b.slot("tried", bucket, addr)

	if b.tried[bucket] == nil {
		b.tried[bucket] = make([]string, bucketSize)
	}

	occupant := b.tried[bucket][slot]
	if occupant == "" {
		b.promoteLocked(e, bucket, slot)
		return nil, nil
	}
	if occupant == e.rec.key() {
		return nil, nil
	}

	occupantEntry, ok := b.byKey[occupant]
	if !ok {
		// Stale reference; treat the slot as free.
		b.promoteLocked(e, bucket, slot)
		return nil, nil
	}

	addrCopy := occupantEntry.rec.Addr
	return &addrCopy, nil
}

func (b *Book) promoteLocked(e *entry, bucket, slot int) {
	// Remove from whichever new bucket currently holds it.
	nb := b.newBucket(e.rec.Addr, e.rec.Source)
	ns := b.slot("new", nb, e.rec.Addr)
	if b.new[nb] != nil && b.new[nb][ns] == e.rec.key() {
		b.new[nb][ns] = ""
	}

	b.tried[bucket][slot] = e.rec.key()
	e.table = Tried
}

// ResolveFeeler reports the outcome of a feeler connection dialed against
// incumbent to decide a tried-slot conflict raised by Promote. If the
// feeler succeeded, the incumbent is confirmed reachable and the challenger
// is dropped (it remains in the new table, unpromoted). If the feeler
// failed, the incumbent is demoted to new and the challenger takes its
// tried slot.
func (b *Book) ResolveFeeler(challenger, incumbent wire.NetAddress, feelerSucceeded bool) error {
	if feelerSucceeded {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ie, ok := b.byKey[net2string(incumbent)]
	if !ok || ie.table != Tried {
		return ErrUnknownAddress
	}
	bucket := b.triedBucket(incumbent)
	slot := b.slot("tried", bucket, incumbent)

	// Evict the incumbent from tried and push it back into new, which may
	// itself collide and evict whatever currently sits there.
	b.tried[bucket][slot] = ""
	ie.table = New
	b.insertNew(ie.rec)

	ce, ok := b.byKey[net2string(challenger)]
	if !ok {
		return ErrUnknownAddress
	}
	b.promoteLocked(ce, bucket, slot)

	return nil
}
