package addrbook

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	newBucketCount   = 1024
	triedBucketCount = 256
	bucketSize       = 64
)

// TableKind distinguishes the book's two tables.
type TableKind uint8

const (
	// New holds addresses that have never completed a handshake.
	New TableKind = iota
	// Tried holds addresses that have completed at least one handshake.
	Tried
)

func (k TableKind) String() string {
	if k == Tried {
		return "tried"
	}
	return "new"
}

type entry struct {
	rec   PeerRecord
	table TableKind
}

// Book is Kyoto's eclipse-resistant peer address book: a bucketed new/tried
// table pair keyed by network group, in the style of Bitcoin Core's
// AddrMan, biased toward fresh addresses on selection and requiring a
// feeler connection to evict an established tried-table incumbent (spec
// §4.4).
type Book struct {
	mu sync.Mutex

	key [32]byte

	new   [newBucketCount][]string
	tried [triedBucketCount][]string

	byKey map[string]*entry

	store        PeerStore
	flushPeriod  time.Duration
	stopFlush    chan struct{}
	flushStopped chan struct{}
}

// New constructs an empty Book. store may be nil, in which case the book
// never persists across restarts. flushPeriod matches spec §6's default of
// ten minutes; zero disables the periodic flush (Close still performs one
// final flush if store is non-nil).
func New(store PeerStore, flushPeriod time.Duration) (*Book, error) {
	b := &Book{
		byKey:       make(map[string]*entry),
		store:       store,
		flushPeriod: flushPeriod,
	}
	if _, err := rand.Read(b.key[:]); err != nil {
		return nil, err
	}

	if store != nil {
		records, err := store.Load()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			b.insertNew(rec)
		}
	}

	if flushPeriod > 0 && store != nil {
		b.stopFlush = make(chan struct{})
		b.flushStopped = make(chan struct{})
		go b.flushLoop()
	}

	return b, nil
}

func (b *Book) flushLoop() {
	defer close(b.flushStopped)

	t := time.NewTicker(b.flushPeriod)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopFlush:
			return
		}
	}
}

// Close stops the periodic flush goroutine (if any) and performs one final
// flush to the underlying store, matching spec §6's "flushes happen at
// graceful shutdown and on a timer".
func (b *Book) Close() error {
	if b.stopFlush != nil {
		close(b.stopFlush)
		<-b.flushStopped
	}
	return b.Flush()
}

// Flush persists the book's current contents through the configured
// PeerStore. A nil store makes this a no-op.
func (b *Book) Flush() error {
	if b.store == nil {
		return nil
	}

	b.mu.Lock()
	records := make([]PeerRecord, 0, len(b.byKey))
	for _, e := range b.byKey {
		records = append(records, e.rec)
	}
	b.mu.Unlock()

	return b.store.Flush(records)
}

// newBucket deterministically maps addr/source to one of the new table's
// buckets, grounded on the teacher's addrmgr placement scheme: a
// double-SHA256 of the book's random key salts the group-derived input so
// two books never agree on placement, while a given book places the same
// (addr, source) pair identically every time (spec §4.4's testable
// property).
func (b *Book) newBucket(addr, source wire.NetAddress) int {
	addrGroup := groupKey(addr.IP)
	srcGroup := groupKey(source.IP)

	h1 := chainhash.DoubleHashB(append(append([]byte{}, b.key[:]...),
		[]byte(addrGroup+srcGroup)...))
	h2 := chainhash.DoubleHashB(append(append([]byte{}, b.key[:]...),
		append([]byte(srcGroup), h1[:4]...)...))

	return int(beUint32(h2)) % newBucketCount
}

func (b *Book) triedBucket(addr wire.NetAddress) int {
	addrGroup := groupKey(addr.IP)

	h1 := chainhash.DoubleHashB(append(append([]byte{}, b.key[:]...),
		[]byte(net2string(addr))...))
	h2 := chainhash.DoubleHashB(append(append([]byte{}, b.key[:]...),
		append([]byte(addrGroup), h1[:4]...)...))

	return int(beUint32(h2)) % triedBucketCount
}

func (b *Book) slot(bucketPrefix string, bucket int, addr wire.NetAddress) int {
	h := chainhash.DoubleHashB(append(append([]byte{}, b.key[:]...),
		[]byte(bucketPrefix+itoaInt(bucket)+net2string(addr))...))
	return int(beUint32(h)) % bucketSize
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func itoaInt(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// insertNew adds rec to the new table, replacing whatever address
// previously occupied its deterministic slot. Callers must hold b.mu,
// except during New's initial load where no other goroutine can race.
func (b *Book) insertNew(rec PeerRecord) {
	bucket := b.newBucket(rec.Addr, rec.Source)
	slot := b.slot("new", bucket, rec.Addr)

	if b.new[bucket] == nil {
		b.new[bucket] = make([]string, bucketSize)
	}

	k := rec.key()
	if evicted := b.new[bucket][slot]; evicted != "" && evicted != k {
		delete(b.byKey, evicted)
	}
	b.new[bucket][slot] = k
	b.byKey[k] = &entry{rec: rec, table: New}
}

// AddNew inserts or refreshes an address (from a gossip addr message, the
// configured peer list, or DNS seed resolution), placing it in the new table unless it
// already exists in tried. Apart from the records New loads from the
// PeerStore, this is the only path by which an address enters the book.
func (b *Book) AddNew(addr, source wire.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := net2string(addr)
	if e, ok := b.byKey[k]; ok {
		if e.table == Tried {
			return
		}
		e.rec.LastSeen = time.Now()
		return
	}

	b.insertNew(PeerRecord{Addr: addr, Source: source, LastSeen: time.Now()})
}

// MarkAttempt records a dial/handshake attempt against addr, for exponential
// backoff bookkeeping in the connection supervisor.
func (b *Book) MarkAttempt(addr wire.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.byKey[net2string(addr)]; ok {
		e.rec.LastTried = time.Now()
		e.rec.Attempts++
	}
}

// MarkGood resets the attempt counter for addr after a successful exchange,
// short of a full handshake (spec §4.5's "repeated timeout violations"
// demotion path needs a counter that a single good response clears).
func (b *Book) MarkGood(addr wire.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.byKey[net2string(addr)]; ok {
		e.rec.Attempts = 0
		e.rec.LastSeen = time.Now()
	}
}

// Demote moves addr from tried back into the new table, used both by the
// supervisor's banning path and by a lost feeler contest (spec §4.4, §4.5).
func (b *Book) Demote(addr wire.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byKey[net2string(addr)]
	if !ok || e.table != Tried {
		return
	}

	bucket := b.triedBucket(addr)
	slot := b.slot("tried", bucket, addr)
	if b.tried[bucket] != nil {
		b.tried[bucket][slot] = ""
	}

	e.table = New
	b.insertNew(e.rec)
}

// Len returns the number of addresses currently known, across both tables.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}
