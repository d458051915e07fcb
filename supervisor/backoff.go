package supervisor

import (
	"sync"
	"time"
)

// maxBackoff is the ceiling spec §4.5 names for per-address reconnection
// backoff.
const maxBackoff = time.Hour

// initialBackoff is the delay applied after a single failed attempt; it
// doubles on every consecutive failure up to maxBackoff.
const initialBackoff = 5 * time.Second

// backoffTracker remembers, per dialed address, how many consecutive
// failures have occurred and when the address becomes eligible again.
// It is the supervisor's own exponential-backoff layer, deliberately
// separate from connmgr's built-in linear retry (which is scoped to
// Permanent connection requests and caps at five minutes): spec §4.5
// wants an address-keyed exponential backoff capped at an hour, applied
// regardless of whether the request happens to be permanent.
type backoffTracker struct {
	mu      sync.Mutex
	fails   map[string]int
	nextOK  map[string]time.Time
	timeout map[string]int
}

func newBackoffTracker() *backoffTracker {
	return &backoffTracker{
		fails:   make(map[string]int),
		nextOK:  make(map[string]time.Time),
		timeout: make(map[string]int),
	}
}

// Eligible reports whether addr's backoff window has elapsed.
func (b *backoffTracker) Eligible(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.nextOK[addr]
	return !ok || !time.Now().Before(until)
}

// RecordFailure increments addr's failure streak and schedules its next
// eligible dial time using doubling backoff capped at maxBackoff.
func (b *backoffTracker) RecordFailure(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails[addr]++
	delay := initialBackoff << uint(minInt(b.fails[addr]-1, 16))
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	b.nextOK[addr] = time.Now().Add(delay)
}

// RecordSuccess clears addr's failure streak after a successful handshake.
func (b *backoffTracker) RecordSuccess(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.fails, addr)
	delete(b.nextOK, addr)
	delete(b.timeout, addr)
}

// maxTimeoutViolations is how many request-timeout drains an address may
// accumulate before the supervisor treats it as a ban-worthy pattern
// rather than ordinary network flakiness (spec §4.5: "repeatedly violates
// timeouts").
const maxTimeoutViolations = 3

// RecordTimeoutViolation records one request-timeout disconnect for addr
// and reports whether this address has now crossed the ban threshold.
func (b *backoffTracker) RecordTimeoutViolation(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeout[addr]++
	return b.timeout[addr] >= maxTimeoutViolations
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
