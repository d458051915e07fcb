package peer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kyoto-spv/kyoto/ticker"
)

// pingManager sends a keepalive ping on every tick of the configured
// interval; outbound traffic does not postpone the next ping, so pings go
// out on a busy session too. It is driven by the ticker package's resumable
// Ticker, the same
// idle-detection building block the teacher uses for link-level keepalives.
type pingManager struct {
	tk   ticker.Ticker
	done chan struct{}

	mu          sync.Mutex
	lastSent    time.Time
	outstanding bool
	nonce       uint64
}

func newPingManager(interval time.Duration) *pingManager {
	return &pingManager{tk: ticker.New(interval), done: make(chan struct{})}
}

// Start begins the ticker. send is called on each tick; the caller is expected
// to write a ping message using the returned nonce.
func (p *pingManager) start(send func(nonce uint64)) {
	p.tk.Resume()
	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-p.tk.Ticks():
				p.mu.Lock()
				p.nonce = rand.Uint64()
				nonce := p.nonce
				p.outstanding = true
				p.lastSent = time.Now()
				p.mu.Unlock()

				send(nonce)
			}
		}
	}()
}

// resetIdle is called whenever any outbound message is written. It pauses
// and resumes the ticker, which does not restart the tick interval.
func (p *pingManager) resetIdle() {
	p.tk.Pause()
	p.tk.Resume()
}

// onPong reports whether nonce matches the most recently sent ping,
// clearing the outstanding flag if so.
func (p *pingManager) onPong(nonce uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.outstanding || nonce != p.nonce {
		return false
	}
	p.outstanding = false
	return true
}

func (p *pingManager) stop() {
	close(p.done)
	p.tk.Stop()
}
