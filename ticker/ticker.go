package ticker

import (
	"sync/atomic"
	"time"
)

// Ticker defines a resumable ticker that can be paused and resumed at will,
// in contrast to the standard library's time.Ticker which runs continuously
// from the moment it is created.
type Ticker interface {
	// Ticks returns a receive-only channel that delivers times at the
	// ticker's prescribed interval, when active.
	Ticks() <-chan time.Time

	// Resume starts the underlying ticker, causing it to begin
	// delivering scheduled events.
	Resume()

	// Pause suspends the underlying ticker, such that Ticks() stops
	// signaling at regular intervals.
	Pause()

	// Stop suspends the underlying ticker and frees up any resources
	// associated with it. It is not safe to call any method on the
	// ticker after calling Stop.
	Stop()
}

// Default is a Ticker that wraps a time.Ticker, gating delivery on the
// Ticks() channel behind an active/paused flag so that a caller may
// suspend keepalive or GC sweeps without tearing down the underlying timer.
type Default struct {
	isActive uint32 // used atomically

	ticker *time.Ticker
	ticks  chan time.Time
	skip   chan struct{}
	quit   chan struct{}
}

// New returns a Default Ticker that fires every interval once Resume is
// called.
func New(interval time.Duration) *Default {
	t := &Default{
		ticker: time.NewTicker(interval),
		ticks:  make(chan time.Time),
		skip:   make(chan struct{}),
		quit:   make(chan struct{}),
	}

	go t.proxy()

	return t
}

// proxy forwards ticks from the underlying time.Ticker to the exported
// Ticks() channel only while the ticker is active.
func (t *Default) proxy() {
	for {
		select {
		case tm := <-t.ticker.C:
			if atomic.LoadUint32(&t.isActive) == 0 {
				continue
			}

			select {
			case t.ticks <- tm:
			case <-t.skip:
			case <-t.quit:
				return
			}

		case <-t.quit:
			return
		}
	}
}

// Ticks returns the receive-only channel on which ticks are delivered while
// the ticker is active.
//
// NOTE: Part of the Ticker interface.
func (t *Default) Ticks() <-chan time.Time {
	return t.ticks
}

// Resume causes the ticker to begin delivering ticks.
//
// NOTE: Part of the Ticker interface.
func (t *Default) Resume() {
	atomic.StoreUint32(&t.isActive, 1)
}

// Pause suspends delivery of ticks without stopping the underlying timer.
//
// NOTE: Part of the Ticker interface.
func (t *Default) Pause() {
	atomic.StoreUint32(&t.isActive, 0)

	select {
	case t.skip <- struct{}{}:
	default:
	}
}

// Stop pauses the ticker and releases its resources. The ticker must not be
// used after Stop returns.
//
// NOTE: Part of the Ticker interface.
func (t *Default) Stop() {
	t.Pause()
	t.ticker.Stop()
	close(t.quit)
}
