package kyoto

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	btcwire "github.com/btcsuite/btcd/wire"
)

// Client is the handle embedders use to drive a running Node: extend the
// watchlist, broadcast transactions, and consume the progress stream (spec
// §4.7). It has no state of its own beyond the Node it wraps.
type Client struct {
	node *Node
}

// AddScript watches script for matches from sinceHeight onward.
func (c *Client) AddScript(script []byte, sinceHeight int32) {
	c.node.engine.AddScript(script, sinceHeight)
}

// AddScripts is a convenience wrapper over AddScript for a batch of entries.
func (c *Client) AddScripts(entries []WatchEntry) {
	for _, e := range entries {
		c.node.engine.AddScript(e.Script, e.SinceHeight)
	}
}

// Broadcast relays tx per spec §4.7's random-peer getdata-gated policy,
// retrying against a fresh peer on timeout up to broadcastRetries times.
func (c *Client) Broadcast(ctx context.Context, tx *btcwire.MsgTx) (BroadcastOutcome, error) {
	return c.node.broadcast(ctx, tx)
}

// Events returns the node's progress stream (spec §4.6).
func (c *Client) Events() <-chan Event {
	return c.node.engine.Events()
}

// NextEvent blocks for the next Event, or returns false if ctx is done
// first.
func (c *Client) NextEvent(ctx context.Context) (Event, bool) {
	select {
	case ev := <-c.node.engine.Events():
		return ev, true
	case <-ctx.Done():
		return nil, false
	}
}

// FeeEstimate returns the median minimum relay fee advertised by currently
// connected peers (spec §7's supplemented fee estimation), or false if no
// peer has sent a feefilter yet.
func (c *Client) FeeEstimate() (btcutil.Amount, bool) {
	return c.node.fees.median()
}

// Shutdown stops the supervisor and chain engine. Run's caller should
// still cancel the context passed to Run; Shutdown is for embedders that
// want to stop the node without tearing down their own context tree.
func (c *Client) Shutdown() {
	c.node.super.Stop()
	c.node.engine.Stop()
}
