package kyoto

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

// broadcastRetries is spec §4.7's "rotate to a new random peer up to three
// retries before surfacing failure".
const broadcastRetries = 3

// broadcastGetDataTimeout is spec §4.7's "on getdata(tx) reply within 2s".
const broadcastGetDataTimeout = 2 * time.Second

type broadcastSignal struct {
	fetched      bool
	rejected     bool
	rejectReason string
}

// broadcastRegistry correlates inbound getdata/reject traffic observed on
// a gossip session's demux loop with the broadcast call waiting on it.
// Keyed by sessionID plus the transaction hash, since the same tx could in
// principle be mid-broadcast against more than one candidate peer only
// sequentially (Broadcast retries one peer at a time), but the key still
// disambiguates defensively.
type broadcastRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan broadcastSignal
}

func newBroadcastRegistry() *broadcastRegistry {
	return &broadcastRegistry{waiters: make(map[string]chan broadcastSignal)}
}

func waiterKey(sessionID string, hash chainhash.Hash) string {
	return sessionID + ":" + hash.String()
}

func (r *broadcastRegistry) register(sessionID string, hash chainhash.Hash) chan broadcastSignal {
	ch := make(chan broadcastSignal, 1)
	r.mu.Lock()
	r.waiters[waiterKey(sessionID, hash)] = ch
	r.mu.Unlock()
	return ch
}

func (r *broadcastRegistry) unregister(sessionID string, hash chainhash.Hash) {
	r.mu.Lock()
	delete(r.waiters, waiterKey(sessionID, hash))
	r.mu.Unlock()
}

// notifyGetData is called from a session's demux loop when a getdata for
// hash arrives from sessionID.
func (r *broadcastRegistry) notifyGetData(sessionID string, hash chainhash.Hash) {
	r.mu.Lock()
	ch, ok := r.waiters[waiterKey(sessionID, hash)]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- broadcastSignal{fetched: true}:
		default:
		}
	}
}

// notifyReject is called from a session's demux loop when a reject for a
// tx hash arrives from sessionID.
func (r *broadcastRegistry) notifyReject(sessionID string, hash chainhash.Hash, reason string) {
	r.mu.Lock()
	ch, ok := r.waiters[waiterKey(sessionID, hash)]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- broadcastSignal{rejected: true, rejectReason: reason}:
		default:
		}
	}
}

// broadcast implements spec §4.7's transaction relay policy: pick a random
// gossip peer (never configured/seeded), send inv(tx), and on a getdata
// reply within the timeout send the tx itself; otherwise rotate to a new
// random peer up to broadcastRetries times before surfacing failure.
func (n *Node) broadcast(ctx context.Context, tx *btcwire.MsgTx) (BroadcastOutcome, error) {
	hash := tx.TxHash()
	tried := make(map[string]bool)

	for attempt := 0; attempt <= broadcastRetries; attempt++ {
		sess, err := n.super.RandomGossipPeer(n.rng())
		if err != nil {
			return BroadcastOutcome{Status: BroadcastNoPeerFetched}, nil
		}

		id := sessionID(sess)
		if tried[id] {
			continue
		}
		tried[id] = true

		ch := n.broadcasts.register(id, hash)

		inv := btcwire.NewMsgInv()
		_ = inv.AddInvVect(btcwire.NewInvVect(btcwire.InvTypeTx, &hash))
		if err := sess.Send(inv); err != nil {
			n.broadcasts.unregister(id, hash)
			continue
		}

		select {
		case sig := <-ch:
			n.broadcasts.unregister(id, hash)
			if sig.rejected {
				return BroadcastOutcome{
					Status:       BroadcastRejected,
					RejectReason: sig.rejectReason,
				}, nil
			}
			if err := sess.Send(tx); err != nil {
				continue
			}
			return BroadcastOutcome{Status: BroadcastAccepted}, nil

		case <-time.After(broadcastGetDataTimeout):
			n.broadcasts.unregister(id, hash)
			continue

		case <-ctx.Done():
			n.broadcasts.unregister(id, hash)
			return BroadcastOutcome{}, ctx.Err()
		}
	}

	return BroadcastOutcome{Status: BroadcastNoPeerFetched}, nil
}
