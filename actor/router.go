package actor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kyoto-spv/kyoto/fn"
)

// ErrNoActorsAvailable is returned when a Router's service key has no
// actors currently registered with the receptionist.
var ErrNoActorsAvailable = errors.New("no actors available for service key")

// RoutingStrategy picks one actor out of a candidate set to receive the
// next message.
type RoutingStrategy[M Message, R any] interface {
	Select(candidates []ActorRef[M, R]) (ActorRef[M, R], error)
}

// RoundRobinStrategy cycles through candidates in order, wrapping around.
type RoundRobinStrategy[M Message, R any] struct {
	next uint64
}

// NewRoundRobinStrategy returns a strategy starting at the first candidate.
func NewRoundRobinStrategy[M Message, R any]() *RoundRobinStrategy[M, R] {
	return &RoundRobinStrategy[M, R]{}
}

// Select implements RoutingStrategy.
func (s *RoundRobinStrategy[M, R]) Select(candidates []ActorRef[M, R]) (ActorRef[M, R], error) {
	if len(candidates) == 0 {
		return nil, ErrNoActorsAvailable
	}

	idx := atomic.AddUint64(&s.next, 1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

// Router dispatches to whichever actor is currently registered under a
// ServiceKey, re-resolving the candidate set from a Receptionist on every
// call so actors can join or leave without the router being reconstructed.
type Router[M Message, R any] struct {
	receptionist *Receptionist
	key          ServiceKey[M, R]
	strategy     RoutingStrategy[M, R]
	dlo          ActorRef[Message, any]
}

// NewRouter builds a Router over the actors registered under key.
func NewRouter[M Message, R any](receptionist *Receptionist,
	key ServiceKey[M, R], strategy RoutingStrategy[M, R],
	dlo ActorRef[Message, any]) *Router[M, R] {

	return &Router[M, R]{
		receptionist: receptionist,
		key:          key,
		strategy:     strategy,
		dlo:          dlo,
	}
}

func (r *Router[M, R]) pick() (ActorRef[M, R], error) {
	candidates := FindInReceptionist(r.receptionist, r.key)
	if len(candidates) == 0 {
		return nil, ErrNoActorsAvailable
	}
	return r.strategy.Select(candidates)
}

// Tell forwards msg to whichever actor the strategy selects. If none are
// registered, the message goes to the DLO if one is configured, and is
// dropped otherwise — Tell never reports a selection failure to the caller.
func (r *Router[M, R]) Tell(ctx context.Context, msg M) {
	target, err := r.pick()
	if err != nil {
		if errors.Is(err, ErrNoActorsAvailable) && r.dlo != nil {
			r.dlo.Tell(context.Background(), msg)
		}
		return
	}

	target.Tell(ctx, msg)
}

// Ask forwards msg to whichever actor the strategy selects and returns its
// Future. If none are registered, the returned Future is already resolved
// to ErrNoActorsAvailable.
func (r *Router[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	target, err := r.pick()
	if err != nil {
		promise := NewPromise[R]()
		promise.Complete(fn.Err[R](err))
		return promise.Future()
	}

	return target.Ask(ctx, msg)
}

// ID identifies the router by the service key it dispatches for.
func (r *Router[M, R]) ID() string {
	return "router(" + r.key.name + ")"
}
