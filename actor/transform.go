package actor

import "context"

// mapInputRef adapts a TellOnlyRef[B] into a TellOnlyRef[A] by running every
// incoming A through f before forwarding it. It lets a producer of A send
// directly into an actor that only understands B, without either side
// knowing about the other's message type.
type mapInputRef[A, B Message] struct {
	target TellOnlyRef[B]
	f      func(A) B
}

// NewMapInputRef builds a TellOnlyRef[A] that forwards to target after
// transforming each message with f.
func NewMapInputRef[A, B Message](target TellOnlyRef[B],
	f func(A) B) TellOnlyRef[A] {

	return &mapInputRef[A, B]{target: target, f: f}
}

// Tell implements TellOnlyRef.
func (r *mapInputRef[A, B]) Tell(ctx context.Context, msg A) {
	r.target.Tell(ctx, r.f(msg))
}

// ID implements TellOnlyRef, prefixed so the transformed reference is
// distinguishable from the underlying actor's own ID in logs.
func (r *mapInputRef[A, B]) ID() string {
	return "map-input-" + r.target.ID()
}
