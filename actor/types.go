package actor

import (
	"context"
	"errors"

	"github.com/kyoto-spv/kyoto/fn"
)

// Message is the interface every value sent through an actor's mailbox must
// satisfy. MessageType exists so dead-letter handling and logging can name a
// message without resorting to reflection.
type Message interface {
	MessageType() string
}

// BaseMessage is embedded by concrete message types as a hook for shared
// fields (trace IDs, timestamps) without forcing every message to redeclare
// them. It carries no behavior of its own.
type BaseMessage struct{}

// ErrActorTerminated is returned to a caller of Ask (or routed to the DLO on
// Tell) once the target actor's context has been cancelled.
var ErrActorTerminated = errors.New("actor: terminated")

// ActorBehavior defines how an actor reacts to a message of type M, producing
// a result of type R. Receive runs on the actor's own goroutine, so it must
// not block on anything other than the actor's own context.
type ActorBehavior[M Message, R any] interface {
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// FunctionBehavior adapts a plain function into an ActorBehavior, for actors
// whose logic doesn't need any state beyond what the closure captures.
type FunctionBehavior[M Message, R any] struct {
	fn func(ctx context.Context, msg M) fn.Result[R]
}

// NewFunctionBehavior wraps f as an ActorBehavior.
func NewFunctionBehavior[M Message, R any](
	fn func(ctx context.Context, msg M) fn.Result[R]) *FunctionBehavior[M, R] {

	return &FunctionBehavior[M, R]{fn: fn}
}

// Receive implements ActorBehavior.
func (f *FunctionBehavior[M, R]) Receive(ctx context.Context,
	msg M) fn.Result[R] {

	return f.fn(ctx, msg)
}

// TellOnlyRef exposes only the fire-and-forget half of ActorRef. Handing out
// a TellOnlyRef instead of a full ActorRef lets a caller restrict what its
// collaborators can do with a reference, without a runtime check.
type TellOnlyRef[M Message] interface {
	Tell(ctx context.Context, msg M)
	ID() string
}

// ActorRef is how every caller, including other actors, addresses an actor.
// It hides whether the target is a single Actor, a Router fronting several,
// or a transformed view of one of those.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]
	Ask(ctx context.Context, msg M) Future[R]
}
