package actor

import (
	"context"
	"sync"

	"github.com/kyoto-spv/kyoto/fn"
)

// ActorConfig parameterizes NewActor. M is the message type an actor
// accepts; R is the response type an Ask against it resolves to.
type ActorConfig[M Message, R any] struct {
	// ID names the actor for logging and receptionist registration.
	ID string

	// Behavior is invoked once per message, sequentially, from the
	// actor's own goroutine.
	Behavior ActorBehavior[M, R]

	// DLO, if set, receives messages that can't be delivered: sent
	// after the actor has stopped, or left in the mailbox when it
	// drains on shutdown.
	DLO ActorRef[Message, any]

	// MailboxSize bounds how many messages can be queued ahead of
	// processing before Tell/Ask start blocking on the send.
	MailboxSize int
}

// envelope pairs a message with the promise an Ask caller is waiting on.
// A nil promise marks a Tell: fire-and-forget, nothing to complete.
type envelope[M Message, R any] struct {
	msg     M
	promise Promise[R]
}

// Actor runs a Behavior against messages pulled one at a time off its own
// mailbox, in its own goroutine, so the behavior itself never needs its own
// synchronization.
type Actor[M Message, R any] struct {
	id       string
	behavior ActorBehavior[M, R]
	inbox    chan envelope[M, R]
	dlo      ActorRef[Message, any]

	ctx    context.Context
	cancel context.CancelFunc

	started sync.Once
	stopped sync.Once

	self ActorRef[M, R]
}

// NewActor builds an actor from cfg. The actor does nothing until Start is
// called.
func NewActor[M Message, R any](cfg ActorConfig[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	capacity := cfg.MailboxSize
	if capacity <= 0 {
		capacity = 1
	}

	a := &Actor[M, R]{
		id:       cfg.ID,
		behavior: cfg.Behavior,
		inbox:    make(chan envelope[M, R], capacity),
		dlo:      cfg.DLO,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.self = &localRef[M, R]{actor: a}

	return a
}

// Start launches the actor's processing loop. Calling it more than once has
// no additional effect.
func (a *Actor[M, R]) Start() {
	a.started.Do(func() {
		go a.run()
	})
}

// run is the actor's single-goroutine event loop: apply the behavior to
// each inbox message until the actor's context is cancelled, then drain
// whatever is left so no envelope is silently forgotten.
func (a *Actor[M, R]) run() {
	for {
		select {
		case env := <-a.inbox:
			result := a.behavior.Receive(a.ctx, env.msg)
			if env.promise != nil {
				env.promise.Complete(result)
			}

		case <-a.ctx.Done():
			close(a.inbox)
			for env := range a.inbox {
				if a.dlo != nil {
					a.dlo.Tell(context.Background(), env.msg)
				}
				if env.promise != nil {
					env.promise.Complete(fn.Err[R](ErrActorTerminated))
				}
			}
			return
		}
	}
}

// Stop cancels the actor's context, causing run to drain the inbox and
// exit. Idempotent.
func (a *Actor[M, R]) Stop() {
	a.stopped.Do(a.cancel)
}

// Ref returns the ActorRef other components use to Tell or Ask this actor.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.self
}

// TellRef narrows Ref to a fire-and-forget-only view, for callers that
// should never be handed the ability to Ask.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.self
}

// localRef is the ActorRef handed out for an in-process Actor.
type localRef[M Message, R any] struct {
	actor *Actor[M, R]
}

// Tell enqueues msg without waiting for a result. If ctx is cancelled
// before the enqueue happens, or the actor has already stopped and carries
// no DLO, the message is dropped.
func (ref *localRef[M, R]) Tell(ctx context.Context, msg M) {
	if ref.actor.ctx.Err() != nil {
		ref.deadLetter(msg)
		return
	}

	select {
	case ref.actor.inbox <- envelope[M, R]{msg: msg}:
	case <-ctx.Done():
	case <-ref.actor.ctx.Done():
		ref.deadLetter(msg)
	}
}

// Ask enqueues msg along with a promise and returns the Future the caller
// awaits for the actor's response.
func (ref *localRef[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	promise := NewPromise[R]()

	if ref.actor.ctx.Err() != nil {
		promise.Complete(fn.Err[R](ErrActorTerminated))
		return promise.Future()
	}

	select {
	case ref.actor.inbox <- envelope[M, R]{msg: msg, promise: promise}:
	case <-ctx.Done():
		promise.Complete(fn.Err[R](ctx.Err()))
	case <-ref.actor.ctx.Done():
		promise.Complete(fn.Err[R](ErrActorTerminated))
	}

	return promise.Future()
}

func (ref *localRef[M, R]) deadLetter(msg M) {
	if ref.actor.dlo != nil {
		ref.actor.dlo.Tell(context.Background(), msg)
	}
}

// ID returns the actor's configured ID.
func (ref *localRef[M, R]) ID() string {
	return ref.actor.id
}
