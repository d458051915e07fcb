package actor

import "sync"

// ServiceKey names a family of actors that all implement the same
// ActorBehavior[M, R] contract, so a Router or a lookup by FindInReceptionist
// can treat any of them interchangeably.
type ServiceKey[M Message, R any] struct {
	name string
}

// NewServiceKey creates a ServiceKey identified by name. Two keys with the
// same name and the same M/R type parameters address the same family of
// actors in a Receptionist.
func NewServiceKey[M Message, R any](name string) ServiceKey[M, R] {
	return ServiceKey[M, R]{name: name}
}

// Name returns the key's identifying name.
func (k ServiceKey[M, R]) Name() string {
	return k.name
}

// Spawn creates a new actor running behavior, registers it with system's
// receptionist under this key, starts its processing loop, and returns its
// ActorRef.
func (k ServiceKey[M, R]) Spawn(system *ActorSystem, id string,
	behavior ActorBehavior[M, R]) ActorRef[M, R] {

	a := NewActor[M, R](ActorConfig[M, R]{
		ID:       id,
		Behavior: behavior,
		DLO:      system.dlo,
	})
	a.Start()

	ref := a.Ref()
	system.register(k.name, ref)
	system.trackStopper(id, a.Stop)

	return ref
}

// Unregister removes ref from the receptionist under this key and stops its
// actor. It returns false if ref was not registered under this key.
func (k ServiceKey[M, R]) Unregister(system *ActorSystem,
	ref ActorRef[M, R]) bool {

	removed := system.unregister(k.name, ref)
	if removed {
		system.stop(ref.ID())
	}

	return removed
}

// Receptionist is a type-erased registry mapping service names to the actor
// references registered under them. Lookups recover the concrete type via
// FindInReceptionist's type parameters.
type Receptionist struct {
	mu   sync.Mutex
	refs map[string][]any
}

func newReceptionist() *Receptionist {
	return &Receptionist{refs: make(map[string][]any)}
}

func (r *Receptionist) register(name string, ref any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refs[name] = append(r.refs[name], ref)
}

func (r *Receptionist) unregister(name string, ref any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.refs[name]
	for i, v := range list {
		if v == ref {
			r.refs[name] = append(list[:i], list[i+1:]...)
			return true
		}
	}

	return false
}

// FindInReceptionist returns every actor registered under key, in
// registration order. An empty result means no actor currently serves that
// key.
func FindInReceptionist[M Message, R any](r *Receptionist,
	key ServiceKey[M, R]) []ActorRef[M, R] {

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.refs[key.name]
	out := make([]ActorRef[M, R], 0, len(list))
	for _, v := range list {
		if ref, ok := v.(ActorRef[M, R]); ok {
			out = append(out, ref)
		}
	}

	return out
}

// ActorSystem owns a Receptionist and tracks every actor spawned through it,
// so Shutdown can stop them all without the caller keeping its own
// bookkeeping.
type ActorSystem struct {
	receptionist *Receptionist
	dlo          ActorRef[Message, any]

	mu       sync.Mutex
	stoppers map[string]func()
}

// NewActorSystem creates an empty ActorSystem.
func NewActorSystem() *ActorSystem {
	return &ActorSystem{
		receptionist: newReceptionist(),
		stoppers:     make(map[string]func()),
	}
}

// Receptionist returns the system's service registry.
func (s *ActorSystem) Receptionist() *Receptionist {
	return s.receptionist
}

func (s *ActorSystem) register(name string, ref any) {
	s.receptionist.register(name, ref)
}

func (s *ActorSystem) unregister(name string, ref any) bool {
	return s.receptionist.unregister(name, ref)
}

func (s *ActorSystem) trackStopper(id string, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stoppers[id] = stop
}

func (s *ActorSystem) stop(id string) {
	s.mu.Lock()
	stop, ok := s.stoppers[id]
	delete(s.stoppers, id)
	s.mu.Unlock()

	if ok {
		stop()
	}
}

// Shutdown stops every actor spawned through this system that hasn't already
// been stopped via Unregister.
func (s *ActorSystem) Shutdown() {
	s.mu.Lock()
	stoppers := make([]func(), 0, len(s.stoppers))
	for _, stop := range s.stoppers {
		stoppers = append(stoppers, stop)
	}
	s.stoppers = make(map[string]func())
	s.mu.Unlock()

	for _, stop := range stoppers {
		stop()
	}
}
