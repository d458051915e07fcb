package actor_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kyoto-spv/kyoto/actor"
	"github.com/kyoto-spv/kyoto/fn"
)

// PeerEventMsg reports a noteworthy event observed on a peer connection.
type PeerEventMsg struct {
	actor.BaseMessage
	Text string
}

func (m PeerEventMsg) MessageType() string { return "PeerEventMsg" }

// EventJournal records peer events. It has no meaningful Ask response, so
// callers only ever reach it through a TellOnlyRef.
type EventJournal struct {
	mu        sync.Mutex
	entries   []string
	watcherID string
}

func NewEventJournal(id string) *EventJournal {
	return &EventJournal{watcherID: id}
}

// Receive appends PeerEventMsg entries to the journal. The response type is
// 'any' since Tell callers never inspect it.
func (j *EventJournal) Receive(ctx context.Context,
	msg actor.Message) fn.Result[any] {

	event, ok := msg.(PeerEventMsg)
	if !ok {
		return fn.Err[any](fmt.Errorf("unexpected message "+
			"type: %s", msg.MessageType()))
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := fmt.Sprintf("[%s from %s]: %s", time.Now().Format("15:04:05"),
		j.watcherID, event.Text)
	j.entries = append(j.entries, entry)

	return fn.Ok[any](nil)
}

func (j *EventJournal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]string, len(j.entries))
	copy(out, j.entries)

	return out
}

// ExampleTellOnlyRef demonstrates fire-and-forget messaging against an actor
// through a TellOnlyRef, which drops the ability to Ask entirely.
func ExampleTellOnlyRef() {
	system := actor.NewActorSystem()
	defer system.Shutdown()

	journalKey := actor.NewServiceKey[actor.Message, any](
		"peer-event-journal",
	)

	watcherID := "watcher-1"
	journal := NewEventJournal(watcherID)

	fullRef := journalKey.Spawn(system, watcherID, journal)
	fmt.Printf("Actor %s spawned.\n", fullRef.ID())

	// fullRef is already an ActorRef[actor.Message, any], which satisfies
	// TellOnlyRef[actor.Message] without any extra step.
	var watcher actor.TellOnlyRef[actor.Message] = fullRef

	fmt.Printf("Obtained TellOnlyRef for %s.\n", watcher.ID())

	watcher.Tell(
		context.Background(), PeerEventMsg{Text: "handshake completed."},
	)
	watcher.Tell(
		context.Background(), PeerEventMsg{Text: "filter header synced."},
	)

	time.Sleep(10 * time.Millisecond)

	entries := journal.Entries()
	fmt.Println("Journal entries:")
	for _, entry := range entries {
		// Strip the timestamp and watcher ID for deterministic output.
		parts := strings.SplitN(entry, "]: ", 2)
		if len(parts) == 2 {
			fmt.Println(parts[1])
		}
	}

	// watcher.Ask(...) would be a compile-time error here: TellOnlyRef
	// never exposes Ask.

	// Output:
	// Actor watcher-1 spawned.
	// Obtained TellOnlyRef for watcher-1.
	// Journal entries:
	// handshake completed.
	// filter header synced.
}
