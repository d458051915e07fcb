package actor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kyoto-spv/kyoto/fn"
	"github.com/stretchr/testify/require"
)

var errWaitTimeout = errors.New("timed out waiting for value")

func awaitValue[T any](ch chan T, d time.Duration) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-time.After(d):
		var zero T
		return zero, errWaitTimeout
	}
}

// unwrapErr pulls the error half out of a fn.Result, discarding the value.
func unwrapErr[T any](r fn.Result[T]) error {
	_, err := r.Unpack()
	return err
}

// pingMsg is the message type most of this file's actors process: an echo
// request with an optional channel to report back on synchronously (useful
// for Tell, which otherwise has no return value to assert against).
type pingMsg struct {
	BaseMessage
	payload string
	reply   chan string
}

func (m *pingMsg) MessageType() string { return "pingMsg" }

func ping(payload string) *pingMsg {
	return &pingMsg{payload: payload}
}

func pingWithReply(payload string, reply chan string) *pingMsg {
	return &pingMsg{payload: payload, reply: reply}
}

// echoingBehavior remembers the last pingMsg it processed and, on Ask,
// answers with "echo: <payload>"; on Tell, it writes payload to reply if
// one was supplied.
type echoingBehavior struct {
	lastPayload atomic.Value
	delay       time.Duration
	t           *testing.T
}

func newEchoingBehavior(t *testing.T, delay time.Duration) *echoingBehavior {
	return &echoingBehavior{t: t, delay: delay}
}

func (b *echoingBehavior) Receive(_ context.Context, msg *pingMsg) fn.Result[string] {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.lastPayload.Store(msg.payload)

	if msg.reply != nil {
		select {
		case msg.reply <- msg.payload:
		case <-time.After(time.Second):
			b.t.Logf("reply channel send timed out")
		}
	}

	return fn.Ok(fmt.Sprintf("echo: %s", msg.payload))
}

func (b *echoingBehavior) lastSeen() (string, bool) {
	v := b.lastPayload.Load()
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// failingBehavior always fails with a fixed error, for exercising the Ask
// error path.
type failingBehavior struct {
	err error
}

func newFailingBehavior(err error) *failingBehavior {
	return &failingBehavior{err: err}
}

func (b *failingBehavior) Receive(_ context.Context, _ *pingMsg) fn.Result[string] {
	return fn.Err[string](b.err)
}

// dloSink is a dead-letter actor's behavior: it just records everything it's
// handed so a test can assert on what got stranded.
type dloSink struct {
	mu   sync.Mutex
	msgs []Message
}

func newDLOSink() *dloSink {
	return &dloSink{}
}

func (s *dloSink) Receive(_ context.Context, msg Message) fn.Result[any] {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return fn.Ok[any](nil)
}

func (s *dloSink) seen() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// harness wires up a dead-letter actor once per test and spawns pingMsg
// actors that all report to it.
type harness struct {
	t   *testing.T
	dlo *Actor[Message, any]
	hub *dloSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hub := newDLOSink()
	dlo := NewActor[Message, any](ActorConfig[Message, any]{
		ID:          "dlo-" + t.Name(),
		Behavior:    hub,
		MailboxSize: 10,
	})
	dlo.Start()
	t.Cleanup(dlo.Stop)

	return &harness{t: t, dlo: dlo, hub: hub}
}

func (h *harness) spawn(id string, beh ActorBehavior[*pingMsg, string],
	mailboxSize int) *Actor[*pingMsg, string] {

	h.t.Helper()

	a := NewActor(ActorConfig[*pingMsg, string]{
		ID:          id,
		Behavior:    beh,
		DLO:         h.dlo.Ref(),
		MailboxSize: mailboxSize,
	})
	a.Start()
	h.t.Cleanup(a.Stop)

	return a
}

func (h *harness) requireDeadLettered(expected Message) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, m := range h.hub.seen() {
			if reflect.DeepEqual(m, expected) {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "expected message was never dead-lettered: %v", expected)
}

func (h *harness) requireNothingDeadLettered() {
	h.t.Helper()
	time.Sleep(20 * time.Millisecond)
	require.Empty(h.t, h.hub.seen(), "unexpected dead letters")
}

func TestActorRefAndTellRefShareID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.spawn("actor-1", newEchoingBehavior(t, 0), 1)

	require.Equal(t, "actor-1", a.Ref().ID())
	require.Equal(t, "actor-1", a.TellRef().ID())
}

func TestActorTellAfterStopGoesToDeadLetterOffice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	beh := newEchoingBehavior(t, 0)
	a := h.spawn("actor-lifecycle", beh, 1)

	reply := make(chan string, 1)
	a.Ref().Tell(context.Background(), pingWithReply("hello", reply))

	got, err := awaitValue(reply, 100*time.Millisecond)
	require.NoError(t, err, "actor never processed the message before Stop")
	require.Equal(t, "hello", got)

	a.Stop()
	time.Sleep(50 * time.Millisecond)

	afterStop := make(chan string, 1)
	msg := pingWithReply("after-stop", afterStop)
	a.Ref().Tell(context.Background(), msg)

	_, err = awaitValue(afterStop, 100*time.Millisecond)
	require.ErrorIs(t, err, errWaitTimeout, "actor processed a message after Stop")

	h.requireDeadLettered(msg)
}

func TestActorTellDeliversToBehavior(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	beh := newEchoingBehavior(t, 0)
	a := h.spawn("actor-tell", beh, 1)

	reply := make(chan string, 1)
	a.Ref().Tell(context.Background(), pingWithReply("tell-message", reply))

	got, err := awaitValue(reply, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "tell-message", got)

	last, ok := beh.lastSeen()
	require.True(t, ok)
	require.Equal(t, "tell-message", last)
	h.requireNothingDeadLettered()
}

func TestActorAskReturnsBehaviorResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	beh := newEchoingBehavior(t, 0)
	a := h.spawn("actor-ask", beh, 1)

	future := a.Ref().Ask(context.Background(), ping("ask-message"))
	result := future.Await(context.Background())

	require.False(t, result.IsErr(), "ask returned an error: %v", unwrapErr(result))
	result.WhenResult(func(val string) {
		require.Equal(t, "echo: ask-message", val)
	})

	last, ok := beh.lastSeen()
	require.True(t, ok)
	require.Equal(t, "ask-message", last)
	h.requireNothingDeadLettered()
}

func TestActorAskPropagatesBehaviorError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wantErr := errors.New("behavior failed")
	a := h.spawn("actor-ask-error", newFailingBehavior(wantErr), 1)

	future := a.Ref().Ask(context.Background(), ping("whatever"))
	result := future.Await(context.Background())

	require.True(t, result.IsErr())
	require.ErrorIs(t, unwrapErr(result), wantErr)
	h.requireNothingDeadLettered()
}
