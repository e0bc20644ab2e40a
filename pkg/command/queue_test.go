package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbujnak/cr-fly/pkg/alert"
)

// recordSink captures alerts for assertions.
type recordSink struct {
	mu     sync.Mutex
	alerts []string
}

func (s *recordSink) Alert(title, message string, _ ...alert.Action) {
	s.mu.Lock()
	s.alerts = append(s.alerts, title)
	s.mu.Unlock()
}

func (s *recordSink) RequestPreviousView() {}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// eventLog records execution order across commands.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestQueue(t *testing.T, policy Policy, sink alert.Sink) *QueueController {
	t.Helper()
	q := NewQueueController("test", policy, sink)
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueueRunsCommandsInOrder(t *testing.T) {
	log := &eventLog{}
	q := newTestQueue(t, DefaultPolicy(), &recordSink{})

	finished := make(chan struct{})
	q.Push(Func(func(done func(Result)) {
		log.add("A:exec")
		// Complete asynchronously to prove the queue waits for the
		// completion, not just for Execute to return.
		go func() {
			time.Sleep(20 * time.Millisecond)
			log.add("A:done")
			done(OK())
		}()
	}))
	q.Push(Func(func(done func(Result)) {
		log.add("B:exec")
		done(OK())
		close(finished)
	}))

	waitFor(t, finished, "queue drain")
	assert.Equal(t, []string{"A:exec", "A:done", "B:exec"}, log.snapshot())
}

func TestQueuePrependDoesNotPreempt(t *testing.T) {
	log := &eventLog{}
	q := newTestQueue(t, DefaultPolicy(), &recordSink{})

	aStarted := make(chan struct{})
	aRelease := make(chan struct{})
	finished := make(chan struct{})

	q.Push(Func(func(done func(Result)) {
		log.add("A")
		close(aStarted)
		go func() {
			<-aRelease
			done(OK())
		}()
	}))
	q.Push(Func(func(done func(Result)) {
		log.add("B")
		done(OK())
		close(finished)
	}))

	waitFor(t, aStarted, "A to start")
	q.Prepend(Func(func(done func(Result)) {
		log.add("X")
		done(OK())
	}))
	close(aRelease)

	waitFor(t, finished, "queue drain")
	assert.Equal(t, []string{"A", "X", "B"}, log.snapshot())
}

func TestQueueRetriesSameInstanceThenAlertsOnce(t *testing.T) {
	sink := &recordSink{}
	policy := Policy{MaxRetries: 2, RetryTimeout: 10 * time.Millisecond}
	q := newTestQueue(t, policy, sink)

	var mu sync.Mutex
	executions := 0
	finished := make(chan struct{})

	q.Push(Func(func(done func(Result)) {
		mu.Lock()
		executions++
		mu.Unlock()
		done(Fail(true, "Node unreachable", "connection read failed"))
	}))
	// The failing command is discarded; draining continues.
	q.Push(Func(func(done func(Result)) {
		done(OK())
		close(finished)
	}))

	waitFor(t, finished, "queue drain")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, executions, "initial attempt plus MaxRetries")
	assert.Equal(t, 1, sink.count(), "alert fired exactly once")
}

func TestQueueNonRetryableAlertsImmediately(t *testing.T) {
	sink := &recordSink{}
	policy := Policy{MaxRetries: 5, RetryTimeout: time.Hour}
	q := newTestQueue(t, policy, sink)

	executions := 0
	finished := make(chan struct{})

	q.Push(Func(func(done func(Result)) {
		executions++
		done(Fail(false, "Invalid name", "project name cannot be encoded"))
	}))
	q.Push(Func(func(done func(Result)) {
		done(OK())
		close(finished)
	}))

	waitFor(t, finished, "queue drain")
	assert.Equal(t, 1, executions)
	assert.Equal(t, 1, sink.count())
}

type blockingCommand struct {
	fn func(done func(Result))
}

func (c *blockingCommand) Execute(done func(Result)) { c.fn(done) }
func (c *blockingCommand) BlocksInteraction() bool   { return true }

func TestQueueInteractionBlocking(t *testing.T) {
	q := newTestQueue(t, DefaultPolicy(), &recordSink{})

	var mu sync.Mutex
	var transitions []bool
	q.SetInteractionListener(func(disabled bool) {
		mu.Lock()
		transitions = append(transitions, disabled)
		mu.Unlock()
	})

	finished := make(chan struct{})
	q.Push(&blockingCommand{fn: func(done func(Result)) {
		done(OK())
	}})
	q.Push(Func(func(done func(Result)) {
		done(OK())
		close(finished)
	}))

	waitFor(t, finished, "queue drain")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestQueueBusyTransitions(t *testing.T) {
	q := newTestQueue(t, DefaultPolicy(), &recordSink{})

	release := make(chan struct{})
	started := make(chan struct{})
	q.Push(Func(func(done func(Result)) {
		close(started)
		go func() {
			<-release
			done(OK())
		}()
	}))

	waitFor(t, started, "command start")
	assert.True(t, q.IsBusy())
	close(release)

	require.Eventually(t, func() bool { return !q.IsBusy() },
		2*time.Second, 10*time.Millisecond)
}
