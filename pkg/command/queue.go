package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lbujnak/cr-fly/pkg/alert"
)

// Policy controls how the queue controller retries transient failures.
type Policy struct {
	MaxRetries   int
	RetryTimeout time.Duration
}

// DefaultPolicy returns the retry policy used for both peers.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		RetryTimeout: 2 * time.Second,
	}
}

// QueueController owns one peer and runs commands against it strictly one
// at a time. Commands execute in FIFO order; Prepend injects a prerequisite
// at the head without preempting the command already in flight. The
// controller is the sole retry authority: a retryable failure re-executes
// the same command instance, up to Policy.MaxRetries times with
// Policy.RetryTimeout between attempts, before the error is surfaced
// through the alert sink and the next command runs.
type QueueController struct {
	name   string
	policy Policy
	alerts alert.Sink

	mu      sync.Mutex
	pending []Command
	busy    bool

	onBusy        func(bool)
	onInteraction func(disabled bool)

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueueController creates an idle controller. Call Start to begin
// draining.
func NewQueueController(name string, policy Policy, alerts alert.Sink) *QueueController {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueController{
		name:   name,
		policy: policy,
		alerts: alerts,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetBusyListener registers a callback invoked when the controller
// transitions between busy and idle.
func (q *QueueController) SetBusyListener(fn func(bool)) {
	q.mu.Lock()
	q.onBusy = fn
	q.mu.Unlock()
}

// SetInteractionListener registers a callback invoked when a command that
// declares BlocksInteraction starts and finishes.
func (q *QueueController) SetInteractionListener(fn func(disabled bool)) {
	q.mu.Lock()
	q.onInteraction = fn
	q.mu.Unlock()
}

// Start begins the drain loop in the background.
func (q *QueueController) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop terminates the drain loop. Pending commands are discarded; the
// in-flight command's completion is ignored.
func (q *QueueController) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Push appends a command to the tail of the queue.
func (q *QueueController) Push(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
	q.signal()
}

// Prepend inserts a command at the head of the queue. It is used to inject
// a prerequisite immediately before the command that discovered the need
// for it.
func (q *QueueController) Prepend(cmd Command) {
	q.mu.Lock()
	q.pending = append([]Command{cmd}, q.pending...)
	q.mu.Unlock()
	q.signal()
}

// IsBusy reports whether a command is executing or still queued.
func (q *QueueController) IsBusy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy || len(q.pending) > 0
}

func (q *QueueController) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop takes the head of the queue and raises the busy flag in the same
// critical section, so an observer never sees an empty queue with the flag
// still down while a command is about to run.
func (q *QueueController) pop() Command {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	cmd := q.pending[0]
	q.pending = q.pending[1:]
	changed := !q.busy
	q.busy = true
	fn := q.onBusy
	q.mu.Unlock()
	if changed && fn != nil {
		fn(true)
	}
	return cmd
}

func (q *QueueController) setBusy(busy bool) {
	q.mu.Lock()
	changed := q.busy != busy
	q.busy = busy
	fn := q.onBusy
	q.mu.Unlock()
	if changed && fn != nil {
		fn(busy)
	}
}

func (q *QueueController) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			cmd := q.pop()
			if cmd == nil {
				break
			}
			q.runCommand(cmd)
			if q.ctx.Err() != nil {
				return
			}
		}
		q.setBusy(false)
	}
}

// runCommand executes one command to completion, retrying the same instance
// directly on retryable failures before any other queued command runs.
func (q *QueueController) runCommand(cmd Command) {
	q.mu.Lock()
	interaction := q.onInteraction
	q.mu.Unlock()

	blocks := false
	if blocker, ok := cmd.(InteractionBlocker); ok {
		blocks = blocker.BlocksInteraction()
	}
	if blocks && interaction != nil {
		interaction(true)
		defer interaction(false)
	}

	retries := 0
	for {
		res, ok := q.executeOnce(cmd)
		if !ok {
			return // controller stopped mid-command
		}
		if res.Success {
			return
		}
		if res.Retryable && retries < q.policy.MaxRetries {
			retries++
			slog.Warn("command failed, retrying",
				"queue", q.name,
				"attempt", retries,
				"max_retries", q.policy.MaxRetries)
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.policy.RetryTimeout):
			}
			continue
		}

		info := res.Info
		if info == nil {
			info = &ErrorInfo{Title: "Operation failed", Message: "The operation could not be completed."}
		}
		slog.Error("command failed permanently",
			"queue", q.name,
			"title", info.Title,
			"retries", retries)
		q.alerts.Alert(info.Title, info.Message)
		return
	}
}

// executeOnce runs the command and waits for its single completion. The
// boolean is false when the controller was stopped before completion fired.
func (q *QueueController) executeOnce(cmd Command) (Result, bool) {
	done := make(chan Result, 1)
	var once sync.Once
	cmd.Execute(func(res Result) {
		once.Do(func() { done <- res })
	})

	select {
	case res := <-done:
		return res, true
	case <-q.ctx.Done():
		return Result{}, false
	}
}
