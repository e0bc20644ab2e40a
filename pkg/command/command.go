// Package command provides the unit-of-work abstraction shared by the drone
// and reconstruction-node peers, and the serial queue controller that
// executes commands one at a time with automatic retry of transient
// failures.
package command

// ErrorInfo carries a titled, human-readable message for user display.
type ErrorInfo struct {
	Title   string
	Message string
}

// Result is the uniform asynchronous outcome of a command. A failed result
// with Retryable set is eligible for automatic re-execution by the queue
// controller; Retryable false surfaces the error immediately.
type Result struct {
	Success   bool
	Retryable bool
	Info      *ErrorInfo
}

// OK returns a successful result.
func OK() Result {
	return Result{Success: true}
}

// Fail returns a failed result with display information.
func Fail(retryable bool, title, message string) Result {
	return Result{
		Retryable: retryable,
		Info:      &ErrorInfo{Title: title, Message: message},
	}
}

// Command is a single unit of work. Execute must eventually invoke done
// exactly once. A command is owned solely by the queue while pending and
// may be re-executed unmodified when it reports a retryable failure, so
// implementations must not capture non-idempotent state at construction.
type Command interface {
	Execute(done func(Result))
}

// Func adapts a plain function to the Command interface.
type Func func(done func(Result))

func (f Func) Execute(done func(Result)) {
	f(done)
}

// InteractionBlocker is implemented by commands whose execution must
// disable conflicting UI interaction while they run.
type InteractionBlocker interface {
	BlocksInteraction() bool
}
