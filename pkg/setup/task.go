package setup

import "context"

// Task is the handle for a deferred setup. The orchestrator's caller owns
// it: wait on Done, read Result, and Cancel on shutdown if desired (not
// required; an abandoned task is harmless since the throttle state is
// durable).
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	// written once before done is closed
	account *Account
	err     error
}

// Done is closed when the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the task if it is still waiting. Result then reports
// context.Canceled.
func (t *Task) Cancel() {
	t.cancel()
}

// Result returns the built account. Only valid after Done is closed.
func (t *Task) Result() (*Account, error) {
	return t.account, t.err
}
