package executor

import "time"

// TaskState is an enum presenting current task state.
type TaskState int

const (
	// RUNNING task state means that task is still running.
	RUNNING TaskState = iota
	// TERMINATED task state means that task completed or stopped.
	TERMINATED
)

// TaskHandle represents a remote process which can be stopped or monitored.
type TaskHandle interface {
	// Stop stops the task. Best-effort: the remote process may survive a
	// closed channel.
	Stop() error
	// Status returns the state of the task.
	Status() TaskState
	// ExitCode returns the exit code. If the task is not terminated it
	// returns an error.
	ExitCode() (int, error)
	// Stdout returns the captured standard output of a terminated task.
	Stdout() string
	// Stderr returns the captured standard error of a terminated task.
	Stderr() string
	// Wait blocks for the task completion with a given timeout.
	// Timeout of zero means wait indefinitely.
	// It returns true if the task is terminated.
	Wait(timeout time.Duration) bool
	// Address returns the address where the task was located.
	Address() string
}
