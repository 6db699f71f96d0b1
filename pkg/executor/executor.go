// Package executor provides the command-execution abstraction used to drive
// both the access point and the devices under test. Commands are plain shell
// strings executed on a remote host; the caller only sees a TaskHandle.
package executor

// Executor is responsible for creating an execution environment for a given
// command. It returns a TaskHandle when the command started gracefully.
// Commands are executed asynchronously.
type Executor interface {
	// Execute executes command on the underlying platform.
	Execute(command string) (TaskHandle, error)
	// Name returns user-friendly name of executor.
	Name() string
}
