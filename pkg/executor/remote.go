package executor

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// DefaultSSHPort represents default port of SSH server (22).
const DefaultSSHPort = 22

// ErrTimeout is returned by Run when a command did not terminate within the
// requested timeout. The remote process is not forcibly killed; its eventual
// result is discarded.
var ErrTimeout = errors.New("command execution timed out")

// SSHConfig holds credentials and dialing parameters for a remote host.
// Testbed routers and DUT agents authenticate with passwords, not keys.
type SSHConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	ConnectionTimeout time.Duration
}

// Address returns the host:port dial address.
func (c SSHConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c SSHConfig) clientConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.ConnectionTimeout,
	}
}

// Remote provides the execution environment on a remote machine via ssh.
// Each Execute opens a fresh ssh session on the shared client connection.
// Remote is not safe for concurrent use; every device owns its own instance.
type Remote struct {
	config SSHConfig
	client *ssh.Client
}

// NewRemote returns an unconnected Remote for the given host.
func NewRemote(config SSHConfig) *Remote {
	return &Remote{config: config}
}

// Connect dials the remote host, replacing any previous connection.
// It performs a single attempt; callers wrap it in a retry.Policy.
func (r *Remote) Connect() error {
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}

	client, err := ssh.Dial("tcp", r.config.Address(), r.config.clientConfig())
	if err != nil {
		return errors.Wrapf(err, "ssh dial to %q failed", r.config.Address())
	}

	r.client = client
	return nil
}

// ConnectWithTimeout dials the remote host with a one-off dial timeout,
// overriding the configured one. Used by the reconnection poll, which probes
// with a short timeout.
func (r *Remote) ConnectWithTimeout(timeout time.Duration) error {
	config := r.config
	config.ConnectionTimeout = timeout

	if r.client != nil {
		r.client.Close()
		r.client = nil
	}

	client, err := ssh.Dial("tcp", config.Address(), config.clientConfig())
	if err != nil {
		return errors.Wrapf(err, "ssh dial to %q failed", config.Address())
	}

	r.client = client
	return nil
}

// Connected reports whether the underlying transport still answers.
func (r *Remote) Connected() bool {
	if r.client == nil {
		return false
	}
	_, _, err := r.client.SendRequest("keepalive@wifibench", true, nil)
	return err == nil
}

// Close tears down the transport. Safe to call on a closed Remote.
func (r *Remote) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// Name returns user-friendly name of executor.
func (r *Remote) Name() string {
	return "Remote via ssh on " + r.config.Address()
}

// Execute runs the command on the remote host.
// The returned TaskHandle is able to monitor the provisioned process.
func (r *Remote) Execute(command string) (TaskHandle, error) {
	if r.client == nil {
		return nil, errors.Errorf("executing %q failed: not connected to %q", command, r.config.Address())
	}

	session, err := r.client.NewSession()
	if err != nil {
		return nil, errors.Wrapf(err, "opening ssh session on %q failed", r.config.Address())
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	log.Debugf("Starting %q remotely on %q", command, r.config.Address())
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, errors.Wrapf(err, "starting %q on %q failed", command, r.config.Address())
	}

	handle := &remoteTaskHandle{
		session: session,
		address: r.config.Address(),
		stdout:  &stdout,
		stderr:  &stderr,
		done:    make(chan struct{}),
	}

	go func() {
		waitErr := session.Wait()
		session.Close()

		handle.mu.Lock()
		if exitError, ok := waitErr.(*ssh.ExitError); ok {
			handle.exitCode = exitError.ExitStatus()
		} else if waitErr != nil {
			// Channel broke before the process reported its status.
			handle.transportErr = errors.Wrapf(waitErr, "remote command %q interrupted", command)
		}
		handle.mu.Unlock()
		close(handle.done)
	}()

	return handle, nil
}

// Run is a helper which executes the command and waits for its termination
// within the given timeout. Timeout of zero waits indefinitely.
// A non-nil error means the command could not be completed at the transport
// level; a non-zero exit code is reported through exitCode, not err.
func (r *Remote) Run(command string, timeout time.Duration) (stdout string, stderr string, exitCode int, err error) {
	handle, err := r.Execute(command)
	if err != nil {
		return "", "", 0, err
	}

	if !handle.Wait(timeout) {
		handle.Stop()
		return "", "", 0, errors.Wrapf(ErrTimeout, "command %q on %q", command, r.config.Address())
	}

	exitCode, err = handle.ExitCode()
	if err != nil {
		return "", "", 0, err
	}

	return handle.Stdout(), handle.Stderr(), exitCode, nil
}

// remoteTaskHandle implements TaskHandle for commands run over ssh.
type remoteTaskHandle struct {
	session *ssh.Session
	address string
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer

	done chan struct{}

	mu           sync.Mutex
	exitCode     int
	transportErr error
}

// Stop terminates the remote task. Best-effort: embedded dropbear servers
// routinely ignore the signal request.
func (h *remoteTaskHandle) Stop() error {
	if h.Status() == TERMINATED {
		return nil
	}
	h.session.Signal(ssh.SIGKILL)
	return h.session.Close()
}

// Status returns the state of the task.
func (h *remoteTaskHandle) Status() TaskState {
	select {
	case <-h.done:
		return TERMINATED
	default:
		return RUNNING
	}
}

// ExitCode returns the exit code. A non-nil error means either the task is
// still running or the transport broke before a status was reported.
func (h *remoteTaskHandle) ExitCode() (int, error) {
	if h.Status() != TERMINATED {
		return 0, errors.New("task is not terminated")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transportErr != nil {
		return 0, h.transportErr
	}
	return h.exitCode, nil
}

// Stdout returns captured standard output.
func (h *remoteTaskHandle) Stdout() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout.String()
}

// Stderr returns captured standard error.
func (h *remoteTaskHandle) Stderr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderr.String()
}

// Wait blocks until the process terminates or the timeout elapses.
// It returns true if the task terminated.
func (h *remoteTaskHandle) Wait(timeout time.Duration) bool {
	if timeout == 0 {
		<-h.done
		return true
	}

	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Address returns the address where the task was located.
func (h *remoteTaskHandle) Address() string {
	return h.address
}
