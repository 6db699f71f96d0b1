// Package device owns the per-DUT remote session: one command channel to a
// device under test, the agent command protocol spoken over it, and the
// recovery dance around the link drop that every wireless reconfiguration
// causes on the DUT's own uplink.
package device

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/executor"
	"github.com/wifibench/wifibench/pkg/retry"
)

// ErrAgentFailure means the remote agent ran but reported failure, either
// through a non-zero exit or the RESULT:FAILURE sentinel.
var ErrAgentFailure = errors.New("remote agent reported failure")

// ErrExcluded means the session was permanently excluded from the run.
var ErrExcluded = errors.New("device is excluded from the run")

// State is the connection state of a device session.
type State int

const (
	// Disconnected session has no transport.
	Disconnected State = iota
	// Connecting session is dialing the device.
	Connecting
	// Ready session can run remote commands.
	Ready
	// LinkDown transport broke, typically because the DUT switched networks.
	LinkDown
	// Reconnecting session is polling for the device to come back.
	Reconnecting
	// Excluded session was permanently removed from the run.
	Excluded
)

var stateNames = map[State]string{
	Disconnected: "Disconnected",
	Connecting:   "Connecting",
	Ready:        "Ready",
	LinkDown:     "LinkDown",
	Reconnecting: "Reconnecting",
	Excluded:     "Excluded",
}

func (s State) String() string {
	return stateNames[s]
}

// SwitchResult is the outcome of SwitchNetwork. The internal "expected
// disconnect" path is an ordinary branch here, not an exception handler:
// a link drop followed by a successful reconnection poll is Reconnected.
type SwitchResult int

const (
	// Reconnected means the DUT is reachable on the target network.
	Reconnected SwitchResult = iota
	// SwitchFailed means the DUT never came back within the poll window.
	SwitchFailed
)

// transport is the subset of executor.Remote a session drives.
type transport interface {
	Connect() error
	ConnectWithTimeout(timeout time.Duration) error
	Connected() bool
	Close() error
	Run(command string, timeout time.Duration) (stdout string, stderr string, exitCode int, err error)
}

// Config identifies one device under test.
type Config struct {
	// Name is the human-readable device identifier used in logs and results.
	Name string
	// SSH holds the transport credentials.
	SSH executor.SSHConfig
	// Agent is the invocation prefix of the test agent on the device,
	// e.g. "cd /tmp/wifibench-agent && ./agent".
	Agent string
	// ProbePort is the iperf port assigned to this device.
	ProbePort int
}

// Timing bounds every remote interaction of a session.
type Timing struct {
	// ConnectRetry is applied to every transport connect.
	ConnectRetry retry.Policy
	// CommandTimeout bounds ordinary agent commands.
	CommandTimeout time.Duration
	// SwitchTimeout bounds the network join command, which is expected to
	// kill its own transport mid-flight.
	SwitchTimeout time.Duration
	// ProbeTimeout bounds the throughput probe.
	ProbeTimeout time.Duration
	// PollInterval, PollTimeout and PollDial parametrize the reconnection
	// poll after a link drop.
	PollInterval time.Duration
	PollTimeout  time.Duration
	PollDial     time.Duration
}

// DefaultTiming returns the lab defaults.
func DefaultTiming() Timing {
	return Timing{
		ConnectRetry:   retry.Policy{MaxAttempts: 5, Backoff: 5 * time.Second},
		CommandTimeout: 30 * time.Second,
		SwitchTimeout:  45 * time.Second,
		ProbeTimeout:   30 * time.Second,
		PollInterval:   3 * time.Second,
		PollTimeout:    60 * time.Second,
		PollDial:       5 * time.Second,
	}
}

// Session owns one remote command channel to a DUT. It is created once per
// device at run start and destroyed at run end. The transport and the
// command protocol tolerate only one driver at a time: a worker must win
// TryAcquire before running commands, and a worker that is still draining
// a previous cell keeps the session until it returns.
type Session struct {
	config    Config
	timing    Timing
	transport transport
	log       *logrus.Entry

	// busy is held by the worker currently driving the session.
	busy sync.Mutex

	stateMutex sync.Mutex
	state      State
}

// NewSession returns an unconnected session for the device.
func NewSession(config Config, timing Timing) *Session {
	return &Session{
		config:    config,
		timing:    timing,
		transport: executor.NewRemote(config.SSH),
		state:     Disconnected,
		log:       logrus.WithField("device", config.Name),
	}
}

// Name returns the device identifier.
func (s *Session) Name() string {
	return s.config.Name
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMutex.Lock()
	s.state = state
	s.stateMutex.Unlock()
}

// TryAcquire claims the session for a worker. It fails without blocking
// when another worker still holds the session, which happens when a
// previous cell's worker overran its deadline and is still draining the
// remote command.
func (s *Session) TryAcquire() bool {
	return s.busy.TryLock()
}

// Release returns the session after a successful TryAcquire.
func (s *Session) Release() {
	s.busy.Unlock()
}

// ProbePort returns the iperf port assigned to the device.
func (s *Session) ProbePort() int {
	return s.config.ProbePort
}

// Exclude permanently removes the session from the run. The state is sticky:
// no later reachability success brings an excluded device back.
func (s *Session) Exclude() {
	s.log.Warnf("Excluding device from the remainder of the run")
	s.setState(Excluded)
}

// Connect establishes the transport, retrying per the configured policy.
func (s *Session) Connect() error {
	if s.State() == Excluded {
		return ErrExcluded
	}

	s.setState(Connecting)
	s.log.Infof("Connecting to DUT %s", s.config.SSH.Address())

	err := s.timing.ConnectRetry.Do(s.transport.Connect)
	if err != nil {
		s.setState(Disconnected)
		return errors.Wrapf(err, "connecting to device %q failed", s.config.Name)
	}

	s.setState(Ready)
	return nil
}

// Close tears the transport down.
func (s *Session) Close() error {
	s.stateMutex.Lock()
	if s.state != Excluded {
		s.state = Disconnected
	}
	s.stateMutex.Unlock()
	return s.transport.Close()
}

// RunRemote executes an agent command with a bounded timeout. A timeout or
// transport error here is a plain failure; only SwitchNetwork treats link
// loss as expected. Non-zero process exit is always a failure regardless of
// what the agent printed.
func (s *Session) RunRemote(plugin string, command string, args map[string]string, timeout time.Duration) (Output, error) {
	if s.State() == Excluded {
		return Output{}, ErrExcluded
	}

	cmd := s.agentCommand(plugin, command, args)
	s.log.Debugf("Executing agent command: %s", cmd)

	stdout, stderr, exitCode, err := s.transport.Run(cmd, timeout)
	if err != nil {
		return Output{}, errors.Wrapf(err, "agent command %q on %q failed", command, s.config.Name)
	}

	output := Output{Raw: strings.TrimSpace(stdout)}
	if exitCode != 0 {
		return output, errors.Wrapf(ErrAgentFailure, "%s %s exited with %d: %s",
			plugin, command, exitCode, strings.TrimSpace(stderr))
	}
	if !output.Succeeded() {
		return output, errors.Wrapf(ErrAgentFailure, "%s %s: %s", plugin, command, firstLine(output.Raw))
	}

	return output, nil
}

// SwitchNetwork joins the DUT to the target network, cleaning up stale
// profiles on the way. The join flips the DUT's own interface, so the
// transport is expected to break mid-command; any transport error or
// timeout routes into the reconnection poll instead of failing outright.
func (s *Session) SwitchNetwork(ssid string, password string) SwitchResult {
	s.log.Infof("Connecting to %s", ssid)

	output, err := s.RunRemote("wifi", "connect", map[string]string{
		"ssid":     ssid,
		"password": password,
		"cleanup":  "true",
	}, s.timing.SwitchTimeout)

	if err == nil && output.Succeeded() {
		s.setState(Ready)
		return Reconnected
	}

	// Expected link drop, or an agent that died while the interface
	// flipped. Either way the only question left is whether the device
	// comes back.
	s.log.Infof("Transport lost during network switch, polling for recovery")
	s.setState(LinkDown)
	return s.pollReconnect()
}

// pollReconnect closes the stale transport and repeatedly attempts a fresh
// short-timeout connection until the poll window elapses.
func (s *Session) pollReconnect() SwitchResult {
	s.setState(Reconnecting)
	deadline := time.Now().Add(s.timing.PollTimeout)

	for time.Now().Before(deadline) {
		s.transport.Close()
		if err := s.transport.ConnectWithTimeout(s.timing.PollDial); err == nil {
			s.log.Infof("Device is back online")
			s.setState(Ready)
			return Reconnected
		}
		time.Sleep(s.timing.PollInterval)
	}

	s.log.Errorf("Timed out waiting for device to reconnect")
	s.setState(LinkDown)
	return SwitchFailed
}

// RunProbe runs the throughput probe on the device and returns the raw
// measurement text with the wire markers stripped.
func (s *Session) RunProbe() (string, error) {
	output, err := s.RunRemote("wifi", "iperf", map[string]string{
		"port": strconv.Itoa(s.config.ProbePort),
	}, s.timing.ProbeTimeout)
	if err != nil {
		return "", err
	}

	text, ok := output.ProbeText()
	if !ok {
		return "", errors.Wrapf(ErrAgentFailure, "probe output markers missing on %q", s.config.Name)
	}
	return text, nil
}

// InitReport initializes the incremental result report on the DUT and
// returns its remote path.
func (s *Session) InitReport(product string, address string) (string, error) {
	output, err := s.RunRemote("wifi", "init_report", map[string]string{
		"device_name": product,
		"ip_address":  address,
	}, s.timing.CommandTimeout)
	if err != nil {
		return "", err
	}

	path, ok := output.ReportPath()
	if !ok {
		return "", errors.Wrapf(ErrAgentFailure, "agent did not announce a report path on %q", s.config.Name)
	}
	return path, nil
}

// AddResult appends one measurement to the remote report. The probe text is
// base64-encoded so the line-oriented agent protocol survives arbitrary
// probe output.
func (s *Session) AddResult(reportPath string, band string, ssid string, standard string, channel int, probeText string) error {
	_, err := s.RunRemote("wifi", "add_result", map[string]string{
		"report_path":  reportPath,
		"band":         band,
		"ssid":         ssid,
		"standard":     "802." + standard,
		"channel":      strconv.Itoa(channel),
		"iperf_output": base64.StdEncoding.EncodeToString([]byte(probeText)),
	}, s.timing.CommandTimeout)
	return err
}

// FetchReport reads the remote report file back over the command channel.
func (s *Session) FetchReport(reportPath string) (string, error) {
	stdout, _, exitCode, err := s.transport.Run("cat "+reportPath, s.timing.CommandTimeout)
	if err != nil {
		return "", errors.Wrapf(err, "fetching report from %q failed", s.config.Name)
	}
	if exitCode != 0 {
		return "", errors.Errorf("fetching report %q from %q exited with %d", reportPath, s.config.Name, exitCode)
	}
	return stdout, nil
}

// PreventSleep disables power management on the DUT for the duration of a
// run. Best-effort: some agents do not implement it.
func (s *Session) PreventSleep() error {
	_, err := s.RunRemote("wifi", "prevent_sleep", nil, s.timing.CommandTimeout)
	return err
}

// AllowSleep restores DUT power management.
func (s *Session) AllowSleep() error {
	_, err := s.RunRemote("wifi", "allow_sleep", nil, s.timing.CommandTimeout)
	return err
}

// agentCommand frames a request for the remote agent:
// <plugin> <command> [--key value]... with keys emitted in stable order.
func (s *Session) agentCommand(plugin string, command string, args map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", s.config.Agent, plugin, command)

	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := args[key]
		if strings.ContainsAny(value, " \t") {
			fmt.Fprintf(&b, " --%s %q", key, value)
		} else {
			fmt.Fprintf(&b, " --%s %s", key, value)
		}
	}
	return b.String()
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}
