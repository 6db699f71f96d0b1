package ap

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wifibench/wifibench/pkg/executor"
	"github.com/wifibench/wifibench/pkg/retry"
)

// NewSSHSessionFactory builds the production SessionFactory: each call dials
// a fresh ssh connection to the access point, retrying the transport with
// the given policy before giving up.
func NewSSHSessionFactory(config executor.SSHConfig, connect retry.Policy, commandTimeout time.Duration) SessionFactory {
	return func() (Commander, error) {
		remote := executor.NewRemote(config)
		err := connect.Do(remote.Connect)
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to access point %q failed", config.Address())
		}
		return &sshCommander{remote: remote, timeout: commandTimeout}, nil
	}
}

// sshCommander adapts executor.Remote to the Commander contract.
type sshCommander struct {
	remote  *executor.Remote
	timeout time.Duration
}

func (s *sshCommander) Run(command string) (string, error) {
	stdout, stderr, exitCode, err := s.remote.Run(command, s.timeout)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", errors.Errorf("command %q exited with %d: %s", command, exitCode, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (s *sshCommander) Close() error {
	return s.remote.Close()
}
