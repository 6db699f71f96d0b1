// Package ap owns all reads and writes of the shared access point radios.
// The radio is a single physical resource: every configuration change goes
// through one Controller and sessions are never held open across the
// write-then-poll cycle, because a `wifi reload` may tear the control
// channel down together with the radio.
package ap

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/retry"
	"github.com/wifibench/wifibench/pkg/utils/errcollection"
)

// ErrVerificationTimeout is returned when a written setting never shows up
// on read-back. Commit success does not imply the setting is live; polling
// the value back is the only convergence signal OpenWrt gives us.
var ErrVerificationTimeout = errors.New("access point setting did not converge")

// Setting is a single UCI-style key/value pair on a radio.
// An empty Value deletes the option.
type Setting struct {
	Name  string
	Value string
}

// Radio identifies one physical radio on the access point.
type Radio struct {
	// Band is "2G" or "5G".
	Band string
	// Device is the UCI section name, e.g. "mt798111".
	Device string
}

// Commander is a single short-lived control session on the access point.
type Commander interface {
	// Run executes the command and returns its stdout. A transport failure
	// or non-zero exit is reported as an error.
	Run(command string) (string, error)
	Close() error
}

// SessionFactory opens a fresh control session. Implementations retry the
// transport connect internally; a returned error is final.
type SessionFactory func() (Commander, error)

// Options tune the safe-switch algorithm.
type Options struct {
	// MaxCheckAttempts bounds the read-back poll after a write.
	MaxCheckAttempts int
	// CheckInterval is the fixed sleep between read-back attempts.
	CheckInterval time.Duration
	// ApplyDelay is the debounce after `wifi reload` before the first
	// read-back, giving the radio time to cycle.
	ApplyDelay time.Duration
}

// DefaultOptions returns the safe-switch parameters used in the lab.
func DefaultOptions() Options {
	return Options{
		MaxCheckAttempts: 15,
		CheckInterval:    4 * time.Second,
		ApplyDelay:       15 * time.Second,
	}
}

// Controller issues configuration changes to the access point and verifies
// convergence via read-back polling. It exclusively owns the AP control
// channel; there are never concurrent writers.
type Controller struct {
	open    SessionFactory
	radios  []Radio
	options Options
}

// NewController returns a Controller managing the given radios.
func NewController(open SessionFactory, radios []Radio, options Options) *Controller {
	return &Controller{open: open, radios: radios, options: options}
}

// Apply writes a single wireless setting and polls until the read-back
// matches. Returns ErrVerificationTimeout when the poll is exhausted.
// A successful Apply necessarily disconnects every client joined to the
// radio; callers must treat that as part of the contract, not an error.
func (c *Controller) Apply(device string, name string, value string) error {
	return c.safeSwitch(device, []Setting{{Name: name, Value: value}}, Setting{Name: name, Value: value})
}

// ApplyStandard switches a radio to the named 802.11 standard and verifies
// convergence on the htmode option, the last one the driver picks up.
func (c *Controller) ApplyStandard(band string, device string, standard string) error {
	mode, ok := lookupMode(band, standard)
	if !ok {
		return errors.Errorf("unsupported standard %q for %s band", standard, band)
	}

	return c.safeSwitch(device, mode.settings(), Setting{Name: "htmode", Value: mode.HTMode})
}

// Read returns the current value of a wireless setting.
func (c *Controller) Read(device string, name string) (string, error) {
	session, err := c.open()
	if err != nil {
		return "", err
	}
	defer session.Close()

	return c.read(session, device, name)
}

func (c *Controller) read(session Commander, device string, name string) (string, error) {
	output, err := session.Run(fmt.Sprintf("uci get wireless.%s.%s", device, name))
	if err != nil {
		return "", errors.Wrapf(err, "reading wireless.%s.%s failed", device, name)
	}
	return strings.TrimSpace(output), nil
}

// safeSwitch opens a fresh session, issues the writes, commits, reloads the
// radio and closes the session before anything else happens: the reload may
// interrupt the channel itself. Convergence is then confirmed by polling
// the setting back on fresh sessions.
func (c *Controller) safeSwitch(device string, settings []Setting, verify Setting) error {
	session, err := c.open()
	if err != nil {
		return err
	}

	for _, setting := range settings {
		var cmd string
		if setting.Value == "" {
			cmd = fmt.Sprintf("uci delete wireless.%s.%s", device, setting.Name)
		} else {
			cmd = fmt.Sprintf("uci set wireless.%s.%s=%s", device, setting.Name, setting.Value)
		}
		if _, err := session.Run(cmd); err != nil {
			// `uci delete` of an absent option complains; that is fine.
			if setting.Value == "" {
				continue
			}
			session.Close()
			return errors.Wrapf(err, "writing wireless.%s.%s failed", device, setting.Name)
		}
	}

	if _, err := session.Run("uci commit wireless"); err != nil {
		session.Close()
		return errors.Wrap(err, "committing wireless config failed")
	}
	if _, err := session.Run("wifi reload"); err != nil {
		log.Debugf("wifi reload on %s reported: %v", device, err)
	}
	session.Close()

	time.Sleep(c.options.ApplyDelay)

	return c.verify(device, verify)
}

// verify polls the setting back until it matches exactly. The comparison is
// exact string equality; "auto" and an empty read are different values.
func (c *Controller) verify(device string, expected Setting) error {
	policy := retry.Policy{MaxAttempts: c.options.MaxCheckAttempts, Backoff: c.options.CheckInterval}

	err := policy.Do(func() error {
		session, err := c.open()
		if err != nil {
			return err
		}
		defer session.Close()

		current, err := c.read(session, device, expected.Name)
		if err != nil {
			return err
		}
		if current != expected.Value {
			return errors.Errorf("wireless.%s.%s is %q, want %q", device, expected.Name, current, expected.Value)
		}

		log.Debugf("Verified wireless.%s.%s=%q", device, expected.Name, expected.Value)
		return nil
	})

	if err != nil {
		log.Debugf("Read-back of wireless.%s.%s gave up: %v", device, expected.Name, err)
		return errors.Wrapf(ErrVerificationTimeout,
			"wireless.%s.%s never reached %q within %d attempts",
			device, expected.Name, expected.Value, c.options.MaxCheckAttempts)
	}
	return nil
}

// ResetToAuto restores every managed radio to automatic channel selection
// and its maximum-compatibility standard. Best-effort: it is called from
// cleanup paths where the AP may already be unreachable, so all radios are
// attempted and the errors are collected rather than short-circuited.
func (c *Controller) ResetToAuto() error {
	session, err := c.open()
	if err != nil {
		return err
	}
	defer session.Close()

	var errs errcollection.ErrorCollection
	for _, radio := range c.radios {
		if _, err := session.Run(fmt.Sprintf("uci set wireless.%s.channel=auto", radio.Device)); err != nil {
			errs.Add(errors.Wrapf(err, "resetting channel on %s failed", radio.Device))
			continue
		}
		for _, setting := range defaultMode(radio.Band).settings() {
			var cmd string
			if setting.Value == "" {
				cmd = fmt.Sprintf("uci delete wireless.%s.%s", radio.Device, setting.Name)
			} else {
				cmd = fmt.Sprintf("uci set wireless.%s.%s=%s", radio.Device, setting.Name, setting.Value)
			}
			if _, err := session.Run(cmd); err != nil && setting.Value != "" {
				errs.Add(errors.Wrapf(err, "resetting %s on %s failed", setting.Name, radio.Device))
			}
		}
	}

	if _, err := session.Run("uci commit wireless"); err != nil {
		errs.Add(errors.Wrap(err, "committing wireless config failed"))
	}
	if _, err := session.Run("wifi reload"); err != nil {
		log.Debugf("wifi reload during reset reported: %v", err)
	}

	return errs.GetErrIfAny()
}
