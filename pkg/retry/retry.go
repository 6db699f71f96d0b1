// Package retry provides an explicit retry policy used for operations that
// are expected to fail transiently: establishing SSH transport and polling
// an access point setting until it converges.
package retry

import (
	"time"

	"github.com/pkg/errors"
)

// Policy describes how many times an operation is attempted and how long to
// sleep between attempts. The backoff is fixed, not exponential: the remote
// ends here are embedded devices that recover on their own schedule and
// hammering them faster does not help.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Do runs op up to MaxAttempts times, sleeping Backoff between attempts.
// It returns nil on the first success, otherwise the last error wrapped
// with the attempt count.
func (p Policy) Do(op func() error) error {
	if p.MaxAttempts < 1 {
		return errors.New("retry policy requires at least one attempt")
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt < p.MaxAttempts {
			time.Sleep(p.Backoff)
		}
	}

	return errors.Wrapf(lastErr, "operation failed after %d attempts", p.MaxAttempts)
}
