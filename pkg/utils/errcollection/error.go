package errcollection

import (
	"strings"

	"github.com/pkg/errors"
)

const delimiter = "; "

// ErrorCollection gathers errors from a multi-step operation that should
// not stop at the first failure, such as tearing down every session during
// cleanup. It combines the collected messages into a single error.
type ErrorCollection struct {
	errorList []error
}

// Add inserts a new error into the collection. Nil errors are ignored.
func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.errorList = append(e.errorList, err)
	}
}

// GetErrIfAny returns one error combining the messages of all collected
// errors, or nil when none were added.
func (e *ErrorCollection) GetErrIfAny() error {
	if len(e.errorList) == 0 {
		return nil
	}

	messages := make([]string, 0, len(e.errorList))
	for _, err := range e.errorList {
		messages = append(messages, err.Error())
	}
	return errors.New(strings.Join(messages, delimiter))
}
