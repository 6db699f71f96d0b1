package errutil

import (
	"github.com/sirupsen/logrus"
)

// Check logs the supplied error with its stack trace at debug level and
// exits if it is non-nil.
func Check(err error) {
	if err != nil {
		logrus.Debugf("%+v", err)
		logrus.Fatalf("%v", err)
	}
}

// CheckWithContext behaves like Check and logs additional context.
func CheckWithContext(err error, context string) {
	if err != nil {
		logrus.Debugf("%s: %+v", context, err)
		logrus.Fatalf("%s: %v", context, err)
	}
}
