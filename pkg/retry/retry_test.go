package retry

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPolicy(t *testing.T) {
	Convey("While using retry Policy", t, func() {
		policy := Policy{MaxAttempts: 3, Backoff: time.Millisecond}

		Convey("Operation succeeding immediately is attempted once", func() {
			attempts := 0
			err := policy.Do(func() error {
				attempts++
				return nil
			})

			So(err, ShouldBeNil)
			So(attempts, ShouldEqual, 1)
		})

		Convey("Operation succeeding on the last attempt returns nil", func() {
			attempts := 0
			err := policy.Do(func() error {
				attempts++
				if attempts < 3 {
					return errors.New("transient")
				}
				return nil
			})

			So(err, ShouldBeNil)
			So(attempts, ShouldEqual, 3)
		})

		Convey("Operation that never succeeds is attempted exactly MaxAttempts times", func() {
			attempts := 0
			err := policy.Do(func() error {
				attempts++
				return errors.New("broken")
			})

			So(err, ShouldNotBeNil)
			So(attempts, ShouldEqual, 3)
			So(err.Error(), ShouldContainSubstring, "after 3 attempts")
		})

		Convey("Policy without attempts is rejected", func() {
			err := Policy{}.Do(func() error { return nil })
			So(err, ShouldNotBeNil)
		})
	})
}
