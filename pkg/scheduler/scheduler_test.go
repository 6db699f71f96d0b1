package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/report"
)

type fakeRunner struct {
	name     string
	excluded bool
	delay    time.Duration
	err      error
	reading  *report.Measurement

	mutex sync.Mutex
	cells []matrix.Cell
}

func (f *fakeRunner) Name() string   { return f.name }
func (f *fakeRunner) Excluded() bool { return f.excluded }

func (f *fakeRunner) RunCell(cell matrix.Cell) (*report.Measurement, error) {
	f.mutex.Lock()
	f.cells = append(f.cells, cell)
	f.mutex.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.reading, f.err
}

func testConfig(workers int) Config {
	return Config{
		Workers:           workers,
		ConnectionTimeout: 20 * time.Millisecond,
		ProbeTimeout:      20 * time.Millisecond,
		DeadlineBuffer:    20 * time.Millisecond,
	}
}

func TestScheduler(t *testing.T) {
	cell := matrix.Cell{Band: "2G", Standard: "11n", Channel: 6}

	Convey("While running a cell across devices", t, func() {
		Convey("Every healthy device yields exactly one outcome", func() {
			runners := []Runner{
				&fakeRunner{name: "a", reading: &report.Measurement{Bandwidth: 80}},
				&fakeRunner{name: "b", err: errors.New("probe blew up")},
				&fakeRunner{name: "c", reading: &report.Measurement{Bandwidth: 60}},
			}

			outcomes, err := New(testConfig(0)).RunCell(cell, runners)

			So(err, ShouldBeNil)
			So(outcomes, ShouldHaveLength, 3)
			So(outcomes["a"].Measurement.Bandwidth, ShouldAlmostEqual, 80)
			So(outcomes["b"].Err, ShouldNotBeNil)
			So(outcomes["c"].Err, ShouldBeNil)
		})

		Convey("Excluded devices are not dispatched", func() {
			healthy := &fakeRunner{name: "a", reading: &report.Measurement{Bandwidth: 80}}
			dropped := &fakeRunner{name: "b", excluded: true}

			outcomes, err := New(testConfig(0)).RunCell(cell, []Runner{healthy, dropped})

			So(err, ShouldBeNil)
			So(outcomes, ShouldHaveLength, 1)
			So(dropped.cells, ShouldBeEmpty)
		})

		Convey("With every device excluded the run cannot continue", func() {
			outcomes, err := New(testConfig(0)).RunCell(cell, []Runner{
				&fakeRunner{name: "a", excluded: true},
				&fakeRunner{name: "b", excluded: true},
			})

			So(outcomes, ShouldBeNil)
			So(err, ShouldEqual, ErrNoActiveDevices)
		})

		Convey("A frozen device is recorded against the deadline without stalling the rest", func() {
			fast := &fakeRunner{name: "fast", reading: &report.Measurement{Bandwidth: 120}}
			frozen := &fakeRunner{name: "frozen", delay: 500 * time.Millisecond}

			start := time.Now()
			outcomes, err := New(testConfig(0)).RunCell(cell, []Runner{fast, frozen})

			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, 400*time.Millisecond)
			So(outcomes, ShouldHaveLength, 2)
			So(outcomes["fast"].Measurement.Bandwidth, ShouldAlmostEqual, 120)
			So(outcomes["frozen"].Err, ShouldEqual, ErrCellDeadline)
		})

		Convey("The worker cap bounds concurrency", func() {
			var inFlight, peak int32
			runners := make([]Runner, 6)
			for i := range runners {
				runners[i] = &countingRunner{name: string(rune('a' + i)), inFlight: &inFlight, peak: &peak}
			}

			outcomes, err := New(testConfig(2)).RunCell(cell, runners)

			So(err, ShouldBeNil)
			So(outcomes, ShouldHaveLength, 6)
			So(atomic.LoadInt32(&peak), ShouldBeLessThanOrEqualTo, 2)
		})
	})
}

type countingRunner struct {
	name     string
	inFlight *int32
	peak     *int32
}

func (c *countingRunner) Name() string   { return c.name }
func (c *countingRunner) Excluded() bool { return false }

func (c *countingRunner) RunCell(matrix.Cell) (*report.Measurement, error) {
	current := atomic.AddInt32(c.inFlight, 1)
	for {
		observed := atomic.LoadInt32(c.peak)
		if current <= observed || atomic.CompareAndSwapInt32(c.peak, observed, current) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(c.inFlight, -1)
	return &report.Measurement{Bandwidth: 10}, nil
}

func TestFailureTracker(t *testing.T) {
	Convey("While tracking device failures", t, func() {
		tracker := NewFailureTracker(3)

		Convey("A success resets the consecutive counter", func() {
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("a", true)

			So(tracker.Failures("a"), ShouldEqual, 0)
			So(tracker.Excluded("a"), ShouldBeFalse)
		})

		Convey("The threshold excludes only after consecutive failures", func() {
			So(tracker.RecordOutcome("a", false), ShouldBeFalse)
			So(tracker.RecordOutcome("a", false), ShouldBeFalse)
			So(tracker.RecordOutcome("a", false), ShouldBeTrue)
			So(tracker.Excluded("a"), ShouldBeTrue)
		})

		Convey("Exclusion is permanent", func() {
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("a", true)

			So(tracker.Excluded("a"), ShouldBeTrue)
		})

		Convey("Devices are tracked independently", func() {
			tracker.RecordOutcome("a", false)
			tracker.RecordOutcome("b", false)
			tracker.RecordOutcome("a", false)

			So(tracker.Failures("a"), ShouldEqual, 2)
			So(tracker.Failures("b"), ShouldEqual, 1)
			So(tracker.Excluded("a"), ShouldBeFalse)
		})
	})
}
