package scheduler

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/wifibench/wifibench/pkg/device"
	"github.com/wifibench/wifibench/pkg/matrix"
)

const senderSummary = `[ ID] Interval           Transfer     Bandwidth
[  4]   0.00-10.00  sec  64.2 MBytes  53.9 Mbits/sec                  sender`

type fakeSession struct {
	name string
	// block makes SwitchNetwork hang until the channel is closed.
	block chan struct{}
	// entered is closed when SwitchNetwork is first reached.
	entered   chan struct{}
	enterOnce sync.Once

	busy sync.Mutex

	mutex    sync.Mutex
	switches int
	added    int
}

func (f *fakeSession) Name() string        { return f.name }
func (f *fakeSession) State() device.State { return device.Ready }
func (f *fakeSession) TryAcquire() bool    { return f.busy.TryLock() }
func (f *fakeSession) Release()            { f.busy.Unlock() }

func (f *fakeSession) SwitchNetwork(ssid string, password string) device.SwitchResult {
	f.mutex.Lock()
	f.switches++
	f.mutex.Unlock()

	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		<-f.block
	}
	return device.Reconnected
}

func (f *fakeSession) RunProbe() (string, error) {
	return senderSummary, nil
}

func (f *fakeSession) AddResult(reportPath string, band string, ssid string, standard string, channel int, probeText string) error {
	f.mutex.Lock()
	f.added++
	f.mutex.Unlock()
	return nil
}

func TestSessionRunner(t *testing.T) {
	band := matrix.Band{Name: "2G", SSID: "QA_Test_2G", Password: "66668888"}
	cell := matrix.Cell{Band: "2G", Standard: "11n", Channel: 6}

	Convey("While driving one session through cells", t, func() {
		Convey("A successful cell yields a measurement with its coordinates", func() {
			session := &fakeSession{name: "a"}
			runner := NewSessionRunner(session, band, "/tmp/report-a.txt")

			m, err := runner.RunCell(cell)

			So(err, ShouldBeNil)
			So(m, ShouldNotBeNil)
			So(m.Bandwidth, ShouldAlmostEqual, 53.9)
			So(m.Band, ShouldEqual, "2G")
			So(m.Standard, ShouldEqual, "11n")
			So(m.Channel, ShouldEqual, 6)
			So(m.Device, ShouldEqual, "a")
			So(session.added, ShouldEqual, 1)
		})

		Convey("A session held by an overrunning worker sits the cell out", func() {
			session := &fakeSession{
				name:    "a",
				block:   make(chan struct{}),
				entered: make(chan struct{}),
			}
			runner := NewSessionRunner(session, band, "")

			finished := make(chan error, 1)
			go func() {
				_, err := runner.RunCell(cell)
				finished <- err
			}()
			<-session.entered

			_, err := runner.RunCell(matrix.Cell{Band: "2G", Standard: "11n", Channel: 11})

			So(errors.Cause(err), ShouldEqual, ErrSessionBusy)
			So(session.switches, ShouldEqual, 1)

			Convey("And becomes available again once the worker returns", func() {
				close(session.block)
				So(<-finished, ShouldBeNil)

				m, err := runner.RunCell(matrix.Cell{Band: "2G", Standard: "11n", Channel: 11})

				So(err, ShouldBeNil)
				So(m, ShouldNotBeNil)
				So(session.switches, ShouldEqual, 2)
			})
		})
	})
}
