package device

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/wifibench/wifibench/pkg/retry"
)

// fakeTransport scripts the command channel of a DUT.
type fakeTransport struct {
	commands []string
	// run produces the response for the next command.
	run func(command string) (string, string, int, error)

	connectErrs  []error // consumed by Connect/ConnectWithTimeout, nil afterwards
	connectCalls int
	closed       int
}

func (f *fakeTransport) nextConnectErr() error {
	f.connectCalls++
	if len(f.connectErrs) == 0 {
		return nil
	}
	err := f.connectErrs[0]
	f.connectErrs = f.connectErrs[1:]
	return err
}

func (f *fakeTransport) Connect() error                         { return f.nextConnectErr() }
func (f *fakeTransport) ConnectWithTimeout(time.Duration) error { return f.nextConnectErr() }
func (f *fakeTransport) Connected() bool                        { return true }
func (f *fakeTransport) Close() error                           { f.closed++; return nil }

func (f *fakeTransport) Run(command string, timeout time.Duration) (string, string, int, error) {
	f.commands = append(f.commands, command)
	return f.run(command)
}

func testTiming() Timing {
	return Timing{
		ConnectRetry:   retry.Policy{MaxAttempts: 3, Backoff: time.Millisecond},
		CommandTimeout: time.Second,
		SwitchTimeout:  time.Second,
		ProbeTimeout:   time.Second,
		PollInterval:   time.Millisecond,
		PollTimeout:    20 * time.Millisecond,
		PollDial:       time.Millisecond,
	}
}

func testSession(fake *fakeTransport) *Session {
	s := NewSession(Config{Name: "laptop-a", Agent: "cd /tmp/agent && ./agent", ProbePort: 5201}, testTiming())
	s.transport = fake
	s.state = Ready
	return s
}

func TestSessionConnect(t *testing.T) {
	Convey("While connecting a device session", t, func() {
		Convey("Transient dial failures are retried until success", func() {
			fake := &fakeTransport{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
			session := testSession(fake)
			session.state = Disconnected

			err := session.Connect()

			So(err, ShouldBeNil)
			So(session.State(), ShouldEqual, Ready)
			So(fake.connectCalls, ShouldEqual, 3)
		})

		Convey("Exhausted retries leave the session disconnected", func() {
			fake := &fakeTransport{connectErrs: []error{
				errors.New("refused"), errors.New("refused"), errors.New("refused"),
			}}
			session := testSession(fake)
			session.state = Disconnected

			err := session.Connect()

			So(err, ShouldNotBeNil)
			So(session.State(), ShouldEqual, Disconnected)
		})

		Convey("An excluded session refuses to connect", func() {
			session := testSession(&fakeTransport{})
			session.Exclude()

			So(session.Connect(), ShouldEqual, ErrExcluded)
			So(session.State(), ShouldEqual, Excluded)
		})
	})
}

func TestSessionRunRemote(t *testing.T) {
	Convey("While running remote agent commands", t, func() {
		Convey("The request is framed as plugin, command and sorted --key value pairs", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "RESULT:SUCCESS", "", 0, nil
			}}
			session := testSession(fake)

			_, err := session.RunRemote("wifi", "connect", map[string]string{
				"ssid":     "QA_Test_2G",
				"password": "66668888",
				"cleanup":  "true",
			}, time.Second)

			So(err, ShouldBeNil)
			So(fake.commands, ShouldHaveLength, 1)
			So(fake.commands[0], ShouldEqual,
				"cd /tmp/agent && ./agent wifi connect --cleanup true --password 66668888 --ssid QA_Test_2G")
		})

		Convey("Non-zero exit is a failure even when stdout claims success", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "RESULT:SUCCESS", "boom", 1, nil
			}}
			session := testSession(fake)

			_, err := session.RunRemote("wifi", "iperf", nil, time.Second)

			So(errors.Cause(err), ShouldEqual, ErrAgentFailure)
		})

		Convey("A failure sentinel is a failure despite exit zero", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "could not join\nRESULT:FAILURE", "", 0, nil
			}}
			session := testSession(fake)

			_, err := session.RunRemote("wifi", "connect", nil, time.Second)

			So(errors.Cause(err), ShouldEqual, ErrAgentFailure)
		})

		Convey("A transport error is surfaced as-is, not as an agent failure", func() {
			transportErr := errors.New("connection reset")
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "", "", 0, transportErr
			}}
			session := testSession(fake)

			_, err := session.RunRemote("wifi", "iperf", nil, time.Second)

			So(err, ShouldNotBeNil)
			So(errors.Cause(err), ShouldEqual, transportErr)
		})
	})
}

func TestSessionSwitchNetwork(t *testing.T) {
	Convey("While switching the DUT network", t, func() {
		Convey("A clean join without link drop reports Reconnected", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "RESULT:SUCCESS", "", 0, nil
			}}
			session := testSession(fake)

			So(session.SwitchNetwork("QA_Test_2G", "pw"), ShouldEqual, Reconnected)
			So(session.State(), ShouldEqual, Ready)
		})

		Convey("A link drop followed by successful poll reports Reconnected", func() {
			fake := &fakeTransport{
				run: func(string) (string, string, int, error) {
					return "", "", 0, errors.New("connection lost")
				},
				// First reconnect attempt fails, second succeeds.
				connectErrs: []error{errors.New("still down")},
			}
			session := testSession(fake)

			So(session.SwitchNetwork("QA_Test_2G", "pw"), ShouldEqual, Reconnected)
			So(session.State(), ShouldEqual, Ready)
			So(fake.connectCalls, ShouldEqual, 2)
		})

		Convey("A device that never comes back reports SwitchFailed and LinkDown", func() {
			down := make([]error, 64)
			for i := range down {
				down[i] = errors.New("still down")
			}
			fake := &fakeTransport{
				run: func(string) (string, string, int, error) {
					return "", "", 0, errors.New("connection lost")
				},
				connectErrs: down,
			}
			session := testSession(fake)

			So(session.SwitchNetwork("QA_Test_2G", "pw"), ShouldEqual, SwitchFailed)
			So(session.State(), ShouldEqual, LinkDown)
		})
	})
}

func TestSessionProbeAndReport(t *testing.T) {
	Convey("While driving the throughput probe and remote report", t, func() {
		Convey("Probe output is extracted from between the wire markers", func() {
			raw := strings.Join([]string{
				"RESULT:SUCCESS",
				"IPERF_OUTPUT_START",
				"[  4]   0.00-10.00  sec  64.2 MBytes  53.9 Mbits/sec                  sender",
				"IPERF_OUTPUT_END",
			}, "\n")
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return raw, "", 0, nil
			}}
			session := testSession(fake)

			text, err := session.RunProbe()

			So(err, ShouldBeNil)
			So(text, ShouldContainSubstring, "53.9 Mbits/sec")
			So(text, ShouldNotContainSubstring, "IPERF_OUTPUT")
			So(fake.commands[0], ShouldContainSubstring, "wifi iperf --port 5201")
		})

		Convey("Probe success without markers is an agent failure", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "RESULT:SUCCESS", "", 0, nil
			}}
			session := testSession(fake)

			_, err := session.RunProbe()

			So(errors.Cause(err), ShouldEqual, ErrAgentFailure)
		})

		Convey("InitReport returns the announced remote path", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "REPORT_PATH: /tmp/agent/reports/laptop-a.html\nRESULT:SUCCESS", "", 0, nil
			}}
			session := testSession(fake)

			path, err := session.InitReport("Laptop_Dell", "192.168.50.178")

			So(err, ShouldBeNil)
			So(path, ShouldEqual, "/tmp/agent/reports/laptop-a.html")
		})

		Convey("AddResult encodes the probe text and formats the standard", func() {
			fake := &fakeTransport{run: func(string) (string, string, int, error) {
				return "RESULT:SUCCESS", "", 0, nil
			}}
			session := testSession(fake)

			err := session.AddResult("/tmp/r.html", "2.4 GHz", "QA_Test_2G", "11n", 6, "raw probe text")

			So(err, ShouldBeNil)
			So(fake.commands[0], ShouldContainSubstring, "--standard 802.11n")
			So(fake.commands[0], ShouldContainSubstring, "--channel 6")
			So(fake.commands[0], ShouldNotContainSubstring, "raw probe text")
		})
	})
}

func TestSessionOwnership(t *testing.T) {
	Convey("While claiming a session for a worker", t, func() {
		session := testSession(&fakeTransport{})

		Convey("Only one worker can hold the session at a time", func() {
			So(session.TryAcquire(), ShouldBeTrue)
			So(session.TryAcquire(), ShouldBeFalse)

			Convey("And a release hands it to the next worker", func() {
				session.Release()
				So(session.TryAcquire(), ShouldBeTrue)
			})
		})
	})
}
