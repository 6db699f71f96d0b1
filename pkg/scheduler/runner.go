package scheduler

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/device"
	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/report"
)

// ErrSwitchFailed means the device never rejoined the network after the
// channel change.
var ErrSwitchFailed = errors.New("device did not rejoin the network")

// ErrSessionBusy means the worker of a previous cell overran its deadline
// and is still holding the session; the device sits this cell out.
var ErrSessionBusy = errors.New("session still busy with a previous cell")

// DeviceSession is the slice of a device session a runner drives.
// *device.Session satisfies it.
type DeviceSession interface {
	Name() string
	State() device.State
	TryAcquire() bool
	Release()
	SwitchNetwork(ssid string, password string) device.SwitchResult
	RunProbe() (string, error)
	AddResult(reportPath string, band string, ssid string, standard string, channel int, probeText string) error
}

// SessionRunner drives one device session through a cell: join the band's
// network, run the throughput probe, parse the reading and append it to
// the on-device report.
type SessionRunner struct {
	session DeviceSession
	band    matrix.Band
	// reportPath is the remote report file; empty disables result pushes.
	reportPath string
}

// NewSessionRunner binds a session to the band it will be tested on.
func NewSessionRunner(session DeviceSession, band matrix.Band, reportPath string) *SessionRunner {
	return &SessionRunner{session: session, band: band, reportPath: reportPath}
}

// Name returns the device identifier.
func (r *SessionRunner) Name() string {
	return r.session.Name()
}

// Excluded reports whether the device has been removed from the run.
func (r *SessionRunner) Excluded() bool {
	return r.session.State() == device.Excluded
}

// RunCell joins the cell's network and measures throughput. Appending the
// reading to the on-device report is best effort; a failed push is logged
// and does not fail the cell. A session whose previous worker has not
// returned yet is skipped with ErrSessionBusy rather than driven from two
// goroutines at once.
func (r *SessionRunner) RunCell(cell matrix.Cell) (*report.Measurement, error) {
	if !r.session.TryAcquire() {
		return nil, errors.Wrapf(ErrSessionBusy, "skipping %s on %q", cell, r.session.Name())
	}
	defer r.session.Release()

	if r.session.SwitchNetwork(r.band.SSID, r.band.Password) != device.Reconnected {
		return nil, errors.Wrapf(ErrSwitchFailed, "joining %q on %s", r.band.SSID, cell)
	}

	probeText, err := r.session.RunProbe()
	if err != nil {
		return nil, err
	}

	measurement := report.Parse(probeText)
	if measurement != nil {
		measurement.Band = cell.Band
		measurement.Standard = cell.Standard
		measurement.Channel = cell.Channel
		measurement.Device = r.session.Name()
	} else {
		log.Warnf("[%s] Probe output on %s carried no summary line", r.session.Name(), cell)
	}

	if r.reportPath != "" {
		err := r.session.AddResult(r.reportPath, cell.Band, r.band.SSID, cell.Standard, cell.Channel, probeText)
		if err != nil {
			log.Warnf("[%s] Appending result to on-device report failed: %v", r.session.Name(), err)
		}
	}

	return measurement, nil
}
