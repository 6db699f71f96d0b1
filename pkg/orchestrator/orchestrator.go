// Package orchestrator drives a full matrix run: one cell at a time on the
// shared access point, each cell fanned out to every healthy device, with a
// checkpoint after every attempted cell so an interrupted run can resume.
package orchestrator

import (
	"context"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/checkpoint"
	"github.com/wifibench/wifibench/pkg/device"
	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/metrics"
	"github.com/wifibench/wifibench/pkg/report"
	"github.com/wifibench/wifibench/pkg/scheduler"
	"github.com/wifibench/wifibench/pkg/utils/errcollection"
)

// AccessPoint is the control surface of the shared router.
type AccessPoint interface {
	ApplyStandard(band string, device string, standard string) error
	Apply(device string, name string, value string) error
	ResetToAuto() error
}

// DeviceHandle is the orchestrator's view of one DUT session.
type DeviceHandle interface {
	scheduler.DeviceSession
	Connect() error
	Close() error
	Exclude()
	PreventSleep() error
	AllowSleep() error
	InitReport(product string, address string) (string, error)
	FetchReport(reportPath string) (string, error)
}

// CellScheduler fans one cell out to the devices.
type CellScheduler interface {
	RunCell(cell matrix.Cell, runners []scheduler.Runner) (map[string]scheduler.Outcome, error)
}

// DeviceEntry pairs a session with its report metadata.
type DeviceEntry struct {
	Handle DeviceHandle
	// Product is the hardware name written into the on-device report.
	Product string
}

// Config parametrizes one run.
type Config struct {
	Matrix *matrix.Matrix
	// Radios maps band names to the UCI radio sections serving them.
	Radios map[string]string
	// SettleDelay is the pause before testing a new band, letting drivers
	// on both ends finish their own band-change housekeeping.
	SettleDelay time.Duration
	// Resume continues from the last checkpointed cell instead of the top.
	Resume bool
	// ReportAddress is the probe server address written into device reports.
	ReportAddress string
	// OutputDir receives the fetched per-device report files.
	OutputDir string
}

// DefaultSettleDelay is the pause used in the lab before switching bands.
const DefaultSettleDelay = 30 * time.Second

// Orchestrator owns the sequential walk over the matrix. It is the single
// writer of the access point and the single reader of scheduler outcomes.
type Orchestrator struct {
	config      Config
	accessPoint AccessPoint
	scheduler   CellScheduler
	tracker     *scheduler.FailureTracker
	store       *checkpoint.Store
	devices     []DeviceEntry
	results     *report.Results
	reportPaths map[string]string
	runName     string
	log         *logrus.Entry
}

// New assembles an orchestrator. The run name is derived from the start
// time and a fresh UUID, and prefixes every fetched report file.
func New(config Config, accessPoint AccessPoint, cellScheduler CellScheduler,
	tracker *scheduler.FailureTracker, store *checkpoint.Store, devices []DeviceEntry) *Orchestrator {

	runName := newRunName()
	return &Orchestrator{
		config:      config,
		accessPoint: accessPoint,
		scheduler:   cellScheduler,
		tracker:     tracker,
		store:       store,
		devices:     devices,
		results:     report.NewResults(),
		reportPaths: map[string]string{},
		runName:     runName,
		log:         logrus.WithField("run", runName),
	}
}

func newRunName() string {
	id, err := uuid.NewV4()
	if err != nil {
		return time.Now().Format("2006-01-02T15h04m05s")
	}
	return time.Now().Format("2006-01-02T15h04m05s_") + id.String()
}

// Results returns the accumulated result set. Valid at any point; after an
// interrupted run it holds everything recorded so far.
func (o *Orchestrator) Results() *report.Results {
	return o.results
}

// Run walks the matrix to completion. It returns the context error on
// cancellation and scheduler.ErrNoActiveDevices when every device has been
// lost; both leave the checkpoint in place so the run can be resumed.
// The access point is restored to automatic channel selection on every
// exit path.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.connectDevices(); err != nil {
		return err
	}
	defer o.cleanup()

	o.initReports()

	cells := o.config.Matrix.Cells()
	if o.config.Resume {
		if last := o.store.Load(); last != nil {
			cursor := matrix.Cell{Band: last.Band, Standard: last.Standard, Channel: last.Channel}
			cells = matrix.Resume(cells, cursor)
			o.log.Infof("Resuming from %s, %d cell(s) remaining", cursor, len(cells))
		}
	}

	var currentBand, currentStandard string
	standardConfirmed := false

	for _, cell := range cells {
		select {
		case <-ctx.Done():
			o.log.Warn("Run interrupted, checkpoint kept for resume")
			return ctx.Err()
		default:
		}

		band, ok := o.config.Matrix.Band(cell.Band)
		if !ok {
			return errors.Errorf("cell %s references an unknown band", cell)
		}
		radio := o.config.Radios[cell.Band]

		if cell.Band != currentBand {
			if currentBand != "" && o.config.SettleDelay > 0 {
				o.log.Infof("Letting the testbed settle for %s before the %s band", o.config.SettleDelay, cell.Band)
				time.Sleep(o.config.SettleDelay)
			}
			currentBand = cell.Band
			currentStandard = ""
		}

		if cell.Standard != currentStandard {
			err := o.accessPoint.ApplyStandard(cell.Band, radio, cell.Standard)
			currentStandard = cell.Standard
			standardConfirmed = err == nil
			if err != nil {
				o.log.Errorf("Switching %s to %s failed: %v", radio, cell.Standard, err)
			}
		}

		switch {
		case !standardConfirmed:
			o.skipCell(cell, "standard switch not confirmed by the access point")
		default:
			// Any failure to land the channel, convergence timeout or
			// transport trouble alike, skips just this cell. Only losing
			// every device or an operator interrupt ends the run.
			if err := o.accessPoint.Apply(radio, "channel", strconv.Itoa(cell.Channel)); err != nil {
				o.log.Errorf("Switching %s to channel %d failed: %v", radio, cell.Channel, err)
				o.skipCell(cell, "channel switch not confirmed by the access point")
			} else if err := o.runCell(cell, band); err != nil {
				return err
			}
		}

		o.saveCheckpoint(cell)
	}

	if err := o.store.Clear(); err != nil {
		o.log.Warnf("Clearing checkpoint failed: %v", err)
	}
	o.fetchReports()
	return nil
}

// connectDevices brings up every session, excluding devices that never
// answer. The run only aborts when no device at all is reachable.
func (o *Orchestrator) connectDevices() error {
	healthy := 0
	for _, entry := range o.devices {
		if err := entry.Handle.Connect(); err != nil {
			o.log.Errorf("[%s] Unreachable at run start, excluding: %v", entry.Handle.Name(), err)
			entry.Handle.Exclude()
			metrics.DeviceExclusions.Inc()
			continue
		}
		if err := entry.Handle.PreventSleep(); err != nil {
			o.log.Warnf("[%s] Could not inhibit sleep: %v", entry.Handle.Name(), err)
		}
		healthy++
	}
	if healthy == 0 {
		return scheduler.ErrNoActiveDevices
	}
	return nil
}

// initReports creates the incremental on-device reports. Failures disable
// the push for that device without failing the run.
func (o *Orchestrator) initReports() {
	for _, entry := range o.devices {
		if entry.Handle.State() == device.Excluded {
			continue
		}
		reportPath, err := entry.Handle.InitReport(entry.Product, o.config.ReportAddress)
		if err != nil {
			o.log.Warnf("[%s] On-device report unavailable: %v", entry.Handle.Name(), err)
			continue
		}
		o.reportPaths[entry.Handle.Name()] = reportPath
	}
}

func (o *Orchestrator) runCell(cell matrix.Cell, band matrix.Band) error {
	runners := make([]scheduler.Runner, 0, len(o.devices))
	for _, entry := range o.devices {
		runners = append(runners,
			scheduler.NewSessionRunner(entry.Handle, band, o.reportPaths[entry.Handle.Name()]))
	}

	metrics.CellsTested.Inc()
	outcomes, err := o.scheduler.RunCell(cell, runners)
	if err != nil {
		return err
	}

	for _, entry := range o.devices {
		if outcome, tested := outcomes[entry.Handle.Name()]; tested {
			o.recordOutcome(cell, outcome, entry.Handle)
		}
	}
	return nil
}

func (o *Orchestrator) recordOutcome(cell matrix.Cell, outcome scheduler.Outcome, handle DeviceHandle) {
	if outcome.Err != nil {
		o.results.AddFailure(cell.Band, cell.Standard, cell.Channel, outcome.Device, outcome.Err.Error())
		metrics.DeviceFailures.WithLabelValues(outcome.Device).Inc()
		if o.tracker.RecordOutcome(outcome.Device, false) {
			o.log.Warnf("[%s] Excluded after %d consecutive failures", outcome.Device, o.tracker.Failures(outcome.Device))
			handle.Exclude()
			metrics.DeviceExclusions.Inc()
		}
		return
	}

	o.tracker.RecordOutcome(outcome.Device, true)
	if outcome.Measurement == nil {
		// The probe ran but produced nothing parsable. Counts as a missing
		// reading, not as a device failure.
		o.results.AddFailure(cell.Band, cell.Standard, cell.Channel, outcome.Device, "probe output carried no summary line")
		return
	}

	o.results.AddMeasurement(*outcome.Measurement)
	metrics.Bandwidth.WithLabelValues(outcome.Device, cell.Band, cell.Standard).Set(outcome.Measurement.Bandwidth)
}

// skipCell records one unattempted cell for every healthy device. Skips do
// not touch the per-device failure counters; the devices did nothing wrong.
func (o *Orchestrator) skipCell(cell matrix.Cell, reason string) {
	o.log.Warnf("Skipping %s: %s", cell, reason)
	metrics.CellsSkipped.Inc()
	for _, entry := range o.devices {
		if entry.Handle.State() != device.Excluded {
			o.results.AddFailure(cell.Band, cell.Standard, cell.Channel, entry.Handle.Name(), "skipped: "+reason)
		}
	}
}

func (o *Orchestrator) saveCheckpoint(cell matrix.Cell) {
	record := checkpoint.Record{
		Timestamp: time.Now(),
		Device:    o.runName,
		Band:      cell.Band,
		Standard:  cell.Standard,
		Channel:   cell.Channel,
	}
	if err := o.store.Save(record); err != nil {
		o.log.Warnf("Saving checkpoint after %s failed: %v", cell, err)
	}
}

// fetchReports copies the on-device reports into the output directory.
func (o *Orchestrator) fetchReports() {
	if len(o.reportPaths) == 0 {
		return
	}
	if err := os.MkdirAll(o.config.OutputDir, 0755); err != nil {
		o.log.Errorf("Creating output directory %q failed: %v", o.config.OutputDir, err)
		return
	}

	for _, entry := range o.devices {
		reportPath, tracked := o.reportPaths[entry.Handle.Name()]
		if !tracked || entry.Handle.State() == device.Excluded {
			continue
		}
		content, err := entry.Handle.FetchReport(reportPath)
		if err != nil {
			o.log.Warnf("[%s] Fetching report failed: %v", entry.Handle.Name(), err)
			continue
		}
		target := path.Join(o.config.OutputDir, o.runName+"_"+entry.Handle.Name()+".txt")
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			o.log.Warnf("[%s] Writing report to %q failed: %v", entry.Handle.Name(), target, err)
			continue
		}
		o.log.Infof("[%s] Report saved to %s", entry.Handle.Name(), target)
	}
}

// cleanup restores the access point and releases every session. Called on
// every exit path, including interrupts; the testbed must never be left on
// a pinned channel.
func (o *Orchestrator) cleanup() {
	var errs errcollection.ErrorCollection

	if err := o.accessPoint.ResetToAuto(); err != nil {
		errs.Add(errors.Wrap(err, "restoring access point defaults failed"))
	}
	for _, entry := range o.devices {
		if err := entry.Handle.AllowSleep(); err != nil {
			o.log.Debugf("[%s] Re-enabling sleep failed: %v", entry.Handle.Name(), err)
		}
		if err := entry.Handle.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "closing session to %q failed", entry.Handle.Name()))
		}
	}

	if err := errs.GetErrIfAny(); err != nil {
		o.log.Errorf("Cleanup finished with errors: %v", err)
	}
}
