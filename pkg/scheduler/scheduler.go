// Package scheduler fans one matrix cell out to all healthy devices in
// parallel. Each channel write on the access point is a single shared,
// expensive, disruptive operation; running every device against it in one
// pass amortizes that cost, and a bounded wait keeps one frozen device
// from stalling the rest.
package scheduler

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/report"
)

var (
	// ErrNoActiveDevices means every device has been excluded; the run
	// cannot continue and the caller must abort.
	ErrNoActiveDevices = errors.New("no active devices remain")
	// ErrCellDeadline marks a device that did not finish within the cell
	// deadline. Treated like an agent failure for exclusion purposes.
	ErrCellDeadline = errors.New("device did not finish within the cell deadline")
)

// Runner is the per-device test routine for one cell.
type Runner interface {
	// Name returns the device identifier.
	Name() string
	// Excluded reports whether the device has been removed from the run.
	Excluded() bool
	// RunCell joins the cell's network, runs the probe and returns the
	// parsed measurement. A nil measurement with nil error means the probe
	// ran but its output was unparsable.
	RunCell(cell matrix.Cell) (*report.Measurement, error)
}

// Outcome is the per-device result of one cell.
type Outcome struct {
	Device      string
	Measurement *report.Measurement
	Err         error
}

// Config bounds a cell run.
type Config struct {
	// Workers caps the worker pool; zero means one worker per device.
	Workers int
	// ConnectionTimeout and ProbeTimeout are the per-device budgets the
	// cell deadline is derived from.
	ConnectionTimeout time.Duration
	ProbeTimeout      time.Duration
	// DeadlineBuffer is the fixed slack added on top.
	DeadlineBuffer time.Duration
}

// DefaultConfig returns the lab defaults.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 30 * time.Second,
		ProbeTimeout:      30 * time.Second,
		DeadlineBuffer:    30 * time.Second,
	}
}

// Scheduler runs one cell across all healthy devices concurrently.
type Scheduler struct {
	config Config
}

// New returns a scheduler with the given bounds.
func New(config Config) *Scheduler {
	return &Scheduler{config: config}
}

// deadline is the single wait budget for a whole cell. With fewer workers
// than devices the dispatch happens in waves, and each wave gets the full
// per-device budget.
func (s *Scheduler) deadline(devices int, workers int) time.Duration {
	waves := (devices + workers - 1) / workers
	perWave := s.config.ConnectionTimeout + s.config.ProbeTimeout + s.config.DeadlineBuffer
	return time.Duration(waves) * perWave
}

// RunCell dispatches the cell to every non-excluded runner and waits for
// all of them up to a single deadline. It always returns exactly one
// outcome per selected device: workers still running at the deadline are
// recorded as ErrCellDeadline and their eventual results are discarded.
// The underlying remote processes are not forcibly killed.
func (s *Scheduler) RunCell(cell matrix.Cell, runners []Runner) (map[string]Outcome, error) {
	var active []Runner
	for _, runner := range runners {
		if !runner.Excluded() {
			active = append(active, runner)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoActiveDevices
	}
	if excluded := len(runners) - len(active); excluded > 0 {
		log.Warnf("%d device(s) excluded due to persistent failures", excluded)
	}

	workers := s.config.Workers
	if workers <= 0 || workers > len(active) {
		workers = len(active)
	}

	jobs := make(chan Runner, len(active))
	// Buffered so a straggler finishing after the deadline never blocks;
	// its send lands in the buffer and is discarded with the channel.
	results := make(chan Outcome, len(active))

	for i := 0; i < workers; i++ {
		go func() {
			for runner := range jobs {
				measurement, err := runner.RunCell(cell)
				results <- Outcome{Device: runner.Name(), Measurement: measurement, Err: err}
			}
		}()
	}
	for _, runner := range active {
		jobs <- runner
	}
	close(jobs)

	outcomes := make(map[string]Outcome, len(active))
	timeout := time.After(s.deadline(len(active), workers))

collect:
	for len(outcomes) < len(active) {
		select {
		case outcome := <-results:
			outcomes[outcome.Device] = outcome
		case <-timeout:
			break collect
		}
	}

	for _, runner := range active {
		if _, done := outcomes[runner.Name()]; !done {
			log.Errorf("[%s] Timed out on %s, discarding its eventual result", runner.Name(), cell)
			outcomes[runner.Name()] = Outcome{Device: runner.Name(), Err: ErrCellDeadline}
		}
	}

	return outcomes, nil
}
