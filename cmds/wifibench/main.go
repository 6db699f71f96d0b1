package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wifibench/wifibench/pkg/ap"
	"github.com/wifibench/wifibench/pkg/checkpoint"
	"github.com/wifibench/wifibench/pkg/conf"
	"github.com/wifibench/wifibench/pkg/device"
	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/metrics"
	"github.com/wifibench/wifibench/pkg/orchestrator"
	"github.com/wifibench/wifibench/pkg/retry"
	"github.com/wifibench/wifibench/pkg/scheduler"
	"github.com/wifibench/wifibench/pkg/topology"
	"github.com/wifibench/wifibench/pkg/utils/errutil"
)

const (
	exitInterrupted = 130
	dialTimeout     = 5 * time.Second
)

var (
	runCmd = conf.NewCommand("run",
		"Walk the test matrix with every device tested sequentially per cell")
	parallelCmd = conf.NewCommand("parallel",
		"Walk the test matrix with all devices tested concurrently per cell")

	topologyFlag = conf.NewFileFlag("topology",
		"Path of the testbed topology file", "testbed.yaml")
	checkpointFlag = conf.NewStringFlag("checkpoint",
		"Path of the checkpoint file written after every attempted cell", "wifibench-checkpoint.json")
	resumeFlag = conf.NewBoolFlag("resume",
		"Continue from the last checkpointed cell instead of the top of the matrix", false)
	outputDirFlag = conf.NewStringFlag("output_dir",
		"Directory receiving the fetched per-device report files", "reports")
	probeServerFlag = conf.NewStringFlag("probe_server",
		"Address of the throughput probe server; defaults to the access point host", "")
	metricsListenFlag = conf.NewStringFlag("metrics_listen",
		"Address serving Prometheus metrics; empty disables the endpoint", "")
	workersFlag = conf.NewIntFlag("workers",
		"Worker cap for the parallel fan-out; 0 means one worker per device", 0)
	settleDelayFlag = conf.NewDurationFlag("band_settle_delay",
		"Pause before testing a new band", orchestrator.DefaultSettleDelay)
)

func main() {
	conf.SetHelp("Measures WLAN throughput of lab devices across bands, 802.11 standards and channels " +
		"by steering a shared OpenWrt access point through every combination.")

	command, err := conf.ParseFlags()
	errutil.Check(err)
	log.SetLevel(conf.LogLevel())
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	testbed, err := topology.Load(topologyFlag.Value())
	errutil.CheckWithContext(err, "loading topology")

	metrics.Serve(metricsListenFlag.Value())

	run := assembleRun(command, testbed)

	ctx, cancel := context.WithCancel(context.Background())
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		log.Warn("Interrupt received, finishing the current cell and cleaning up")
		cancel()
	}()

	err = run.Run(ctx)
	run.Results().Render(os.Stdout)

	switch {
	case err == nil:
	case err == context.Canceled:
		os.Exit(exitInterrupted)
	default:
		log.Errorf("Run failed: %v", err)
		os.Exit(1)
	}
}

func assembleRun(command string, testbed *topology.Topology) *orchestrator.Orchestrator {
	connectPolicy := retry.Policy{MaxAttempts: 5, Backoff: 5 * time.Second}
	sessionFactory := ap.NewSSHSessionFactory(
		testbed.AccessPointSSH(dialTimeout), connectPolicy, 30*time.Second)

	var radios []ap.Radio
	for band, section := range testbed.Radios() {
		radios = append(radios, ap.Radio{Band: band, Device: section})
	}
	controller := ap.NewController(sessionFactory, radios, ap.DefaultOptions())

	timing := device.DefaultTiming()
	entries := make([]orchestrator.DeviceEntry, 0, len(testbed.Devices))
	for i, config := range testbed.DeviceConfigs(dialTimeout) {
		entries = append(entries, orchestrator.DeviceEntry{
			Handle:  device.NewSession(config, timing),
			Product: testbed.Devices[i].Product,
		})
	}

	schedulerConfig := scheduler.DefaultConfig()
	schedulerConfig.ConnectionTimeout = timing.PollTimeout
	schedulerConfig.ProbeTimeout = timing.ProbeTimeout
	switch command {
	case parallelCmd.FullCommand():
		schedulerConfig.Workers = workersFlag.Value()
	case runCmd.FullCommand():
		schedulerConfig.Workers = 1
	}

	probeServer := probeServerFlag.Value()
	if probeServer == "" {
		probeServer = testbed.AccessPoint.Host.Host
	}

	return orchestrator.New(
		orchestrator.Config{
			Matrix:        matrix.New(testbed.MatrixBands()),
			Radios:        testbed.Radios(),
			SettleDelay:   settleDelayFlag.Value(),
			Resume:        resumeFlag.Value(),
			ReportAddress: probeServer,
			OutputDir:     outputDirFlag.Value(),
		},
		controller,
		scheduler.New(schedulerConfig),
		scheduler.NewFailureTracker(scheduler.DefaultExclusionThreshold),
		checkpoint.NewStore(checkpointFlag.Value()),
		entries,
	)
}
