// Package metrics exposes run progress counters for scraping. A matrix run
// is long and mostly silent from the outside; the counters let a lab
// dashboard tell a healthy slow run from a stuck one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	// CellsTested counts matrix cells that were dispatched to devices.
	CellsTested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wifibench_cells_tested_total",
		Help: "Number of matrix cells dispatched to devices.",
	})

	// CellsSkipped counts cells skipped because the access point never
	// confirmed the channel switch.
	CellsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wifibench_cells_skipped_total",
		Help: "Number of matrix cells skipped due to unconfirmed access point state.",
	})

	// DeviceFailures counts per-device cell failures.
	DeviceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wifibench_device_failures_total",
		Help: "Number of failed cells per device.",
	}, []string{"device"})

	// DeviceExclusions counts devices dropped from the run.
	DeviceExclusions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wifibench_device_exclusions_total",
		Help: "Number of devices excluded after persistent failures.",
	})

	// Bandwidth holds the last measured throughput per device and cell
	// coordinates.
	Bandwidth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wifibench_bandwidth_mbits",
		Help: "Last measured throughput in Mbit/s.",
	}, []string{"device", "band", "standard"})
)

// Serve exposes /metrics on the given address in the background. An empty
// address disables the endpoint.
func Serve(address string) {
	if address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Infof("Serving metrics on %s", address)
		if err := http.ListenAndServe(address, mux); err != nil {
			log.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
}
