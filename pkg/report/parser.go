// Package report turns raw throughput-probe text into measurements and
// accumulates them per band, standard, channel and device for reporting.
package report

import (
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Measurement is one parsed throughput reading. Immutable once created.
// The cell coordinates are filled in by the caller; the parser only knows
// the probe text.
type Measurement struct {
	// Bandwidth in Mbit/s.
	Bandwidth float64
	Band      string
	Standard  string
	Channel   int
	Device    string
}

// The probe prints an iperf3 interval table; the reading we want is the
// sender-side summary line:
//
//	[  4]   0.00-10.00  sec  64.2 MBytes  53.9 Mbits/sec                  sender
var senderLineRegex = regexp.MustCompile(
	`\[\s*\d+\]\s+[\d\.\-]+\s+sec\s+[\d\.]+\s+[MGK]Bytes\s+([\d\.]+)\s+[MGK]bits/sec\s+sender`)

// Parse extracts the sender bandwidth from probe output. It returns nil
// when no summary line matches; a nil result means "no reading", not a
// zero reading, and the probe is not re-run for it.
func Parse(output string) *Measurement {
	match := senderLineRegex.FindStringSubmatch(output)
	if matchNotFound(match) {
		log.Warnf("Could not find a sender summary line in probe output")
		return nil
	}

	bandwidth, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		log.Warnf("Could not parse bandwidth %q from probe output: %v", match[1], err)
		return nil
	}

	return &Measurement{Bandwidth: bandwidth}
}

func matchNotFound(match []string) bool {
	return match == nil || len(match) < 2 || len(match[1]) == 0
}
