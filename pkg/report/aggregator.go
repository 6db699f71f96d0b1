package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Entry is the outcome of one (cell, device) pair. A nil Measurement with a
// non-empty Failure is a recorded failure; both set never happens.
type Entry struct {
	Channel     int
	Device      string
	Measurement *Measurement
	Failure     string
}

type resultKey struct {
	band     string
	standard string
}

// Results accumulates outcomes per (band, standard) in insertion order.
// It is driven by the single coordinating goroutine of a run and carries
// no locking.
type Results struct {
	entries map[resultKey][]Entry
	order   []resultKey
}

// NewResults returns an empty result set.
func NewResults() *Results {
	return &Results{entries: map[resultKey][]Entry{}}
}

// AddMeasurement records a successful reading for a (cell, device) pair.
func (r *Results) AddMeasurement(m Measurement) {
	r.add(m.Band, m.Standard, Entry{Channel: m.Channel, Device: m.Device, Measurement: &m})
}

// AddFailure records a failed (cell, device) pair with its reason.
func (r *Results) AddFailure(band string, standard string, channel int, device string, reason string) {
	r.add(band, standard, Entry{Channel: channel, Device: device, Failure: reason})
}

func (r *Results) add(band string, standard string, entry Entry) {
	key := resultKey{band: band, standard: standard}
	if _, seen := r.entries[key]; !seen {
		r.order = append(r.order, key)
	}
	r.entries[key] = append(r.entries[key], entry)
}

// Entries returns the ordered outcomes recorded for a (band, standard).
func (r *Results) Entries(band string, standard string) []Entry {
	return r.entries[resultKey{band: band, standard: standard}]
}

// Average returns the mean bandwidth over the successful readings of a
// (band, standard). The second return is false when there are none.
func (r *Results) Average(band string, standard string) (float64, bool) {
	var sum float64
	var count int
	for _, entry := range r.Entries(band, standard) {
		if entry.Measurement != nil {
			sum += entry.Measurement.Bandwidth
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Render writes the result summary as a table: one row per (cell, device)
// outcome, plus a per-standard average row.
func (r *Results) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Band", "Standard", "Channel", "Device", "Mbit/s", "Grade"})
	table.SetAutoMergeCells(false)
	table.SetBorder(false)

	for _, key := range r.order {
		for _, entry := range r.entries[key] {
			row := []string{key.band, key.standard, strconv.Itoa(entry.Channel), entry.Device}
			if entry.Measurement != nil {
				row = append(row,
					fmt.Sprintf("%.1f", entry.Measurement.Bandwidth),
					string(entry.Measurement.Grade()))
			} else {
				row = append(row, "-", "failed: "+entry.Failure)
			}
			table.Append(row)
		}

		if avg, ok := r.Average(key.band, key.standard); ok {
			table.Append([]string{key.band, key.standard, "avg", "", fmt.Sprintf("%.1f", avg),
				string(GradeFor(key.standard, avg))})
		}
	}

	table.Render()
}
