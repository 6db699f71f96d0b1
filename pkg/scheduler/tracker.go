package scheduler

// FailureTracker keeps per-device consecutive-failure accounting. A device
// that accumulates the threshold of consecutive failures is excluded for
// the remainder of the run; exclusion is sticky and survives any later
// reachability success.
type FailureTracker struct {
	threshold int
	counts    map[string]int
	excluded  map[string]bool
}

// DefaultExclusionThreshold is the number of consecutive failures after
// which a device is dropped from the run.
const DefaultExclusionThreshold = 3

// NewFailureTracker returns a tracker with the given exclusion threshold.
func NewFailureTracker(threshold int) *FailureTracker {
	return &FailureTracker{
		threshold: threshold,
		counts:    map[string]int{},
		excluded:  map[string]bool{},
	}
}

// RecordOutcome updates the device's counter: a failure increments it, a
// success resets it to zero. It returns true when this outcome pushed the
// device over the exclusion threshold.
func (t *FailureTracker) RecordOutcome(device string, success bool) (justExcluded bool) {
	if t.excluded[device] {
		return false
	}

	if success {
		t.counts[device] = 0
		return false
	}

	t.counts[device]++
	if t.counts[device] >= t.threshold {
		t.excluded[device] = true
		return true
	}
	return false
}

// Failures returns the current consecutive-failure count of a device.
func (t *FailureTracker) Failures(device string) int {
	return t.counts[device]
}

// Excluded reports whether the device has been permanently excluded.
func (t *FailureTracker) Excluded(device string) bool {
	return t.excluded[device]
}
