package device

import "strings"

// Remote agent responses are line-oriented text. The last meaningful line is
// a result sentinel; probe responses additionally wrap the raw measurement
// text in a begin/end marker pair, and report commands answer with a
// REPORT_PATH line.
const (
	resultSuccess    = "RESULT:SUCCESS"
	resultFailure    = "RESULT:FAILURE"
	probeStartMarker = "IPERF_OUTPUT_START"
	probeEndMarker   = "IPERF_OUTPUT_END"
	reportPathPrefix = "REPORT_PATH:"
)

// Output is the stdout of a completed remote agent command.
type Output struct {
	Raw string
}

// Succeeded reports whether the agent printed the success sentinel.
// A non-zero process exit overrides this; see Session.RunRemote.
func (o Output) Succeeded() bool {
	return strings.Contains(o.Raw, resultSuccess)
}

// ProbeText extracts the raw throughput-probe text between the output
// markers. The second return is false when the markers are absent or
// malformed.
func (o Output) ProbeText() (string, bool) {
	start := strings.Index(o.Raw, probeStartMarker)
	if start < 0 {
		return "", false
	}
	rest := o.Raw[start+len(probeStartMarker):]
	end := strings.Index(rest, probeEndMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// ReportPath extracts the remote report path announced by the agent.
func (o Output) ReportPath() (string, bool) {
	for _, line := range strings.Split(o.Raw, "\n") {
		if strings.HasPrefix(line, reportPathPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, reportPathPrefix)), true
		}
	}
	return "", false
}
