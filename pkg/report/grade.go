package report

// Grade classifies a bandwidth reading against per-standard expectations.
type Grade string

const (
	// GradeExcellent readings reach the full expected throughput.
	GradeExcellent Grade = "excellent"
	// GradeGood readings are within the acceptable band.
	GradeGood Grade = "good"
	// GradePoor readings fall below expectations.
	GradePoor Grade = "poor"
)

type thresholdPair struct {
	excellent float64
	good      float64
}

// Per-standard thresholds in Mbit/s. An 11b link doing 6 Mbit/s is healthy;
// the same number on 11ac is broken.
var thresholds = map[string]thresholdPair{
	"11b":  {excellent: 6, good: 5},
	"11g":  {excellent: 22, good: 18},
	"11n":  {excellent: 80, good: 50},
	"11a":  {excellent: 22, good: 18},
	"11ac": {excellent: 450, good: 300},
	"11ax": {excellent: 120, good: 80},
}

var defaultThresholds = thresholdPair{excellent: 100, good: 50}

// GradeFor classifies a bandwidth against the standard's threshold pair.
// Unknown standards fall back to the default pair.
func GradeFor(standard string, bandwidth float64) Grade {
	pair, ok := thresholds[standard]
	if !ok {
		pair = defaultThresholds
	}

	switch {
	case bandwidth >= pair.excellent:
		return GradeExcellent
	case bandwidth >= pair.good:
		return GradeGood
	default:
		return GradePoor
	}
}

// Grade classifies the measurement against its own standard.
func (m Measurement) Grade() Grade {
	return GradeFor(m.Standard, m.Bandwidth)
}
