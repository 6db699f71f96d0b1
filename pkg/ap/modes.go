package ap

// radioMode is the set of UCI wireless options that select an 802.11
// standard on an OpenWrt radio. An empty RequireMode means the option must
// be deleted, not set, or mixed-mode clients are still rejected.
type radioMode struct {
	HWMode      string
	HTMode      string
	LegacyRates string
	RequireMode string
}

// Mode tables mirror the vendor GUI presets. The standard a cell names maps
// to the most specific preset that still brings the radio up on every
// supported chipset in the lab.
var modes2G = map[string]radioMode{
	"11b":  {HWMode: "11b", HTMode: "NOHT", LegacyRates: "1"},
	"11g":  {HWMode: "11g", HTMode: "NOHT", LegacyRates: "1"},
	"11n":  {HWMode: "11g", HTMode: "HT40", LegacyRates: "0", RequireMode: "n"},
	"11ax": {HWMode: "11g", HTMode: "HE40", LegacyRates: "0"},
}

var modes5G = map[string]radioMode{
	"11a":  {HWMode: "11a", HTMode: "NOHT", LegacyRates: "0"},
	"11n":  {HWMode: "11a", HTMode: "HT40", LegacyRates: "0", RequireMode: "n"},
	"11ac": {HWMode: "11a", HTMode: "VHT80", LegacyRates: "0", RequireMode: "ac"},
	"11ax": {HWMode: "11a", HTMode: "HE80", LegacyRates: "0"},
}

// lookupMode resolves a (band, standard) pair to its UCI preset.
func lookupMode(band string, standard string) (radioMode, bool) {
	table := modes2G
	if band == "5G" {
		table = modes5G
	}
	mode, ok := table[standard]
	return mode, ok
}

// defaultMode is the maximum-compatibility preset a radio is restored to
// when a run finishes or aborts.
func defaultMode(band string) radioMode {
	if band == "5G" {
		return radioMode{HWMode: "11a", HTMode: "HE80", LegacyRates: "0"}
	}
	return radioMode{HWMode: "11g", HTMode: "HE40", LegacyRates: "1"}
}

// settings expands a preset into the ordered UCI writes it requires.
func (m radioMode) settings() []Setting {
	s := []Setting{
		{Name: "hwmode", Value: m.HWMode},
		{Name: "htmode", Value: m.HTMode},
		{Name: "legacy_rates", Value: m.LegacyRates},
	}
	// Value left empty deletes the option.
	s = append(s, Setting{Name: "require_mode", Value: m.RequireMode})
	return s
}
