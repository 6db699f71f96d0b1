// Package matrix enumerates the (band, standard, channel) combinations a
// run visits. Ordering is significant and reproducible: bands are walked
// sequentially, standards before channels, so a checkpoint cursor lands on
// the same cell on resume.
package matrix

import "fmt"

// Band groups the test parameters of one radio.
type Band struct {
	// Name is "2G" or "5G".
	Name string
	// SSID and Password identify the network DUTs join on this band.
	SSID     string
	Password string
	// Radio is the UCI section of the radio serving this band.
	Radio string
	// Encryption is the UCI encryption mode, e.g. "psk2" or "sae-mixed".
	Encryption string
	// Standards and Channels span the cells of this band.
	Standards []string
	Channels  []int
}

// Cell is one (band, standard, channel) combination. Immutable.
type Cell struct {
	Band     string
	Standard string
	Channel  int
}

func (c Cell) String() string {
	return fmt.Sprintf("%s/%s/ch%d", c.Band, c.Standard, c.Channel)
}

// Matrix is the ordered set of cells a run visits.
type Matrix struct {
	bands []Band
}

// New returns a matrix over the given bands, visited in the given order.
func New(bands []Band) *Matrix {
	return &Matrix{bands: bands}
}

// Bands returns the configured bands in visiting order.
func (m *Matrix) Bands() []Band {
	return m.bands
}

// Band returns the band with the given name.
func (m *Matrix) Band(name string) (Band, bool) {
	for _, band := range m.bands {
		if band.Name == name {
			return band, true
		}
	}
	return Band{}, false
}

// Cells generates the full ordered cell list.
func (m *Matrix) Cells() []Cell {
	var cells []Cell
	for _, band := range m.bands {
		for _, standard := range band.Standards {
			for _, channel := range band.Channels {
				cells = append(cells, Cell{Band: band.Name, Standard: standard, Channel: channel})
			}
		}
	}
	return cells
}

// Resume returns the ordered suffix of cells starting at the last attempted
// cell, which is visited again because its outcome is unknown. When the
// cursor does not match any cell (for example after a config change) the
// full list is returned.
func Resume(cells []Cell, last Cell) []Cell {
	for i, cell := range cells {
		if cell == last {
			return cells[i:]
		}
	}
	return cells
}
