package matrix

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func testBands() []Band {
	return []Band{
		{
			Name:      "2G",
			SSID:      "QA_Test_2G",
			Radio:     "mt798111",
			Standards: []string{"11n", "11ax"},
			Channels:  []int{1, 6, 11},
		},
		{
			Name:      "5G",
			SSID:      "QA_Test_5G",
			Radio:     "mt798112",
			Standards: []string{"11ac"},
			Channels:  []int{36, 44},
		},
	}
}

func TestMatrixCells(t *testing.T) {
	Convey("While enumerating matrix cells", t, func() {
		m := New(testBands())

		Convey("Standards come before channels and bands are sequential", func() {
			cells := m.Cells()

			So(cells, ShouldHaveLength, 8)
			So(cells[0], ShouldResemble, Cell{Band: "2G", Standard: "11n", Channel: 1})
			So(cells[2], ShouldResemble, Cell{Band: "2G", Standard: "11n", Channel: 11})
			So(cells[3], ShouldResemble, Cell{Band: "2G", Standard: "11ax", Channel: 1})
			So(cells[6], ShouldResemble, Cell{Band: "5G", Standard: "11ac", Channel: 36})
		})

		Convey("Enumeration is reproducible", func() {
			So(m.Cells(), ShouldResemble, m.Cells())
		})
	})
}

func TestMatrixResume(t *testing.T) {
	Convey("While resuming from a checkpoint cursor", t, func() {
		cells := New(testBands()).Cells()

		Convey("The last attempted cell is visited again", func() {
			resumed := Resume(cells, Cell{Band: "2G", Standard: "11ax", Channel: 6})

			So(resumed, ShouldHaveLength, 4)
			So(resumed[0], ShouldResemble, Cell{Band: "2G", Standard: "11ax", Channel: 6})
		})

		Convey("An unknown cursor restarts from the beginning", func() {
			resumed := Resume(cells, Cell{Band: "6G", Standard: "11be", Channel: 1})

			So(resumed, ShouldHaveLength, len(cells))
		})
	})
}
