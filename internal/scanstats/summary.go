// Package scanstats summarises scans for periodic log lines and debug views.
package scanstats

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/os32c/internal/os32c"
)

// Summary describes the range distribution of one scan. Min, Max, Mean and
// StdDev cover only valid beams and are zero when there are none.
type Summary struct {
	Beams    int
	Valid    int
	NoReturn int // at or beyond the maximum range
	Blocked  int // zero range, reported for blanked or dazzled beams

	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes the Summary of rec. A zero RangeMax falls back to the
// scanner maximum.
func Summarize(rec *os32c.ScanRecord) Summary {
	maxRange := rec.RangeMax
	if maxRange <= 0 {
		maxRange = os32c.DistanceMax
	}

	s := Summary{Beams: len(rec.Ranges)}
	valid := make([]float64, 0, len(rec.Ranges))
	for _, r := range rec.Ranges {
		v := float64(r)
		switch {
		case v <= 0:
			s.Blocked++
		case v >= maxRange:
			s.NoReturn++
		default:
			valid = append(valid, v)
		}
	}
	s.Valid = len(valid)
	if s.Valid == 0 {
		return s
	}

	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	if s.Valid == 1 {
		s.Mean = valid[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("beams=%d valid=%d no_return=%d blocked=%d min=%.3fm max=%.3fm mean=%.3fm sd=%.3fm",
		s.Beams, s.Valid, s.NoReturn, s.Blocked, s.Min, s.Max, s.Mean, s.StdDev)
}
