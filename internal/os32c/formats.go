package os32c

import "fmt"

// RangeFormat selects how the scanner encodes range values in measurement
// reports (attribute 4 of the measurement report object).
type RangeFormat uint16

const (
	RangeNone            RangeFormat = 0
	Range50m             RangeFormat = 1
	Range32mPZ           RangeFormat = 2
	Range16mWZ1PZ        RangeFormat = 3
	Range8mWZ2WZ1PZ      RangeFormat = 4
	RangeTimeOfFlight4ps RangeFormat = 5
)

func (f RangeFormat) String() string {
	switch f {
	case RangeNone:
		return "none"
	case Range50m:
		return "50m"
	case Range32mPZ:
		return "32m_pz"
	case Range16mWZ1PZ:
		return "16m_wz1pz"
	case Range8mWZ2WZ1PZ:
		return "8m_wz2wz1pz"
	case RangeTimeOfFlight4ps:
		return "tof_4ps"
	}
	return fmt.Sprintf("range_format(%d)", uint16(f))
}

// ReflectivityFormat selects how reflectivity values are encoded (attribute 5).
type ReflectivityFormat uint16

const (
	ReflectivityNone       ReflectivityFormat = 0
	ReflectivityTOTEncoded ReflectivityFormat = 1
	ReflectivityTOT4ps     ReflectivityFormat = 2
)

func (f ReflectivityFormat) String() string {
	switch f {
	case ReflectivityNone:
		return "none"
	case ReflectivityTOTEncoded:
		return "tot_encoded"
	case ReflectivityTOT4ps:
		return "tot_4ps"
	}
	return fmt.Sprintf("reflectivity_format(%d)", uint16(f))
}

// ParseRangeFormat accepts either the numeric code or the name printed by
// RangeFormat.String.
func ParseRangeFormat(s string) (RangeFormat, error) {
	for f := RangeNone; f <= RangeTimeOfFlight4ps; f++ {
		if s == f.String() || s == fmt.Sprint(uint16(f)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown range format %q", ErrValidation, s)
}

// ParseReflectivityFormat accepts either the numeric code or the name printed
// by ReflectivityFormat.String.
func ParseReflectivityFormat(s string) (ReflectivityFormat, error) {
	for f := ReflectivityNone; f <= ReflectivityTOT4ps; f++ {
		if s == f.String() || s == fmt.Sprint(uint16(f)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown reflectivity format %q", ErrValidation, s)
}
