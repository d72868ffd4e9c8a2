package os32c

import (
	"fmt"
	"time"
)

// ScanRecord is one assembled planar scan. Field meanings follow the usual
// laser scan message: angles in radians, times in seconds, ranges in metres.
type ScanRecord struct {
	// Seq, Stamp and FrameID are filled in by the publisher.
	Seq     uint32    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`

	AngleMin       float64 `json:"angle_min"`
	AngleMax       float64 `json:"angle_max"`
	AngleIncrement float64 `json:"angle_increment"`
	TimeIncrement  float64 `json:"time_increment"`
	ScanTime       float64 `json:"scan_time"`
	RangeMin       float64 `json:"range_min"`
	RangeMax       float64 `json:"range_max"`

	Ranges []float32 `json:"ranges"`
	// Intensities holds raw reflectance counts and is empty for plain
	// measurement reports.
	Intensities []float32 `json:"intensities,omitempty"`

	// Header is the device header the dynamic fields were taken from. The
	// safety status words are carried through unchanged.
	Header MeasurementReportHeader `json:"header"`
}

// StaticConfig is the part of a scan record that only changes when the beam
// selection changes.
type StaticConfig struct {
	AngleMin       float64
	AngleMax       float64
	AngleIncrement float64
	RangeMin       float64
	RangeMax       float64
}

// NewStaticConfig derives the static scan fields from the last beam selection.
// The increment is negative because beam indices run clockwise.
func NewStaticConfig(sel BeamSelection) StaticConfig {
	return StaticConfig{
		AngleMin:       sel.StartAngle,
		AngleMax:       sel.EndAngle,
		AngleIncrement: -AngleInc,
		RangeMin:       DistanceMin,
		RangeMax:       DistanceMax,
	}
}

// Apply copies the static fields onto rec.
func (c StaticConfig) Apply(rec *ScanRecord) {
	rec.AngleMin = c.AngleMin
	rec.AngleMax = c.AngleMax
	rec.AngleIncrement = c.AngleIncrement
	rec.RangeMin = c.RangeMin
	rec.RangeMax = c.RangeMax
}

// AssembleDynamic builds a scan record from a header and already decoded
// arrays. intensities may be nil. The lengths must match Header.NumBeams;
// on mismatch nothing is returned.
func (c StaticConfig) AssembleDynamic(h MeasurementReportHeader, ranges, intensities []float32) (ScanRecord, error) {
	if len(ranges) != int(h.NumBeams) {
		return ScanRecord{}, fmt.Errorf("%w: %d ranges for %d beams", ErrValidation, len(ranges), h.NumBeams)
	}
	if intensities != nil && len(intensities) != int(h.NumBeams) {
		return ScanRecord{}, fmt.Errorf("%w: %d intensities for %d beams", ErrValidation, len(intensities), h.NumBeams)
	}

	rec := ScanRecord{
		// beam period is in ns, scan rate in µs
		TimeIncrement: float64(h.ScanBeamPeriod) / 1e9,
		ScanTime:      float64(h.ScanRate) / 1e6,
		Ranges:        ranges,
		Intensities:   intensities,
		Header:        h,
	}
	c.Apply(&rec)
	return rec, nil
}

// AssembleMeasurementReport decodes a plain report into a scan record, scaling
// ranges according to the report's range format.
func (c StaticConfig) AssembleMeasurementReport(mr MeasurementReport) (ScanRecord, error) {
	if len(mr.MeasurementData) != int(mr.Header.NumBeams) {
		return ScanRecord{}, fmt.Errorf("%w: number of beams %d does not match %d measurements",
			ErrValidation, mr.Header.NumBeams, len(mr.MeasurementData))
	}
	format := RangeFormat(mr.Header.RangeReportFormat)
	ranges := make([]float32, len(mr.MeasurementData))
	for i, raw := range mr.MeasurementData {
		ranges[i] = DecodeRange(raw, format)
	}
	return c.AssembleDynamic(mr.Header, ranges, nil)
}

// AssembleRangeAndReflectance decodes a range-and-reflectance read into a scan
// record. Ranges are always millimetres here; reflectance passes through as raw
// counts.
func (c StaticConfig) AssembleRangeAndReflectance(rr RangeAndReflectanceMeasurement) (ScanRecord, error) {
	if len(rr.RangeData) != int(rr.Header.NumBeams) || len(rr.ReflectanceData) != int(rr.Header.NumBeams) {
		return ScanRecord{}, fmt.Errorf("%w: number of beams %d does not match %d ranges / %d reflectances",
			ErrValidation, rr.Header.NumBeams, len(rr.RangeData), len(rr.ReflectanceData))
	}
	ranges := make([]float32, len(rr.RangeData))
	intensities := make([]float32, len(rr.ReflectanceData))
	for i := range rr.RangeData {
		ranges[i] = DecodeRangeMillimetres(rr.RangeData[i])
		intensities[i] = float32(rr.ReflectanceData[i])
	}
	return c.AssembleDynamic(rr.Header, ranges, intensities)
}

// BeamAngle returns the angle of the i'th entry in rec.Ranges.
func (rec *ScanRecord) BeamAngle(i int) float64 {
	return rec.AngleMin + float64(i)*rec.AngleIncrement
}
