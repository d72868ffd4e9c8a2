package os32c

import (
	"encoding/binary"
	"fmt"
)

// Raw range sentinels.
const (
	RawNoisyBeam uint16 = 0x0001
	RawNoReturn  uint16 = 0xFFFF
)

// metresPerTOFUnit converts a time-of-flight count in 4 ps ticks to metres:
// 4 ps of light travel is 1.19916983 mm, halved for the round trip.
const metresPerTOFUnit = 0.00119916983 * 0.5

// MeasurementReport is a header followed by one u16 per beam.
type MeasurementReport struct {
	Header          MeasurementReportHeader
	MeasurementData []uint16
}

// RangeAndReflectanceMeasurement is a header followed by the range array and
// the reflectance array, each Header.NumBeams long.
type RangeAndReflectanceMeasurement struct {
	Header          MeasurementReportHeader
	RangeData       []uint16
	ReflectanceData []uint16
}

// DecodeMeasurementReport parses a header and its single measurement array.
// Bytes beyond the payload are ignored.
func DecodeMeasurementReport(b []byte) (MeasurementReport, error) {
	h, n, err := DecodeHeader(b)
	if err != nil {
		return MeasurementReport{}, err
	}
	data, err := decodeBeamArrays(h, b[n:], 1)
	if err != nil {
		return MeasurementReport{}, err
	}
	return MeasurementReport{Header: h, MeasurementData: data[0]}, nil
}

// DecodeRangeAndReflectance parses a header followed by the range array and
// the reflectance array.
func DecodeRangeAndReflectance(b []byte) (RangeAndReflectanceMeasurement, error) {
	h, n, err := DecodeHeader(b)
	if err != nil {
		return RangeAndReflectanceMeasurement{}, err
	}
	data, err := decodeBeamArrays(h, b[n:], 2)
	if err != nil {
		return RangeAndReflectanceMeasurement{}, err
	}
	return RangeAndReflectanceMeasurement{Header: h, RangeData: data[0], ReflectanceData: data[1]}, nil
}

func decodeBeamArrays(h MeasurementReportHeader, payload []byte, arrays int) ([][]uint16, error) {
	if h.NumBeams > BeamCount {
		return nil, fmt.Errorf("%w: header reports %d beams, scanner has %d", ErrFormat, h.NumBeams, BeamCount)
	}
	beams := int(h.NumBeams)
	need := arrays * beams * 2
	if len(payload) < need {
		return nil, fmt.Errorf("%w: payload for %d beams needs %d bytes after the header, got %d",
			ErrFormat, beams, need, len(payload))
	}
	out := make([][]uint16, arrays)
	for a := range out {
		vals := make([]uint16, beams)
		base := a * beams * 2
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint16(payload[base+2*i:])
		}
		out[a] = vals
	}
	return out, nil
}

// AppendBinary appends the wire form of the report to b.
func (r *MeasurementReport) AppendBinary(b []byte) []byte {
	b = r.Header.AppendBinary(b)
	for _, v := range r.MeasurementData {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

// AppendBinary appends the wire form of the measurement to b.
func (r *RangeAndReflectanceMeasurement) AppendBinary(b []byte) []byte {
	b = r.Header.AppendBinary(b)
	for _, v := range r.RangeData {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	for _, v := range r.ReflectanceData {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

// DecodeRange converts a raw range value from a plain measurement report to
// metres. Time-of-flight values are scaled from 4 ps ticks; every other format
// carries millimetres.
func DecodeRange(raw uint16, format RangeFormat) float32 {
	switch raw {
	case RawNoisyBeam:
		return 0
	case RawNoReturn:
		return DistanceMax
	}
	if format == RangeTimeOfFlight4ps {
		return float32(metresPerTOFUnit * float64(raw))
	}
	return float32(float64(raw) / 1000.0)
}

// DecodeRangeMillimetres converts a raw range value from a range-and-reflectance
// read to metres. That read always reports millimetres, whatever range format is
// configured.
func DecodeRangeMillimetres(raw uint16) float32 {
	return DecodeRange(raw, Range50m)
}
