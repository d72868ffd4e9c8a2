package os32c

import (
	"encoding/binary"
	"fmt"
)

// MeasurementReportConfigSize is the wire size of MeasurementReportConfig.
const MeasurementReportConfigSize = 4 + 4 + 2 + 2 + BeamMaskSize

// MeasurementReportConfig is the originator-to-target I/O payload. The host
// sends it periodically on the connected I/O channel to keep the measurement
// stream alive and to restate the formats and beam selection.
type MeasurementReportConfig struct {
	SequenceNum        uint32
	Trigger            uint32
	RangeReportFormat  RangeFormat
	ReflectivityFormat ReflectivityFormat
	BeamSelectionMask  BeamMask
}

// AppendBinary appends the 100-byte little-endian wire form of c to b.
func (c *MeasurementReportConfig) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, c.SequenceNum)
	b = binary.LittleEndian.AppendUint32(b, c.Trigger)
	b = binary.LittleEndian.AppendUint16(b, uint16(c.RangeReportFormat))
	b = binary.LittleEndian.AppendUint16(b, uint16(c.ReflectivityFormat))
	return append(b, c.BeamSelectionMask[:]...)
}

// DecodeMeasurementReportConfig parses the wire form produced by AppendBinary.
func DecodeMeasurementReportConfig(b []byte) (MeasurementReportConfig, error) {
	if len(b) < MeasurementReportConfigSize {
		return MeasurementReportConfig{}, fmt.Errorf("%w: measurement report config needs %d bytes, got %d",
			ErrFormat, MeasurementReportConfigSize, len(b))
	}
	c := MeasurementReportConfig{
		SequenceNum:        binary.LittleEndian.Uint32(b[0:]),
		Trigger:            binary.LittleEndian.Uint32(b[4:]),
		RangeReportFormat:  RangeFormat(binary.LittleEndian.Uint16(b[8:])),
		ReflectivityFormat: ReflectivityFormat(binary.LittleEndian.Uint16(b[10:])),
	}
	copy(c.BeamSelectionMask[:], b[12:12+BeamMaskSize])
	return c, nil
}
