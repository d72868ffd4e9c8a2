package os32c

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire size of a measurement report header.
const HeaderSize = 56

// Header field offsets.
const (
	offScanCount               = 0
	offScanRate                = 4
	offScanTimestamp           = 8
	offScanBeamPeriod          = 12
	offMachineState            = 16
	offMachineStopReasons      = 18
	offActiveZoneSet           = 20
	offZoneInputs              = 22
	offDetectionZoneStatus     = 24
	offOutputStatus            = 26
	offInputStatus             = 28
	offDisplayStatus           = 30
	offNonSafetyConfigChecksum = 32
	offSafetyConfigChecksum    = 34
	offReserved1               = 36 // 12 bytes
	offRangeReportFormat       = 48
	offReflectivityFormat      = 50
	offReserved2               = 52 // 2 bytes
	offNumBeams                = 54
)

// MeasurementReportHeader precedes every measurement payload. The safety
// status words are passed through untouched.
type MeasurementReportHeader struct {
	ScanCount               uint32
	ScanRate                uint32 // microseconds
	ScanTimestamp           uint32
	ScanBeamPeriod          uint32 // nanoseconds
	MachineState            uint16
	MachineStopReasons      uint16
	ActiveZoneSet           uint16
	ZoneInputs              uint16
	DetectionZoneStatus     uint16
	OutputStatus            uint16
	InputStatus             uint16
	DisplayStatus           uint16
	NonSafetyConfigChecksum uint16
	SafetyConfigChecksum    uint16
	RangeReportFormat       uint16
	ReflectivityFormat      uint16
	NumBeams                uint16
}

// AppendBinary appends the 56-byte wire form of h to b. Reserved bytes are
// written as zero.
func (h *MeasurementReportHeader) AppendBinary(b []byte) []byte {
	var buf [HeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[offScanCount:], h.ScanCount)
	le.PutUint32(buf[offScanRate:], h.ScanRate)
	le.PutUint32(buf[offScanTimestamp:], h.ScanTimestamp)
	le.PutUint32(buf[offScanBeamPeriod:], h.ScanBeamPeriod)
	le.PutUint16(buf[offMachineState:], h.MachineState)
	le.PutUint16(buf[offMachineStopReasons:], h.MachineStopReasons)
	le.PutUint16(buf[offActiveZoneSet:], h.ActiveZoneSet)
	le.PutUint16(buf[offZoneInputs:], h.ZoneInputs)
	le.PutUint16(buf[offDetectionZoneStatus:], h.DetectionZoneStatus)
	le.PutUint16(buf[offOutputStatus:], h.OutputStatus)
	le.PutUint16(buf[offInputStatus:], h.InputStatus)
	le.PutUint16(buf[offDisplayStatus:], h.DisplayStatus)
	le.PutUint16(buf[offNonSafetyConfigChecksum:], h.NonSafetyConfigChecksum)
	le.PutUint16(buf[offSafetyConfigChecksum:], h.SafetyConfigChecksum)
	le.PutUint16(buf[offRangeReportFormat:], h.RangeReportFormat)
	le.PutUint16(buf[offReflectivityFormat:], h.ReflectivityFormat)
	le.PutUint16(buf[offNumBeams:], h.NumBeams)
	return append(b, buf[:]...)
}

// MarshalBinary returns the 56-byte wire form of h.
func (h *MeasurementReportHeader) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize)), nil
}

// DecodeHeader parses a header from the start of b and returns the number of
// bytes consumed, which is always HeaderSize on success. Reserved bytes are
// ignored.
func DecodeHeader(b []byte) (MeasurementReportHeader, int, error) {
	if len(b) < HeaderSize {
		return MeasurementReportHeader{}, 0, fmt.Errorf("%w: measurement header needs %d bytes, got %d", ErrFormat, HeaderSize, len(b))
	}
	le := binary.LittleEndian
	h := MeasurementReportHeader{
		ScanCount:               le.Uint32(b[offScanCount:]),
		ScanRate:                le.Uint32(b[offScanRate:]),
		ScanTimestamp:           le.Uint32(b[offScanTimestamp:]),
		ScanBeamPeriod:          le.Uint32(b[offScanBeamPeriod:]),
		MachineState:            le.Uint16(b[offMachineState:]),
		MachineStopReasons:      le.Uint16(b[offMachineStopReasons:]),
		ActiveZoneSet:           le.Uint16(b[offActiveZoneSet:]),
		ZoneInputs:              le.Uint16(b[offZoneInputs:]),
		DetectionZoneStatus:     le.Uint16(b[offDetectionZoneStatus:]),
		OutputStatus:            le.Uint16(b[offOutputStatus:]),
		InputStatus:             le.Uint16(b[offInputStatus:]),
		DisplayStatus:           le.Uint16(b[offDisplayStatus:]),
		NonSafetyConfigChecksum: le.Uint16(b[offNonSafetyConfigChecksum:]),
		SafetyConfigChecksum:    le.Uint16(b[offSafetyConfigChecksum:]),
		RangeReportFormat:       le.Uint16(b[offRangeReportFormat:]),
		ReflectivityFormat:      le.Uint16(b[offReflectivityFormat:]),
		NumBeams:                le.Uint16(b[offNumBeams:]),
	}
	return h, HeaderSize, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *MeasurementReportHeader) UnmarshalBinary(b []byte) error {
	decoded, _, err := DecodeHeader(b)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
