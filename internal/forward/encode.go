// Package forward ships assembled scans to a downstream visualiser over UDP.
//
// Each datagram is one protobuf message with this schema:
//
//	message Scan {
//	  uint32 seq              = 1;
//	  int64  stamp_unix_nanos = 2;
//	  string frame_id         = 3;
//	  double angle_min        = 4;
//	  double angle_max        = 5;
//	  double angle_increment  = 6;
//	  double time_increment   = 7;
//	  double scan_time        = 8;
//	  double range_min        = 9;
//	  double range_max        = 10;
//	  repeated float ranges      = 11 [packed = true];
//	  repeated float intensities = 12 [packed = true];
//	  uint32 scan_count       = 13;
//	  uint32 machine_state    = 14;
//	}
//
// A full 677-beam scan with intensities encodes to about 5.5 KiB.
package forward

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/os32c/internal/os32c"
)

// Scan message field numbers.
const (
	fieldSeq            protowire.Number = 1
	fieldStamp          protowire.Number = 2
	fieldFrameID        protowire.Number = 3
	fieldAngleMin       protowire.Number = 4
	fieldAngleMax       protowire.Number = 5
	fieldAngleIncrement protowire.Number = 6
	fieldTimeIncrement  protowire.Number = 7
	fieldScanTime       protowire.Number = 8
	fieldRangeMin       protowire.Number = 9
	fieldRangeMax       protowire.Number = 10
	fieldRanges         protowire.Number = 11
	fieldIntensities    protowire.Number = 12
	fieldScanCount      protowire.Number = 13
	fieldMachineState   protowire.Number = 14
)

// AppendScan appends the protobuf encoding of rec to b.
func AppendScan(b []byte, rec *os32c.ScanRecord) []byte {
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Seq))
	if !rec.Stamp.IsZero() {
		b = protowire.AppendTag(b, fieldStamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.Stamp.UnixNano()))
	}
	if rec.FrameID != "" {
		b = protowire.AppendTag(b, fieldFrameID, protowire.BytesType)
		b = protowire.AppendString(b, rec.FrameID)
	}
	for _, d := range []struct {
		num protowire.Number
		v   float64
	}{
		{fieldAngleMin, rec.AngleMin},
		{fieldAngleMax, rec.AngleMax},
		{fieldAngleIncrement, rec.AngleIncrement},
		{fieldTimeIncrement, rec.TimeIncrement},
		{fieldScanTime, rec.ScanTime},
		{fieldRangeMin, rec.RangeMin},
		{fieldRangeMax, rec.RangeMax},
	} {
		b = protowire.AppendTag(b, d.num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d.v))
	}
	b = appendPackedFloats(b, fieldRanges, rec.Ranges)
	b = appendPackedFloats(b, fieldIntensities, rec.Intensities)
	b = protowire.AppendTag(b, fieldScanCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Header.ScanCount))
	b = protowire.AppendTag(b, fieldMachineState, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Header.MachineState))
	return b
}

// EncodeScan returns the protobuf encoding of rec.
func EncodeScan(rec *os32c.ScanRecord) []byte {
	return AppendScan(make([]byte, 0, 128+8*len(rec.Ranges)), rec)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(vs)))
	for _, v := range vs {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// DecodeScan parses a message produced by EncodeScan. Unknown fields are
// skipped. Only the header fields carried on the wire are set on Header.
func DecodeScan(b []byte) (os32c.ScanRecord, error) {
	var rec os32c.ScanRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return os32c.ScanRecord{}, fmt.Errorf("%w: %v", os32c.ErrFormat, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return os32c.ScanRecord{}, fmt.Errorf("%w: field %d: %v", os32c.ErrFormat, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				rec.Seq = uint32(v)
			case fieldStamp:
				rec.Stamp = time.Unix(0, int64(v))
			case fieldScanCount:
				rec.Header.ScanCount = uint32(v)
			case fieldMachineState:
				rec.Header.MachineState = uint16(v)
			}

		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return os32c.ScanRecord{}, fmt.Errorf("%w: field %d: %v", os32c.ErrFormat, num, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case fieldAngleMin:
				rec.AngleMin = f
			case fieldAngleMax:
				rec.AngleMax = f
			case fieldAngleIncrement:
				rec.AngleIncrement = f
			case fieldTimeIncrement:
				rec.TimeIncrement = f
			case fieldScanTime:
				rec.ScanTime = f
			case fieldRangeMin:
				rec.RangeMin = f
			case fieldRangeMax:
				rec.RangeMax = f
			}

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return os32c.ScanRecord{}, fmt.Errorf("%w: field %d: %v", os32c.ErrFormat, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldFrameID:
				rec.FrameID = string(v)
			case fieldRanges, fieldIntensities:
				fs, err := consumePackedFloats(v)
				if err != nil {
					return os32c.ScanRecord{}, fmt.Errorf("%w: field %d: %v", os32c.ErrFormat, num, err)
				}
				if num == fieldRanges {
					rec.Ranges = fs
				} else {
					rec.Intensities = fs
				}
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return os32c.ScanRecord{}, fmt.Errorf("%w: field %d: %v", os32c.ErrFormat, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func consumePackedFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed float length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}
