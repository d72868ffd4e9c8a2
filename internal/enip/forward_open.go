package enip

import (
	"encoding/binary"
	"fmt"
)

// Connection manager object.
const (
	classConnectionManager uint16 = 0x06
	classAssembly          uint16 = 0x04
)

// Forward Open defaults.
const (
	priorityTimeTick  uint8 = 0x0A
	timeoutTicks      uint8 = 0x0E
	timeoutMultiplier uint8 = 0x01 // x8
	transportClass1   uint8 = 0x01 // class 1, cyclic trigger

	configInstance     uint16 = 0x01
	maxSmallConnection        = 0x1FF
)

// Network connection parameter fields.
const (
	connTypePointToPoint = 2
	priorityScheduled    = 2
)

// ConnectionParams describes one direction of an I/O connection.
type ConnectionParams struct {
	AssemblyID uint16
	BufferSize uint16
	RPI        uint32 // requested packet interval, µs
}

// Connection is an open I/O connection as agreed with the target.
type Connection struct {
	OtoTConnectionID uint32
	TtoOConnectionID uint32
	SerialNumber     uint16
	OtoTAPI          uint32 // actual packet interval, µs
	TtoOAPI          uint32
	OtoT             ConnectionParams
	TtoO             ConnectionParams
}

// ForwardOpenRequest is the data of a (Large) Forward Open request.
type ForwardOpenRequest struct {
	OtoTConnectionID uint32
	TtoOConnectionID uint32
	SerialNumber     uint16
	VendorID         uint16
	OriginatorSerial uint32
	OtoT             ConnectionParams
	TtoO             ConnectionParams
}

// Large reports whether either direction needs the 32-bit connection
// parameters of Large Forward Open.
func (r *ForwardOpenRequest) Large() bool {
	return r.OtoT.BufferSize > maxSmallConnection || r.TtoO.BufferSize > maxSmallConnection
}

// Service returns the connection manager service for r.
func (r *ForwardOpenRequest) Service() uint8 {
	if r.Large() {
		return ServiceLargeForwardOpen
	}
	return ServiceForwardOpen
}

// AppendBinary appends the request data to b.
func (r *ForwardOpenRequest) AppendBinary(b []byte) []byte {
	b = append(b, priorityTimeTick, timeoutTicks)
	b = binary.LittleEndian.AppendUint32(b, r.OtoTConnectionID)
	b = binary.LittleEndian.AppendUint32(b, r.TtoOConnectionID)
	b = binary.LittleEndian.AppendUint16(b, r.SerialNumber)
	b = binary.LittleEndian.AppendUint16(b, r.VendorID)
	b = binary.LittleEndian.AppendUint32(b, r.OriginatorSerial)
	b = append(b, timeoutMultiplier, 0, 0, 0)
	large := r.Large()
	b = binary.LittleEndian.AppendUint32(b, r.OtoT.RPI)
	b = appendNetworkParams(b, r.OtoT.BufferSize, large)
	b = binary.LittleEndian.AppendUint32(b, r.TtoO.RPI)
	b = appendNetworkParams(b, r.TtoO.BufferSize, large)
	b = append(b, transportClass1)
	path := connectionPath(r.OtoT, r.TtoO)
	b = append(b, uint8(len(path)/2))
	return append(b, path...)
}

func appendNetworkParams(b []byte, size uint16, large bool) []byte {
	if large {
		v := uint32(connTypePointToPoint)<<29 | uint32(priorityScheduled)<<26 | uint32(size)
		return binary.LittleEndian.AppendUint32(b, v)
	}
	v := uint16(connTypePointToPoint)<<13 | uint16(priorityScheduled)<<10 | size&maxSmallConnection
	return binary.LittleEndian.AppendUint16(b, v)
}

// connectionPath is the assembly path: configuration instance, then the
// consumed and produced connection points.
func connectionPath(otot, ttoo ConnectionParams) []byte {
	b := objectPath(classAssembly, configInstance)
	b = appendLogicalSegment(b, segmentConnectionPoint, otot.AssemblyID)
	return appendLogicalSegment(b, segmentConnectionPoint, ttoo.AssemblyID)
}

// forwardOpenReplySize is the fixed part of a successful Forward Open reply.
const forwardOpenReplySize = 26

// ForwardOpenReply is the data of a successful Forward Open response.
type ForwardOpenReply struct {
	OtoTConnectionID uint32
	TtoOConnectionID uint32
	SerialNumber     uint16
	VendorID         uint16
	OriginatorSerial uint32
	OtoTAPI          uint32
	TtoOAPI          uint32
}

// AppendBinary appends the reply data to b with an empty application reply.
func (r *ForwardOpenReply) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.OtoTConnectionID)
	b = binary.LittleEndian.AppendUint32(b, r.TtoOConnectionID)
	b = binary.LittleEndian.AppendUint16(b, r.SerialNumber)
	b = binary.LittleEndian.AppendUint16(b, r.VendorID)
	b = binary.LittleEndian.AppendUint32(b, r.OriginatorSerial)
	b = binary.LittleEndian.AppendUint32(b, r.OtoTAPI)
	b = binary.LittleEndian.AppendUint32(b, r.TtoOAPI)
	return append(b, 0, 0)
}

// DecodeForwardOpenReply parses the data of a successful Forward Open response.
func DecodeForwardOpenReply(b []byte) (ForwardOpenReply, error) {
	if len(b) < forwardOpenReplySize {
		return ForwardOpenReply{}, fmt.Errorf("%w: forward open reply needs %d bytes, got %d",
			ErrShortPacket, forwardOpenReplySize, len(b))
	}
	return ForwardOpenReply{
		OtoTConnectionID: binary.LittleEndian.Uint32(b[0:]),
		TtoOConnectionID: binary.LittleEndian.Uint32(b[4:]),
		SerialNumber:     binary.LittleEndian.Uint16(b[8:]),
		VendorID:         binary.LittleEndian.Uint16(b[10:]),
		OriginatorSerial: binary.LittleEndian.Uint32(b[12:]),
		OtoTAPI:          binary.LittleEndian.Uint32(b[16:]),
		TtoOAPI:          binary.LittleEndian.Uint32(b[20:]),
	}, nil
}

// ForwardCloseRequest is the data of a Forward Close request.
type ForwardCloseRequest struct {
	SerialNumber     uint16
	VendorID         uint16
	OriginatorSerial uint32
	OtoT             ConnectionParams
	TtoO             ConnectionParams
}

// AppendBinary appends the request data to b.
func (r *ForwardCloseRequest) AppendBinary(b []byte) []byte {
	b = append(b, priorityTimeTick, timeoutTicks)
	b = binary.LittleEndian.AppendUint16(b, r.SerialNumber)
	b = binary.LittleEndian.AppendUint16(b, r.VendorID)
	b = binary.LittleEndian.AppendUint32(b, r.OriginatorSerial)
	path := connectionPath(r.OtoT, r.TtoO)
	b = append(b, uint8(len(path)/2), 0)
	return append(b, path...)
}
