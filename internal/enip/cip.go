package enip

import (
	"encoding/binary"
	"fmt"
)

// CIP services used here.
const (
	ServiceGetAttributeSingle uint8 = 0x0E
	ServiceSetAttributeSingle uint8 = 0x10
	ServiceForwardClose       uint8 = 0x4E
	ServiceForwardOpen        uint8 = 0x54
	ServiceLargeForwardOpen   uint8 = 0x5B

	replyFlag uint8 = 0x80
)

// Logical segment types. The 16-bit forms are the 8-bit form plus one and
// carry a pad byte before the value.
const (
	segmentClass           uint8 = 0x20
	segmentInstance        uint8 = 0x24
	segmentConnectionPoint uint8 = 0x2C
	segmentAttribute       uint8 = 0x30
)

// AttributePath addresses one attribute of one object instance.
type AttributePath struct {
	Class     uint16
	Instance  uint16
	Attribute uint16
}

func (p AttributePath) String() string {
	return fmt.Sprintf("0x%02X/%d/%d", p.Class, p.Instance, p.Attribute)
}

// EPath returns the padded logical EPATH for p.
func (p AttributePath) EPath() []byte {
	b := appendLogicalSegment(nil, segmentClass, p.Class)
	b = appendLogicalSegment(b, segmentInstance, p.Instance)
	return appendLogicalSegment(b, segmentAttribute, p.Attribute)
}

// objectPath addresses an instance without an attribute.
func objectPath(class, instance uint16) []byte {
	b := appendLogicalSegment(nil, segmentClass, class)
	return appendLogicalSegment(b, segmentInstance, instance)
}

func appendLogicalSegment(b []byte, segment uint8, value uint16) []byte {
	if value <= 0xFF {
		return append(b, segment, uint8(value))
	}
	b = append(b, segment|1, 0)
	return binary.LittleEndian.AppendUint16(b, value)
}

// MessageRouterRequest is an explicit CIP request.
type MessageRouterRequest struct {
	Service uint8
	Path    []byte // padded EPATH, even length
	Data    []byte
}

// AppendBinary appends the wire form of r to b.
func (r *MessageRouterRequest) AppendBinary(b []byte) []byte {
	b = append(b, r.Service, uint8(len(r.Path)/2))
	b = append(b, r.Path...)
	return append(b, r.Data...)
}

// MessageRouterResponse is the reply to a MessageRouterRequest.
type MessageRouterResponse struct {
	Service          uint8
	GeneralStatus    uint8
	AdditionalStatus []uint16
	Data             []byte
}

// AppendBinary appends the wire form of r to b.
func (r *MessageRouterResponse) AppendBinary(b []byte) []byte {
	b = append(b, r.Service, 0, r.GeneralStatus, uint8(len(r.AdditionalStatus)))
	for _, s := range r.AdditionalStatus {
		b = binary.LittleEndian.AppendUint16(b, s)
	}
	return append(b, r.Data...)
}

// DecodeMessageRouterResponse parses a response. Data aliases b.
func DecodeMessageRouterResponse(b []byte) (MessageRouterResponse, error) {
	if len(b) < 4 {
		return MessageRouterResponse{}, fmt.Errorf("%w: message router response needs 4 bytes, got %d", ErrShortPacket, len(b))
	}
	r := MessageRouterResponse{Service: b[0], GeneralStatus: b[2]}
	n := int(b[3])
	off := 4
	if len(b) < off+2*n {
		return MessageRouterResponse{}, fmt.Errorf("%w: %d additional status words truncated", ErrShortPacket, n)
	}
	for i := 0; i < n; i++ {
		r.AdditionalStatus = append(r.AdditionalStatus, binary.LittleEndian.Uint16(b[off:]))
		off += 2
	}
	r.Data = b[off:]
	return r, nil
}

// check verifies that r answers a request for service and succeeded.
func (r *MessageRouterResponse) check(service uint8) error {
	if r.Service != service|replyFlag {
		return fmt.Errorf("%w: reply service 0x%02X for request 0x%02X", ErrUnexpectedReply, r.Service, service)
	}
	if r.GeneralStatus != 0 {
		return &CIPError{Service: service, GeneralStatus: r.GeneralStatus, AdditionalStatus: r.AdditionalStatus}
	}
	return nil
}
