package enip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncapHeaderSize is the fixed size of an encapsulation header.
const EncapHeaderSize = 24

// Encapsulation commands.
const (
	CommandNOP               uint16 = 0x0000
	CommandRegisterSession   uint16 = 0x0065
	CommandUnregisterSession uint16 = 0x0066
	CommandSendRRData        uint16 = 0x006F
	CommandSendUnitData      uint16 = 0x0070
)

// ProtocolVersion is the only encapsulation protocol version in use.
const ProtocolVersion uint16 = 1

// EncapHeader prefixes every TCP message. Length counts the bytes that follow
// the header.
type EncapHeader struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
}

// AppendBinary appends the 24-byte wire form of h to b.
func (h *EncapHeader) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.Command)
	b = binary.LittleEndian.AppendUint16(b, h.Length)
	b = binary.LittleEndian.AppendUint32(b, h.SessionHandle)
	b = binary.LittleEndian.AppendUint32(b, h.Status)
	b = append(b, h.SenderContext[:]...)
	return binary.LittleEndian.AppendUint32(b, h.Options)
}

// DecodeEncapHeader parses the header at the start of b.
func DecodeEncapHeader(b []byte) (EncapHeader, error) {
	if len(b) < EncapHeaderSize {
		return EncapHeader{}, fmt.Errorf("%w: encapsulation header needs %d bytes, got %d", ErrShortPacket, EncapHeaderSize, len(b))
	}
	h := EncapHeader{
		Command:       binary.LittleEndian.Uint16(b[0:]),
		Length:        binary.LittleEndian.Uint16(b[2:]),
		SessionHandle: binary.LittleEndian.Uint32(b[4:]),
		Status:        binary.LittleEndian.Uint32(b[8:]),
		Options:       binary.LittleEndian.Uint32(b[20:]),
	}
	copy(h.SenderContext[:], b[12:20])
	return h, nil
}

// EncapMessage is a header and the data it announces.
type EncapMessage struct {
	Header EncapHeader
	Data   []byte
}

// AppendBinary appends the message to b, setting the header length from Data.
func (m *EncapMessage) AppendBinary(b []byte) []byte {
	h := m.Header
	h.Length = uint16(len(m.Data))
	b = h.AppendBinary(b)
	return append(b, m.Data...)
}

// ReadEncapMessage reads one complete message from r.
func ReadEncapMessage(r io.Reader) (EncapMessage, error) {
	var hdr [EncapHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return EncapMessage{}, err
	}
	h, err := DecodeEncapHeader(hdr[:])
	if err != nil {
		return EncapMessage{}, err
	}
	data := make([]byte, h.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return EncapMessage{}, err
	}
	return EncapMessage{Header: h, Data: data}, nil
}

// registerSessionData is the RegisterSession payload: protocol version and
// option flags.
func registerSessionData() []byte {
	b := binary.LittleEndian.AppendUint16(nil, ProtocolVersion)
	return binary.LittleEndian.AppendUint16(b, 0)
}

// appendRRData wraps a CPF packet for SendRRData and SendUnitData: interface handle
// (always 0 for CIP) and timeout.
func appendRRData(b []byte, timeout uint16, pkt *Packet) []byte {
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint16(b, timeout)
	return pkt.AppendBinary(b)
}

func decodeRRData(b []byte) (Packet, error) {
	if len(b) < 6 {
		return Packet{}, fmt.Errorf("%w: RR data needs 6 bytes before the CPF packet, got %d", ErrShortPacket, len(b))
	}
	return DecodePacket(b[6:])
}
