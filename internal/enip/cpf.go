package enip

import (
	"encoding/binary"
	"fmt"
)

// CPF item types.
const (
	ItemNullAddress      uint16 = 0x0000
	ItemConnectedAddress uint16 = 0x00A1
	ItemConnectedData    uint16 = 0x00B1
	ItemUnconnectedData  uint16 = 0x00B2
	ItemSequencedAddress uint16 = 0x8002
	ItemSockaddrInfoOtoT uint16 = 0x8000
	ItemSockaddrInfoTtoO uint16 = 0x8001
)

const sequencedAddressBytes = 8

// Item is one type-length-value entry of a Common Packet Format packet.
type Item struct {
	Type uint16
	Data []byte
}

// Packet is a Common Packet Format packet: an item count and the items.
type Packet struct {
	Items []Item
}

// AppendBinary appends the wire form of p to b.
func (p *Packet) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(p.Items)))
	for _, it := range p.Items {
		b = binary.LittleEndian.AppendUint16(b, it.Type)
		b = binary.LittleEndian.AppendUint16(b, uint16(len(it.Data)))
		b = append(b, it.Data...)
	}
	return b
}

// MarshalBinary returns the wire form of p.
func (p *Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(nil), nil
}

// DecodePacket parses a CPF packet. Item data aliases b.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < 2 {
		return Packet{}, fmt.Errorf("%w: CPF item count missing", ErrShortPacket)
	}
	count := int(binary.LittleEndian.Uint16(b))
	off := 2
	p := Packet{Items: make([]Item, 0, count)}
	for i := 0; i < count; i++ {
		if len(b) < off+4 {
			return Packet{}, fmt.Errorf("%w: CPF item %d header truncated", ErrShortPacket, i)
		}
		typ := binary.LittleEndian.Uint16(b[off:])
		n := int(binary.LittleEndian.Uint16(b[off+2:]))
		off += 4
		if len(b) < off+n {
			return Packet{}, fmt.Errorf("%w: CPF item %d (type 0x%04X) needs %d bytes, got %d",
				ErrShortPacket, i, typ, n, len(b)-off)
		}
		p.Items = append(p.Items, Item{Type: typ, Data: b[off : off+n]})
		off += n
	}
	return p, nil
}

// SequencedAddress is the address item of a connected I/O datagram.
type SequencedAddress struct {
	ConnectionID uint32
	Sequence     uint32
}

// Item returns a as a CPF item.
func (a SequencedAddress) Item() Item {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, sequencedAddressBytes), a.ConnectionID)
	b = binary.LittleEndian.AppendUint32(b, a.Sequence)
	return Item{Type: ItemSequencedAddress, Data: b}
}

// DecodeSequencedAddress parses the data of a sequenced address item.
func DecodeSequencedAddress(it Item) (SequencedAddress, error) {
	if it.Type != ItemSequencedAddress {
		return SequencedAddress{}, fmt.Errorf("%w: item type 0x%04X is not a sequenced address", ErrUnexpectedReply, it.Type)
	}
	if len(it.Data) < sequencedAddressBytes {
		return SequencedAddress{}, fmt.Errorf("%w: sequenced address needs %d bytes, got %d",
			ErrShortPacket, sequencedAddressBytes, len(it.Data))
	}
	return SequencedAddress{
		ConnectionID: binary.LittleEndian.Uint32(it.Data),
		Sequence:     binary.LittleEndian.Uint32(it.Data[4:]),
	}, nil
}

// SplitSequencedData splits connected data carrying a leading 16-bit sequence
// count, as sent by the target on a class 1 connection.
func SplitSequencedData(data []byte) (seq uint16, payload []byte, err error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("%w: connected data sequence count missing", ErrShortPacket)
	}
	return binary.LittleEndian.Uint16(data), data[2:], nil
}
