package enip

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPacket reports a buffer that ends before the structure it holds.
	ErrShortPacket = errors.New("enip: short packet")
	// ErrUnexpectedReply reports a well formed reply to a different request.
	ErrUnexpectedReply = errors.New("enip: unexpected reply")
	// ErrNotOpen reports an operation on a client without a registered session.
	ErrNotOpen = errors.New("enip: session not open")
)

// EncapError is a non-zero status in an encapsulation reply header.
type EncapError struct {
	Command uint16
	Status  uint32
}

func (e *EncapError) Error() string {
	return fmt.Sprintf("enip: command 0x%04X failed with encapsulation status 0x%08X", e.Command, e.Status)
}

// CIPError is a non-zero general status in a message router response.
type CIPError struct {
	Service          uint8
	GeneralStatus    uint8
	AdditionalStatus []uint16
}

func (e *CIPError) Error() string {
	if len(e.AdditionalStatus) > 0 {
		return fmt.Sprintf("enip: service 0x%02X failed with general status 0x%02X (additional %04X)",
			e.Service, e.GeneralStatus, e.AdditionalStatus)
	}
	return fmt.Sprintf("enip: service 0x%02X failed with general status 0x%02X", e.Service, e.GeneralStatus)
}
