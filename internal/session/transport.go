package session

import (
	"context"

	"github.com/banshee-data/os32c/internal/enip"
)

// Transport is the messaging capability a Session drives. *enip.Client is the
// network implementation; replay.Transport serves captured traffic.
type Transport interface {
	Open(ctx context.Context, address string) error
	Close() error

	GetAttributeSingle(ctx context.Context, path enip.AttributePath) ([]byte, error)
	SetAttributeSingle(ctx context.Context, path enip.AttributePath, value []byte) error

	ForwardOpen(ctx context.Context, otot, ttoo enip.ConnectionParams) (enip.Connection, error)
	ForwardClose(ctx context.Context, conn enip.Connection) error
	SendIOPacket(ctx context.Context, pkt enip.Packet) error
	ReceiveIOPacket(ctx context.Context) (enip.Packet, error)
}

var _ Transport = (*enip.Client)(nil)

// Scanner object attributes.
var (
	RangeFormatAttr         = enip.AttributePath{Class: 0x73, Instance: 1, Attribute: 4}
	ReflectivityFormatAttr  = enip.AttributePath{Class: 0x73, Instance: 1, Attribute: 5}
	BeamSelectionAttr       = enip.AttributePath{Class: 0x73, Instance: 1, Attribute: 12}
	RangeAndReflectanceAttr = enip.AttributePath{Class: 0x75, Instance: 1, Attribute: 3}
)

// I/O connection parameters for measurement streaming.
var (
	// StreamOtoT carries the measurement report config from host to scanner.
	StreamOtoT = enip.ConnectionParams{AssemblyID: 0x71, BufferSize: 0x006E, RPI: 0x00177FA0}
	// StreamTtoO carries measurement reports from scanner to host.
	StreamTtoO = enip.ConnectionParams{AssemblyID: 0x66, BufferSize: 0x0584, RPI: 40000}
)
