package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/os32c/internal/enip"
)

// MockTransport implements Transport for testing. Attribute writes are stored
// and served back by reads; I/O reads return IOPackets in order and then time
// out.
type MockTransport struct {
	mu sync.Mutex

	// Attributes holds attribute values returned by GetAttributeSingle.
	Attributes map[enip.AttributePath][]byte
	// Sets records every SetAttributeSingle call in order.
	Sets []MockSet
	// IOPackets holds the packets returned by ReceiveIOPacket.
	IOPackets []enip.Packet
	// Sent records every SendIOPacket call.
	Sent []enip.Packet
	// Conn is returned by ForwardOpen.
	Conn enip.Connection

	Opened        bool
	Address       string
	ForwardOpens  int
	ForwardCloses []enip.Connection
	Closes        int

	// Errors returned by the matching method when set.
	OpenErr         error
	CloseErr        error
	GetErr          error
	SetErr          map[enip.AttributePath]error
	ForwardOpenErr  error
	ForwardCloseErr error
	SendErr         error
	ReceiveErr      error

	// BeforeReceive runs at the start of every ReceiveIOPacket call.
	BeforeReceive func()
	// ReceiveDeadlines records the context deadline of every receive, zero
	// when there was none.
	ReceiveDeadlines []time.Time
}

// MockSet is one recorded attribute write.
type MockSet struct {
	Path  enip.AttributePath
	Value []byte
}

// NewMockTransport returns a transport with an empty attribute store.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Attributes: make(map[enip.AttributePath][]byte),
		SetErr:     make(map[enip.AttributePath]error),
		Conn:       enip.Connection{OtoTConnectionID: 0x00020004, TtoOConnectionID: 0x00420001, SerialNumber: 1},
	}
}

func (m *MockTransport) Open(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.Opened = true
	m.Address = address
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
	m.Opened = false
	return m.CloseErr
}

func (m *MockTransport) GetAttributeSingle(ctx context.Context, path enip.AttributePath) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.Attributes[path]
	if !ok {
		return nil, &enip.CIPError{Service: enip.ServiceGetAttributeSingle, GeneralStatus: 0x14}
	}
	return append([]byte(nil), v...), nil
}

func (m *MockTransport) SetAttributeSingle(ctx context.Context, path enip.AttributePath, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.SetErr[path]; err != nil {
		return err
	}
	v := append([]byte(nil), value...)
	m.Sets = append(m.Sets, MockSet{Path: path, Value: v})
	m.Attributes[path] = v
	return nil
}

func (m *MockTransport) ForwardOpen(ctx context.Context, otot, ttoo enip.ConnectionParams) (enip.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForwardOpenErr != nil {
		return enip.Connection{}, m.ForwardOpenErr
	}
	m.ForwardOpens++
	conn := m.Conn
	conn.OtoT = otot
	conn.TtoO = ttoo
	return conn, nil
}

func (m *MockTransport) ForwardClose(ctx context.Context, conn enip.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForwardCloses = append(m.ForwardCloses, conn)
	return m.ForwardCloseErr
}

func (m *MockTransport) SendIOPacket(ctx context.Context, pkt enip.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, pkt)
	return nil
}

func (m *MockTransport) ReceiveIOPacket(ctx context.Context) (enip.Packet, error) {
	if m.BeforeReceive != nil {
		m.BeforeReceive()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, _ := ctx.Deadline()
	m.ReceiveDeadlines = append(m.ReceiveDeadlines, d)
	if m.ReceiveErr != nil {
		return enip.Packet{}, m.ReceiveErr
	}
	if len(m.IOPackets) == 0 {
		return enip.Packet{}, fmt.Errorf("mock receive: %w", os.ErrDeadlineExceeded)
	}
	pkt := m.IOPackets[0]
	m.IOPackets = m.IOPackets[1:]
	return pkt, nil
}

// QueueReport queues a measurement datagram carrying data.
func (m *MockTransport) QueueReport(connID, seq uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := append([]byte{byte(seq), byte(seq >> 8)}, data...)
	m.IOPackets = append(m.IOPackets, enip.Packet{Items: []enip.Item{
		enip.SequencedAddress{ConnectionID: connID, Sequence: seq}.Item(),
		{Type: enip.ItemConnectedData, Data: payload},
	}})
}
