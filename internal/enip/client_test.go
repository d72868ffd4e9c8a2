package enip

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/os32c/internal/monitoring"
)

var registerSessionReply = []byte{
	0x65, 0x00, 0x04, 0x00, 0x05, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00,
}

var setAttributeReply = []byte{
	0x6F, 0x00, 0x14, 0x00, 0x05, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xB2, 0x00, 0x04, 0x00,
	0x90, 0x00, 0x00, 0x00,
}

func fullBeamMask() []byte {
	mask := make([]byte, 88)
	for i := 0; i < 84; i++ {
		mask[i] = 0xFF
	}
	mask[84] = 0x1F
	return mask
}

func rrReply(session uint32, resp MessageRouterResponse) []byte {
	pkt := Packet{Items: []Item{
		{Type: ItemNullAddress},
		{Type: ItemUnconnectedData, Data: resp.AppendBinary(nil)},
	}}
	msg := EncapMessage{
		Header: EncapHeader{Command: CommandSendRRData, SessionHandle: session},
		Data:   appendRRData(nil, 0, &pkt),
	}
	return msg.AppendBinary(nil)
}

// fakeTarget answers each request on a pipe with the next scripted reply and
// records every message it reads until the pipe closes.
func fakeTarget(t *testing.T, replies ...[]byte) (DialFunc, *string, <-chan []EncapMessage) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan []EncapMessage, 1)
	go func() {
		var got []EncapMessage
		defer func() {
			server.Close()
			done <- got
		}()
		for _, r := range replies {
			msg, err := ReadEncapMessage(server)
			if err != nil {
				return
			}
			got = append(got, msg)
			if _, err := server.Write(r); err != nil {
				return
			}
		}
		for {
			msg, err := ReadEncapMessage(server)
			if err != nil {
				return
			}
			got = append(got, msg)
		}
	}()

	var dialed string
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		dialed = address
		return client, nil
	}
	return dial, &dialed, done
}

func quietLogs(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

func TestClientSetBeamMask(t *testing.T) {
	quietLogs(t)
	dial, dialed, done := fakeTarget(t, registerSessionReply, setAttributeReply)

	c := NewClient(ClientOptions{Dial: dial, Timeout: time.Second})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, "example_host"))
	assert.Equal(t, "example_host:44818", *dialed)
	assert.Equal(t, uint32(5), c.SessionHandle())

	require.NoError(t, c.SetAttributeSingle(ctx, AttributePath{0x73, 1, 12}, fullBeamMask()))
	require.NoError(t, c.Close())
	assert.Equal(t, uint32(0), c.SessionHandle())

	got := <-done
	require.Len(t, got, 3)

	assert.Equal(t, CommandRegisterSession, got[0].Header.Command)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, got[0].Data)

	want := []byte{
		0x6F, 0x00, 0x70, 0x00, 0x05, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x00, 0xB2, 0x00, 0x60, 0x00,
		0x10, 0x03, 0x20, 0x73, 0x24, 0x01, 0x30, 0x0C,
	}
	want = append(want, fullBeamMask()...)
	sent := got[1].AppendBinary(nil)
	require.Len(t, sent, 136)
	if diff := cmp.Diff(want, sent); diff != "" {
		t.Errorf("set attribute request mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, CommandUnregisterSession, got[2].Header.Command)
	assert.Equal(t, uint32(5), got[2].Header.SessionHandle)
}

func TestClientGetAttribute(t *testing.T) {
	quietLogs(t)
	reply := rrReply(5, MessageRouterResponse{Service: ServiceGetAttributeSingle | 0x80, Data: []byte{0x05, 0x00}})
	dial, _, done := fakeTarget(t, registerSessionReply, reply)

	c := NewClient(ClientOptions{Dial: dial})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, "10.0.0.5:44818"))
	value, err := c.GetAttributeSingle(ctx, AttributePath{0x73, 1, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, value)
	require.NoError(t, c.Close())

	got := <-done
	require.Len(t, got, 3)
	pkt, err := decodeRRData(got[1].Data)
	require.NoError(t, err)
	require.Len(t, pkt.Items, 2)
	assert.Equal(t, []byte{0x0E, 0x03, 0x20, 0x73, 0x24, 0x01, 0x30, 0x04}, pkt.Items[1].Data)
}

func TestClientErrors(t *testing.T) {
	quietLogs(t)

	t.Run("cip status", func(t *testing.T) {
		reply := rrReply(5, MessageRouterResponse{Service: ServiceSetAttributeSingle | 0x80, GeneralStatus: 0x09})
		dial, _, done := fakeTarget(t, registerSessionReply, reply)
		c := NewClient(ClientOptions{Dial: dial})
		require.NoError(t, c.Open(context.Background(), "example_host"))

		err := c.SetAttributeSingle(context.Background(), AttributePath{0x73, 1, 4}, []byte{9, 0})
		var cipErr *CIPError
		require.True(t, errors.As(err, &cipErr), "got %v", err)
		assert.Equal(t, uint8(0x09), cipErr.GeneralStatus)
		c.Close()
		<-done
	})

	t.Run("encapsulation status", func(t *testing.T) {
		bad := append([]byte(nil), registerSessionReply...)
		bad[8] = 0x69 // unsupported protocol revision
		dial, _, done := fakeTarget(t, bad)
		c := NewClient(ClientOptions{Dial: dial})
		err := c.Open(context.Background(), "example_host")
		var encapErr *EncapError
		require.True(t, errors.As(err, &encapErr), "got %v", err)
		assert.Equal(t, uint32(0x69), encapErr.Status)
		assert.Equal(t, uint32(0), c.SessionHandle())
		<-done
	})

	t.Run("dial", func(t *testing.T) {
		refused := errors.New("connection refused")
		c := NewClient(ClientOptions{Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, refused
		}})
		assert.ErrorIs(t, c.Open(context.Background(), "example_host"), refused)
	})

	t.Run("not open", func(t *testing.T) {
		c := NewClient(ClientOptions{})
		_, err := c.GetAttributeSingle(context.Background(), AttributePath{0x73, 1, 4})
		assert.ErrorIs(t, err, ErrNotOpen)
		_, err = c.ReceiveIOPacket(context.Background())
		assert.ErrorIs(t, err, ErrNotOpen)
		assert.NoError(t, c.Close())
	})
}

func TestClientConnectedIO(t *testing.T) {
	quietLogs(t)
	foReply := ForwardOpenReply{
		OtoTConnectionID: 0x00020004,
		TtoOConnectionID: 0x00420001,
		SerialNumber:     1,
		VendorID:         0x1337,
		OriginatorSerial: 0x42,
		OtoTAPI:          0x00177FA0,
		TtoOAPI:          40000,
	}
	dial, _, done := fakeTarget(t,
		registerSessionReply,
		rrReply(5, MessageRouterResponse{Service: ServiceLargeForwardOpen | 0x80, Data: foReply.AppendBinary(nil)}),
		rrReply(5, MessageRouterResponse{Service: ServiceForwardClose | 0x80}),
	)
	sock := &fakeIOSocket{inbox: [][]byte{ioPacket, {0x02, 0x00, 0x02, 0x80, 0x08, 0x00}}}

	c := NewClient(ClientOptions{Dial: dial, Listen: sock.listen, Timeout: 50 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, "127.0.0.1"))

	otot := ConnectionParams{AssemblyID: 0x71, BufferSize: 0x6E, RPI: 0x00177FA0}
	ttoo := ConnectionParams{AssemblyID: 0x66, BufferSize: 0x584, RPI: 40000}
	conn, err := c.ForwardOpen(ctx, otot, ttoo)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00020004), conn.OtoTConnectionID)
	assert.Equal(t, uint32(40000), conn.TtoOAPI)
	assert.Equal(t, otot, conn.OtoT)
	require.Len(t, sock.binds, 1)
	assert.Equal(t, DefaultIOPort, sock.binds[0].Port)
	assert.Len(t, c.Connections(), 1)

	keepalive := Packet{Items: []Item{
		SequencedAddress{ConnectionID: conn.OtoTConnectionID, Sequence: 1}.Item(),
		{Type: ItemConnectedData, Data: []byte{0xAA}},
	}}
	require.NoError(t, c.SendIOPacket(ctx, keepalive))
	require.Len(t, sock.sent, 1)
	assert.Equal(t, keepalive.AppendBinary(nil), sock.sent[0].data)
	assert.Equal(t, "127.0.0.1:2222", sock.sent[0].to.String())

	pkt, err := c.ReceiveIOPacket(ctx)
	require.NoError(t, err)
	require.Len(t, pkt.Items, 2)
	assert.Equal(t, ItemConnectedData, pkt.Items[1].Type)
	assert.False(t, sock.deadline.IsZero())

	_, err = c.ReceiveIOPacket(ctx)
	assert.ErrorIs(t, err, ErrShortPacket, "truncated datagram")
	assert.False(t, IsTimeout(err))

	_, err = c.ReceiveIOPacket(ctx)
	assert.True(t, IsTimeout(err), "got %v", err)

	require.NoError(t, c.ForwardClose(ctx, conn))
	assert.Empty(t, c.Connections())
	require.NoError(t, c.Close())
	assert.True(t, sock.closed)

	got := <-done
	require.Len(t, got, 4)
	fo, err := decodeRRData(got[1].Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{ServiceLargeForwardOpen, 0x02, 0x20, 0x06, 0x24, 0x01}, fo.Items[1].Data[:6])
	fc, err := decodeRRData(got[2].Data)
	require.NoError(t, err)
	assert.Equal(t, ServiceForwardClose, fc.Items[1].Data[0])
}
