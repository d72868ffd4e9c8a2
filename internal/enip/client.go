package enip

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/os32c/internal/monitoring"
)

// Well-known ports.
const (
	DefaultExplicitPort = 44818
	DefaultIOPort       = 2222
)

// ioBufferSize holds the largest connected datagram we expect.
const ioBufferSize = 4096

// ClientOptions configures a Client. Zero values select the defaults.
type ClientOptions struct {
	// Timeout bounds each request/response exchange and each datagram read.
	// Zero means no timeout beyond the context deadline.
	Timeout time.Duration
	// IOPort is the local and remote UDP port for connected I/O.
	IOPort int
	// VendorID and OriginatorSerial identify this originator in Forward Open.
	VendorID         uint16
	OriginatorSerial uint32
	// Dial opens the TCP connection. Defaults to net.Dialer.DialContext.
	Dial DialFunc
	// Listen binds the I/O socket. Defaults to net.ListenUDP.
	Listen ListenFunc
}

// Client is an EtherNet/IP originator talking to a single target. Methods
// must not be called concurrently.
type Client struct {
	opts ClientOptions

	conn    net.Conn
	host    string
	session uint32

	io   IOSocket
	peer *net.UDPAddr
	rx   []byte

	mu          sync.Mutex
	connections []Connection
	nextSerial  uint16
}

// NewClient returns an unopened client.
func NewClient(opts ClientOptions) *Client {
	if opts.IOPort == 0 {
		opts.IOPort = DefaultIOPort
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	if opts.Listen == nil {
		opts.Listen = listenUDP
	}
	if opts.VendorID == 0 {
		opts.VendorID = 0x1337
	}
	if opts.OriginatorSerial == 0 {
		opts.OriginatorSerial = 0x42
	}
	return &Client{opts: opts, nextSerial: 1}
}

// SessionHandle returns the handle assigned by the target, or 0 when closed.
func (c *Client) SessionHandle() uint32 { return c.session }

// Connections returns the currently open I/O connections.
func (c *Client) Connections() []Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Connection(nil), c.connections...)
}

// Open connects to the target and registers a session. address is a host name
// or IP, optionally with a port; the explicit messaging port is the default.
func (c *Client) Open(ctx context.Context, address string) error {
	if c.conn != nil {
		return fmt.Errorf("enip: session already open to %s", c.host)
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, strconv.Itoa(DefaultExplicitPort)
	}
	conn, err := c.opts.Dial(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("enip: dial %s: %w", address, err)
	}
	c.conn = conn
	c.host = host

	reply, err := c.exchange(ctx, EncapMessage{
		Header: EncapHeader{Command: CommandRegisterSession},
		Data:   registerSessionData(),
	})
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("enip: register session: %w", err)
	}
	c.session = reply.Header.SessionHandle
	monitoring.Logf("[enip] registered session 0x%08X with %s", c.session, conn.RemoteAddr())
	return nil
}

// Close unregisters the session and releases both sockets. Open I/O
// connections are forgotten; close them first with ForwardClose.
func (c *Client) Close() error {
	var firstErr error
	if c.conn != nil {
		msg := EncapMessage{Header: EncapHeader{Command: CommandUnregisterSession, SessionHandle: c.session}}
		// no reply is sent to UnregisterSession
		c.conn.SetWriteDeadline(c.deadline(context.Background()))
		if _, err := c.conn.Write(msg.AppendBinary(nil)); err != nil {
			firstErr = fmt.Errorf("enip: unregister session: %w", err)
		}
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
		c.session = 0
	}
	if c.io != nil {
		if err := c.io.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.io = nil
	}
	c.mu.Lock()
	c.connections = nil
	c.mu.Unlock()
	return firstErr
}

// GetAttributeSingle reads one attribute and returns its raw value.
func (c *Client) GetAttributeSingle(ctx context.Context, path AttributePath) ([]byte, error) {
	resp, err := c.sendRRData(ctx, MessageRouterRequest{
		Service: ServiceGetAttributeSingle,
		Path:    path.EPath(),
	})
	if err != nil {
		return nil, fmt.Errorf("enip: get attribute %s: %w", path, err)
	}
	return resp.Data, nil
}

// SetAttributeSingle writes one attribute.
func (c *Client) SetAttributeSingle(ctx context.Context, path AttributePath, value []byte) error {
	_, err := c.sendRRData(ctx, MessageRouterRequest{
		Service: ServiceSetAttributeSingle,
		Path:    path.EPath(),
		Data:    value,
	})
	if err != nil {
		return fmt.Errorf("enip: set attribute %s: %w", path, err)
	}
	return nil
}

// ForwardOpen opens a class 1 I/O connection and the local I/O socket if it is
// not already open.
func (c *Client) ForwardOpen(ctx context.Context, otot, ttoo ConnectionParams) (Connection, error) {
	if c.conn == nil {
		return Connection{}, ErrNotOpen
	}
	if err := c.openIO(); err != nil {
		return Connection{}, err
	}

	c.mu.Lock()
	serial := c.nextSerial
	c.nextSerial++
	c.mu.Unlock()

	req := ForwardOpenRequest{
		TtoOConnectionID: uint32(c.opts.OriginatorSerial)<<16 | uint32(serial),
		SerialNumber:     serial,
		VendorID:         c.opts.VendorID,
		OriginatorSerial: c.opts.OriginatorSerial,
		OtoT:             otot,
		TtoO:             ttoo,
	}
	resp, err := c.sendRRData(ctx, MessageRouterRequest{
		Service: req.Service(),
		Path:    objectPath(classConnectionManager, 1),
		Data:    req.AppendBinary(nil),
	})
	if err != nil {
		return Connection{}, fmt.Errorf("enip: forward open: %w", err)
	}
	reply, err := DecodeForwardOpenReply(resp.Data)
	if err != nil {
		return Connection{}, fmt.Errorf("enip: forward open: %w", err)
	}

	conn := Connection{
		OtoTConnectionID: reply.OtoTConnectionID,
		TtoOConnectionID: reply.TtoOConnectionID,
		SerialNumber:     serial,
		OtoTAPI:          reply.OtoTAPI,
		TtoOAPI:          reply.TtoOAPI,
		OtoT:             otot,
		TtoO:             ttoo,
	}
	c.mu.Lock()
	c.connections = append(c.connections, conn)
	c.mu.Unlock()
	monitoring.Logf("[enip] opened I/O connection O->T 0x%08X (API %d us) T->O 0x%08X (API %d us)",
		conn.OtoTConnectionID, conn.OtoTAPI, conn.TtoOConnectionID, conn.TtoOAPI)
	return conn, nil
}

// ForwardClose closes an I/O connection opened by ForwardOpen.
func (c *Client) ForwardClose(ctx context.Context, conn Connection) error {
	if c.conn == nil {
		return ErrNotOpen
	}
	req := ForwardCloseRequest{
		SerialNumber:     conn.SerialNumber,
		VendorID:         c.opts.VendorID,
		OriginatorSerial: c.opts.OriginatorSerial,
		OtoT:             conn.OtoT,
		TtoO:             conn.TtoO,
	}
	_, err := c.sendRRData(ctx, MessageRouterRequest{
		Service: ServiceForwardClose,
		Path:    objectPath(classConnectionManager, 1),
		Data:    req.AppendBinary(nil),
	})

	c.mu.Lock()
	for i, open := range c.connections {
		if open.SerialNumber == conn.SerialNumber {
			c.connections = append(c.connections[:i], c.connections[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("enip: forward close: %w", err)
	}
	return nil
}

// SendIOPacket sends one connected datagram to the target.
func (c *Client) SendIOPacket(ctx context.Context, pkt Packet) error {
	if c.io == nil {
		return fmt.Errorf("%w: no I/O connection", ErrNotOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.io.WriteToUDP(pkt.AppendBinary(nil), c.peer); err != nil {
		return fmt.Errorf("enip: send I/O packet: %w", err)
	}
	return nil
}

// ReceiveIOPacket blocks until one connected datagram arrives or the read
// times out. The returned items alias an internal buffer that is reused by
// the next call.
func (c *Client) ReceiveIOPacket(ctx context.Context) (Packet, error) {
	if c.io == nil {
		return Packet{}, fmt.Errorf("%w: no I/O connection", ErrNotOpen)
	}
	if err := c.io.SetReadDeadline(c.deadline(ctx)); err != nil {
		return Packet{}, err
	}
	n, _, err := c.io.ReadFromUDP(c.rx)
	if err != nil {
		return Packet{}, fmt.Errorf("enip: receive I/O packet: %w", err)
	}
	pkt, err := DecodePacket(c.rx[:n])
	if err != nil {
		return Packet{}, fmt.Errorf("enip: decode I/O packet: %w", err)
	}
	return pkt, nil
}

func (c *Client) openIO() error {
	if c.io != nil {
		return nil
	}
	sock, err := c.opts.Listen(&net.UDPAddr{Port: c.opts.IOPort})
	if err != nil {
		return fmt.Errorf("enip: listen on UDP port %d: %w", c.opts.IOPort, err)
	}
	peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.host, strconv.Itoa(c.opts.IOPort)))
	if err != nil {
		sock.Close()
		return fmt.Errorf("enip: resolve %s: %w", c.host, err)
	}
	c.io = sock
	c.peer = peer
	c.rx = make([]byte, ioBufferSize)
	return nil
}

// sendRRData runs one explicit request/response exchange.
func (c *Client) sendRRData(ctx context.Context, req MessageRouterRequest) (MessageRouterResponse, error) {
	if c.conn == nil {
		return MessageRouterResponse{}, ErrNotOpen
	}
	pkt := Packet{Items: []Item{
		{Type: ItemNullAddress},
		{Type: ItemUnconnectedData, Data: req.AppendBinary(nil)},
	}}
	reply, err := c.exchange(ctx, EncapMessage{
		Header: EncapHeader{Command: CommandSendRRData, SessionHandle: c.session},
		Data:   appendRRData(nil, 0, &pkt),
	})
	if err != nil {
		return MessageRouterResponse{}, err
	}

	cpf, err := decodeRRData(reply.Data)
	if err != nil {
		return MessageRouterResponse{}, err
	}
	if len(cpf.Items) != 2 || cpf.Items[1].Type != ItemUnconnectedData {
		return MessageRouterResponse{}, fmt.Errorf("%w: RR data reply with %d items", ErrUnexpectedReply, len(cpf.Items))
	}
	resp, err := DecodeMessageRouterResponse(cpf.Items[1].Data)
	if err != nil {
		return MessageRouterResponse{}, err
	}
	if err := resp.check(req.Service); err != nil {
		return MessageRouterResponse{}, err
	}
	return resp, nil
}

// exchange writes msg and reads the reply to it.
func (c *Client) exchange(ctx context.Context, msg EncapMessage) (EncapMessage, error) {
	deadline := c.deadline(ctx)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return EncapMessage{}, err
	}
	if _, err := c.conn.Write(msg.AppendBinary(nil)); err != nil {
		return EncapMessage{}, err
	}
	reply, err := ReadEncapMessage(c.conn)
	if err != nil {
		return EncapMessage{}, err
	}
	if reply.Header.Command != msg.Header.Command {
		return EncapMessage{}, fmt.Errorf("%w: command 0x%04X in reply to 0x%04X",
			ErrUnexpectedReply, reply.Header.Command, msg.Header.Command)
	}
	if reply.Header.Status != 0 {
		return EncapMessage{}, &EncapError{Command: reply.Header.Command, Status: reply.Header.Status}
	}
	return reply, nil
}

// deadline combines the context deadline with the per-exchange timeout. The
// zero time means no deadline.
func (c *Client) deadline(ctx context.Context) time.Time {
	d, ok := ctx.Deadline()
	if c.opts.Timeout > 0 {
		t := time.Now().Add(c.opts.Timeout)
		if !ok || t.Before(d) {
			return t
		}
	}
	if !ok {
		return time.Time{}
	}
	return d
}
