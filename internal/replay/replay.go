// Package replay serves measurement datagrams from a packet capture through
// the same transport interface the live scanner client implements, so a
// session can be driven offline.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/os32c/internal/enip"
	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/timeutil"
)

// ErrNotCaptured is returned for reads a capture of the I/O port cannot serve.
var ErrNotCaptured = errors.New("not available in capture")

// Options configures a replay Transport.
type Options struct {
	// Port is the UDP port measurement datagrams are sent from. Zero means 2222.
	Port int
	// Scanner restricts datagrams to this source address. When empty the host
	// part of the address given to Open is used if it is an IP.
	Scanner string
	// Realtime paces packets by their capture timestamps.
	Realtime bool
	Clock    timeutil.Clock
}

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Transport replays a capture file. Attribute writes are stored and served
// back by reads; keepalives are counted and discarded.
type Transport struct {
	path string
	opts Options

	mu         sync.Mutex
	file       *os.File
	reader     packetReader
	scanner    net.IP
	attributes map[enip.AttributePath][]byte
	conn       enip.Connection
	peeked     *enip.Packet
	lastStamp  time.Time
	packets    int
	keepalives int
}

// NewTransport returns a Transport for the capture at path. The file is
// opened by Open.
func NewTransport(path string, opts Options) *Transport {
	if opts.Port == 0 {
		opts.Port = enip.DefaultIOPort
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Transport{
		path:       path,
		opts:       opts,
		attributes: make(map[enip.AttributePath][]byte),
	}
}

// Open opens the capture. Classic pcap is tried first, then pcapng.
func (t *Transport) Open(ctx context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return fmt.Errorf("replay %s: already open", t.path)
	}

	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", t.path, err)
	}
	r, err := newPacketReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture %s: %w", t.path, err)
	}

	t.file = f
	t.reader = r
	t.scanner = scannerIP(t.opts.Scanner, address)
	monitoring.Logf("[replay] reading %s (link %s, udp port %d, scanner %v)", t.path, r.LinkType(), t.opts.Port, t.scanner)
	return nil
}

func newPacketReader(f *os.File) (packetReader, error) {
	r, err := pcapgo.NewReader(f)
	if err == nil {
		return r, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not pcap (%v) or pcapng (%v)", err, ngErr)
	}
	return ng, nil
}

func scannerIP(explicit, address string) net.IP {
	host := explicit
	if host == "" {
		host = address
		if h, _, err := net.SplitHostPort(address); err == nil {
			host = h
		}
	}
	return net.ParseIP(host)
}

// Close closes the capture file.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.reader = nil
	monitoring.Logf("[replay] closed after %d datagrams, %d keepalives discarded", t.packets, t.keepalives)
	return err
}

// GetAttributeSingle returns a previously written attribute value.
func (t *Transport) GetAttributeSingle(ctx context.Context, path enip.AttributePath) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.attributes[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, ErrNotCaptured)
	}
	return append([]byte(nil), v...), nil
}

// SetAttributeSingle stores value for later reads.
func (t *Transport) SetAttributeSingle(ctx context.Context, path enip.AttributePath, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attributes[path] = append([]byte(nil), value...)
	return nil
}

// ForwardOpen returns a connection whose T→O id is taken from the first
// measurement datagram in the capture.
func (t *Transport) ForwardOpen(ctx context.Context, otot, ttoo enip.ConnectionParams) (enip.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reader == nil {
		return enip.Connection{}, enip.ErrNotOpen
	}

	pkt, err := t.next(ctx)
	if err != nil {
		return enip.Connection{}, fmt.Errorf("forward open: %w", err)
	}
	t.peeked = &pkt

	conn := enip.Connection{OtoT: otot, TtoO: ttoo, SerialNumber: 1}
	if len(pkt.Items) > 0 {
		if addr, err := enip.DecodeSequencedAddress(pkt.Items[0]); err == nil {
			conn.TtoOConnectionID = addr.ConnectionID
		}
	}
	t.conn = conn
	return conn, nil
}

// ForwardClose releases the replayed connection.
func (t *Transport) ForwardClose(ctx context.Context, conn enip.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = enip.Connection{}
	return nil
}

// SendIOPacket discards outgoing datagrams.
func (t *Transport) SendIOPacket(ctx context.Context, pkt enip.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keepalives++
	return nil
}

// ReceiveIOPacket returns the next measurement datagram. At the end of the
// capture it returns io.EOF.
func (t *Transport) ReceiveIOPacket(ctx context.Context) (enip.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reader == nil {
		return enip.Packet{}, enip.ErrNotOpen
	}
	if t.peeked != nil {
		pkt := *t.peeked
		t.peeked = nil
		return pkt, nil
	}
	return t.next(ctx)
}

// Keepalives returns how many outgoing datagrams were discarded.
func (t *Transport) Keepalives() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keepalives
}

// next reads packets until one is a measurement datagram from the scanner.
func (t *Transport) next(ctx context.Context) (enip.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return enip.Packet{}, err
		}
		data, ci, err := t.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return enip.Packet{}, io.EOF
			}
			return enip.Packet{}, fmt.Errorf("failed to read capture: %w", err)
		}

		payload, ok := t.measurementPayload(data)
		if !ok {
			continue
		}
		pkt, err := enip.DecodePacket(payload)
		if err != nil {
			monitoring.Logf("[replay] skipping undecodable datagram at %s: %v", ci.Timestamp.Format(time.RFC3339Nano), err)
			continue
		}
		if t.scanner == nil && isKeepalive(pkt) {
			continue
		}

		t.pace(ci.Timestamp)
		t.packets++
		return pkt, nil
	}
}

// measurementPayload extracts the UDP payload of a datagram sent from the
// scanner's I/O port.
func (t *Transport) measurementPayload(data []byte) ([]byte, bool) {
	packet := gopacket.NewPacket(data, t.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || int(udp.SrcPort) != t.opts.Port || len(udp.Payload) == 0 {
		return nil, false
	}

	if t.scanner != nil {
		var src net.IP
		if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			src = ip4.SrcIP
		} else if ip6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
			src = ip6.SrcIP
		}
		if src == nil || !src.Equal(t.scanner) {
			return nil, false
		}
	}
	return udp.Payload, true
}

// isKeepalive reports whether pkt looks like a host keepalive: its data item
// is exactly one configuration record. Without a scanner address this is the
// only way to tell direction, and it also drops 21-beam reports.
func isKeepalive(pkt enip.Packet) bool {
	return len(pkt.Items) == 2 &&
		pkt.Items[1].Type == enip.ItemConnectedData &&
		len(pkt.Items[1].Data) == os32c.MeasurementReportConfigSize
}

func (t *Transport) pace(stamp time.Time) {
	if !t.opts.Realtime {
		return
	}
	if !t.lastStamp.IsZero() {
		if gap := stamp.Sub(t.lastStamp); gap > 0 {
			t.opts.Clock.Sleep(gap)
		}
	}
	t.lastStamp = stamp
}
