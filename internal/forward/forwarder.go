package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/os32c"
)

// DropCounter is notified whenever a scan is not forwarded.
type DropCounter interface {
	AddDropped()
}

// QueueSize is the number of encoded scans buffered ahead of the socket.
const QueueSize = 64

// ScanForwarder encodes scans and sends them to another address without
// blocking the acquisition loop.
type ScanForwarder struct {
	conn        io.WriteCloser
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
	done        chan struct{}
}

// NewScanForwarder dials addr ("host:port") over UDP.
func NewScanForwarder(addr string, stats DropCounter, logInterval time.Duration) (*ScanForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return NewScanForwarderConn(conn, addr, stats, logInterval), nil
}

// NewScanForwarderConn wraps an already connected writer. Each Write is one
// datagram.
func NewScanForwarderConn(conn io.WriteCloser, addr string, stats DropCounter, logInterval time.Duration) *ScanForwarder {
	if logInterval <= 0 {
		logInterval = 10 * time.Second
	}
	return &ScanForwarder{
		conn:        conn,
		channel:     make(chan []byte, QueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     addr,
		done:        make(chan struct{}),
	}
}

// Start runs the send loop until ctx is cancelled or Close is called. Write
// failures are counted and logged once per interval.
func (f *ScanForwarder) Start(ctx context.Context) {
	go func() {
		defer close(f.done)
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
					f.addDropped()
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Logf("[forward] dropped %d scans to %s due to errors (latest: %v)", droppedCount, f.address, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("[forward] forwarding scans to %s", f.address)
}

// ForwardAsync encodes rec and queues it. When the queue is full the scan is
// dropped.
func (f *ScanForwarder) ForwardAsync(rec *os32c.ScanRecord) {
	packet := EncodeScan(rec)
	select {
	case f.channel <- packet:
	default:
		f.addDropped()
	}
}

func (f *ScanForwarder) addDropped() {
	if f.stats != nil {
		f.stats.AddDropped()
	}
}

// Close stops the send loop and closes the connection. ForwardAsync must not
// be called after Close.
func (f *ScanForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}

// Done is closed when the send loop exits.
func (f *ScanForwarder) Done() <-chan struct{} { return f.done }
