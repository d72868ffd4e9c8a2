package enip

import (
	"net"
	"sync"
	"time"
)

type sentDatagram struct {
	data []byte
	to   *net.UDPAddr
}

// fakeIOSocket hands out queued datagrams, then times out.
type fakeIOSocket struct {
	mu       sync.Mutex
	inbox    [][]byte
	sent     []sentDatagram
	deadline time.Time
	closed   bool
	binds    []*net.UDPAddr
}

func (s *fakeIOSocket) listen(laddr *net.UDPAddr) (IOSocket, error) {
	s.binds = append(s.binds, laddr)
	return s, nil
}

func (s *fakeIOSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, net.ErrClosed
	}
	if len(s.inbox) == 0 {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: readTimeout{}}
	}
	n := copy(b, s.inbox[0])
	s.inbox = s.inbox[1:]
	return n, nil, nil
}

func (s *fakeIOSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	s.sent = append(s.sent, sentDatagram{data: append([]byte(nil), b...), to: addr})
	return len(b), nil
}

func (s *fakeIOSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = t
	return nil
}

func (s *fakeIOSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type readTimeout struct{}

func (readTimeout) Error() string   { return "i/o timeout" }
func (readTimeout) Timeout() bool   { return true }
func (readTimeout) Temporary() bool { return true }
