package enip

import (
	"context"
	"errors"
	"net"
	"time"
)

// IOSocket is the UDP endpoint carrying connected I/O. *net.UDPConn
// satisfies it.
type IOSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// ListenFunc binds the local I/O port.
type ListenFunc func(laddr *net.UDPAddr) (IOSocket, error)

// DialFunc opens the explicit messaging connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func listenUDP(laddr *net.UDPAddr) (IOSocket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
