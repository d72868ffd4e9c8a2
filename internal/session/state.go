package session

import (
	"errors"
	"fmt"
)

// ErrInvalidState reports an operation that the session's current state does
// not allow.
var ErrInvalidState = errors.New("invalid session state")

// ErrKeepaliveDue reports a stream receive that returned without a scan so
// the caller can send the keepalive on time.
var ErrKeepaliveDue = errors.New("keepalive due")

// State is the lifecycle state of a Session.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateConfigured
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s *Session) require(op string, allowed ...State) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidState, op, s.state)
}
