package os32c

import "errors"

// Error taxonomy shared by the codecs, the scan assembler and the session layer.
// Callers test for a class of failure with errors.Is.
var (
	// ErrValidation reports out-of-range arguments or mismatched array lengths.
	ErrValidation = errors.New("validation error")
	// ErrFormat reports a byte buffer that is too short or cannot be parsed.
	ErrFormat = errors.New("format error")
	// ErrProtocol reports an unexpected framing item count or type.
	ErrProtocol = errors.New("protocol error")
	// ErrTransport wraps failures propagated from the transport collaborator.
	ErrTransport = errors.New("transport error")
)
