// Package session drives an OS32C scanner through its acquisition lifecycle:
// open, configure formats and beam selection, then either poll single scans
// or stream measurement reports over a connected I/O channel.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/os32c/internal/enip"
	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/timeutil"
)

// DefaultKeepaliveInterval is used when Options.KeepaliveInterval is zero.
const DefaultKeepaliveInterval = time.Second

// Options configures a Session.
type Options struct {
	// Clock drives the keepalive interval. Defaults to the real clock.
	Clock timeutil.Clock
	// KeepaliveInterval is the period between keepalive datagrams while
	// streaming. Negative disables the timer; SendKeepalive still works.
	KeepaliveInterval time.Duration
}

// Session owns the scanner configuration record and the connection handle.
// It is not safe for concurrent use.
type Session struct {
	id        uuid.UUID
	transport Transport
	clock     timeutil.Clock
	period    time.Duration

	state     State
	address   string
	config    os32c.MeasurementReportConfig
	selection os32c.BeamSelection
	static    os32c.StaticConfig
	conn      enip.Connection
	sequence  uint32
	keepalive *timeutil.Interval
}

// New returns a closed session using t.
func New(t Transport, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	switch {
	case opts.KeepaliveInterval == 0:
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	case opts.KeepaliveInterval < 0:
		opts.KeepaliveInterval = 0
	}
	s := &Session{
		id:        uuid.New(),
		transport: t,
		clock:     opts.Clock,
		period:    opts.KeepaliveInterval,
		sequence:  1,
	}
	// until the first beam selection the record describes the full scan
	sel, _ := os32c.CalcBeamMask(os32c.AngleMax, os32c.AngleMin)
	s.selection = sel
	s.config.BeamSelectionMask = sel.Mask
	s.static = os32c.NewStaticConfig(sel)
	return s
}

// ID identifies the session in logs and in the session journal.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Address returns the address passed to Open.
func (s *Session) Address() string { return s.address }

// Config returns a copy of the configuration record.
func (s *Session) Config() os32c.MeasurementReportConfig { return s.config }

// Selection returns the last beam selection.
func (s *Session) Selection() os32c.BeamSelection { return s.selection }

// StaticConfig returns the static scan fields for the last beam selection.
func (s *Session) StaticConfig() os32c.StaticConfig { return s.static }

// Connection returns the I/O connection while streaming.
func (s *Session) Connection() (enip.Connection, bool) {
	return s.conn, s.state == StateStreaming
}

// NextSequence returns the sequence number the next keepalive will carry.
func (s *Session) NextSequence() uint32 { return s.sequence }

// Open connects the transport. On failure the session stays closed.
func (s *Session) Open(ctx context.Context, address string) error {
	if err := s.require("open", StateClosed); err != nil {
		return err
	}
	if err := s.transport.Open(ctx, address); err != nil {
		return fmt.Errorf("%w: open %s: %w", os32c.ErrTransport, address, err)
	}
	s.address = address
	s.state = StateOpen
	monitoring.Logf("[session %s] opened %s", s.shortID(), address)
	return nil
}

// GetRangeFormat reads the range report format from the scanner and records it.
func (s *Session) GetRangeFormat(ctx context.Context) (os32c.RangeFormat, error) {
	v, err := s.getUint16(ctx, "get range format", RangeFormatAttr)
	if err != nil {
		return 0, err
	}
	s.config.RangeReportFormat = os32c.RangeFormat(v)
	return s.config.RangeReportFormat, nil
}

// SetRangeFormat writes the range report format and records it.
func (s *Session) SetRangeFormat(ctx context.Context, f os32c.RangeFormat) error {
	if err := s.setUint16(ctx, "set range format", RangeFormatAttr, uint16(f)); err != nil {
		return err
	}
	s.config.RangeReportFormat = f
	return nil
}

// GetReflectivityFormat reads the reflectivity report format and records it.
func (s *Session) GetReflectivityFormat(ctx context.Context) (os32c.ReflectivityFormat, error) {
	v, err := s.getUint16(ctx, "get reflectivity format", ReflectivityFormatAttr)
	if err != nil {
		return 0, err
	}
	s.config.ReflectivityFormat = os32c.ReflectivityFormat(v)
	return s.config.ReflectivityFormat, nil
}

// SetReflectivityFormat writes the reflectivity report format and records it.
func (s *Session) SetReflectivityFormat(ctx context.Context, f os32c.ReflectivityFormat) error {
	if err := s.setUint16(ctx, "set reflectivity format", ReflectivityFormatAttr, uint16(f)); err != nil {
		return err
	}
	s.config.ReflectivityFormat = f
	return nil
}

// SelectBeams encodes the angular range and writes the beam mask. Invalid
// angles fail before anything is sent.
func (s *Session) SelectBeams(ctx context.Context, startAngle, endAngle float64) error {
	if err := s.require("select beams", StateOpen, StateConfigured); err != nil {
		return err
	}
	sel, err := os32c.CalcBeamMask(startAngle, endAngle)
	if err != nil {
		return err
	}
	return s.writeSelection(ctx, sel)
}

func (s *Session) writeSelection(ctx context.Context, sel os32c.BeamSelection) error {
	if err := s.transport.SetAttributeSingle(ctx, BeamSelectionAttr, sel.Mask[:]); err != nil {
		return fmt.Errorf("%w: set beam selection: %w", os32c.ErrTransport, err)
	}
	s.selection = sel
	s.config.BeamSelectionMask = sel.Mask
	s.static = os32c.NewStaticConfig(sel)
	return nil
}

// Configure writes both report formats and the beam selection. The angles are
// validated first, so a ValidationError leaves the scanner untouched. On any
// failure the session is left open but not configured, and the configuration
// record keeps whichever writes succeeded before it, as the scanner does.
func (s *Session) Configure(ctx context.Context, rf os32c.RangeFormat, ref os32c.ReflectivityFormat, startAngle, endAngle float64) error {
	if err := s.require("configure", StateOpen, StateConfigured); err != nil {
		return err
	}
	sel, err := os32c.CalcBeamMask(startAngle, endAngle)
	if err != nil {
		s.state = StateOpen
		return err
	}
	if err := s.SetRangeFormat(ctx, rf); err != nil {
		s.state = StateOpen
		return err
	}
	if err := s.SetReflectivityFormat(ctx, ref); err != nil {
		s.state = StateOpen
		return err
	}
	if err := s.writeSelection(ctx, sel); err != nil {
		s.state = StateOpen
		return err
	}
	s.state = StateConfigured
	monitoring.Logf("[session %s] configured range format %s, reflectivity format %s, angles %.4f..%.4f rad",
		s.shortID(), rf, ref, sel.StartAngle, sel.EndAngle)
	return nil
}

// PollSingleScan reads one range-and-reflectance measurement and assembles it.
// Decode failures do not change the session state.
func (s *Session) PollSingleScan(ctx context.Context) (os32c.ScanRecord, error) {
	if err := s.require("poll", StateConfigured); err != nil {
		return os32c.ScanRecord{}, err
	}
	b, err := s.transport.GetAttributeSingle(ctx, RangeAndReflectanceAttr)
	if err != nil {
		return os32c.ScanRecord{}, fmt.Errorf("%w: poll scan: %w", os32c.ErrTransport, err)
	}
	rr, err := os32c.DecodeRangeAndReflectance(b)
	if err != nil {
		return os32c.ScanRecord{}, err
	}
	return s.static.AssembleRangeAndReflectance(rr)
}

// StartStreaming opens the I/O connection and sends the first keepalive. If
// that keepalive fails the session is still streaming and the error is
// returned; the timer will retry it.
func (s *Session) StartStreaming(ctx context.Context) (enip.Connection, error) {
	if err := s.require("start streaming", StateConfigured); err != nil {
		return enip.Connection{}, err
	}
	conn, err := s.transport.ForwardOpen(ctx, StreamOtoT, StreamTtoO)
	if err != nil {
		return enip.Connection{}, fmt.Errorf("%w: start streaming: %w", os32c.ErrTransport, err)
	}
	s.conn = conn
	s.state = StateStreaming
	s.keepalive = timeutil.NewInterval(s.clock, s.period)
	monitoring.Logf("[session %s] streaming on connection 0x%08X", s.shortID(), conn.OtoTConnectionID)
	return conn, s.SendKeepalive(ctx)
}

// ReceiveStreamScan blocks for one measurement datagram and assembles it. A
// datagram with the wrong or truncated framing fails with ErrProtocol and is
// discarded. The wait is cut short when the keepalive falls due, in which
// case the error is ErrKeepaliveDue.
func (s *Session) ReceiveStreamScan(ctx context.Context) (os32c.ScanRecord, error) {
	if err := s.require("receive scan", StateStreaming); err != nil {
		return os32c.ScanRecord{}, err
	}
	rctx := ctx
	if remaining, ok := s.keepalive.Remaining(); ok {
		if remaining == 0 {
			return os32c.ScanRecord{}, ErrKeepaliveDue
		}
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}
	pkt, err := s.transport.ReceiveIOPacket(rctx)
	switch {
	case err == nil:
	case errors.Is(err, enip.ErrShortPacket):
		return os32c.ScanRecord{}, fmt.Errorf("%w: receive scan: %w", os32c.ErrProtocol, err)
	case ctx.Err() == nil && enip.IsTimeout(err) && s.keepalive.Due():
		return os32c.ScanRecord{}, fmt.Errorf("%w: %w", ErrKeepaliveDue, err)
	default:
		return os32c.ScanRecord{}, fmt.Errorf("%w: receive scan: %w", os32c.ErrTransport, err)
	}
	if len(pkt.Items) != 2 {
		return os32c.ScanRecord{}, fmt.Errorf("%w: I/O packet with %d items", os32c.ErrProtocol, len(pkt.Items))
	}
	if pkt.Items[1].Type != enip.ItemConnectedData {
		return os32c.ScanRecord{}, fmt.Errorf("%w: I/O packet data item type 0x%04X", os32c.ErrProtocol, pkt.Items[1].Type)
	}
	_, payload, err := enip.SplitSequencedData(pkt.Items[1].Data)
	if err != nil {
		return os32c.ScanRecord{}, fmt.Errorf("%w: %w", os32c.ErrFormat, err)
	}
	mr, err := os32c.DecodeMeasurementReport(payload)
	if err != nil {
		return os32c.ScanRecord{}, err
	}
	return s.static.AssembleMeasurementReport(mr)
}

// SendKeepalive sends the configuration record on the I/O connection. Each
// call consumes one sequence number, starting at 1 and wrapping at 2^32.
func (s *Session) SendKeepalive(ctx context.Context) error {
	if err := s.require("keepalive", StateStreaming); err != nil {
		return err
	}
	seq := s.sequence
	s.sequence++

	record := s.config
	record.SequenceNum = seq
	pkt := enip.Packet{Items: []enip.Item{
		enip.SequencedAddress{ConnectionID: s.conn.OtoTConnectionID, Sequence: seq}.Item(),
		{Type: enip.ItemConnectedData, Data: record.AppendBinary(nil)},
	}}
	s.keepalive.Mark()
	if err := s.transport.SendIOPacket(ctx, pkt); err != nil {
		return fmt.Errorf("%w: keepalive %d: %w", os32c.ErrTransport, seq, err)
	}
	return nil
}

// KeepaliveIfDue sends a keepalive when the interval has elapsed. It reports
// whether one was sent. Outside streaming it does nothing.
func (s *Session) KeepaliveIfDue(ctx context.Context) (bool, error) {
	if s.state != StateStreaming || !s.keepalive.Due() {
		return false, nil
	}
	return true, s.SendKeepalive(ctx)
}

// Close tears down the I/O connection if streaming, then the transport. The
// session is closed afterwards even if either step fails.
func (s *Session) Close(ctx context.Context) error {
	if s.state == StateClosed {
		return nil
	}
	var errs []error
	if s.state == StateStreaming {
		if err := s.transport.ForwardClose(ctx, s.conn); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	s.state = StateClosed
	s.conn = enip.Connection{}
	s.keepalive = nil
	monitoring.Logf("[session %s] closed", s.shortID())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: close: %w", os32c.ErrTransport, err)
	}
	return nil
}

func (s *Session) getUint16(ctx context.Context, op string, path enip.AttributePath) (uint16, error) {
	if err := s.require(op, StateOpen, StateConfigured); err != nil {
		return 0, err
	}
	b, err := s.transport.GetAttributeSingle(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", os32c.ErrTransport, op, err)
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: %s: attribute %s returned %d bytes", os32c.ErrFormat, op, path, len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Session) setUint16(ctx context.Context, op string, path enip.AttributePath, v uint16) error {
	if err := s.require(op, StateOpen, StateConfigured); err != nil {
		return err
	}
	if err := s.transport.SetAttributeSingle(ctx, path, binary.LittleEndian.AppendUint16(nil, v)); err != nil {
		return fmt.Errorf("%w: %s: %w", os32c.ErrTransport, op, err)
	}
	return nil
}

func (s *Session) shortID() string {
	return s.id.String()[:8]
}
