package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/os32c/internal/enip"
	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/timeutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) (*Session, *MockTransport, *timeutil.MockClock) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	mt := NewMockTransport()
	clock := timeutil.NewMockClock(epoch)
	return New(mt, Options{Clock: clock, KeepaliveInterval: time.Second}), mt, clock
}

func configured(t *testing.T) (*Session, *MockTransport, *timeutil.MockClock) {
	t.Helper()
	s, mt, clock := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "192.168.1.1"))
	require.NoError(t, s.Configure(ctx, os32c.RangeTimeOfFlight4ps, os32c.ReflectivityTOTEncoded, os32c.AngleMax, os32c.AngleMin))
	return s, mt, clock
}

func rrBytes(h os32c.MeasurementReportHeader, ranges, refl []uint16) []byte {
	rr := os32c.RangeAndReflectanceMeasurement{Header: h, RangeData: ranges, ReflectanceData: refl}
	rr.Header.NumBeams = uint16(len(ranges))
	return rr.AppendBinary(nil)
}

func TestOpen(t *testing.T) {
	s, mt, _ := newTestSession(t)
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, s.Open(context.Background(), "192.168.1.1"))
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, "192.168.1.1", mt.Address)
	assert.Equal(t, "192.168.1.1", s.Address())

	assert.ErrorIs(t, s.Open(context.Background(), "192.168.1.1"), ErrInvalidState)
}

func TestOpenTransportFailure(t *testing.T) {
	s, mt, _ := newTestSession(t)
	refused := errors.New("connection refused")
	mt.OpenErr = refused

	err := s.Open(context.Background(), "192.168.1.1")
	assert.ErrorIs(t, err, os32c.ErrTransport)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, StateClosed, s.State())
}

func TestConfigure(t *testing.T) {
	s, mt, _ := configured(t)
	assert.Equal(t, StateConfigured, s.State())

	require.Len(t, mt.Sets, 3)
	assert.Equal(t, MockSet{Path: RangeFormatAttr, Value: []byte{0x05, 0x00}}, mt.Sets[0])
	assert.Equal(t, MockSet{Path: ReflectivityFormatAttr, Value: []byte{0x01, 0x00}}, mt.Sets[1])
	assert.Equal(t, BeamSelectionAttr, mt.Sets[2].Path)
	require.Len(t, mt.Sets[2].Value, os32c.BeamMaskSize)
	assert.Equal(t, byte(0x1F), mt.Sets[2].Value[84])

	cfg := s.Config()
	assert.Equal(t, os32c.RangeTimeOfFlight4ps, cfg.RangeReportFormat)
	assert.Equal(t, os32c.ReflectivityTOTEncoded, cfg.ReflectivityFormat)
	assert.InDelta(t, os32c.AngleMax, s.StaticConfig().AngleMin, 1e-12)
	assert.InDelta(t, -os32c.AngleInc, s.StaticConfig().AngleIncrement, 1e-15)
}

func TestConfigureValidationWritesNothing(t *testing.T) {
	s, mt, _ := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "192.168.1.1"))

	err := s.Configure(context.Background(), os32c.Range50m, os32c.ReflectivityNone, 0.5, 0.5)
	assert.ErrorIs(t, err, os32c.ErrValidation)
	assert.Empty(t, mt.Sets)
	assert.Equal(t, StateOpen, s.State())
}

func TestConfigureTransportFailure(t *testing.T) {
	s, mt, _ := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "192.168.1.1"))
	mt.SetErr[BeamSelectionAttr] = &enip.CIPError{Service: enip.ServiceSetAttributeSingle, GeneralStatus: 0x09}

	err := s.Configure(context.Background(), os32c.Range50m, os32c.ReflectivityTOT4ps, os32c.AngleMax, os32c.AngleMin)
	assert.ErrorIs(t, err, os32c.ErrTransport)
	var cipErr *enip.CIPError
	assert.True(t, errors.As(err, &cipErr))
	assert.Equal(t, StateOpen, s.State())

	// the format writes before the failure stay in the record
	assert.Equal(t, os32c.Range50m, s.Config().RangeReportFormat)
	assert.Equal(t, os32c.ReflectivityTOT4ps, s.Config().ReflectivityFormat)
}

func TestConfigureBeforeOpen(t *testing.T) {
	s, mt, _ := newTestSession(t)
	err := s.Configure(context.Background(), os32c.Range50m, os32c.ReflectivityNone, os32c.AngleMax, os32c.AngleMin)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, mt.Sets)
}

func TestFormatAttributes(t *testing.T) {
	s, mt, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "192.168.1.1"))

	mt.Attributes[RangeFormatAttr] = []byte{0x01, 0x00}
	mt.Attributes[ReflectivityFormatAttr] = []byte{0x02, 0x00}

	rf, err := s.GetRangeFormat(ctx)
	require.NoError(t, err)
	assert.Equal(t, os32c.Range50m, rf)
	assert.Equal(t, os32c.Range50m, s.Config().RangeReportFormat)

	ref, err := s.GetReflectivityFormat(ctx)
	require.NoError(t, err)
	assert.Equal(t, os32c.ReflectivityTOT4ps, ref)

	require.NoError(t, s.SetRangeFormat(ctx, os32c.Range8mWZ2WZ1PZ))
	rf, err = s.GetRangeFormat(ctx)
	require.NoError(t, err)
	assert.Equal(t, os32c.Range8mWZ2WZ1PZ, rf)

	mt.Attributes[ReflectivityFormatAttr] = []byte{0x02}
	_, err = s.GetReflectivityFormat(ctx)
	assert.ErrorIs(t, err, os32c.ErrFormat)
}

func TestSelectBeams(t *testing.T) {
	s, mt, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "192.168.1.1"))

	require.NoError(t, s.SelectBeams(ctx, math.Pi/4, -math.Pi/4))
	require.Len(t, mt.Sets, 1)
	sel := s.Selection()
	assert.Equal(t, sel.Mask[:], mt.Sets[0].Value)
	assert.Equal(t, sel.Mask, s.Config().BeamSelectionMask)

	assert.ErrorIs(t, s.SelectBeams(ctx, 3, 0), os32c.ErrValidation)
	assert.Len(t, mt.Sets, 1)
}

func TestPollSingleScan(t *testing.T) {
	s, mt, _ := configured(t)
	h := os32c.MeasurementReportHeader{ScanRate: 38609, ScanBeamPeriod: 42898}
	mt.Attributes[RangeAndReflectanceAttr] = rrBytes(h,
		[]uint16{1000, 1253, 1000, 1, 48750, 49999, 50001, 48135, 0xFFFF, 0xFFFF},
		[]uint16{0, 0, 0, 0, 0, 0, 44000, 42123, 0, 0})

	rec, err := s.PollSingleScan(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.Ranges, 10)
	assert.InDelta(t, 1.253, rec.Ranges[1], 1e-6)
	assert.Equal(t, float32(0), rec.Ranges[3])
	assert.Equal(t, float32(50), rec.Ranges[9])
	assert.Equal(t, float32(44000), rec.Intensities[6])
	assert.InDelta(t, 0.038609, rec.ScanTime, 1e-12)
	assert.Equal(t, StateConfigured, s.State())
}

func TestPollSingleScanErrorsKeepState(t *testing.T) {
	s, mt, _ := configured(t)
	ctx := context.Background()

	mt.Attributes[RangeAndReflectanceAttr] = make([]byte, 20)
	_, err := s.PollSingleScan(ctx)
	assert.ErrorIs(t, err, os32c.ErrFormat)
	assert.Equal(t, StateConfigured, s.State())

	mt.GetErr = os.ErrDeadlineExceeded
	_, err = s.PollSingleScan(ctx)
	assert.ErrorIs(t, err, os32c.ErrTransport)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, StateConfigured, s.State())
}

func TestPollBeforeConfigure(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "192.168.1.1"))
	_, err := s.PollSingleScan(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStartStreaming(t *testing.T) {
	s, mt, _ := configured(t)
	conn, err := s.StartStreaming(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())
	assert.Equal(t, StreamOtoT, conn.OtoT)
	assert.Equal(t, StreamTtoO, conn.TtoO)
	assert.Equal(t, uint16(0x71), StreamOtoT.AssemblyID)
	assert.Equal(t, uint32(40000), StreamTtoO.RPI)

	got, ok := s.Connection()
	assert.True(t, ok)
	assert.Equal(t, conn, got)

	// the first keepalive goes out immediately
	require.Len(t, mt.Sent, 1)
	pkt := mt.Sent[0]
	require.Len(t, pkt.Items, 2)
	addr, err := enip.DecodeSequencedAddress(pkt.Items[0])
	require.NoError(t, err)
	assert.Equal(t, enip.SequencedAddress{ConnectionID: 0x00020004, Sequence: 1}, addr)
	assert.Equal(t, enip.ItemConnectedData, pkt.Items[1].Type)

	record, err := os32c.DecodeMeasurementReportConfig(pkt.Items[1].Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), record.SequenceNum)
	assert.Equal(t, os32c.RangeTimeOfFlight4ps, record.RangeReportFormat)
	assert.Equal(t, s.Selection().Mask, record.BeamSelectionMask)

	_, err = s.PollSingleScan(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestKeepaliveSequence(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SendKeepalive(context.Background()))
	}
	require.Len(t, mt.Sent, 4)
	for i, pkt := range mt.Sent {
		addr, err := enip.DecodeSequencedAddress(pkt.Items[0])
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), addr.Sequence)
	}
	assert.Equal(t, uint32(5), s.NextSequence())
}

func TestKeepaliveSequenceWraps(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	s.sequence = math.MaxUint32
	require.NoError(t, s.SendKeepalive(context.Background()))
	require.NoError(t, s.SendKeepalive(context.Background()))

	last := mt.Sent[len(mt.Sent)-2:]
	a, _ := enip.DecodeSequencedAddress(last[0].Items[0])
	b, _ := enip.DecodeSequencedAddress(last[1].Items[0])
	assert.Equal(t, uint32(math.MaxUint32), a.Sequence)
	assert.Equal(t, uint32(0), b.Sequence)
}

func TestKeepaliveIfDue(t *testing.T) {
	s, mt, clock := configured(t)
	ctx := context.Background()

	sent, err := s.KeepaliveIfDue(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "not streaming yet")

	_, err = s.StartStreaming(ctx)
	require.NoError(t, err)
	require.Len(t, mt.Sent, 1)

	clock.Advance(500 * time.Millisecond)
	sent, err = s.KeepaliveIfDue(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	clock.Advance(500 * time.Millisecond)
	sent, err = s.KeepaliveIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, mt.Sent, 2)

	// keepalives follow time, not received scans
	for i := 0; i < 25; i++ {
		_, _ = s.ReceiveStreamScan(ctx)
		sent, err = s.KeepaliveIfDue(ctx)
		require.NoError(t, err)
		assert.False(t, sent)
	}
	clock.Advance(time.Second)
	sent, err = s.KeepaliveIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, mt.Sent, 3)
}

func TestKeepaliveFailureKeepsStreaming(t *testing.T) {
	s, mt, _ := configured(t)
	mt.SendErr = errors.New("network unreachable")

	_, err := s.StartStreaming(context.Background())
	assert.ErrorIs(t, err, os32c.ErrTransport)
	assert.Equal(t, StateStreaming, s.State())
	assert.Equal(t, uint32(2), s.NextSequence())
}

func TestReceiveStreamScan(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	mr := os32c.MeasurementReport{
		Header:          os32c.MeasurementReportHeader{NumBeams: 3, RangeReportFormat: uint16(os32c.Range50m), ScanRate: 40000},
		MeasurementData: []uint16{1500, os32c.RawNoisyBeam, os32c.RawNoReturn},
	}
	mt.QueueReport(0x00420001, 7, mr.AppendBinary(nil))

	rec, err := s.ReceiveStreamScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 0, 50}, rec.Ranges)
	assert.Empty(t, rec.Intensities)
	assert.InDelta(t, 0.04, rec.ScanTime, 1e-12)

	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrTransport)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, StateStreaming, s.State())
}

func TestReceiveStreamScanFraming(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	addr := enip.SequencedAddress{ConnectionID: 1, Sequence: 1}.Item()
	mt.IOPackets = []enip.Packet{
		{Items: []enip.Item{addr}},
		{Items: []enip.Item{addr, {Type: enip.ItemUnconnectedData, Data: []byte{0, 0}}}},
		{Items: []enip.Item{addr, {Type: enip.ItemConnectedData, Data: []byte{0}}}},
		{Items: []enip.Item{addr, {Type: enip.ItemConnectedData, Data: make([]byte, 12)}}},
	}

	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrProtocol)
	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrProtocol)
	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrFormat)
	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrFormat)
	assert.Equal(t, StateStreaming, s.State())
}

func TestReceiveStreamScanTruncatedDatagram(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	// item count says two, the address item is cut off
	_, decodeErr := enip.DecodePacket([]byte{0x02, 0x00, 0x02, 0x80, 0x08, 0x00})
	require.Error(t, decodeErr)
	mt.ReceiveErr = fmt.Errorf("enip: decode I/O packet: %w", decodeErr)

	_, err = s.ReceiveStreamScan(context.Background())
	assert.ErrorIs(t, err, os32c.ErrProtocol)
	assert.NotErrorIs(t, err, os32c.ErrTransport)
	assert.Equal(t, StateStreaming, s.State())
}

func TestReceiveStreamScanStopsForKeepalive(t *testing.T) {
	s, mt, clock := configured(t)
	ctx := context.Background()
	_, err := s.StartStreaming(ctx)
	require.NoError(t, err)

	_, err = s.ReceiveStreamScan(ctx)
	assert.ErrorIs(t, err, os32c.ErrTransport, "timeout before the keepalive is due")
	require.Len(t, mt.ReceiveDeadlines, 1)
	assert.WithinDuration(t, time.Now().Add(time.Second), mt.ReceiveDeadlines[0], 500*time.Millisecond)

	mt.BeforeReceive = func() { clock.Advance(time.Second) }
	_, err = s.ReceiveStreamScan(ctx)
	assert.ErrorIs(t, err, ErrKeepaliveDue)
	assert.NotErrorIs(t, err, os32c.ErrTransport)
	mt.BeforeReceive = nil

	// already due: no receive at all
	_, err = s.ReceiveStreamScan(ctx)
	assert.ErrorIs(t, err, ErrKeepaliveDue)
	assert.Len(t, mt.ReceiveDeadlines, 2)

	sent, err := s.KeepaliveIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, mt.Sent, 2)
	assert.Equal(t, StateStreaming, s.State())
}

func TestReceiveStreamScanKeepaliveDisabled(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
	mt := NewMockTransport()
	clock := timeutil.NewMockClock(epoch)
	s := New(mt, Options{Clock: clock, KeepaliveInterval: -1})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "192.168.1.1"))
	require.NoError(t, s.Configure(ctx, os32c.RangeTimeOfFlight4ps, os32c.ReflectivityTOTEncoded, os32c.AngleMax, os32c.AngleMin))
	_, err := s.StartStreaming(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.ReceiveStreamScan(ctx)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.Len(t, mt.ReceiveDeadlines, 1)
	assert.True(t, mt.ReceiveDeadlines[0].IsZero())
}

func TestClose(t *testing.T) {
	s, mt, _ := configured(t)
	conn, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []enip.Connection{conn}, mt.ForwardCloses)
	assert.Equal(t, 1, mt.Closes)
	_, ok := s.Connection()
	assert.False(t, ok)

	// closing again is a no-op
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, mt.Closes)

	// and the session can be reopened
	require.NoError(t, s.Open(context.Background(), "192.168.1.1"))
}

func TestCloseErrors(t *testing.T) {
	s, mt, _ := configured(t)
	_, err := s.StartStreaming(context.Background())
	require.NoError(t, err)

	mt.ForwardCloseErr = errors.New("connection not found")
	mt.CloseErr = errors.New("broken pipe")
	err = s.Close(context.Background())
	assert.ErrorIs(t, err, os32c.ErrTransport)
	assert.ErrorIs(t, err, mt.ForwardCloseErr)
	assert.ErrorIs(t, err, mt.CloseErr)
	assert.Equal(t, StateClosed, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "state(9)", State(9).String())
}
