package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/os32c/internal/config"
	"github.com/banshee-data/os32c/internal/db"
	"github.com/banshee-data/os32c/internal/enip"
	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/scanmux"
	"github.com/banshee-data/os32c/internal/scanstats"
	"github.com/banshee-data/os32c/internal/session"
	"github.com/banshee-data/os32c/internal/timeutil"
)

// journalFlushInterval is how often per-session counters are written out.
const journalFlushInterval = 30 * time.Second

// closeTimeout bounds the Forward Close and unregister on shutdown.
const closeTimeout = 5 * time.Second

// sessionJournal is the part of *db.DB the acquisition loop writes to.
type sessionJournal interface {
	StartSession(rec db.SessionRecord) error
	AddSessionCounters(id uuid.UUID, scans, errs, keepalives int64) error
	EndSession(id uuid.UUID, at time.Time, reason string) error
	RecordEvent(id uuid.UUID, kind, detail string, at time.Time) error
}

type scanForwarder interface {
	ForwardAsync(rec *os32c.ScanRecord)
}

type healthReporter interface {
	SetSessionState(st session.State)
}

// scanSettings is what the session is opened and configured with.
type scanSettings struct {
	address      string
	mode         string
	rangeFormat  os32c.RangeFormat
	reflectivity os32c.ReflectivityFormat
	startAngle   float64
	endAngle     float64
}

// acquirer runs one session at a time and publishes every scan it assembles.
// Optional collaborators may be nil.
type acquirer struct {
	newSession func() *session.Session
	clock      timeutil.Clock
	mux        *scanmux.ScanMux
	stats      *scanstats.Counters
	forward    scanForwarder
	health     healthReporter
	journal    sessionJournal

	sess      *session.Session
	journaled bool
	flush     *timeutil.Interval
	pending   struct{ scans, errors, keepalives int64 }
}

// start opens and configures a new session and, in stream mode, opens the
// I/O connection. On failure the session is closed again.
func (a *acquirer) start(ctx context.Context, s scanSettings) error {
	a.sess = a.newSession()
	a.journaled = false
	a.flush = timeutil.NewInterval(a.clock, journalFlushInterval)
	a.pending.scans, a.pending.errors, a.pending.keepalives = 0, 0, 0

	if err := a.sess.Open(ctx, s.address); err != nil {
		return err
	}
	a.reportHealth()
	if err := a.sess.Configure(ctx, s.rangeFormat, s.reflectivity, s.startAngle, s.endAngle); err != nil {
		a.closeSession()
		return err
	}

	if a.journal != nil {
		rec := db.SessionRecord{
			ID:                 a.sess.ID(),
			Address:            s.address,
			Mode:               s.mode,
			RangeFormat:        uint16(s.rangeFormat),
			ReflectivityFormat: uint16(s.reflectivity),
			StartAngle:         s.startAngle,
			EndAngle:           s.endAngle,
			OpenedAt:           a.clock.Now(),
		}
		if err := a.journal.StartSession(rec); err != nil {
			monitoring.Logf("[acquire] failed to journal session: %v", err)
		} else {
			a.journaled = true
		}
	}
	a.event(db.EventConfigured, fmt.Sprintf("range=%s reflectivity=%s start=%.4f end=%.4f",
		s.rangeFormat, s.reflectivity, s.startAngle, s.endAngle))

	if s.mode == config.ModeStream {
		conn, err := a.sess.StartStreaming(ctx)
		if err != nil && a.sess.State() != session.StateStreaming {
			a.stop(err.Error())
			return err
		}
		if err != nil {
			// the connection is open, only the first keepalive failed
			monitoring.Logf("[acquire] %v", err)
		}
		a.event(db.EventStreaming, fmt.Sprintf("o_t=0x%08X t_o=0x%08X", conn.OtoTConnectionID, conn.TtoOConnectionID))
	}
	a.reportHealth()
	monitoring.Logf("[acquire] session %s %s on %s", a.sess.ID(), a.sess.State(), s.address)
	return nil
}

// serve runs sessions until ctx is cancelled or the transport reaches the end
// of its data. A failure to bring up the first session is returned; later
// transport failures close the session and retry after reconnectDelay.
func (a *acquirer) serve(ctx context.Context, s scanSettings, reconnectDelay time.Duration) error {
	if err := a.start(ctx, s); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return a.resume(ctx, s, reconnectDelay)
}

// resume runs the session opened by start, reconnecting as serve does.
func (a *acquirer) resume(ctx context.Context, s scanSettings, reconnectDelay time.Duration) error {
	for {
		err := a.run(ctx)
		switch {
		case ctx.Err() != nil:
			a.stop("shutdown")
			return nil
		case errors.Is(err, io.EOF):
			a.stop("end of capture")
			return nil
		}

		monitoring.Logf("[acquire] session %s failed: %v", a.sess.ID(), err)
		a.event(db.EventReconnect, err.Error())
		a.stop(err.Error())

		for {
			if !timeutil.Wait(ctx, a.clock, reconnectDelay) {
				return nil
			}
			err := a.start(ctx, s)
			if err == nil {
				break
			}
			monitoring.Logf("[acquire] reconnect to %s failed: %v", s.address, err)
		}
	}
}

// run reads scans until a fatal error or cancellation.
func (a *acquirer) run(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, err := a.next(ctx)
		if err != nil {
			if fatal := a.handleError(ctx, err); fatal != nil {
				return fatal
			}
		} else {
			a.publish(rec)
		}

		sent, err := a.sess.KeepaliveIfDue(ctx)
		if sent {
			if err != nil {
				monitoring.Logf("[acquire] %v", err)
				a.countError()
				a.event(db.EventError, err.Error())
			} else {
				a.stats.AddKeepalive()
				a.pending.keepalives++
			}
		}

		if a.flush.Due() {
			a.flushJournal()
		}
	}
	return ctx.Err()
}

func (a *acquirer) next(ctx context.Context) (os32c.ScanRecord, error) {
	if a.sess.State() == session.StateStreaming {
		return a.sess.ReceiveStreamScan(ctx)
	}
	return a.sess.PollSingleScan(ctx)
}

// handleError returns nil for errors the loop recovers from on the next cycle.
func (a *acquirer) handleError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, session.ErrKeepaliveDue):
		return nil
	case errors.Is(err, os32c.ErrFormat), errors.Is(err, os32c.ErrProtocol), errors.Is(err, os32c.ErrValidation):
		monitoring.Logf("[acquire] discarding scan: %v", err)
		a.countError()
		return nil
	case errors.Is(err, os32c.ErrTransport) && enip.IsTimeout(err):
		monitoring.Logf("[acquire] %v", err)
		a.countError()
		return nil
	}
	return err
}

func (a *acquirer) publish(rec os32c.ScanRecord) {
	stamped := a.mux.Publish(rec)
	a.stats.AddScan(scanstats.Summarize(&stamped))
	a.pending.scans++
	if a.forward != nil {
		a.forward.ForwardAsync(&stamped)
	}
}

func (a *acquirer) countError() {
	a.stats.AddError()
	a.pending.errors++
}

// stop flushes the journal and closes the session.
func (a *acquirer) stop(reason string) {
	a.flushJournal()
	a.closeSession()
	a.event(db.EventClosed, reason)
	if a.journaled {
		if err := a.journal.EndSession(a.sess.ID(), a.clock.Now(), reason); err != nil {
			monitoring.Logf("[acquire] failed to journal session end: %v", err)
		}
	}
}

func (a *acquirer) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.sess.Close(ctx); err != nil {
		monitoring.Logf("[acquire] %v", err)
	}
	a.reportHealth()
}

func (a *acquirer) flushJournal() {
	if a.flush != nil {
		a.flush.Mark()
	}
	p := a.pending
	if !a.journaled || p.scans+p.errors+p.keepalives == 0 {
		return
	}
	if err := a.journal.AddSessionCounters(a.sess.ID(), p.scans, p.errors, p.keepalives); err != nil {
		monitoring.Logf("[acquire] failed to journal counters: %v", err)
		return
	}
	a.pending.scans, a.pending.errors, a.pending.keepalives = 0, 0, 0
}

func (a *acquirer) event(kind, detail string) {
	if !a.journaled {
		return
	}
	if err := a.journal.RecordEvent(a.sess.ID(), kind, detail, a.clock.Now()); err != nil {
		monitoring.Logf("[acquire] failed to journal %s event: %v", kind, err)
	}
}

func (a *acquirer) reportHealth() {
	if a.health != nil {
		a.health.SetSessionState(a.sess.State())
	}
}
