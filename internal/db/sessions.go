package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id has no journal row.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one journalled device session.
type SessionRecord struct {
	ID                 uuid.UUID  `json:"id"`
	Address            string     `json:"address"`
	Mode               string     `json:"mode"`
	RangeFormat        uint16     `json:"range_format"`
	ReflectivityFormat uint16     `json:"reflectivity_format"`
	StartAngle         float64    `json:"start_angle"`
	EndAngle           float64    `json:"end_angle"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CloseReason        string     `json:"close_reason,omitempty"`
	Scans              int64      `json:"scans"`
	Errors             int64      `json:"errors"`
	Keepalives         int64      `json:"keepalives"`
}

// Session event kinds.
const (
	EventConfigured = "configured"
	EventStreaming  = "streaming"
	EventError      = "error"
	EventReconnect  = "reconnect"
	EventClosed     = "closed"
)

// SessionEvent is a timestamped note against a session.
type SessionEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// StartSession inserts a new open session row.
func (db *DB) StartSession(rec SessionRecord) error {
	_, err := db.Exec(
		`INSERT INTO sessions (
			session_id, address, mode, range_format, reflectivity_format,
			start_angle, end_angle, opened_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Address, rec.Mode, rec.RangeFormat, rec.ReflectivityFormat,
		rec.StartAngle, rec.EndAngle, rec.OpenedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	return nil
}

// AddSessionCounters adds to the running totals of a session.
func (db *DB) AddSessionCounters(id uuid.UUID, scans, errs, keepalives int64) error {
	res, err := db.Exec(
		`UPDATE sessions SET scans = scans + ?, errors = errors + ?, keepalives = keepalives + ?
		WHERE session_id = ?`,
		scans, errs, keepalives, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// EndSession marks a session closed. Closing an already closed session keeps
// the first close time and reason.
func (db *DB) EndSession(id uuid.UUID, at time.Time, reason string) error {
	res, err := db.Exec(
		`UPDATE sessions SET closed_unix_nanos = ?, close_reason = ?
		WHERE session_id = ? AND closed_unix_nanos IS NULL`,
		at.UnixNano(), reason, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either unknown or already closed
		if _, err := db.Session(id); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent appends an event to a session.
func (db *DB) RecordEvent(id uuid.UUID, kind, detail string, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO session_events (session_id, kind, detail, unix_nanos) VALUES (?, ?, ?, ?)`,
		id.String(), kind, detail, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event for session %s: %w", kind, id, err)
	}
	return nil
}

const sessionColumns = `session_id, address, mode, range_format, reflectivity_format,
	start_angle, end_angle, opened_unix_nanos, closed_unix_nanos, close_reason,
	scans, errors, keepalives`

// Session returns one session by id.
func (db *DB) Session(id uuid.UUID) (SessionRecord, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id.String())
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec, err
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY opened_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionEvents returns the events of a session in time order.
func (db *DB) SessionEvents(id uuid.UUID) ([]SessionEvent, error) {
	rows, err := db.Query(
		`SELECT kind, detail, unix_nanos FROM session_events WHERE session_id = ? ORDER BY unix_nanos, event_id`,
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var (
			kind   string
			detail sql.NullString
			nanos  int64
		)
		if err := rows.Scan(&kind, &detail, &nanos); err != nil {
			return nil, err
		}
		events = append(events, SessionEvent{
			SessionID: id,
			Kind:      kind,
			Detail:    detail.String,
			Time:      time.Unix(0, nanos),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec         SessionRecord
		id          string
		opened      int64
		closed      sql.NullInt64
		closeReason sql.NullString
	)
	if err := row.Scan(
		&id, &rec.Address, &rec.Mode, &rec.RangeFormat, &rec.ReflectivityFormat,
		&rec.StartAngle, &rec.EndAngle, &opened, &closed, &closeReason,
		&rec.Scans, &rec.Errors, &rec.Keepalives,
	); err != nil {
		return SessionRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("bad session id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.OpenedAt = time.Unix(0, opened)
	if closed.Valid {
		t := time.Unix(0, closed.Int64)
		rec.ClosedAt = &t
	}
	rec.CloseReason = closeReason.String
	return rec, nil
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
