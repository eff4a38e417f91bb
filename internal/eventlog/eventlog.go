// Package eventlog persists link anomalies, reset cycles and performance
// samples to a sqlite database so a session can be inspected afterwards.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/scanlink/internal/channel"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/supervisor"
)

// Log is an open event database bound to one session.
type Log struct {
	db      *sql.DB
	path    string
	session string
}

// Open opens or creates the database at path, applies pending migrations
// and starts a new session for role ("send", "receive", ...).
func Open(path, role string) (*Log, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	l := &Log{db: db, path: path}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	l.session = uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, role, started_unix_nano) VALUES (?, ?, ?)`,
		l.session, role, time.Now().UnixNano(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: start session: %w", err)
	}
	monitoring.Logf("[eventlog] session %s (%s) logging to %s", l.session, role, path)
	return l, nil
}

// Session returns the id of the current session.
func (l *Log) Session() string { return l.session }

// DB exposes the underlying handle.
func (l *Log) DB() *sql.DB { return l.db }

func (l *Log) Close() error { return l.db.Close() }

// RecordAnomaly stores a receiver anomaly.
func (l *Log) RecordAnomaly(a channel.Anomaly) error {
	_, err := l.db.Exec(`
		INSERT INTO anomalies (session_id, link, peer, kind, seq, expected, lost, detail, at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.session, a.Link, a.Peer, string(a.Kind), int64(a.Seq), int64(a.Expected), int64(a.Lost), a.Detail, a.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("eventlog: record anomaly: %w", err)
	}
	return nil
}

// AnomalyHook adapts RecordAnomaly to a receiver callback; failures are
// logged.
func (l *Log) AnomalyHook() func(channel.Anomaly) {
	return func(a channel.Anomaly) {
		if err := l.RecordAnomaly(a); err != nil {
			monitoring.Warnf("[eventlog] %v", err)
		}
	}
}

// RecordCycle stores a completed reset cycle.
func (l *Log) RecordCycle(c supervisor.Cycle) error {
	restartErr := ""
	if c.RestartErr != nil {
		restartErr = c.RestartErr.Error()
	}
	_, err := l.db.Exec(`
		INSERT INTO reset_cycles (session_id, origin, started_unix_nano, ended_unix_nano, connected, restart_error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.session, string(c.Origin), c.Started.UnixNano(), c.Ended.UnixNano(), c.Connected, restartErr,
	)
	if err != nil {
		return fmt.Errorf("eventlog: record cycle: %w", err)
	}
	return nil
}

// CycleHook adapts RecordCycle to supervisor.Config.OnCycle.
func (l *Log) CycleHook() func(supervisor.Cycle) {
	return func(c supervisor.Cycle) {
		if err := l.RecordCycle(c); err != nil {
			monitoring.Warnf("[eventlog] %v", err)
		}
	}
}

// Anomalies returns the current session's anomalies, oldest first.
func (l *Log) Anomalies() ([]channel.Anomaly, error) {
	rows, err := l.db.Query(`
		SELECT link, peer, kind, seq, expected, lost, detail, at_unix_nano
		FROM anomalies WHERE session_id = ? ORDER BY anomaly_id`, l.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []channel.Anomaly
	for rows.Next() {
		var (
			a                   channel.Anomaly
			kind                string
			seq, expected, lost int64
			at                  int64
		)
		if err := rows.Scan(&a.Link, &a.Peer, &kind, &seq, &expected, &lost, &a.Detail, &at); err != nil {
			return nil, err
		}
		a.Kind = channel.AnomalyKind(kind)
		a.Seq, a.Expected, a.Lost = uint64(seq), uint64(expected), uint64(lost)
		a.At = time.Unix(0, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Cycles returns the current session's reset cycles, oldest first.
// RestartErr is not reconstructed; see CycleErrors.
func (l *Log) Cycles() ([]supervisor.Cycle, error) {
	rows, err := l.db.Query(`
		SELECT origin, started_unix_nano, ended_unix_nano, connected
		FROM reset_cycles WHERE session_id = ? ORDER BY cycle_id`, l.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []supervisor.Cycle
	for rows.Next() {
		var (
			c              supervisor.Cycle
			origin         string
			started, ended int64
		)
		if err := rows.Scan(&origin, &started, &ended, &c.Connected); err != nil {
			return nil, err
		}
		c.Origin = supervisor.Origin(origin)
		c.Started, c.Ended = time.Unix(0, started), time.Unix(0, ended)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CycleErrors returns the restart error text of each stored cycle, empty
// where the restart succeeded.
func (l *Log) CycleErrors() ([]string, error) {
	rows, err := l.db.Query(`SELECT restart_error FROM reset_cycles WHERE session_id = ? ORDER BY cycle_id`, l.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
