// Package translog provides a WAL-mode SQLite-backed durable log of GTP
// command transcripts and admission decisions.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL and
// synchronous = NORMAL. All reads and writes share a single connection, so
// Recent and the append methods are serialised with one another.
//
// # Durability
//
// Entries are committed synchronously before Append returns. Nothing is
// buffered in memory only: a crash immediately after Append still leaves
// the entry recoverable from disk, matching the at-least-once durability
// the game record requires for dispute resolution.
package translog

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Kind distinguishes the two entry families this log stores.
type Kind string

const (
	// KindGTP is one line of a GTP command/response exchange with an
	// engine adapter.
	KindGTP Kind = "gtp"
	// KindAdmission is one admission-policy decision for an incoming
	// challenge.
	KindAdmission Kind = "admission"
)

// Entry is one row in the transcript log.
type Entry struct {
	ID        int64
	Kind      Kind
	GameID    string
	EngineID  string
	Command   string
	Response  string
	Accepted  bool
	Detail    string
	Timestamp time.Time
}

// Log is a WAL-mode SQLite-backed append-only store of Entry rows.
// It is safe for concurrent use.
type Log struct {
	db    *sql.DB
	count atomic.Int64
}

const ddl = `
CREATE TABLE IF NOT EXISTS transcript (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT    NOT NULL,
    game_id     TEXT    NOT NULL DEFAULT '',
    engine_id   TEXT    NOT NULL DEFAULT '',
    command     TEXT    NOT NULL DEFAULT '',
    response    TEXT    NOT NULL DEFAULT '',
    accepted    INTEGER NOT NULL DEFAULT 0,
    detail      TEXT    NOT NULL DEFAULT '{}',
    ts          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_game ON transcript (game_id, id);
`

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. path may be ":memory:" for tests.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("translog: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; serialise through a single
	// connection rather than racing on "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("translog: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("translog: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("translog: apply schema: %w", err)
	}

	l := &Log{db: db}
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM transcript`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("translog: count rows: %w", err)
	}
	l.count.Store(n)
	return l, nil
}

// AppendGTP records one command/response exchange with an engine adapter.
func (l *Log) AppendGTP(ctx context.Context, gameID, engineID, command, response string) error {
	return l.insert(ctx, Entry{
		Kind:     KindGTP,
		GameID:   gameID,
		EngineID: engineID,
		Command:  command,
		Response: response,
	})
}

// AppendAdmission records one admission-policy decision.
func (l *Log) AppendAdmission(ctx context.Context, gameID string, accepted bool, detail string) error {
	return l.insert(ctx, Entry{
		Kind:     KindAdmission,
		GameID:   gameID,
		Accepted: accepted,
		Detail:   detail,
	})
}

func (l *Log) insert(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transcript (kind, game_id, engine_id, command, response, accepted, detail, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.GameID, e.EngineID, e.Command, e.Response, e.Accepted, e.Detail,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("translog: insert: %w", err)
	}
	l.count.Add(1)
	return nil
}

// Recent returns up to n of the most recent entries for gameID, newest
// first. If gameID is empty, entries across all games are returned.
func (l *Log) Recent(ctx context.Context, gameID string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `SELECT id, kind, game_id, engine_id, command, response, accepted, detail, ts
	          FROM transcript WHERE (? = '' OR game_id = ?) ORDER BY id DESC LIMIT ?`
	rows, err := l.db.QueryContext(ctx, query, gameID, gameID, n)
	if err != nil {
		return nil, fmt.Errorf("translog: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var accepted int
		var tsStr string
		if err := rows.Scan(&e.ID, &e.Kind, &e.GameID, &e.EngineID, &e.Command, &e.Response, &accepted, &e.Detail, &tsStr); err != nil {
			return nil, fmt.Errorf("translog: scan: %w", err)
		}
		e.Accepted = accepted != 0
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("translog: rows: %w", err)
	}
	return entries, nil
}

// Count returns the total number of entries ever appended.
func (l *Log) Count() int {
	return int(l.count.Load())
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
