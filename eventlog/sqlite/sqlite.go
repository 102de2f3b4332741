// Package sqlite provides the durable event log and session store backed by
// SQLite. It implements both core.EventLog and core.SessionStore on one
// database file, so sequence reservation, event rows and turn checkpoints
// share a single transactional domain.
//
// Every connection runs with WAL journal mode and NORMAL synchronous:
// transactions survive process crashes without fsync-per-commit overhead,
// and readers never block the single writer.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	last_seq      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	type       TEXT NOT NULL,
	payload    BLOB,
	created_at INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);
`

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The parent
	// directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4 if
	// zero or negative.
	PoolSize int

	// Logger receives operational messages. Defaults to NoOp.
	Logger logging.Logger
}

// Store is the SQLite-backed durable log. Safe for concurrent use; each call
// borrows its own connection from the pool.
type Store struct {
	pool   *sqlitex.Pool
	logger logging.Logger
}

// Interface compliance (compile-time assertions).
var (
	_ core.EventLog     = (*Store)(nil)
	_ core.SessionStore = (*Store)(nil)
)

// OpenStore opens (and if necessary creates) the database and applies the
// schema. The caller must Close the store when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("eventlog sqlite: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: opening %s: %w", cfg.Path, err)
	}

	store := &Store{pool: pool, logger: logger}
	if err := store.applySchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("event log opened path=%s pool_size=%d", cfg.Path, poolSize)
	return store, nil
}

// Close closes all connections in the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("eventlog sqlite: close: %w", err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("eventlog sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) applySchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("eventlog sqlite: applying schema: %w", err)
	}
	return nil
}

// ReserveSequenceNumbers atomically claims a contiguous block of count
// sequence numbers for the session, creating the session row on first use.
func (s *Store) ReserveSequenceNumbers(ctx context.Context, sessionID string, count int) (seqs []int64, err error) {
	if count <= 0 {
		return nil, fmt.Errorf("eventlog sqlite: sequence reservation count must be positive, got %d", count)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	if err := s.ensureSession(conn, sessionID, ""); err != nil {
		return nil, err
	}

	var end int64
	err = sqlitex.Execute(conn, `UPDATE sessions SET last_seq = last_seq + ?, updated_at = ? WHERE id = ? RETURNING last_seq`, &sqlitex.ExecOptions{
		Args: []any{count, nowMillis(), sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			end = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: reserving %d for session %s: %w", count, sessionID, err)
	}

	seqs = make([]int64, count)
	for i := range seqs {
		seqs[i] = end - int64(count) + int64(i) + 1
	}
	return seqs, nil
}

// AppendEvent writes a row at the session's next free sequence number.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, eventType core.EventType, payload []byte) (persisted *core.PersistedEvent, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	if err := s.ensureSession(conn, sessionID, ""); err != nil {
		return nil, err
	}

	var seq int64
	err = sqlitex.Execute(conn, `UPDATE sessions SET last_seq = last_seq + 1, updated_at = ? WHERE id = ? RETURNING last_seq`, &sqlitex.ExecOptions{
		Args: []any{nowMillis(), sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: claiming sequence for session %s: %w", sessionID, err)
	}

	return s.insertEvent(conn, sessionID, eventType, payload, seq)
}

// AppendEventWithSequence writes a row at a previously reserved sequence
// number. A collision on (session, seq) maps to core.ErrSequenceConflict.
func (s *Store) AppendEventWithSequence(ctx context.Context, sessionID string, eventType core.EventType, payload []byte, seq int64) (*core.PersistedEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	return s.insertEvent(conn, sessionID, eventType, payload, seq)
}

func (s *Store) insertEvent(conn *sqlite.Conn, sessionID string, eventType core.EventType, payload []byte, seq int64) (*core.PersistedEvent, error) {
	id := core.NewID()
	now := nowMillis()

	err := sqlitex.Execute(conn, `INSERT INTO events (id, session_id, seq, type, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{id, sessionID, seq, string(eventType), payload, now},
	})
	if err != nil {
		return nil, mapInsertError(err, sessionID, seq)
	}

	return &core.PersistedEvent{
		ID:             id,
		SequenceNumber: seq,
		Timestamp:      time.UnixMilli(now).UTC(),
	}, nil
}

func mapInsertError(err error, sessionID string, seq int64) error {
	code := sqlite.ErrCode(err)
	if code == sqlite.ResultConstraintUnique || code == sqlite.ResultConstraintPrimaryKey {
		if strings.Contains(err.Error(), "events.id") {
			return fmt.Errorf("eventlog sqlite: %w", core.ErrDuplicateEvent)
		}
		return fmt.Errorf("eventlog sqlite: session %s seq %d: %w", sessionID, seq, core.ErrSequenceConflict)
	}
	return fmt.Errorf("eventlog sqlite: inserting event for session %s: %w", sessionID, err)
}

// ensureSession creates the session row if it does not exist yet.
func (s *Store) ensureSession(conn *sqlite.Conn, sessionID, userID string) error {
	now := nowMillis()
	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{sessionID, userID, now, now},
	})
	if err != nil {
		return fmt.Errorf("eventlog sqlite: ensuring session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the session record or core.ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	var sess *core.Session
	err = sqlitex.Execute(conn, `SELECT user_id, message_count, created_at, updated_at FROM sessions WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sess = &core.Session{
				ID:           sessionID,
				UserID:       stmt.ColumnText(0),
				MessageCount: int(stmt.ColumnInt64(1)),
				CreatedAt:    time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
				UpdatedAt:    time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: loading session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	return sess, nil
}

// Create inserts a new session row with a zero checkpoint.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (*core.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := s.ensureSession(conn, sessionID, userID); err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// AdvanceCheckpoint moves the turn checkpoint to messageCount.
func (s *Store) AdvanceCheckpoint(ctx context.Context, sessionID string, messageCount int) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE sessions SET message_count = ?, updated_at = ? WHERE id = ? AND message_count <= ?`, &sqlitex.ExecOptions{
		Args: []any{messageCount, nowMillis(), sessionID, messageCount},
	})
	if err != nil {
		return fmt.Errorf("eventlog sqlite: advancing checkpoint for session %s: %w", sessionID, err)
	}
	if conn.Changes() == 0 {
		// Either the session does not exist or the checkpoint would move
		// backwards; tell them apart for the caller.
		var exists bool
		err = sqlitex.Execute(conn, `SELECT 1 FROM sessions WHERE id = ?`, &sqlitex.ExecOptions{
			Args:       []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error { exists = true; return nil },
		})
		if err != nil {
			return fmt.Errorf("eventlog sqlite: checking session %s: %w", sessionID, err)
		}
		if !exists {
			return fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
		}
		return fmt.Errorf("eventlog sqlite: checkpoint for session %s cannot move backwards to %d", sessionID, messageCount)
	}
	return nil
}

// EventRow is one durable log row returned by ListEvents.
type EventRow struct {
	ID        string
	SessionID string
	Sequence  int64
	Type      core.EventType
	Payload   []byte
	Timestamp time.Time
}

// ListEvents returns the session's rows with sequence greater than afterSeq,
// ordered by sequence, up to limit rows (or all when limit <= 0). Used for
// replay and audit tooling.
func (s *Store) ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]EventRow, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}

	var rows []EventRow
	err = sqlitex.Execute(conn, `SELECT id, seq, type, payload, created_at FROM events WHERE session_id = ? AND seq > ? ORDER BY seq LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{sessionID, afterSeq, limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			payload := make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, payload)
			rows = append(rows, EventRow{
				ID:        stmt.ColumnText(0),
				SessionID: sessionID,
				Sequence:  stmt.ColumnInt64(1),
				Type:      core.EventType(stmt.ColumnText(2)),
				Payload:   payload,
				Timestamp: time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: listing events for session %s: %w", sessionID, err)
	}
	return rows, nil
}

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }
