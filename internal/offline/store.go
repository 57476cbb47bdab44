package offline

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - unique index on queue_entries.idempotency_key
const currentSchemaVersion = 1

const droppedKey = "dropped"

// Store is the durable FIFO queue backed by a SQLite file. It is the only
// owner of queue entries.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

type entryRow struct {
	Seq            int64  `db:"seq"`
	ID             string `db:"id"`
	Method         string `db:"method"`
	Target         string `db:"target"`
	Headers        string `db:"headers"`
	Body           []byte `db:"body"`
	IdempotencyKey string `db:"idempotency_key"`
	Description    string `db:"description"`
	EnqueuedAt     int64  `db:"enqueued_at"`
	Attempts       int    `db:"attempts"`
	State          string `db:"state"`
	LastError      string `db:"last_error"`
}

// OpenStore creates or opens the queue at path and moves entries left
// IN_FLIGHT by a crash back to PENDING.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("offline: open queue: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("offline: connect queue: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if _, err := s.RecoverInFlight(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("offline: %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("offline: apply schema: %w", err)
	}
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("offline: read user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_idempotency ON queue_entries(idempotency_key)`); err != nil {
			return fmt.Errorf("offline: migrate to v1: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("offline: set user_version: %w", err)
	}
	return nil
}

// Enqueue appends an entry at the tail. ID, key and timestamp are filled in
// when empty.
func (s *Store) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = s.now()
	}
	e.State = StatePending
	e.Attempts = 0
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return Entry{}, fmt.Errorf("offline: encode headers: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO queue_entries
(id, method, target, headers, body, idempotency_key, description, enqueued_at, attempts, state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.Method, e.Target, string(headers), e.Body, e.IdempotencyKey, e.Description, e.EnqueuedAt.UnixMilli(), string(StatePending))
	if err != nil {
		return Entry{}, fmt.Errorf("offline: enqueue: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("offline: enqueue seq: %w", err)
	}
	return e, nil
}

// Pending returns up to limit unsettled entries in FIFO order. An entry left
// IN_FLIGHT by a failed settle keeps its place at the head of the line.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1
	}
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM queue_entries WHERE state IN (?, ?) ORDER BY seq LIMIT ?`,
		string(StatePending), string(StateInFlight), limit); err != nil {
		return nil, fmt.Errorf("offline: pending: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get loads one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM queue_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("offline: get: %w", err)
	}
	return row.entry()
}

// MarkInFlight moves an entry to IN_FLIGHT and counts the attempt.
func (s *Store) MarkInFlight(ctx context.Context, id string) error {
	return s.expectOne(s.db.ExecContext(ctx, `UPDATE queue_entries SET state = ?, attempts = attempts + 1 WHERE id = ?`,
		string(StateInFlight), id))
}

// Requeue returns an entry to PENDING, keeping its place in line.
func (s *Store) Requeue(ctx context.Context, id, lastErr string) error {
	return s.expectOne(s.db.ExecContext(ctx, `UPDATE queue_entries SET state = ?, last_error = ? WHERE id = ?`,
		string(StatePending), lastErr, id))
}

// Remove deletes an entry after the server acknowledged or rejected it.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.expectOne(s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id))
}

// PruneOlderThan deletes entries enqueued before cutoff and adds them to the
// persisted dropped counter.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("offline: prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE enqueued_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("offline: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("offline: prune: %w", err)
	}
	if n > 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO queue_meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`, droppedKey, n); err != nil {
			return 0, fmt.Errorf("offline: prune counter: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("offline: prune commit: %w", err)
	}
	return int(n), nil
}

// Count returns the number of queued entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queue_entries`); err != nil {
		return 0, fmt.Errorf("offline: count: %w", err)
	}
	return n, nil
}

// DroppedCount returns how many entries were ever pruned.
func (s *Store) DroppedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT value FROM queue_meta WHERE key = ?`, droppedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("offline: dropped count: %w", err)
	}
	return n, nil
}

// RecoverInFlight moves IN_FLIGHT entries back to PENDING.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries SET state = ? WHERE state = ?`, string(StatePending), string(StateInFlight))
	if err != nil {
		return 0, fmt.Errorf("offline: recover in-flight: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) expectOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("offline: update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r entryRow) entry() (Entry, error) {
	e := Entry{
		ID:             r.ID,
		Seq:            r.Seq,
		Method:         r.Method,
		Target:         r.Target,
		Body:           r.Body,
		IdempotencyKey: r.IdempotencyKey,
		Description:    r.Description,
		EnqueuedAt:     time.UnixMilli(r.EnqueuedAt).UTC(),
		Attempts:       r.Attempts,
		State:          State(r.State),
		LastError:      r.LastError,
	}
	if r.Headers != "" && r.Headers != "null" {
		if err := json.Unmarshal([]byte(r.Headers), &e.Headers); err != nil {
			return Entry{}, fmt.Errorf("offline: decode headers of %s: %w", r.ID, err)
		}
	}
	return e, nil
}
