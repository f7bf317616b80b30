package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gmaildu/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the local inventory database: message records keyed by remote id,
// one listing cursor per query, and a scan-run history.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps readers (report, browse) unblocked while a scan writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// A single connection serializes concurrent fetch-worker writes.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	thread_id     TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	internal_date INTEGER NOT NULL DEFAULT 0,
	sender        TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	fail_reason   TEXT NOT NULL DEFAULT '',
	marked        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status, id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, status);

CREATE TABLE IF NOT EXISTS cursors (
	query            TEXT PRIMARY KEY,
	page_token       TEXT NOT NULL DEFAULT '',
	listing_complete INTEGER NOT NULL DEFAULT 0,
	listed           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL DEFAULT 0,
	finished_at INTEGER NOT NULL DEFAULT 0,
	listed      INTEGER NOT NULL DEFAULT 0,
	fetched     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	remaining   INTEGER NOT NULL DEFAULT 0
);
`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPending inserts listed ids as PENDING in one transaction. Ids already
// present, in any status, are left untouched, which is what makes re-listing
// a page after a crash safe.
func (s *Store) UpsertPending(ctx context.Context, refs []model.ListedRef) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO messages (id, thread_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.ID, r.ThreadID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkDone records a successful detail fetch.
func (s *Store) MarkDone(ctx context.Context, id string, d model.Details) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET size = ?, internal_date = ?, sender = ?, subject = ?, status = ?, fail_reason = ''
		WHERE id = ?
	`, d.SizeBytes, msFromTime(d.SentAt), d.Sender, d.Subject, model.StatusDone, id)
	return err
}

// MarkFailed records a terminally failed detail fetch.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, fail_reason = ? WHERE id = ?
	`, model.StatusFailed, reason, id)
	return err
}

// PendingIDsAfter returns up to limit PENDING ids greater than afterID, in id
// order. Callers page through the pending set with the last id of each batch.
func (s *Store) PendingIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE status = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, model.StatusPending, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context) (model.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM messages GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := model.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.FetchStatus(status)] = n
	}
	return counts, rows.Err()
}

// ForEachDone streams DONE records row by row; a non-nil error from fn stops
// the iteration and is returned.
func (s *Store) ForEachDone(ctx context.Context, fn func(model.MessageRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, size, internal_date, sender, subject, status, fail_reason, marked
		FROM messages WHERE status = ? ORDER BY id
	`, model.StatusDone)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Message loads a single record by id; sql.ErrNoRows when absent.
func (s *Store) Message(ctx context.Context, id string) (model.MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, size, internal_date, sender, subject, status, fail_reason, marked
		FROM messages WHERE id = ?
	`, id)
	return scanRecord(row)
}

func (s *Store) FailedMessages(ctx context.Context) ([]model.FailedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fail_reason FROM messages WHERE status = ? ORDER BY id",
		model.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []model.FailedMessage
	for rows.Next() {
		var f model.FailedMessage
		if err := rows.Scan(&f.ID, &f.Reason); err != nil {
			return nil, err
		}
		failed = append(failed, f)
	}
	return failed, rows.Err()
}

// Cursor returns the listing cursor for a query, or a fresh zero cursor when
// the query has never been scanned.
func (s *Store) Cursor(ctx context.Context, query string) (model.ScanCursor, error) {
	cur := model.ScanCursor{Query: query}
	var complete int
	err := s.db.QueryRowContext(ctx,
		"SELECT page_token, listing_complete, listed FROM cursors WHERE query = ?",
		query).Scan(&cur.PageToken, &complete, &cur.Listed)
	if err == sql.ErrNoRows {
		return cur, nil
	}
	if err != nil {
		return cur, err
	}
	cur.ListingComplete = complete != 0
	return cur, nil
}

func (s *Store) SaveCursor(ctx context.Context, cur model.ScanCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (query, page_token, listing_complete, listed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			page_token       = excluded.page_token,
			listing_complete = excluded.listing_complete,
			listed           = excluded.listed
	`, cur.Query, cur.PageToken, boolToInt(cur.ListingComplete), cur.Listed)
	return err
}

// MarkLabeled sets the marked flag on the given ids.
func (s *Store) MarkLabeled(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE messages SET marked = 1 WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DoneIDsBySender(ctx context.Context, sender string) ([]string, error) {
	return s.queryIDs(ctx,
		"SELECT id FROM messages WHERE status = ? AND sender = ? ORDER BY id",
		model.StatusDone, sender)
}

// DoneIDsByMonth selects DONE ids whose sent date falls in the given UTC
// year-month ("2024-01"). internal_date is stored in milliseconds; rows that
// never got a date live under model.UnknownMonth.
func (s *Store) DoneIDsByMonth(ctx context.Context, month string) ([]string, error) {
	if month == model.UnknownMonth {
		return s.queryIDs(ctx,
			"SELECT id FROM messages WHERE status = ? AND internal_date = 0 ORDER BY id",
			model.StatusDone)
	}
	return s.queryIDs(ctx, `
		SELECT id FROM messages
		WHERE status = ? AND internal_date <> 0
		  AND strftime('%Y-%m', internal_date / 1000, 'unixepoch') = ?
		ORDER BY id
	`, model.StatusDone, month)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordRun inserts a scan-run row at scan start.
func (s *Store) RecordRun(ctx context.Context, run model.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, query, started_at) VALUES (?, ?, ?)
	`, run.ID, run.Query, msFromTime(run.StartedAt))
	return err
}

// FinishRun fills in the outcome of a scan run.
func (s *Store) FinishRun(ctx context.Context, run model.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, listed = ?, fetched = ?, failed = ?, remaining = ?
		WHERE id = ?
	`, msFromTime(run.FinishedAt), run.Listed, run.Fetched, run.Failed, run.Remaining, run.ID)
	return err
}

// LastRun returns the most recently started run, with ok=false on an empty
// history.
func (s *Store) LastRun(ctx context.Context) (model.ScanRun, bool, error) {
	var run model.ScanRun
	var started, finished int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, query, started_at, finished_at, listed, fetched, failed, remaining
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 1
	`).Scan(&run.ID, &run.Query, &started, &finished,
		&run.Listed, &run.Fetched, &run.Failed, &run.Remaining)
	if err == sql.ErrNoRows {
		return model.ScanRun{}, false, nil
	}
	if err != nil {
		return model.ScanRun{}, false, err
	}
	run.StartedAt = timeFromMS(started)
	run.FinishedAt = timeFromMS(finished)
	return run, true, nil
}

// Reset clears every table. Destructive; only invoked on explicit request.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "cursors", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.MessageRecord, error) {
	var rec model.MessageRecord
	var status string
	var internalDate int64
	var marked int
	err := row.Scan(&rec.ID, &rec.ThreadID, &rec.SizeBytes, &internalDate,
		&rec.Sender, &rec.Subject, &status, &rec.FailReason, &marked)
	if err != nil {
		return model.MessageRecord{}, err
	}
	rec.SentAt = timeFromMS(internalDate)
	rec.Status = model.FetchStatus(status)
	rec.Marked = marked != 0
	return rec, nil
}

func msFromTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
