// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

// timeLayout is the fixed-width UTC format timestamps are stored in.
// Fixed-width fractional seconds keep lexicographic order identical to time
// order; RFC3339Nano trims trailing zeros and breaks the `created_at > ?`
// comparison ("…05.1005Z" sorts before "…05.1Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Driver implements storage.Driver using SQLite via database/sql.
type Driver struct {
	db *sql.DB
}

// NewDriver creates a new SQLite-backed driver.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writes and keeps :memory: databases
	// from silently forking per connection.
	db.SetMaxOpenConns(1)

	// WAL keeps readers from blocking the single writer; NORMAL is durable
	// enough for a companion process with a flush scheduler on top.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	d := &Driver{db: db}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

// migrate creates the necessary tables if they don't exist.
func (d *Driver) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS thoughts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_key TEXT NOT NULL,
		trigger_id TEXT,
		reasoning TEXT NOT NULL,
		response TEXT,
		user_message TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_thoughts_key_created
	ON thoughts(conversation_key, created_at);

	CREATE TABLE IF NOT EXISTS watermarks (
		conversation_key TEXT PRIMARY KEY,
		url TEXT,
		last_exported TEXT NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Append inserts one record. The autoincrement rowid preserves insertion
// order for timestamp ties.
func (d *Driver) Append(ctx context.Context, rec *thought.Record) error {
	if rec == nil {
		return fmt.Errorf("cannot append nil record")
	}

	query := `INSERT INTO thoughts (conversation_key, trigger_id, reasoning, response, user_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		rec.ConversationKey,
		rec.TriggerID,
		rec.Reasoning,
		rec.Response,
		rec.UserMessage,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

// ReadSince returns records strictly after the cutoff, timestamp ascending,
// insertion order breaking ties, truncated to limit.
func (d *Driver) ReadSince(ctx context.Context, key string, after time.Time, limit int) ([]*thought.Record, error) {
	query := `SELECT conversation_key, trigger_id, reasoning, response, user_message, created_at
		FROM thoughts WHERE conversation_key = ?`
	args := []any{key}

	if !after.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, after.UTC().Format(timeLayout))
	}

	query += ` ORDER BY created_at ASC, id ASC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ReadLatest returns the most recent record for key.
func (d *Driver) ReadLatest(ctx context.Context, key string) (*thought.Record, error) {
	query := `SELECT conversation_key, trigger_id, reasoning, response, user_message, created_at
		FROM thoughts WHERE conversation_key = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`

	row := d.db.QueryRowContext(ctx, query, key)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	return rec, nil
}

// GetWatermark returns the export watermark for key.
func (d *Driver) GetWatermark(ctx context.Context, key string) (thought.Watermark, error) {
	query := `SELECT url, last_exported FROM watermarks WHERE conversation_key = ?`

	var url sql.NullString
	var lastExported string

	err := d.db.QueryRowContext(ctx, query, key).Scan(&url, &lastExported)
	if err == sql.ErrNoRows {
		return thought.Watermark{}, storage.NotFoundError{Key: key}
	}
	if err != nil {
		return thought.Watermark{}, fmt.Errorf("failed to scan watermark: %w", err)
	}

	ts, err := time.Parse(timeLayout, lastExported)
	if err != nil {
		return thought.Watermark{}, fmt.Errorf("failed to parse watermark timestamp: %w", err)
	}

	return thought.Watermark{URL: url.String, LastExported: ts}, nil
}

// PutWatermark upserts the export watermark for key.
func (d *Driver) PutWatermark(ctx context.Context, key string, wm thought.Watermark) error {
	query := `INSERT INTO watermarks (conversation_key, url, last_exported)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			url = excluded.url,
			last_exported = excluded.last_exported`

	_, err := d.db.ExecContext(ctx, query, key, wm.URL, wm.LastExported.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert watermark: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	return d.db.Close()
}

// scanRecord scans one row into a Record using the provided scan function.
func scanRecord(scan func(dest ...any) error) (*thought.Record, error) {
	var rec thought.Record
	var triggerID, response, userMessage sql.NullString
	var createdAt string

	if err := scan(&rec.ConversationKey, &triggerID, &rec.Reasoning, &response, &userMessage, &createdAt); err != nil {
		return nil, err
	}

	rec.TriggerID = triggerID.String
	rec.Response = response.String
	rec.UserMessage = userMessage.String

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record timestamp: %w", err)
	}
	rec.CreatedAt = ts

	return &rec, nil
}

// scanRecords scans multiple rows into Record structs.
func scanRecords(rows *sql.Rows) ([]*thought.Record, error) {
	var recs []*thought.Record

	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, nil
}

// Ensure Driver implements storage.Driver
var _ storage.Driver = (*Driver)(nil)
