// Package storage
package storage

import (
	"context"
	"time"

	"github.com/reveriehq/reverie/pkg/thought"
)

// Driver defines the interface for durably persisting and retrieving thought
// records and export watermarks. Records are append-only, partitioned by
// conversation key, and ordered by creation timestamp (insertion order breaks
// ties). Watermarks have upsert semantics.
type Driver interface {
	// Append durably persists one record under its conversation key
	// partition. The record is visible to subsequent reads of that
	// partition only after Append returns nil.
	Append(ctx context.Context, rec *thought.Record) error

	// ReadSince returns records for key with CreatedAt strictly after the
	// given cutoff (all records when after is the zero time), ordered by
	// timestamp ascending and truncated to limit. Reads merge transparently
	// across rotated storage segments. Corrupt units are skipped, not fatal.
	ReadSince(ctx context.Context, key string, after time.Time, limit int) ([]*thought.Record, error)

	// ReadLatest returns the most recent record for key, or NotFoundError.
	ReadLatest(ctx context.Context, key string) (*thought.Record, error)

	// GetWatermark returns the export watermark for key, or NotFoundError.
	GetWatermark(ctx context.Context, key string) (thought.Watermark, error)

	// PutWatermark upserts the export watermark for key.
	PutWatermark(ctx context.Context, key string, wm thought.Watermark) error

	// Close closes the store and releases any resources.
	Close() error
}
