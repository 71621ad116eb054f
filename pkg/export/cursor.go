// Package export implements resumable, incremental export of thought
// records: a watermark cursor per conversation key plus the pipeline that
// turns a delta into an uploaded batch file.
package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

// WatermarkState classifies a delta result. Callers present different
// user-facing messages for an untouched key versus an up-to-date one.
type WatermarkState int

const (
	// StateNothingEver means the key has no watermark and no records.
	StateNothingEver WatermarkState = iota

	// StateNoNew means a watermark exists but no records are newer than it.
	StateNoNew

	// StateNewRecords means the delta contains records to export.
	StateNewRecords
)

func (s WatermarkState) String() string {
	switch s {
	case StateNothingEver:
		return "nothing-ever"
	case StateNoNew:
		return "no-new"
	case StateNewRecords:
		return "new-records"
	default:
		return "unknown"
	}
}

// Delta is the result of a cursor read: the records newer than the
// watermark, in ascending timestamp order.
type Delta struct {
	Records   []*thought.Record
	State     WatermarkState
	Watermark thought.Watermark // zero value when State is StateNothingEver
}

// Flusher forces pending cache state for a key down to durable storage so a
// subsequent ReadSince observes every captured record.
type Flusher interface {
	FlushKey(ctx context.Context, key string) error
}

// Watermarks is the cursor's view of the cache layer.
type Watermarks interface {
	GetWatermark(ctx context.Context, key string) (thought.Watermark, error)
	PutWatermark(key string, wm thought.Watermark)
}

// Reader is the cursor's view of the record store.
type Reader interface {
	ReadSince(ctx context.Context, key string, after time.Time, limit int) ([]*thought.Record, error)
}

// CursorConfig is the configuration options for the cursor.
type CursorConfig struct {
	Reader     Reader
	Watermarks Watermarks
	Flusher    Flusher
	Logger     *zap.Logger
}

// Cursor tracks per-key export progress.
type Cursor struct {
	config CursorConfig
	logger *zap.Logger
}

// NewCursor creates an export cursor.
func NewCursor(config CursorConfig) (*Cursor, error) {
	if config.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if config.Watermarks == nil {
		return nil, fmt.Errorf("watermarks is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Cursor{config: config, logger: config.Logger}, nil
}

// GetDelta returns the records for key strictly newer than its watermark,
// truncated to limit. Read-only with respect to cursor state: calling it
// twice without an intervening Commit returns the same batch.
func (c *Cursor) GetDelta(ctx context.Context, key string, limit int) (*Delta, error) {
	if c.config.Flusher != nil {
		if err := c.config.Flusher.FlushKey(ctx, key); err != nil {
			return nil, fmt.Errorf("flushing %s before delta: %w", key, err)
		}
	}

	var after time.Time
	hasWatermark := true

	wm, err := c.config.Watermarks.GetWatermark(ctx, key)
	switch {
	case storage.IsNotFound(err):
		hasWatermark = false
	case err != nil:
		return nil, fmt.Errorf("reading watermark for %s: %w", key, err)
	default:
		after = wm.LastExported
	}

	records, err := c.config.Reader.ReadSince(ctx, key, after, limit)
	if err != nil {
		return nil, fmt.Errorf("reading delta for %s: %w", key, err)
	}

	delta := &Delta{Records: records, Watermark: wm}
	switch {
	case len(records) > 0:
		delta.State = StateNewRecords
	case hasWatermark:
		delta.State = StateNoNew
	default:
		delta.State = StateNothingEver
	}
	return delta, nil
}

// Commit advances the key's watermark after a confirmed upload. Monotonic:
// a stale commit carrying an older timestamp never moves the watermark
// backward.
func (c *Cursor) Commit(ctx context.Context, key, url string, lastExported time.Time) error {
	current, err := c.config.Watermarks.GetWatermark(ctx, key)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("reading watermark for %s: %w", key, err)
	}
	if err == nil && lastExported.Before(current.LastExported) {
		c.logger.Debug("ignoring stale watermark commit",
			zap.String("key", key),
			zap.Time("stale", lastExported),
			zap.Time("current", current.LastExported),
		)
		return nil
	}

	c.config.Watermarks.PutWatermark(key, thought.Watermark{
		URL:          url,
		LastExported: lastExported,
	})
	return nil
}
