// Package segment provides a log-structured file storage driver.
//
// Each conversation key owns one partition directory (named by the sanitized
// key) holding numbered segment files. A segment is a JSON array of records
// in append order, capped at a configured record count; when the active
// segment fills up a new one is opened, and partitions keep at most a
// configured number of segments, deleting oldest-first. Every write goes
// through a temp file and an atomic rename, so a crash mid-write leaves
// either the old or the new complete segment, never a partial one.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

const (
	segmentPrefix = "segment_"
	segmentSuffix = ".json"

	defaultCapacity = 20
	defaultRetain   = 10
)

// Config holds configuration for the segment driver.
type Config struct {
	// Dir is the root directory holding one partition per conversation key.
	Dir string

	// Capacity is the maximum record count per segment file (defaults to 20).
	Capacity int

	// Retain is the maximum number of segments kept per partition;
	// older segments are deleted (defaults to 10).
	Retain int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Driver implements storage.Driver on rotated JSON segment files.
type Driver struct {
	config Config
	logger *zap.Logger

	// mu guards the per-partition locks map.
	mu sync.Mutex

	// partitions serializes writes per partition so appends for one key
	// are persisted in invocation order.
	partitions map[string]*sync.Mutex

	watermarks *watermarkFile
}

// NewDriver creates a segment driver rooted at config.Dir.
func NewDriver(config Config) (*Driver, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("segment dir is required")
	}
	if config.Capacity <= 0 {
		config.Capacity = defaultCapacity
	}
	if config.Retain <= 0 {
		config.Retain = defaultRetain
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating segment dir: %w", err)
	}

	return &Driver{
		config:     config,
		logger:     config.Logger,
		partitions: make(map[string]*sync.Mutex),
		watermarks: newWatermarkFile(filepath.Join(config.Dir, "watermarks.json")),
	}, nil
}

// partitionLock returns the write lock for one partition, creating it on
// first use.
func (d *Driver) partitionLock(partition string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.partitions[partition]
	if !ok {
		lock = &sync.Mutex{}
		d.partitions[partition] = lock
	}
	return lock
}

// partitionDir maps a conversation key to its partition directory.
func (d *Driver) partitionDir(key string) string {
	return filepath.Join(d.config.Dir, thought.SanitizeKey(key))
}

// Append persists one record into the partition's active segment, rotating
// and pruning as needed.
func (d *Driver) Append(_ context.Context, rec *thought.Record) error {
	if rec == nil {
		return fmt.Errorf("cannot append nil record")
	}

	dir := d.partitionDir(rec.ConversationKey)

	lock := d.partitionLock(dir)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating partition dir: %w", err)
	}

	indices, err := d.segmentIndices(dir)
	if err != nil {
		return err
	}

	// Pick the active segment: the newest one with room, else a fresh index.
	active := 1
	var recs []*thought.Record
	if len(indices) > 0 {
		newest := indices[len(indices)-1]
		existing, readErr := d.readSegment(dir, newest)
		if readErr != nil {
			// Unreadable active segment: leave it in place and start a new
			// one rather than clobbering data.
			d.logger.Warn("active segment unreadable, rotating",
				zap.String("partition", dir),
				zap.Int("segment", newest),
				zap.Error(readErr),
			)
			active = newest + 1
		} else if len(existing) >= d.config.Capacity {
			active = newest + 1
		} else {
			active = newest
			recs = existing
		}
	}

	recs = append(recs, rec)

	if err := d.writeSegment(dir, active, recs); err != nil {
		return err
	}

	d.prune(dir)
	return nil
}

// ReadSince merges records across all segments of the partition, skipping
// corrupt segments, and returns those strictly after the cutoff in timestamp
// ascending order, truncated to limit.
func (d *Driver) ReadSince(_ context.Context, key string, after time.Time, limit int) ([]*thought.Record, error) {
	dir := d.partitionDir(key)

	indices, err := d.segmentIndices(dir)
	if err != nil {
		return nil, err
	}

	var out []*thought.Record
	for _, idx := range indices {
		recs, readErr := d.readSegment(dir, idx)
		if readErr != nil {
			d.logger.Warn("skipping corrupt segment",
				zap.String("partition", dir),
				zap.Int("segment", idx),
				zap.Error(readErr),
			)
			continue
		}
		for _, rec := range recs {
			if !after.IsZero() && !rec.CreatedAt.After(after) {
				continue
			}
			out = append(out, rec)
		}
	}

	// Segments are read oldest-first and hold records in append order, so a
	// stable sort preserves insertion order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadLatest returns the newest record in the partition, scanning segments
// newest-first so corrupt old segments cannot mask a valid latest record.
func (d *Driver) ReadLatest(_ context.Context, key string) (*thought.Record, error) {
	dir := d.partitionDir(key)

	indices, err := d.segmentIndices(dir)
	if err != nil {
		return nil, err
	}

	for i := len(indices) - 1; i >= 0; i-- {
		recs, readErr := d.readSegment(dir, indices[i])
		if readErr != nil {
			d.logger.Warn("skipping corrupt segment",
				zap.String("partition", dir),
				zap.Int("segment", indices[i]),
				zap.Error(readErr),
			)
			continue
		}
		if len(recs) > 0 {
			return recs[len(recs)-1], nil
		}
	}

	return nil, storage.NotFoundError{Key: key}
}

// GetWatermark returns the export watermark for key.
func (d *Driver) GetWatermark(_ context.Context, key string) (thought.Watermark, error) {
	return d.watermarks.get(key)
}

// PutWatermark upserts the export watermark for key.
func (d *Driver) PutWatermark(_ context.Context, key string, wm thought.Watermark) error {
	return d.watermarks.put(key, wm)
}

// Close is a no-op; every write is already durable on return.
func (d *Driver) Close() error {
	return nil
}

// segmentIndices lists the partition's segment numbers in ascending order.
// A missing partition directory is an empty partition, not an error.
func (d *Driver) segmentIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing partition: %w", err)
	}

	var indices []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		idx, convErr := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix))
		if convErr != nil {
			d.logger.Warn("ignoring malformed segment filename",
				zap.String("partition", dir),
				zap.String("name", name),
			)
			continue
		}
		indices = append(indices, idx)
	}

	sort.Ints(indices)
	return indices, nil
}

// segmentPath returns the file path for a segment index.
func segmentPath(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", segmentPrefix, idx, segmentSuffix))
}

// readSegment parses one segment file into records.
func (d *Driver) readSegment(dir string, idx int) ([]*thought.Record, error) {
	data, err := os.ReadFile(segmentPath(dir, idx))
	if err != nil {
		return nil, err
	}

	var recs []*thought.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// writeSegment writes records as one JSON array via temp file + rename.
func (d *Driver) writeSegment(dir string, idx int, recs []*thought.Record) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling segment: %w", err)
	}

	path := segmentPath(dir, idx)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing segment temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing segment: %w", err)
	}

	return nil
}

// prune deletes oldest segments beyond the retention count. Deletion
// failures are logged, not fatal — retention is best-effort.
func (d *Driver) prune(dir string) {
	indices, err := d.segmentIndices(dir)
	if err != nil || len(indices) <= d.config.Retain {
		return
	}

	for _, idx := range indices[:len(indices)-d.config.Retain] {
		if rmErr := os.Remove(segmentPath(dir, idx)); rmErr != nil {
			d.logger.Warn("failed to prune segment",
				zap.String("partition", dir),
				zap.Int("segment", idx),
				zap.Error(rmErr),
			)
		}
	}
}

// Ensure Driver implements storage.Driver
var _ storage.Driver = (*Driver)(nil)
