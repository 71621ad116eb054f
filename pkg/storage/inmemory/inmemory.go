// Package inmemory provides a map-backed storage driver for tests and for
// running with persistence disabled.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	mu sync.RWMutex

	// records maps conversation key -> records in append order.
	records map[string][]*thought.Record

	// watermarks maps conversation key -> export watermark.
	watermarks map[string]thought.Watermark
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		records:    make(map[string][]*thought.Record),
		watermarks: make(map[string]thought.Watermark),
	}
}

// Append stores a record under its conversation key.
func (d *Driver) Append(_ context.Context, rec *thought.Record) error {
	if rec == nil {
		return errors.New("cannot append nil record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *rec
	d.records[rec.ConversationKey] = append(d.records[rec.ConversationKey], &cp)
	return nil
}

// ReadSince returns records for key strictly after the cutoff, ascending.
func (d *Driver) ReadSince(_ context.Context, key string, after time.Time, limit int) ([]*thought.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*thought.Record
	for _, rec := range d.records[key] {
		if !after.IsZero() && !rec.CreatedAt.After(after) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	// Append order already breaks timestamp ties; a stable sort keeps it.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadLatest returns the most recently appended record for key.
func (d *Driver) ReadLatest(_ context.Context, key string) (*thought.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	recs := d.records[key]
	if len(recs) == 0 {
		return nil, storage.NotFoundError{Key: key}
	}

	latest := recs[0]
	for _, rec := range recs[1:] {
		if !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = rec
		}
	}

	cp := *latest
	return &cp, nil
}

// GetWatermark returns the export watermark for key.
func (d *Driver) GetWatermark(_ context.Context, key string) (thought.Watermark, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wm, ok := d.watermarks[key]
	if !ok {
		return thought.Watermark{}, storage.NotFoundError{Key: key}
	}
	return wm, nil
}

// PutWatermark upserts the export watermark for key.
func (d *Driver) PutWatermark(_ context.Context, key string, wm thought.Watermark) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.watermarks[key] = wm
	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

// Ensure Driver implements storage.Driver
var _ storage.Driver = (*Driver)(nil)
