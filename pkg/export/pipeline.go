package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/thought"
	"github.com/reveriehq/reverie/pkg/upload"
)

const (
	defaultObjectPrefix = "exports"
	defaultBatchLimit   = 200

	objectKeyTimeLayout = "20060102T150405Z"
)

// PipelineConfig is the configuration options for the export pipeline.
type PipelineConfig struct {
	// Cursor computes deltas and commits watermarks.
	Cursor *Cursor

	// Uploader pushes batch files to object storage.
	Uploader upload.Uploader

	// ObjectPrefix is the leading path segment of export object keys
	// (defaults to "exports").
	ObjectPrefix string

	// BatchLimit caps the number of records per export (defaults to 200).
	BatchLimit int

	// Cooldown is the minimum interval between exports of the same key;
	// zero disables the gate.
	Cooldown time.Duration

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Result is the outcome of one export invocation.
type Result struct {
	// URL is the public URL of the batch. For StateNoNew it is the URL of
	// the previous export; empty for StateNothingEver.
	URL string

	// State classifies the delta that produced this result.
	State WatermarkState

	// Count is the number of records uploaded (zero unless StateNewRecords).
	Count int
}

// Pipeline drives delta → batch file → upload → commit, enforcing one
// in-flight export and a cooldown per conversation key.
type Pipeline struct {
	config PipelineConfig
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
	lastRun  map[string]time.Time
}

// NewPipeline creates an export pipeline.
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if config.Cursor == nil {
		return nil, fmt.Errorf("cursor is required")
	}
	if config.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if config.ObjectPrefix == "" {
		config.ObjectPrefix = defaultObjectPrefix
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = defaultBatchLimit
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Pipeline{
		config:   config,
		logger:   config.Logger,
		inflight: make(map[string]bool),
		lastRun:  make(map[string]time.Time),
	}, nil
}

// Export runs one incremental export for key. When the delta is empty it
// returns without uploading: the previous URL for StateNoNew, nothing for
// StateNothingEver. The watermark is committed only after a confirmed
// upload, so a failed upload leaves the cursor untouched.
func (p *Pipeline) Export(ctx context.Context, key string) (*Result, error) {
	if err := p.acquire(key); err != nil {
		return nil, err
	}
	defer p.release(key)

	delta, err := p.config.Cursor.GetDelta(ctx, key, p.config.BatchLimit)
	if err != nil {
		return nil, err
	}

	switch delta.State {
	case StateNothingEver:
		return &Result{State: StateNothingEver}, nil
	case StateNoNew:
		return &Result{URL: delta.Watermark.URL, State: StateNoNew}, nil
	}

	data, err := json.MarshalIndent(delta.Records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding batch for %s: %w", key, err)
	}

	// Local batch file, kept around on upload failure for inspection.
	path, err := p.writeBatchFile(key, data)
	if err != nil {
		return nil, err
	}

	objectKey := p.objectKey(key)
	url, err := p.config.Uploader.Upload(ctx, objectKey, data)
	if err != nil {
		p.logger.Warn("export upload failed, batch file retained",
			zap.String("key", key),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	if removeErr := os.Remove(path); removeErr != nil {
		p.logger.Debug("failed to remove batch file", zap.Error(removeErr))
	}

	last := delta.Records[len(delta.Records)-1].CreatedAt
	if err := p.config.Cursor.Commit(ctx, key, url, last); err != nil {
		return nil, err
	}

	p.logger.Info("exported thought batch",
		zap.String("key", key),
		zap.Int("records", len(delta.Records)),
		zap.String("url", url),
	)

	return &Result{URL: url, State: StateNewRecords, Count: len(delta.Records)}, nil
}

// acquire takes the per-key export slot, enforcing the in-flight and
// cooldown gates.
func (p *Pipeline) acquire(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inflight[key] {
		return ErrExportInFlight
	}
	if p.config.Cooldown > 0 {
		if elapsed := time.Since(p.lastRun[key]); elapsed < p.config.Cooldown {
			return &CooldownError{Remaining: p.config.Cooldown - elapsed}
		}
	}
	p.inflight[key] = true
	return nil
}

func (p *Pipeline) release(key string) {
	p.mu.Lock()
	p.inflight[key] = false
	p.lastRun[key] = time.Now()
	p.mu.Unlock()
}

// writeBatchFile atomically writes the batch beside the temp dir, via
// write-temp-then-rename.
func (p *Pipeline) writeBatchFile(key string, data []byte) (string, error) {
	sanitized := thought.SanitizeKey(key)
	path := filepath.Join(os.TempDir(), fmt.Sprintf("reverie_export_%s.json", sanitized))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing batch file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publishing batch file: %w", err)
	}
	return path, nil
}

// objectKey builds <prefix>/<sanitized-key>/<sanitized-key>_<UTC ts>.json.
func (p *Pipeline) objectKey(key string) string {
	sanitized := thought.SanitizeKey(key)
	stamp := time.Now().UTC().Format(objectKeyTimeLayout)
	return fmt.Sprintf("%s/%s/%s_%s.json", p.config.ObjectPrefix, sanitized, sanitized, stamp)
}
