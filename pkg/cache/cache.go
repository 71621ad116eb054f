// Package cache provides the in-process cache service owning both the
// latest-record map and the bounded export-watermark LRU.
//
// The service is the single mediator for reads: lookups are O(1) in-memory
// and fall back to the storage driver on a miss (read-through), populating
// the cache with the result. Mutations never block on I/O — durable
// persistence is handed to the flush scheduler via the Flusher interface.
package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

const defaultWatermarkCapacity = 1000

// Flusher receives dirty state from cache mutations. Implemented by
// flush.Scheduler; faked in tests.
type Flusher interface {
	EnqueueAppend(rec *thought.Record)
	MarkWatermark(key string, wm thought.Watermark)
}

// Config holds configuration for the cache service.
type Config struct {
	// Store is the durable backend used for read-through on cache misses.
	Store storage.Driver

	// Flusher is notified of every mutation for eventual persistence.
	Flusher Flusher

	// WatermarkCapacity bounds the watermark LRU (defaults to 1000).
	WatermarkCapacity int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Service owns the in-memory view of latest records and export watermarks.
type Service struct {
	config Config
	logger *zap.Logger

	// mu guards latest. The LRU carries its own lock; move-to-front on
	// read is a mutation, so all watermark access goes through it.
	mu     sync.RWMutex
	latest map[string]*thought.Record

	watermarks *lru.Cache[string, thought.Watermark]
}

// New creates a cache service.
func New(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.WatermarkCapacity <= 0 {
		config.WatermarkCapacity = defaultWatermarkCapacity
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	watermarks, err := lru.New[string, thought.Watermark](config.WatermarkCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating watermark cache: %w", err)
	}

	return &Service{
		config:     config,
		logger:     config.Logger,
		latest:     make(map[string]*thought.Record),
		watermarks: watermarks,
	}, nil
}

// PutLatest upserts the latest record for its conversation key and enqueues
// a durable append. The previous latest is overwritten, never merged.
func (s *Service) PutLatest(rec *thought.Record) {
	if rec == nil {
		return
	}

	s.mu.Lock()
	s.latest[rec.ConversationKey] = rec
	s.mu.Unlock()

	if s.config.Flusher != nil {
		s.config.Flusher.EnqueueAppend(rec)
	}
}

// GetLatest returns the latest record for key. On a cache miss it reads
// through to the durable store and backfills the cache, so a restart does
// not silently lose the latest trace. Absence is storage.NotFoundError.
func (s *Service) GetLatest(ctx context.Context, key string) (*thought.Record, error) {
	s.mu.RLock()
	rec, ok := s.latest[key]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := s.config.Store.ReadLatest(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Another writer may have landed a fresher record meanwhile; keep it.
	if existing, exists := s.latest[key]; exists {
		rec = existing
	} else {
		s.latest[key] = rec
	}
	s.mu.Unlock()

	return rec, nil
}

// PutWatermark upserts the watermark for key, moves it to most-recently-used
// position, evicts the least-recently-used entry beyond capacity, and
// enqueues durable persistence.
func (s *Service) PutWatermark(key string, wm thought.Watermark) {
	if evicted := s.watermarks.Add(key, wm); evicted {
		s.logger.Debug("evicted least-recently-used watermark",
			zap.String("key", key),
		)
	}

	if s.config.Flusher != nil {
		s.config.Flusher.MarkWatermark(key, wm)
	}
}

// GetWatermark returns the watermark for key, refreshing its recency. On a
// cache miss (including after eviction) it reads through to the durable
// store. Absence is storage.NotFoundError.
func (s *Service) GetWatermark(ctx context.Context, key string) (thought.Watermark, error) {
	if wm, ok := s.watermarks.Get(key); ok {
		return wm, nil
	}

	wm, err := s.config.Store.GetWatermark(ctx, key)
	if err != nil {
		return thought.Watermark{}, err
	}

	s.watermarks.Add(key, wm)
	return wm, nil
}

// WatermarkLen reports the current number of cached watermark entries.
func (s *Service) WatermarkLen() int {
	return s.watermarks.Len()
}
