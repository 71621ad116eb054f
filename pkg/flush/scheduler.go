// Package flush decouples low-latency cache writes from durable persistence.
//
// The scheduler holds dirty state per conversation key: pending record
// appends (in invocation order) and an optional dirty watermark. A per-key
// debounce timer is re-armed on every write; when a key has been idle for
// the debounce window its state is flushed to the storage driver. A periodic
// sweep additionally flushes everything dirty, bounding maximum data loss on
// crash to one sweep interval. Flushes of the same key are serialized via a
// per-key lock, and Close performs one final flush of all dirty state.
package flush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/eventstream"
	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

const (
	defaultDebounce      = 2 * time.Second
	defaultSweepInterval = 30 * time.Second
	defaultMaxAttempts   = 5
)

// Config is the configuration options for the flush scheduler.
type Config struct {
	// Store is the durable storage backend.
	Store storage.Driver

	// Publisher, when set, receives a ThoughtPersistedEvent for every
	// durably appended record. Publish failures are logged and absorbed.
	Publisher eventstream.Publisher

	// Debounce is the per-key inactivity window before a flush (defaults to 2s).
	Debounce time.Duration

	// SweepInterval is the period of the flush-everything sweep (defaults to 30s).
	SweepInterval time.Duration

	// NumWorkers is the number of background flush workers.
	NumWorkers uint

	// QueueSize is the capacity of the flush job queue.
	QueueSize uint

	// MaxAttempts bounds retries for a failing append batch before it is
	// dropped with an error log (defaults to 5).
	MaxAttempts int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// keyState is the dirty state for one conversation key.
type keyState struct {
	// records are pending appends in invocation order.
	records []*thought.Record

	// attempts counts failed flushes of the head of records.
	attempts int

	// watermark is a dirty watermark awaiting persistence, nil when clean.
	watermark *thought.Watermark
}

// Scheduler implements the debounced flush strategy.
type Scheduler struct {
	config Config
	logger *zap.Logger
	pool   *pool

	// mu guards dirty, timers and keyLocks.
	mu       sync.Mutex
	dirty    map[string]*keyState
	timers   map[string]*time.Timer
	keyLocks map[string]*sync.Mutex

	done   chan struct{}
	closed sync.Once
	swept  sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its sweep loop and workers.
func NewScheduler(config Config) (*Scheduler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Debounce <= 0 {
		config.Debounce = defaultDebounce
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}

	s := &Scheduler{
		config:   config,
		logger:   config.Logger,
		dirty:    make(map[string]*keyState),
		timers:   make(map[string]*time.Timer),
		keyLocks: make(map[string]*sync.Mutex),
		done:     make(chan struct{}),
	}

	p, err := newPool(config.NumWorkers, config.QueueSize, config.Logger, s.flushKey)
	if err != nil {
		return nil, err
	}
	s.pool = p

	s.swept.Add(1)
	go s.sweepLoop()

	return s, nil
}

// EnqueueAppend queues one record for durable append and re-arms the key's
// debounce timer. Never blocks on I/O.
func (s *Scheduler) EnqueueAppend(rec *thought.Record) {
	if rec == nil {
		return
	}

	s.mu.Lock()
	st := s.state(rec.ConversationKey)
	st.records = append(st.records, rec)
	s.armTimer(rec.ConversationKey)
	s.mu.Unlock()
}

// MarkWatermark queues a watermark for durable upsert and re-arms the key's
// debounce timer.
func (s *Scheduler) MarkWatermark(key string, wm thought.Watermark) {
	s.mu.Lock()
	st := s.state(key)
	st.watermark = &wm
	s.armTimer(key)
	s.mu.Unlock()
}

// FlushKey synchronously flushes all dirty state for one key. Used by the
// export path so ReadSince observes every captured record, and by Close.
func (s *Scheduler) FlushKey(_ context.Context, key string) error {
	return s.flush(key)
}

// Close stops the timers and the sweep loop, flushes all remaining dirty
// state, and drains the worker pool. Safe to call once during shutdown.
func (s *Scheduler) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		s.swept.Wait()

		s.mu.Lock()
		for key, timer := range s.timers {
			timer.Stop()
			delete(s.timers, key)
		}
		keys := make([]string, 0, len(s.dirty))
		for key := range s.dirty {
			keys = append(keys, key)
		}
		s.mu.Unlock()

		for _, key := range keys {
			if flushErr := s.flush(key); flushErr != nil && err == nil {
				err = flushErr
			}
		}

		s.pool.close()
	})
	return err
}

// state returns the dirty state for key, creating it on first use.
// Caller must hold s.mu.
func (s *Scheduler) state(key string) *keyState {
	st, ok := s.dirty[key]
	if !ok {
		st = &keyState{}
		s.dirty[key] = st
	}
	return st
}

// armTimer replaces the key's debounce timer. Caller must hold s.mu, which
// makes the read-cancel-replace race-free.
func (s *Scheduler) armTimer(key string) {
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	s.timers[key] = time.AfterFunc(s.config.Debounce, func() {
		s.pool.enqueue(key)
	})
}

// keyLock returns the flush serialization lock for key.
func (s *Scheduler) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[key] = lock
	}
	return lock
}

// sweepLoop periodically dispatches every dirty key to the pool.
func (s *Scheduler) sweepLoop() {
	defer s.swept.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			keys := make([]string, 0, len(s.dirty))
			for key, st := range s.dirty {
				if len(st.records) > 0 || st.watermark != nil {
					keys = append(keys, key)
				}
			}
			s.mu.Unlock()

			for _, key := range keys {
				s.pool.enqueue(key)
			}
		}
	}
}

// flushKey is the pool worker entry point; flush errors here are background
// failures, logged and absorbed so they never reach the ingest path.
func (s *Scheduler) flushKey(key string) {
	if err := s.flush(key); err != nil {
		s.logger.Error("background flush failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// flush drains the key's dirty state to the store. Serialized per key; a
// failed append batch is requeued ahead of newer records and retried on a
// later sweep, up to MaxAttempts.
func (s *Scheduler) flush(key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	st, ok := s.dirty[key]
	if !ok || (len(st.records) == 0 && st.watermark == nil) {
		s.mu.Unlock()
		return nil
	}
	records := st.records
	watermark := st.watermark
	attempts := st.attempts
	st.records = nil
	st.watermark = nil
	s.mu.Unlock()

	ctx := context.Background()

	for i, rec := range records {
		if err := s.config.Store.Append(ctx, rec); err != nil {
			s.requeue(key, records[i:], watermark, attempts+1)
			return fmt.Errorf("appending record for %s: %w", key, err)
		}
		s.publish(ctx, rec)
	}

	if watermark != nil {
		if err := s.config.Store.PutWatermark(ctx, key, *watermark); err != nil {
			s.requeue(key, nil, watermark, attempts+1)
			return fmt.Errorf("persisting watermark for %s: %w", key, err)
		}
	}

	s.mu.Lock()
	st.attempts = 0
	s.mu.Unlock()

	return nil
}

// requeue puts unflushed state back at the head of the key's queue, or drops
// it once the retry limit is reached.
func (s *Scheduler) requeue(key string, records []*thought.Record, wm *thought.Watermark, attempts int) {
	if attempts >= s.config.MaxAttempts {
		s.logger.Error("dropping unflushable state after max attempts",
			zap.String("key", key),
			zap.Int("records", len(records)),
			zap.Int("attempts", attempts),
		)
		return
	}

	s.mu.Lock()
	st := s.state(key)
	st.records = append(append([]*thought.Record{}, records...), st.records...)
	if st.watermark == nil {
		st.watermark = wm
	}
	st.attempts = attempts
	s.mu.Unlock()
}

// publish emits a persisted event for one record; failures never propagate.
func (s *Scheduler) publish(ctx context.Context, rec *thought.Record) {
	if s.config.Publisher == nil {
		return
	}

	event := eventstream.NewThoughtPersistedEvent(rec)
	if err := s.config.Publisher.PublishThought(ctx, event); err != nil {
		s.logger.Warn("failed to publish persisted event",
			zap.String("key", rec.ConversationKey),
			zap.Error(err),
		)
	}
}
