package flush

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// pool runs key-flush jobs on background workers so debounce timers and the
// sweep loop never block on storage I/O. Dropped jobs are harmless: the
// dirty state stays queued on the scheduler and the next sweep re-dispatches.
type pool struct {
	queue  chan string
	wg     sync.WaitGroup
	logger *zap.Logger

	// mu guards closed so a late debounce timer cannot race close.
	mu     sync.RWMutex
	closed bool
}

// newPool creates a pool and starts its worker goroutines. Each dequeued key
// is handed to flushFn.
func newPool(numWorkers, queueSize uint, logger *zap.Logger, flushFn func(key string)) (*pool, error) {
	if numWorkers == 0 {
		numWorkers = defaultNumWorkers
	}
	if queueSize == 0 {
		queueSize = defaultJobQueueSize
	}
	if numWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("numWorkers %d exceeds max int", numWorkers)
	}

	p := &pool{
		queue:  make(chan string, queueSize),
		logger: logger,
	}

	p.wg.Add(int(numWorkers))
	for i := range numWorkers {
		go p.worker(i, flushFn)
	}

	return p, nil
}

// enqueue submits a key for flushing. Returns false if the queue is full or
// the pool is shutting down.
func (p *pool) enqueue(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- key:
		return true
	default:
		p.logger.Debug("flush queue full, deferring to next sweep",
			zap.String("key", key),
		)
		return false
	}
}

// close signals workers to stop and waits for in-flight flushes to drain.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker continuously pulls keys off the queue.
func (p *pool) worker(id uint, flushFn func(key string)) {
	defer p.wg.Done()
	p.logger.Debug("flush worker started", zap.Uint("worker_id", id))

	for key := range p.queue {
		flushFn(key)
	}

	p.logger.Debug("flush worker stopped", zap.Uint("worker_id", id))
}
