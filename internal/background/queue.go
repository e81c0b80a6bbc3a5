// Package background runs transcodes off the request path. Clients that can
// retry get an immediate 404 + Retry-After while a worker pool produces the
// artifact; the pending set keeps two workers from transcoding the same key
// at once.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/log"
)

// workerJoinTimeout bounds how long Stop waits for each worker. Workers stuck
// behind a long-running child process may outlive the service; operators
// supervise those.
const workerJoinTimeout = 500 * time.Millisecond

// Transcoder is the work the queue performs per key.
type Transcoder interface {
	TryTranscode(ctx context.Context, key artifact.Key) (string, error)
}

// Queue is a process-wide deduplicating transcode queue: a FIFO of keys, a
// fixed worker pool, and a pending set that prevents duplicate background
// work. Synchronous request-path transcodes bypass the pending set entirely;
// cross-path duplication is settled by the cache's rename publication.
type Queue struct {
	transcoder Transcoder
	workers    int
	logger     *slog.Logger

	mu      sync.Mutex
	fifo    []artifact.Key
	pending map[artifact.Key]struct{}
	started bool

	itemReady chan struct{}
	cancel    context.CancelFunc
	done      []chan struct{}
}

// New creates a queue backed by one worker per available CPU core.
func New(transcoder Transcoder) *Queue {
	return NewWithWorkers(transcoder, runtime.NumCPU())
}

// NewWithWorkers creates a queue with an explicit pool size.
func NewWithWorkers(transcoder Transcoder, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		transcoder: transcoder,
		workers:    workers,
		logger:     log.WithComponent("background"),
		pending:    make(map[artifact.Key]struct{}),
		itemReady:  make(chan struct{}, 1),
	}
}

// Enqueue adds key to the FIFO and wakes a worker. Non-blocking; safe from
// any goroutine. Duplicate keys are allowed here — the pending set filters
// them at execution time.
func (q *Queue) Enqueue(key artifact.Key) {
	q.mu.Lock()
	q.fifo = append(q.fifo, key)
	q.mu.Unlock()

	q.signal()
}

// Depth reports the number of queued keys plus in-flight transcodes.
func (q *Queue) Depth() (queued, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo), len(q.pending)
}

// Start spawns the worker pool. Starting twice is a programming error.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("background queue already started")
	}
	q.started = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make([]chan struct{}, q.workers)

	for i := 0; i < q.workers; i++ {
		done := make(chan struct{})
		q.done[i] = done
		go q.worker(ctx, i, done)
	}

	q.logger.Info("background queue started", "workers", q.workers)
	return nil
}

// Stop signals shutdown and joins each worker with a bounded wait. Workers
// blocked on a child process are abandoned; the shared cancellation has
// already told the supervisor to terminate the child.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.cancel == nil {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.cancel = nil
	done := q.done
	q.mu.Unlock()

	cancel()
	for i, ch := range done {
		select {
		case <-ch:
		case <-time.After(workerJoinTimeout):
			q.logger.Warn("worker did not stop in time", "worker", i)
		}
	}
	q.logger.Info("background queue stopped")
}

func (q *Queue) worker(ctx context.Context, id int, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.itemReady:
		}
		q.drain(ctx, id)
	}
}

// drain empties the FIFO. After each dequeue, if items remain, the signal is
// re-armed: multiple enqueues can collapse into a single wake, and the other
// workers must still get up.
func (q *Queue) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		key, more, ok := q.pop()
		if !ok {
			return
		}
		if more {
			q.signal()
		}

		if !q.claim(key) {
			// Another worker owns this key already.
			continue
		}
		q.process(ctx, id, key)
	}
}

func (q *Queue) process(ctx context.Context, id int, key artifact.Key) {
	defer q.release(key)

	logger := q.logger.With("worker", id, "artifact", key.Name, "artifact_id", key.GUID.String())
	logger.Debug("background transcode starting")

	if _, err := q.transcoder.TryTranscode(ctx, key); err != nil {
		if ctx.Err() != nil {
			logger.Debug("background transcode cancelled")
			return
		}
		// The orchestrator converts all expected failures into a negative
		// result; anything else is worth an operator's attention.
		logger.Error("background transcode error", "error", err)
	}
}

func (q *Queue) pop() (key artifact.Key, more, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.fifo) == 0 {
		return artifact.Key{}, false, false
	}
	key = q.fifo[0]
	q.fifo = q.fifo[1:]
	return key, len(q.fifo) > 0, true
}

func (q *Queue) claim(key artifact.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.pending[key]; busy {
		return false
	}
	q.pending[key] = struct{}{}
	return true
}

func (q *Queue) release(key artifact.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, key)
}

func (q *Queue) signal() {
	select {
	case q.itemReady <- struct{}{}:
	default:
	}
}
