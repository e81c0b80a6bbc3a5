package background

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/semver"
)

type countingTranscoder struct {
	mu       sync.Mutex
	calls    map[artifact.Key]int
	inFlight map[artifact.Key]int
	overlap  atomic.Bool
	block    chan struct{} // when non-nil, transcodes park here
	total    atomic.Int64
}

func newCountingTranscoder() *countingTranscoder {
	return &countingTranscoder{
		calls:    make(map[artifact.Key]int),
		inFlight: make(map[artifact.Key]int),
	}
}

func (c *countingTranscoder) TryTranscode(ctx context.Context, key artifact.Key) (string, error) {
	c.mu.Lock()
	c.calls[key]++
	c.inFlight[key]++
	if c.inFlight[key] > 1 {
		c.overlap.Store(true)
	}
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	c.inFlight[key]--
	c.mu.Unlock()
	c.total.Add(1)
	return "", nil
}

func key(t *testing.T, name string, age uint32) artifact.Key {
	t.Helper()
	g, err := artifact.ParseGUID("ABCDEF0123456789ABCDEF0123456789")
	if err != nil {
		t.Fatalf("ParseGUID: %v", err)
	}
	k, err := artifact.New(semver.MustParse("3.1.0"), name, g, age)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	return k
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestQueueProcessesAllKeys(t *testing.T) {
	t.Parallel()

	tr := newCountingTranscoder()
	q := NewWithWorkers(tr, 4)
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	for i := uint32(1); i <= 20; i++ {
		q.Enqueue(key(t, "a.pdb", i))
	}

	waitFor(t, func() bool { return tr.total.Load() >= 20 })
}

func TestQueueNeverOverlapsSameKey(t *testing.T) {
	t.Parallel()

	tr := newCountingTranscoder()
	tr.block = make(chan struct{})

	q := NewWithWorkers(tr, 8)
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	same := key(t, "a.pdb", 1)
	for i := 0; i < 50; i++ {
		q.Enqueue(same)
	}

	// Give every worker a chance to pick the key up while one holds it.
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.calls[same] >= 1
	})
	time.Sleep(100 * time.Millisecond)
	close(tr.block)

	waitFor(t, func() bool {
		queued, inFlight := q.Depth()
		return queued == 0 && inFlight == 0
	})

	if tr.overlap.Load() {
		t.Fatalf("two workers processed the same key concurrently")
	}
}

func TestQueueStartTwiceFails(t *testing.T) {
	t.Parallel()

	q := NewWithWorkers(newCountingTranscoder(), 1)
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	if err := q.Start(); err == nil {
		t.Fatalf("second Start should fail")
	}
}

func TestQueueStopReturnsWithStuckWorker(t *testing.T) {
	t.Parallel()

	tr := newCountingTranscoder()
	// Block ignoring cancellation, simulating a wedged child process.
	tr.block = nil

	q := NewWithWorkers(&stuckTranscoder{parked: make(chan struct{})}, 1)
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q.Enqueue(key(t, "a.pdb", 1))

	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	q.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v, want bounded join", elapsed)
	}
}

type stuckTranscoder struct {
	parked chan struct{}
}

func (s *stuckTranscoder) TryTranscode(ctx context.Context, key artifact.Key) (string, error) {
	<-s.parked // never closed: ignores cancellation
	return "", nil
}

func TestQueueCollapsedWakeStillDrains(t *testing.T) {
	t.Parallel()

	tr := newCountingTranscoder()
	q := NewWithWorkers(tr, 1)

	// Enqueue before Start: all signals collapse into one pending wake.
	for i := uint32(1); i <= 10; i++ {
		q.Enqueue(key(t, "b.pdb", i))
	}
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	waitFor(t, func() bool { return tr.total.Load() >= 10 })
}

func TestQueueStopIdempotent(t *testing.T) {
	t.Parallel()

	q := NewWithWorkers(newCountingTranscoder(), 1)
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q.Stop()
	q.Stop()
}
