package queue

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Operation names understood by the pipeline's job handler.
const (
	OpAdd    = "cart:add"
	OpUpdate = "cart:update"
	OpRemove = "cart:remove"
	OpClear  = "cart:clear"
)

// Job is one queued cart mutation awaiting authoritative application.
type Job struct {
	Type       string
	UserID     string
	ProductID  int64
	Quantity   int
	MutationID string
}

// Handler applies one job against authoritative storage. The queue never
// retries: a failed job is dropped and the handler is expected to have
// published the failure.
type Handler func(ctx context.Context, job Job) error

var ErrQueueFull = errors.New("job queue partition full")
var ErrClosed = errors.New("job queue closed")

const partitionBuffer = 256

// Queue runs jobs asynchronously with strict FIFO ordering per partition
// key. One goroutine per key means at most one job per user is in flight
// against the store, serializing writes without any lock. Keys are
// independent and drain concurrently. Queued work is process-local and lost
// on restart by design.
//
// Partitions are created lazily and live until Close: the cost of an idle
// one is a parked goroutine and an empty channel per user seen, which stays
// small under the single-instance deployment this queue assumes. Reaping
// idle partitions would need a handshake with Enqueue; not worth it at this
// footprint.
type Queue struct {
	mu         sync.Mutex
	partitions map[string]chan Job
	handler    Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func New(handler Handler) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		partitions: make(map[string]chan Job),
		handler:    handler,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue schedules job on its user's partition. Non-blocking: a full
// partition rejects with ErrQueueFull rather than stalling the caller.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ch, ok := q.partitions[job.UserID]
	if !ok {
		ch = make(chan Job, partitionBuffer)
		q.partitions[job.UserID] = ch
		q.wg.Add(1)
		go q.drain(ch)
	}
	q.mu.Unlock()

	select {
	case ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) drain(ch chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-ch:
			if err := q.handler(q.ctx, job); err != nil {
				// Dropped, never retried: the input may be stale and the
				// handler already published the failure event.
				log.Printf("job %s (%s) for user %s dropped: %v", job.Type, job.MutationID, job.UserID, err)
			}
		}
	}
}

// Close stops all partition workers. Jobs still buffered are abandoned;
// clients reconcile by re-fetching authoritative state.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
