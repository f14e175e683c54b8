package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/disparo-dispatch/internal/model"
)

var ErrBrokerClosed = errors.New("broker closed")

// InMemoryBroker is a process-local Broker for development and tests. Jobs
// do not survive a restart.
type InMemoryBroker struct {
	mu       sync.Mutex
	registry Registry
	pending  jobHeap
	seq      uint64
	delayed  int64
	timers   map[*time.Timer]struct{}
	notify   chan struct{}
	closed   bool
}

func NewInMemoryBroker(registry Registry) *InMemoryBroker {
	if registry == nil {
		registry = NewMemoryRegistry(DefaultRetention())
	}
	return &InMemoryBroker{
		registry: registry,
		timers:   map[*time.Timer]struct{}{},
		notify:   make(chan struct{}, 1),
	}
}

type queuedJob struct {
	job model.DispatchJob
	seq uint64
}

// jobHeap orders by priority (higher first), then FIFO.
type jobHeap []queuedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any) { *h = append(*h, x.(queuedJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (b *InMemoryBroker) Enqueue(ctx context.Context, job model.DispatchJob) (bool, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false, ErrBrokerClosed
	}

	added, err := b.registry.Claim(ctx, job.Key())
	if err != nil || !added {
		return false, err
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b.push(job)
	return true, nil
}

func (b *InMemoryBroker) push(job model.DispatchJob) {
	b.mu.Lock()
	b.seq++
	heap.Push(&b.pending, queuedJob{job: job, seq: b.seq})
	b.mu.Unlock()
	b.wake()
}

func (b *InMemoryBroker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *InMemoryBroker) pop() (model.DispatchJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.Len() == 0 {
		return model.DispatchJob{}, false
	}
	return heap.Pop(&b.pending).(queuedJob).job, true
}

// Deliveries hands jobs out one at a time on an unbuffered channel, so a job
// is claimed by exactly one reader.
func (b *InMemoryBroker) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			job, ok := b.pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-b.notify:
					continue
				}
			}
			if err := b.registry.SetState(ctx, job.Key(), StateActive); err != nil {
				logrus.WithError(err).Warn("⚠️ failed to mark job active")
			}
			d := &memDelivery{broker: b, job: job}
			select {
			case out <- d:
			case <-ctx.Done():
				// put it back for the next consumer
				b.registry.SetState(context.Background(), job.Key(), StateQueued)
				b.push(job)
				return
			}
		}
	}()
	return out, nil
}

func (b *InMemoryBroker) Stats(ctx context.Context) (Stats, error) {
	if err := b.registry.Purge(ctx); err != nil {
		return Stats{}, err
	}
	active, completed, failed, err := b.registry.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	b.mu.Lock()
	s := Stats{
		Waiting:   int64(b.pending.Len()),
		Active:    active,
		Completed: completed,
		Failed:    failed,
		Delayed:   b.delayed,
	}
	b.mu.Unlock()
	s.sum()
	return s, nil
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = map[*time.Timer]struct{}{}
	return nil
}

func (b *InMemoryBroker) schedule(job model.DispatchJob, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.delayed++
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.delayed--
		b.mu.Unlock()
		b.registry.SetState(context.Background(), job.Key(), StateQueued)
		b.push(job)
	})
	b.timers[t] = struct{}{}
}

type memDelivery struct {
	broker *InMemoryBroker
	job    model.DispatchJob
}

func (d *memDelivery) Job() model.DispatchJob { return d.job }

func (d *memDelivery) Complete(ctx context.Context) error {
	return d.broker.registry.Complete(ctx, d.job.Key())
}

func (d *memDelivery) Fail(ctx context.Context, reason string) error {
	logrus.WithFields(logrus.Fields{"job": d.job.Key(), "attempt": d.job.Attempt}).
		Warnf("Job permanently failed: %s", reason)
	return d.broker.registry.Fail(ctx, d.job.Key())
}

func (d *memDelivery) Retry(ctx context.Context, delay time.Duration) error {
	next := d.job
	next.Attempt++
	if err := d.broker.registry.SetState(ctx, next.Key(), StateDelayed); err != nil {
		return err
	}
	d.broker.schedule(next, delay)
	return nil
}

func (d *memDelivery) Release(ctx context.Context) error {
	return d.broker.registry.Release(ctx, d.job.Key())
}

var _ Broker = (*InMemoryBroker)(nil)
