package queue

import (
	"context"
	"time"

	"github.com/unclebandit/disparo-dispatch/internal/model"
)

const (
	JobsQueue        = "dispatch.jobs"
	retryQueuePrefix = "dispatch.retry."
	maxPriority      = 10
)

// Enqueuer is the producer side of the dispatch queue.
type Enqueuer interface {
	// Enqueue adds a job unless a job with the same key is already queued,
	// running, delayed, or retained as completed/failed. added is false for
	// the no-op case.
	Enqueue(ctx context.Context, job model.DispatchJob) (added bool, err error)
}

// Broker is a durable priority queue of dispatch jobs.
type Broker interface {
	Enqueuer
	// Deliveries streams claimed jobs. Each delivery goes to exactly one reader.
	Deliveries(ctx context.Context) (<-chan Delivery, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Delivery is one claimed job. Exactly one of the settle methods must be called.
type Delivery interface {
	Job() model.DispatchJob
	// Complete settles the job as done.
	Complete(ctx context.Context) error
	// Fail settles the job as permanently failed.
	Fail(ctx context.Context, reason string) error
	// Retry schedules attempt+1 after delay.
	Retry(ctx context.Context, delay time.Duration) error
	// Release drops the job without a terminal mark so it can be enqueued again.
	Release(ctx context.Context) error
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

func (s *Stats) sum() {
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
}
