// internal/service/producer_service.go
package service

import (
    "context"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
    "github.com/unclebandit/disparo-dispatch/internal/model"
    "github.com/unclebandit/disparo-dispatch/internal/queue"
)

const (
    minPhoneDigits = 10
    maxPriority    = 10
)

// Submitter hands a batch of jobs to the producer, either over HTTP or in process.
type Submitter interface {
    Submit(ctx context.Context, reqs []model.DispatchRequest) (*model.DispatchResult, error)
}

type QueueStatter interface {
    queue.Enqueuer
    Stats(ctx context.Context) (queue.Stats, error)
}

// ProducerService admits dispatch batches into the queue. It does no delivery.
type ProducerService struct {
    Queue QueueStatter
}

// ValidateBatch returns every problem found; the batch is admitted only if
// there are none.
func ValidateBatch(reqs []model.DispatchRequest) []string {
    if len(reqs) == 0 {
        return []string{"messages must be a non-empty array"}
    }
    var problems []string
    for i, r := range reqs {
        missing := []string{}
        if strings.TrimSpace(r.DisparoID) == "" {
            missing = append(missing, "disparo_id")
        }
        if strings.TrimSpace(r.RecipientID) == "" {
            missing = append(missing, "recipient_id")
        }
        if strings.TrimSpace(r.Phone) == "" {
            missing = append(missing, "phone")
        }
        if strings.TrimSpace(r.Message) == "" {
            missing = append(missing, "message")
        }
        if strings.TrimSpace(r.APIToken) == "" {
            missing = append(missing, "api_token")
        }
        if len(missing) > 0 {
            problems = append(problems, fmt.Sprintf("message %d: missing %s", i, strings.Join(missing, ", ")))
            continue
        }
        if len(model.NormalizePhone(r.Phone)) < minPhoneDigits {
            problems = append(problems, fmt.Sprintf("message %d: invalid phone %q", i, r.Phone))
        }
        if !model.ValidMediaType(r.MediaType) {
            problems = append(problems, fmt.Sprintf("message %d: unknown media_type %q", i, r.MediaType))
        }
        if r.Priority != nil && *r.Priority > maxPriority {
            problems = append(problems, fmt.Sprintf("message %d: priority must be between 0 and %d", i, maxPriority))
        }
    }
    return problems
}

// Submit validates the whole batch and enqueues one job per descriptor.
// Descriptors whose key is already known to the queue are admitted and listed
// in JobIDs but not counted in JobsAdded.
func (s *ProducerService) Submit(ctx context.Context, reqs []model.DispatchRequest) (*model.DispatchResult, error) {
    if problems := ValidateBatch(reqs); len(problems) > 0 {
        return nil, appErrors.NewAdmissionError(problems...)
    }

    result := &model.DispatchResult{JobIDs: make([]string, 0, len(reqs))}
    added := 0
    for _, r := range reqs {
        job := r.Job()
        ok, err := s.Queue.Enqueue(ctx, job)
        if err != nil {
            return nil, &appErrors.SubmissionError{Err: fmt.Errorf("enqueue %s: %w", job.Key(), err)}
        }
        if ok {
            added++
        }
        result.JobIDs = append(result.JobIDs, job.Key())
    }
    result.JobsAdded = added

    logrus.WithFields(logrus.Fields{
        "disparo_id": reqs[0].DisparoID,
        "received":   len(reqs),
        "new":        added,
    }).Info("📨 Dispatch batch admitted")
    return result, nil
}

func (s *ProducerService) Stats(ctx context.Context) (queue.Stats, error) {
    return s.Queue.Stats(ctx)
}

var _ Submitter = (*ProducerService)(nil)
