// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
    "strings"
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
    CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition is returned by the store when a status change is not
// in the transition table, or the row was no longer in a source state.
type ErrInvalidTransition struct {
    Entity string
    ID     string
    From   string
    To     string
}

func (e *ErrInvalidTransition) Error() string {
    if e.From == "" {
        return fmt.Sprintf("%s %s: transition to %s not allowed from current state", e.Entity, e.ID, e.To)
    }
    return fmt.Sprintf("%s %s: transition %s -> %s not allowed", e.Entity, e.ID, e.From, e.To)
}

func NewInvalidTransition(entity, id, from, to string) error {
    return &ErrInvalidTransition{Entity: entity, ID: id, From: from, To: to}
}

// ErrCampaignNotDispatchable is returned by a manual trigger on a campaign
// outside scheduled/in_progress/paused.
var ErrCampaignNotDispatchable = errors.New("campaign is not in a dispatchable state")

// AdmissionError rejects a whole dispatch batch. Nothing was enqueued.
type AdmissionError struct {
    Problems []string
}

func (e *AdmissionError) Error() string {
    return "invalid dispatch batch: " + strings.Join(e.Problems, "; ")
}

func NewAdmissionError(problems ...string) error {
    return &AdmissionError{Problems: problems}
}

// SubmissionError means the producer or broker could not take a batch.
type SubmissionError struct {
    Err error
}

func (e *SubmissionError) Error() string {
    return "submission failed: " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
    var nf *ErrCampaignNotFound
    return errors.As(err, &nf)
}

func IsInvalidTransition(err error) bool {
    var it *ErrInvalidTransition
    return errors.As(err, &it)
}

func IsAdmission(err error) bool {
    var ae *AdmissionError
    return errors.As(err, &ae)
}
