package delivery

import (
	"errors"
	"fmt"
)

// Class groups delivery errors by how the worker reacts to them.
type Class int

const (
	ClassNone Class = iota
	// ClassLogical: the transport answered and said no.
	ClassLogical
	// ClassClient: the request was rejected (4xx); retrying will not help.
	ClassClient
	// ClassTransient: timeouts, network errors, 5xx, 429.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassLogical:
		return "logical"
	case ClassClient:
		return "client"
	case ClassTransient:
		return "transient"
	}
	return "none"
}

type TransportError struct {
	Message string
}

func (e *TransportError) Error() string { return e.Message }

type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("transport rejected request (%d): %s", e.StatusCode, e.Message)
}

type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport status %d: %s", e.StatusCode, e.Message)
}

type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Classify maps an error from Send to its Class. Unknown errors are transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var te *TransportError
	if errors.As(err, &te) {
		return ClassLogical
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ClassClient
	}
	return ClassTransient
}
