// Package orcherr defines the error taxonomy shared by every component of
// the orchestrator: Transient, Policy, Capacity, Consistency and Canceled.
package orcherr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and state-transition decisions.
type Kind string

const (
	// Transient errors are retriable: network/IO failures, provider 5xx,
	// rate limiting, schema-validation failures, timeouts below the cap.
	Transient Kind = "transient"
	// Policy errors are fatal: content-policy refusal, blocked-franchise
	// guardrail matches.
	Policy Kind = "policy"
	// Capacity errors are fatal and bubble to the operator: quota
	// exhaustion, provider authentication failure.
	Capacity Kind = "capacity"
	// Consistency errors are fatal: scheduler deadlock, checkpoint
	// corruption, invariant violation.
	Consistency Kind = "consistency"
	// Canceled is terminal but not an error outcome.
	Canceled Kind = "canceled"
)

// Fatal reports whether the kind should end the job rather than retry.
func (k Kind) Fatal() bool {
	switch k {
	case Policy, Capacity, Consistency:
		return true
	default:
		return false
	}
}

// Classified wraps an error with a Kind and optional retry-after hint.
type Classified struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (c *Classified) Error() string {
	if c.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", c.Kind, c.Err, c.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Classify wraps err with kind. A nil err returns nil.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// ClassifyRetryAfter wraps a Transient error carrying a provider-reported
// retry-after duration.
func ClassifyRetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: Transient, RetryAfter: after, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Transient for
// unclassified errors so an unexpected error never silently fails a job
// without at least exhausting its retry budget.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return Transient
}

// RetryAfterOf extracts a reported retry-after duration, or zero.
func RetryAfterOf(err error) time.Duration {
	var c *Classified
	if errors.As(err, &c) {
		return c.RetryAfter
	}
	return 0
}

// Sentinel errors used across the orchestrator's public operations.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobTerminal       = errors.New("job is in a terminal state")
	ErrCheckpointExists  = errors.New("checkpoint already exists")
	ErrLeaseHeld         = errors.New("lease is held by another worker")
	ErrDeadlock          = errors.New("scheduler deadlock: no ready phase instance and plan incomplete")
	ErrValidationFailed  = errors.New("output failed schema validation")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrCoverCapExceeded  = errors.New("cover subsystem exceeded quality-gate attempt cap")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Code is the stable, user-facing error code returned over the API.
type Code string

const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeValidationError  Code = "VALIDATION_ERROR"
	CodeConflict         Code = "CONFLICT"
	CodeInternal         Code = "INTERNAL"
)

// CodeFor maps an internal error to the user-visible error taxonomy.
// Internal details are never returned to the client; callers should log
// err separately and return only the Code and a safe message.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrJobNotFound):
		return CodeNotFound
	case errors.Is(err, ErrJobTerminal):
		return CodeConflict
	case errors.Is(err, ErrValidationFailed):
		return CodeValidationError
	}
	if KindOf(err) == Transient && RetryAfterOf(err) > 0 {
		return CodeRateLimited
	}
	return CodeInternal
}
