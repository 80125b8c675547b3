// Package job defines the Job Controller's data type and state machine:
// an id-keyed unit of work with a total-order status, mutated only
// under the owning Worker's lease.
package job

import (
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/orcherr"
)

// State is one of the Job's total-order statuses.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition is legal.
func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Mode selects draft vs. polished generation.
type Mode string

const (
	ModeDraft    Mode = "draft"
	ModePolished Mode = "polished"
)

// CoverStatus tracks the optional cover subsystem's sub-state, which
// never fails the Job outright.
type CoverStatus string

const (
	CoverPending CoverStatus = "pending"
	CoverReady   CoverStatus = "ready"
	CoverFailed  CoverStatus = "failed"
)

// Input is the original creative brief, validated at create().
type Input struct {
	Prompt            string `json:"prompt" validate:"required,min=10,max=2000"`
	Genre             string `json:"genre,omitempty"`
	TargetLengthWords int    `json:"targetLengthWords,omitempty" validate:"omitempty,min=10000,max=100000"`
	Voice             string `json:"voice,omitempty"`
	Mode              Mode   `json:"mode,omitempty" validate:"omitempty,oneof=draft polished"`
	PaymentRef        string `json:"paymentRef,omitempty"`
}

// SetDefaults fills unset optional fields.
func (in *Input) SetDefaults() {
	if in.TargetLengthWords == 0 {
		in.TargetLengthWords = 20000
	}
	if in.Mode == "" {
		in.Mode = ModeDraft
	}
}

// Job is the unit of orchestration.
type Job struct {
	ID      string
	OwnerID string
	Input   Input

	Status      State
	Phase       string // current/next runnable phase label
	Progress    int    // 0..100
	Error       string // present iff Status == StateFailed
	CoverStatus CoverStatus

	PaymentRef string
	ShareToken string

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// New constructs a queued Job from a validated Input.
func New(id, ownerID string, in Input, now time.Time) *Job {
	in.SetDefaults()
	return &Job{
		ID:          id,
		OwnerID:     ownerID,
		Input:       in,
		Status:      StateQueued,
		Progress:    0,
		CoverStatus: CoverPending,
		PaymentRef:  in.PaymentRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// legalTransitions is the Job state machine's allowed edges.
var legalTransitions = map[State]map[State]bool{
	StateQueued:  {StateRunning: true, StateCancelled: true},
	StateRunning: {StateQueued: true, StateComplete: true, StateFailed: true, StateCancelled: true},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	return legalTransitions[from][to]
}

// Transition mutates the Job's status, enforcing the state machine. The
// caller must hold the Job's lease (pkg/store.LeasesRepo) before calling
// this — Transition itself performs no locking.
func (j *Job) Transition(to State, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", orcherr.ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case StateRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StateComplete, StateFailed, StateCancelled:
		j.EndedAt = &now
	}
	return nil
}

// SetProgress enforces invariant 1 (monotonic progress outside of a
// terminal transition): it is a no-op if percent would move backward
// while the Job remains non-terminal.
func (j *Job) SetProgress(percent int, phase string, now time.Time) {
	if !j.Status.IsTerminal() && percent < j.Progress {
		return
	}
	j.Progress = percent
	j.Phase = phase
	j.UpdatedAt = now
}

// Fail transitions the Job to failed with a classified error message.
func (j *Job) Fail(err error, now time.Time) error {
	if tErr := j.Transition(StateFailed, now); tErr != nil {
		return tErr
	}
	j.Error = err.Error()
	return nil
}

// Snapshot is the read-only view returned by status()/tick().
type Snapshot struct {
	JobID     string  `json:"jobId"`
	Status    State   `json:"status"`
	Progress  int     `json:"progress"`
	Step      *string `json:"step"`
	Error     *string `json:"error"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

// ToSnapshot builds the HTTP-facing view of the Job.
func (j *Job) ToSnapshot() Snapshot {
	snap := Snapshot{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Phase != "" {
		phase := j.Phase
		snap.Step = &phase
	}
	if j.Error != "" {
		errStr := j.Error
		snap.Error = &errStr
	}
	return snap
}
