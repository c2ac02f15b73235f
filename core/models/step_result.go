package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCached    StepStatus = "cached"
	StepStatusCancelled StepStatus = "cancelled"
)

var stepStatuses = map[string]StepStatus{
	string(StepStatusPending):   StepStatusPending,
	string(StepStatusRunning):   StepStatusRunning,
	string(StepStatusSucceeded): StepStatusSucceeded,
	string(StepStatusFailed):    StepStatusFailed,
	string(StepStatusSkipped):   StepStatusSkipped,
	string(StepStatusCached):    StepStatusCached,
	string(StepStatusCancelled): StepStatusCancelled,
}

// StepStatus is the lifecycle state of a single StepResult. Transitions are monotonic:
// pending -> running -> one of {succeeded, failed, skipped, cached, cancelled}, and pending may
// also go straight to skipped or failed.
type StepStatus string

func (s StepStatus) Valid() bool {
	_, ok := stepStatuses[string(s)]
	return ok
}

// IsTerminal reports whether the status is one a step does not transition out of.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped, StepStatusCached, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccessEquivalent reports whether a downstream step may treat this status as satisfying a
// dependency (succeeded, cached, or skipped-with-success).
func (s StepStatus) IsSuccessEquivalent() bool {
	switch s {
	case StepStatusSucceeded, StepStatusCached, StepStatusSkipped:
		return true
	default:
		return false
	}
}

func (s StepStatus) String() string {
	return string(s)
}

func (s *StepStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for step status: %[1]T (%[1]v)", src)
	}
	status, ok := stepStatuses[t]
	if !ok {
		return fmt.Errorf("unknown step status: %q", t)
	}
	*s = status
	return nil
}

func (s StepStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// canTransitionTo enforces the monotonic state machine described in the orchestration core's
// step lifecycle: no reverse transitions, retries stay within running.
func (s StepStatus) canTransitionTo(next StepStatus) bool {
	if s == next {
		return s == StepStatusRunning // retries re-enter running
	}
	switch s {
	case StepStatusPending:
		return next == StepStatusRunning || next == StepStatusSkipped || next == StepStatusFailed
	case StepStatusRunning:
		return next.IsTerminal()
	default:
		return false // terminal statuses never transition
	}
}

// StepResult is the per-step outcome tracked on a Job.
type StepResult struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	StartedAt   *Time           `json:"started_at,omitempty"`
	CompletedAt *Time           `json:"completed_at,omitempty"`
	DurationS   *float64        `json:"duration_s,omitempty"`
	RetryCount  int             `json:"retry_count"`
	Artifacts   []Artifact      `json:"artifacts,omitempty"`
	Failure     *Failure        `json:"failure,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// Validate checks the structural invariants of a StepResult.
func (r StepResult) Validate() error {
	var result *multierror.Error
	if r.Name == "" {
		result = multierror.Append(result, fmt.Errorf("step name must not be empty"))
	}
	if !r.Status.Valid() {
		result = multierror.Append(result, fmt.Errorf("invalid step status: %q", r.Status))
	}
	if r.Status == StepStatusFailed && r.Failure == nil {
		result = multierror.Append(result, fmt.Errorf("step %q failed without a recorded Failure", r.Name))
	}
	if r.Failure != nil && r.Failure.Kind == FailureKindDependencyFailed && r.Failure.UpstreamStep == "" {
		result = multierror.Append(result, fmt.Errorf("dependency_failed on step %q must reference an upstream step", r.Name))
	}
	return result.ErrorOrNil()
}

// TransitionTo mutates the step's status, returning an error if the transition violates the
// monotonic state machine. Callers are expected to hold whatever lock serializes access to the
// owning Job's Steps slice.
func (r *StepResult) TransitionTo(next StepStatus) error {
	if !r.Status.canTransitionTo(next) {
		return fmt.Errorf("invalid step transition for %q: %s -> %s", r.Name, r.Status, next)
	}
	r.Status = next
	return nil
}
