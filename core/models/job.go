package models

import (
	"database/sql/driver"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var jobStatuses = map[string]JobStatus{
	string(JobStatusPending):   JobStatusPending,
	string(JobStatusRunning):   JobStatusRunning,
	string(JobStatusSucceeded): JobStatusSucceeded,
	string(JobStatusFailed):    JobStatusFailed,
	string(JobStatusCancelled): JobStatusCancelled,
}

// JobStatus is the terminal-or-not status of a Job. See HasFinished for the terminal set.
type JobStatus string

func (s JobStatus) Valid() bool {
	_, ok := jobStatuses[string(s)]
	return ok
}

func (s JobStatus) HasFinished() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) String() string {
	return string(s)
}

func (s *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for job status: %[1]T (%[1]v)", src)
	}
	status, ok := jobStatuses[t]
	if !ok {
		return fmt.Errorf("unknown job status: %q", t)
	}
	*s = status
	return nil
}

func (s JobStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// JobSpec is the immutable input to a run: a declarative description of the code-generation
// job to perform. It is parsed from a spec file and never mutated once a Job is created from it.
type JobSpec struct {
	Project         string            `json:"project" yaml:"project"`
	TaskDescription string            `json:"task_description" yaml:"task_description"`
	Provider        string            `json:"provider" yaml:"provider"`
	Concurrency     int               `json:"concurrency" yaml:"concurrency"`
	Resume          bool              `json:"resume,omitempty" yaml:"resume,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	explicitJobID   string            // set by WithExplicitJobID, not part of the serialized spec
}

// DefaultConcurrency is used when a JobSpec omits concurrency or sets it to zero.
const DefaultConcurrency = 4

// WithExplicitJobID returns a copy of the spec carrying an explicit job id, which the Run
// Manager's Create uses instead of generating a fresh one. The `run` command does not set it:
// `run --resume --job-id` loads the existing run by that id instead.
func (s JobSpec) WithExplicitJobID(jobID string) JobSpec {
	s.explicitJobID = jobID
	return s
}

func (s JobSpec) ExplicitJobID() string {
	return s.explicitJobID
}

// Validate checks structural invariants of a JobSpec. It does not know about the set of
// registered providers; callers that do should additionally check Provider against that set.
func (s JobSpec) Validate() error {
	var result *multierror.Error
	if s.Project == "" {
		result = multierror.Append(result, fmt.Errorf("project must not be empty"))
	}
	if s.TaskDescription == "" {
		result = multierror.Append(result, fmt.Errorf("task_description must not be empty"))
	}
	if s.Provider == "" {
		result = multierror.Append(result, fmt.Errorf("provider must not be empty"))
	}
	if s.Concurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("concurrency must not be negative"))
	}
	return result.ErrorOrNil()
}

// EffectiveConcurrency returns the concurrency limit to use, applying DefaultConcurrency when
// the spec leaves it unset.
func (s JobSpec) EffectiveConcurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

// Job is the mutable execution record for one run of a JobSpec through the step graph.
// It is created by the Orchestrator, mutated only by the DAG Executor, and sealed by the
// Run Manager.
type Job struct {
	JobID       string        `json:"job_id"`
	Spec        JobSpec       `json:"spec"`
	Status      JobStatus     `json:"status"`
	StartedAt   Time          `json:"started_at"`
	CompletedAt *Time         `json:"completed_at,omitempty"`
	DurationS   *float64      `json:"duration_s,omitempty"`
	Steps       []*StepResult `json:"steps"`
}

// Validate checks the structural invariants of a Job record.
func (j Job) Validate() error {
	var result *multierror.Error
	if j.JobID == "" {
		result = multierror.Append(result, fmt.Errorf("job_id must not be empty"))
	}
	if !j.Status.Valid() {
		result = multierror.Append(result, fmt.Errorf("invalid job status: %q", j.Status))
	}
	seen := make(map[string]bool, len(j.Steps))
	for _, step := range j.Steps {
		if seen[step.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate step name: %q", step.Name))
		}
		seen[step.Name] = true
	}
	return result.ErrorOrNil()
}

// StepByName returns the StepResult for the named step, or nil if it has not been registered.
func (j *Job) StepByName(name string) *StepResult {
	for _, s := range j.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AllTerminal reports whether every step in the job has reached a terminal status.
func (j *Job) AllTerminal() bool {
	for _, s := range j.Steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllSuccessEquivalent reports whether every step reached a success-equivalent terminal status
// (succeeded, cached, or skipped). If true the job as a whole succeeded.
func (j *Job) AllSuccessEquivalent() bool {
	for _, s := range j.Steps {
		if !s.Status.IsSuccessEquivalent() {
			return false
		}
	}
	return true
}
