// Package runmanager creates and maintains a run's on-disk folder: manifest.json, events.jsonl,
// and the inputs/outputs/logs/artifacts/.cache subtrees.
package runmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/eventlog"
	"github.com/loomforge/loomforge/core/models"
)

// RunIndex is the subset of the Run Index's interface the Run Manager needs, kept as an
// interface so a missing or broken index never blocks the manifest (the source of truth).
type RunIndex interface {
	Upsert(m models.Manifest) error
}

// noOpRunIndex is used when the caller does not wire a Run Index.
type noOpRunIndex struct{}

func (noOpRunIndex) Upsert(models.Manifest) error { return nil }

// EventEmitter is the subset of the Event Log PrepareResume needs.
type EventEmitter interface {
	Emit(e models.Event) error
}

// Manager owns the runs/ directory tree.
type Manager struct {
	runsRoot string
	index    RunIndex
	clock    clock.Clock
	log      logger.Log

	mu sync.Mutex // serializes manifest writes across all runs handled by this Manager
}

func New(runsRoot string, index RunIndex, clk clock.Clock, log logger.Log) *Manager {
	if index == nil {
		index = noOpRunIndex{}
	}
	return &Manager{runsRoot: runsRoot, index: index, clock: clk, log: log}
}

// RunDir returns the run folder path for jobID.
func (m *Manager) RunDir(jobID string) string {
	return filepath.Join(m.runsRoot, jobID)
}

func (m *Manager) manifestPath(jobID string) string {
	return filepath.Join(m.RunDir(jobID), "manifest.json")
}

func (m *Manager) eventsPath(jobID string) string {
	return filepath.Join(m.RunDir(jobID), "events.jsonl")
}

// subdirs is the fixed run folder layout.
var subdirs = []string{"inputs", "outputs", "logs", "artifacts", ".cache"}

// Create assigns a new job id, lays out the run folder, and writes the initial pending manifest.
func (m *Manager) Create(spec models.JobSpec) (*models.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, gerror.NewErrValidationFailed(err.Error())
	}
	jobID := spec.ExplicitJobID()
	if jobID == "" {
		jobID = models.NewJobID(m.clock.Now())
	}

	runDir := m.RunDir(jobID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error creating run directory %q", runDir), err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return nil, gerror.NewErrIO(fmt.Sprintf("error creating run subdirectory %q", sub), err)
		}
	}

	job := &models.Job{
		JobID:     jobID,
		Spec:      spec,
		Status:    models.JobStatusPending,
		StartedAt: models.NewTime(m.clock.Now()),
	}
	if err := m.writeManifest(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Load parses the manifest for jobID and, if an event log is present, replays it to reconstruct
// per-step state for a resumed run.
func (m *Manager) Load(jobID string) (*models.Job, error) {
	data, err := os.ReadFile(m.manifestPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gerror.NewErrNotFound(fmt.Sprintf("run %q not found", jobID))
		}
		return nil, gerror.NewErrIO(fmt.Sprintf("error reading manifest for run %q", jobID), err)
	}
	var manifest models.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error parsing manifest for run %q", jobID), err)
	}

	job := fromManifest(manifest)
	if err := m.replayEvents(job); err != nil {
		return nil, err
	}
	return job, nil
}

// replayEvents reconstructs per-step StepResult state from events.jsonl, per the resume
// contract: the manifest alone does not carry enough history to distinguish "never started"
// from "started but never finished" after a crash mid-step.
func (m *Manager) replayEvents(job *models.Job) error {
	events, err := eventlog.Read(m.eventsPath(job.JobID), eventlog.Filter{})
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.Step == "" {
			continue
		}
		step := job.StepByName(e.Step)
		if step == nil {
			continue
		}
		switch e.Type {
		case models.EventStepStarted:
			step.Status = models.StepStatusRunning
		case models.EventStepSucceeded:
			step.Status = models.StepStatusSucceeded
		case models.EventStepFailed:
			step.Status = models.StepStatusFailed
		case models.EventStepSkipped:
			step.Status = models.StepStatusSkipped
		case models.EventStepCached:
			step.Status = models.StepStatusCached
		}
	}
	return nil
}

// fromManifest builds a live Job from a sealed/in-progress Manifest.
func fromManifest(m models.Manifest) *models.Job {
	job := &models.Job{
		JobID: m.JobID,
		Spec: models.JobSpec{
			Project:         m.Project,
			TaskDescription: m.TaskDescription,
			Provider:        m.Provider,
		},
		Status:      m.Status,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		DurationS:   m.DurationS,
	}
	for _, s := range m.Steps {
		job.Steps = append(job.Steps, &models.StepResult{
			Name:        s.Name,
			Status:      s.Status,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			DurationS:   s.DurationS,
			RetryCount:  s.RetryCount,
			Failure:     s.Failure,
			Output:      s.Output,
		})
	}
	for _, f := range m.Files {
		step := job.StepByName(f.ProducedBy)
		if step == nil {
			continue
		}
		step.Artifacts = append(step.Artifacts, models.Artifact{
			Path:       f.Path,
			SHA256:     f.SHA256,
			SizeBytes:  f.SizeBytes,
			MediaType:  f.MediaType,
			ProducedBy: f.ProducedBy,
		})
	}
	return job
}

// PrepareResume converts every success-equivalent terminal step in job into `skipped`, emitting
// step.skipped for each so a resumed run's event log records the decision, and resets every other
// non-pending step (failed, cancelled, or still running from a crashed process) back to `pending`
// so the Executor re-runs it, per the resume policy that only succeeded/cached work is reused and
// everything else runs fresh. A freshly constructed StepResult is set directly to Skipped or
// Pending rather than transitioned through StepResult.TransitionTo: this is resume's one-time
// reclassification of a loaded run's state, not a live transition subject to the normal monotonic
// state machine. Calling this twice with no intervening changes is a no-op, since an
// already-Skipped step is left alone and an already-Pending step is already what re-running wants.
func (m *Manager) PrepareResume(job *models.Job, events EventEmitter) error {
	for _, step := range job.Steps {
		switch {
		case step.Status == models.StepStatusSkipped, step.Status == models.StepStatusPending:
			continue
		case step.Status.IsSuccessEquivalent():
			step.Status = models.StepStatusSkipped
			e := models.NewEvent(m.clock.Now(), job.JobID, models.EventStepSkipped, models.SeverityInfo).WithStep(step.Name)
			if err := events.Emit(e); err != nil {
				m.log.WithField("step", step.Name).Warnf("Failed to emit step.skipped during resume: %v", err)
			}
		default: // failed, running, or cancelled: re-run from scratch
			step.Status = models.StepStatusPending
			step.StartedAt = nil
			step.CompletedAt = nil
			step.DurationS = nil
			step.RetryCount = 0
			step.Failure = nil
		}
	}
	return nil
}

// UpdateManifest rewrites manifest.json atomically. Callers invoke this after every terminal
// step transition so the manifest is never more than one step behind the true in-memory state.
func (m *Manager) UpdateManifest(job *models.Job) error {
	return m.writeManifest(job)
}

// Seal performs the final manifest write: terminal status, completed-at, duration, and the full
// artifact listing. It also best-effort-upserts the Run Index; a Run Index failure is logged and
// swallowed because the manifest remains the source of truth.
func (m *Manager) Seal(job *models.Job, status models.JobStatus) error {
	now := m.clock.Now()
	job.Status = status
	job.CompletedAt = models.NewTimePtr(now)
	duration := now.Sub(job.StartedAt.Time).Seconds()
	job.DurationS = &duration
	return m.writeManifest(job)
}

func (m *Manager) writeManifest(job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest := job.ToManifest()
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return gerror.NewErrIO("error marshalling manifest", err)
	}

	path := m.manifestPath(job.JobID)
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-manifest-*")
	if err != nil {
		return gerror.NewErrIO("error creating temp manifest file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return gerror.NewErrIO("error writing temp manifest file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return gerror.NewErrIO("error syncing temp manifest file", err)
	}
	if err := tmp.Close(); err != nil {
		return gerror.NewErrIO("error closing temp manifest file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return gerror.NewErrIO("error renaming temp manifest file into place", err)
	}

	if err := m.index.Upsert(manifest); err != nil {
		m.log.WithField("job_id", job.JobID).Warnf("Run index upsert failed (manifest remains source of truth): %v", err)
	}
	return nil
}

// OpenEventLog opens the run's event log for appending.
func (m *Manager) OpenEventLog(jobID string) (*eventlog.EventLog, error) {
	return eventlog.Open(m.eventsPath(jobID), jobID, m.clock)
}
