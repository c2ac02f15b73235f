package models

import "encoding/json"

// Manifest is the sealed, structured record written to manifest.json. It is a deliberately
// separate type from Job: Job is the executor's live, mutable working state, while Manifest is
// its point-in-time serialization per the external interface contract.
type Manifest struct {
	JobID           string         `json:"job_id"`
	Project         string         `json:"project"`
	TaskDescription string         `json:"task_description"`
	Provider        string         `json:"provider"`
	Status          JobStatus      `json:"status"`
	StartedAt       Time           `json:"started_at"`
	CompletedAt     *Time          `json:"completed_at"`
	DurationS       *float64       `json:"duration_s"`
	Steps           []ManifestStep `json:"steps"`
	CompletedSteps  []string       `json:"completed_steps"`
	PendingSteps    []string       `json:"pending_steps"`
	Files           []ManifestFile `json:"files"`
}

// ManifestStep is one entry in the manifest's steps list. Output is carried here (rather than
// only on the live StepResult) so a success-equivalent step's result survives a process restart:
// §4.6 resume requires a skipped step's "original outputs are loaded from the manifest ... for
// downstream consumption," and a downstream step reads its prerequisite's Output, not its Files.
type ManifestStep struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	StartedAt   *Time           `json:"started_at"`
	CompletedAt *Time           `json:"completed_at"`
	DurationS   *float64        `json:"duration_s"`
	RetryCount  int             `json:"retry_count"`
	Failure     *Failure        `json:"failure,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// ManifestFile is one entry in the manifest's files list.
type ManifestFile struct {
	Path       string `json:"path"`
	SHA256     string `json:"sha256"`
	SizeBytes  int64  `json:"size_bytes"`
	MediaType  string `json:"media_type"`
	ProducedBy string `json:"produced_by"`
}

// ToManifest derives the sealed serialization of a Job. Called by the Run Manager on every
// manifest write, not just at seal time, so update_manifest and seal share one code path. The
// files list is gathered from each step's own Artifacts rather than a job-level field, since a
// step's Artifacts is the only place they're ever recorded (by the executor, on success or cache
// hit, and by fromManifest on reload).
func (j Job) ToManifest() Manifest {
	m := Manifest{
		JobID:           j.JobID,
		Project:         j.Spec.Project,
		TaskDescription: j.Spec.TaskDescription,
		Provider:        j.Spec.Provider,
		Status:          j.Status,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		DurationS:       j.DurationS,
		Steps:           make([]ManifestStep, 0, len(j.Steps)),
		CompletedSteps:  []string{},
		PendingSteps:    []string{},
		Files:           []ManifestFile{},
	}
	for _, s := range j.Steps {
		m.Steps = append(m.Steps, ManifestStep{
			Name:        s.Name,
			Status:      s.Status,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			DurationS:   s.DurationS,
			RetryCount:  s.RetryCount,
			Failure:     s.Failure,
			Output:      s.Output,
		})
		if s.Status.IsTerminal() {
			m.CompletedSteps = append(m.CompletedSteps, s.Name)
		} else {
			m.PendingSteps = append(m.PendingSteps, s.Name)
		}
		for _, a := range s.Artifacts {
			m.Files = append(m.Files, ManifestFile{
				Path:       a.Path,
				SHA256:     a.SHA256,
				SizeBytes:  a.SizeBytes,
				MediaType:  a.MediaType,
				ProducedBy: a.ProducedBy,
			})
		}
	}
	return m
}
