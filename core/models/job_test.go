package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobSpecValidate(t *testing.T) {
	spec := JobSpec{Project: "notes", TaskDescription: "create FastAPI notes app", Provider: "ollama"}
	require.NoError(t, spec.Validate())

	bad := JobSpec{}
	err := bad.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "project")
	require.Contains(t, err.Error(), "task_description")
	require.Contains(t, err.Error(), "provider")
}

func TestJobSpecEffectiveConcurrency(t *testing.T) {
	require.Equal(t, DefaultConcurrency, JobSpec{}.EffectiveConcurrency())
	require.Equal(t, 8, JobSpec{Concurrency: 8}.EffectiveConcurrency())
}

func TestJobAllTerminalAndSuccessEquivalent(t *testing.T) {
	job := Job{
		JobID:  "deadbeef0001",
		Status: JobStatusRunning,
		Steps: []*StepResult{
			{Name: "architect", Status: StepStatusSucceeded},
			{Name: "builder", Status: StepStatusRunning},
		},
	}
	require.False(t, job.AllTerminal())
	job.Steps[1].Status = StepStatusCached
	require.True(t, job.AllTerminal())
	require.True(t, job.AllSuccessEquivalent())

	job.Steps[1].Status = StepStatusFailed
	require.True(t, job.AllTerminal())
	require.False(t, job.AllSuccessEquivalent())
}

func TestJobValidateRejectsDuplicateStepNames(t *testing.T) {
	job := Job{
		JobID:  "deadbeef0001",
		Status: JobStatusPending,
		Steps: []*StepResult{
			{Name: "architect", Status: StepStatusPending},
			{Name: "architect", Status: StepStatusPending},
		},
	}
	err := job.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate step name")
}
