package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepResultTransitionMonotonic(t *testing.T) {
	r := &StepResult{Name: "architect", Status: StepStatusPending}
	require.NoError(t, r.TransitionTo(StepStatusRunning))
	require.NoError(t, r.TransitionTo(StepStatusRunning)) // retry re-enters running
	require.NoError(t, r.TransitionTo(StepStatusSucceeded))

	// terminal states never transition again
	require.Error(t, r.TransitionTo(StepStatusRunning))
	require.Error(t, r.TransitionTo(StepStatusFailed))
}

func TestStepResultSkippedFromPendingIsTerminal(t *testing.T) {
	r := &StepResult{Name: "qa", Status: StepStatusPending}
	require.NoError(t, r.TransitionTo(StepStatusSkipped))
	require.Error(t, r.TransitionTo(StepStatusRunning))
}

func TestStepResultValidateRequiresFailureOnFailedStatus(t *testing.T) {
	r := StepResult{Name: "builder", Status: StepStatusFailed}
	err := r.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed without a recorded Failure")

	r.Failure = &Failure{Kind: FailureKindProviderInvalidResponse, Message: "bad json"}
	require.NoError(t, r.Validate())
}

func TestStepResultValidateRequiresUpstreamOnDependencyFailed(t *testing.T) {
	r := StepResult{
		Name:    "qa",
		Status:  StepStatusFailed,
		Failure: &Failure{Kind: FailureKindDependencyFailed},
	}
	err := r.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must reference an upstream step")
}
