package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		WorkDir:     t.TempDir(),
		Provider:    "mlx",
		Concurrency: 2,
		LogLevel:    "error",
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider = "does-not-exist"
	_, _, err := New(cfg)
	require.Error(t, err)
}

func TestNewBuildsAppForEachKnownProviderTag(t *testing.T) {
	for _, tag := range []string{"ollama", "openai", "anthropic", "mlx"} {
		cfg := testConfig(t)
		cfg.Provider = tag
		a, cleanup, err := New(cfg)
		require.NoError(t, err, tag)
		require.NotNil(t, a)
		require.NoError(t, cleanup())
	}
}

func TestCreateRunAppliesConfigConcurrencyWhenSpecOmitsIt(t *testing.T) {
	a, cleanup, err := New(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	job, err := a.CreateRun(models.JobSpec{Project: "demo", TaskDescription: "build a thing", Provider: "mlx"})
	require.NoError(t, err)
	require.Equal(t, 2, job.Spec.Concurrency)
}

func TestPrepareAndExecuteRunsEndToEndToSuccess(t *testing.T) {
	a, cleanup, err := New(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	job, err := a.CreateRun(models.JobSpec{Project: "demo", TaskDescription: "build a thing", Provider: "mlx"})
	require.NoError(t, err)

	var observed []models.Event
	run, err := a.Prepare(job, func(e models.Event) { observed = append(observed, e) })
	require.NoError(t, err)
	defer run.Close()

	status, err := run.Executor.Execute(context.Background(), run.Context)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.NotEmpty(t, observed)

	require.NoError(t, a.Runs.Seal(job, status))

	reloaded, err := a.LoadRun(job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, reloaded.Status)
}

func TestPrepareResumeSkipsSuccessEquivalentSteps(t *testing.T) {
	a, cleanup, err := New(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	job, err := a.CreateRun(models.JobSpec{Project: "demo", TaskDescription: "build a thing", Provider: "mlx"})
	require.NoError(t, err)

	run, err := a.Prepare(job, nil)
	require.NoError(t, err)
	status, err := run.Executor.Execute(context.Background(), run.Context)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.NoError(t, run.Close())
	require.NoError(t, a.Runs.Seal(job, status))

	reloaded, err := a.LoadRun(job.JobID)
	require.NoError(t, err)
	require.NoError(t, a.PrepareResume(reloaded))
	for _, step := range reloaded.Steps {
		require.Equal(t, models.StepStatusSkipped, step.Status)
	}

	resumed, err := a.Prepare(reloaded, nil)
	require.NoError(t, err)
	defer resumed.Close()
	status, err = resumed.Executor.Execute(context.Background(), resumed.Context)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
}

func TestPrepareResumeReRunsFailedStep(t *testing.T) {
	a, cleanup, err := New(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	failBuilder := true
	a.Providers.Register(provider.NewMLX(func(_ context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
		if req.Step == "builder" && failBuilder {
			return models.GenerateResponse{}, fmt.Errorf("simulated builder failure")
		}
		return models.GenerateResponse{Text: fmt.Sprintf("stub response to: %s", req.Step)}, nil
	}))

	job, err := a.CreateRun(models.JobSpec{Project: "demo", TaskDescription: "build a thing", Provider: "mlx"})
	require.NoError(t, err)

	run, err := a.Prepare(job, nil)
	require.NoError(t, err)
	run.Executor = run.Executor.WithBackoff(func(int, int) (time.Duration, bool) { return 0, false })
	status, err := run.Executor.Execute(context.Background(), run.Context)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, status)
	require.Equal(t, models.StepStatusFailed, job.StepByName("builder").Status)
	require.NoError(t, run.Close())
	require.NoError(t, a.Runs.Seal(job, status))

	reloaded, err := a.LoadRun(job.JobID)
	require.NoError(t, err)
	require.NoError(t, a.PrepareResume(reloaded))
	require.Equal(t, models.StepStatusSkipped, reloaded.StepByName("architect").Status)
	require.Equal(t, models.StepStatusPending, reloaded.StepByName("builder").Status)
	require.Equal(t, models.StepStatusPending, reloaded.StepByName("qa").Status)

	failBuilder = false
	resumed, err := a.Prepare(reloaded, nil)
	require.NoError(t, err)
	defer resumed.Close()
	status, err = resumed.Executor.Execute(context.Background(), resumed.Context)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.Equal(t, models.StepStatusSucceeded, reloaded.StepByName("builder").Status)
}
