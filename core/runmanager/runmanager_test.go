package runmanager

import (
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/eventlog"
	"github.com/loomforge/loomforge/core/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(t.TempDir(), nil, clock.New(), logger.NewNoOpLog())
}

func validSpec() models.JobSpec {
	return models.JobSpec{
		Project:         "demo",
		TaskDescription: "build a thing",
		Provider:        "mlx",
	}
}

func TestCreateLaysOutRunDirectory(t *testing.T) {
	m := newTestManager(t)
	job, err := m.Create(validSpec())
	require.NoError(t, err)
	require.NotEmpty(t, job.JobID)
	require.Equal(t, models.JobStatusPending, job.Status)

	runDir := m.RunDir(job.JobID)
	for _, sub := range subdirs {
		require.DirExists(t, filepath.Join(runDir, sub))
	}
	require.FileExists(t, filepath.Join(runDir, "manifest.json"))
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(models.JobSpec{})
	require.Error(t, err)
}

func TestCreateHonorsExplicitJobID(t *testing.T) {
	m := newTestManager(t)
	spec := validSpec().WithExplicitJobID("fixed-job-id")
	job, err := m.Create(spec)
	require.NoError(t, err)
	require.Equal(t, "fixed-job-id", job.JobID)
}

func TestLoadRoundTripsManifest(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(validSpec())
	require.NoError(t, err)
	created.Steps = []*models.StepResult{
		{Name: "architect", Status: models.StepStatusPending},
		{Name: "builder", Status: models.StepStatusPending},
	}
	require.NoError(t, m.UpdateManifest(created))

	loaded, err := m.Load(created.JobID)
	require.NoError(t, err)
	require.Equal(t, created.JobID, loaded.JobID)
	require.Equal(t, "demo", loaded.Spec.Project)
	require.Len(t, loaded.Steps, 2)
}

func TestLoadMissingRunReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Load("does-not-exist")
	require.Error(t, err)
}

func TestSealWritesTerminalManifest(t *testing.T) {
	m := newTestManager(t)
	job, err := m.Create(validSpec())
	require.NoError(t, err)

	require.NoError(t, m.Seal(job, models.JobStatusSucceeded))
	require.Equal(t, models.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.DurationS)

	loaded, err := m.Load(job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
}

func TestLoadReplaysEventLogOntoStepState(t *testing.T) {
	m := newTestManager(t)
	job, err := m.Create(validSpec())
	require.NoError(t, err)
	job.Steps = []*models.StepResult{
		{Name: "architect", Status: models.StepStatusPending},
		{Name: "builder", Status: models.StepStatusPending},
	}
	require.NoError(t, m.UpdateManifest(job))

	log, err := m.OpenEventLog(job.JobID)
	require.NoError(t, err)
	require.NoError(t, log.Emit(models.Event{Type: models.EventStepStarted, Step: "architect"}))
	require.NoError(t, log.Emit(models.Event{Type: models.EventStepSucceeded, Step: "architect"}))
	require.NoError(t, log.Emit(models.Event{Type: models.EventStepStarted, Step: "builder"}))
	require.NoError(t, log.Close())

	loaded, err := m.Load(job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusSucceeded, loaded.StepByName("architect").Status)
	require.Equal(t, models.StepStatusRunning, loaded.StepByName("builder").Status)
}

func TestPrepareResumeSkipsSuccessEquivalentSteps(t *testing.T) {
	m := newTestManager(t)
	job, err := m.Create(validSpec())
	require.NoError(t, err)
	job.Steps = []*models.StepResult{
		{Name: "architect", Status: models.StepStatusSucceeded},
		{Name: "builder", Status: models.StepStatusCached},
		{Name: "docs", Status: models.StepStatusPending},
		{Name: "qa", Status: models.StepStatusFailed, Failure: &models.Failure{Kind: models.FailureKindUnknown}},
	}

	log, err := m.OpenEventLog(job.JobID)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, m.PrepareResume(job, log))
	require.Equal(t, models.StepStatusSkipped, job.StepByName("architect").Status)
	require.Equal(t, models.StepStatusSkipped, job.StepByName("builder").Status)
	require.Equal(t, models.StepStatusPending, job.StepByName("docs").Status)
	require.Equal(t, models.StepStatusPending, job.StepByName("qa").Status)
	require.Nil(t, job.StepByName("qa").Failure)

	events, err := eventlog.Read(m.eventsPath(job.JobID), eventlog.Filter{Type: models.EventStepSkipped})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestPrepareResumeIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	job, err := m.Create(validSpec())
	require.NoError(t, err)
	job.Steps = []*models.StepResult{{Name: "architect", Status: models.StepStatusSucceeded}}

	log, err := m.OpenEventLog(job.JobID)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, m.PrepareResume(job, log))
	require.NoError(t, m.PrepareResume(job, log))

	events, err := eventlog.Read(m.eventsPath(job.JobID), eventlog.Filter{Type: models.EventStepSkipped})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

type countingIndex struct {
	upserts int
}

func (c *countingIndex) Upsert(models.Manifest) error {
	c.upserts++
	return nil
}

func TestUpdateManifestUpsertsRunIndex(t *testing.T) {
	idx := &countingIndex{}
	m := New(t.TempDir(), idx, clock.New(), logger.NewNoOpLog())
	job, err := m.Create(validSpec())
	require.NoError(t, err)
	require.NoError(t, m.UpdateManifest(job))
	require.GreaterOrEqual(t, idx.upserts, 2)
}
