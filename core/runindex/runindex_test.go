package runindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "runs.db"), clock.New())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleManifest(jobID string) models.Manifest {
	return models.Manifest{
		JobID:           jobID,
		Project:         "demo",
		TaskDescription: "build a thing",
		Provider:        "mlx",
		Status:          models.JobStatusRunning,
		StartedAt:       models.NewTime(clock.New().Now()),
	}
}

func TestUpsertAndGet(t *testing.T) {
	idx := newTestIndex(t)
	m := sampleManifest("job-1")
	require.NoError(t, idx.Upsert(m))

	got, err := idx.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, "demo", got.Project)
	require.Equal(t, models.JobStatusRunning, got.Status)
}

func TestUpsertOverwritesExistingRow(t *testing.T) {
	idx := newTestIndex(t)
	m := sampleManifest("job-1")
	require.NoError(t, idx.Upsert(m))

	m.Status = models.JobStatusSucceeded
	require.NoError(t, idx.Upsert(m))

	got, err := idx.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, got.Status)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Get("nope")
	require.Error(t, err)
	require.True(t, gerror.IsNotFound(err))
}

func TestListOrdersMostRecentFirstAndRespectsLimit(t *testing.T) {
	idx := newTestIndex(t)
	base := clock.New().Now()
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		m := sampleManifest(id)
		m.StartedAt = models.NewTime(base.Add(-time.Duration(i) * time.Minute))
		require.NoError(t, idx.Upsert(m))
	}

	all, err := idx.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "job-a", all[0].JobID)

	limited, err := idx.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestRebuildScansManifestsOnDisk(t *testing.T) {
	idx := newTestIndex(t)
	runsRoot := t.TempDir()
	writeManifestFixture(t, runsRoot, "job-1")
	writeManifestFixture(t, runsRoot, "job-2")

	count, err := idx.Rebuild(runsRoot)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	all, err := idx.List(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRebuildOnMissingRunsRootIsANoOp(t *testing.T) {
	idx := newTestIndex(t)
	count, err := idx.Rebuild(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func writeManifestFixture(t *testing.T, runsRoot, jobID string) {
	t.Helper()
	dir := filepath.Join(runsRoot, jobID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(sampleManifest(jobID))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644))
}
