package orchestrator

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/cache"
	"github.com/loomforge/loomforge/core/dag"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
	"github.com/loomforge/loomforge/core/store"
)

type fakeEmitter struct{ events []models.Event }

func (f *fakeEmitter) Emit(e models.Event) error {
	f.events = append(f.events, e)
	return nil
}

type noOpManifest struct{}

func (noOpManifest) UpdateManifest(*models.Job) error { return nil }

// scriptedBackend returns canned responses keyed by step name, so tests don't depend on any
// real model behavior.
type scriptedBackend struct {
	generateCalls int
	toolCallCalls int
}

func (b *scriptedBackend) Tag() string { return "fake" }

func (b *scriptedBackend) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	b.generateCalls++
	switch req.Step {
	case StepArchitect:
		return models.GenerateResponse{Text: "# Design\n\nBuild a thing."}, nil
	case StepDocs:
		return models.GenerateResponse{Text: "# README\n\nUsage instructions."}, nil
	default:
		return models.GenerateResponse{Text: "ok"}, nil
	}
}

func (b *scriptedBackend) ToolCall(ctx context.Context, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	b.toolCallCalls++
	return models.ToolCallResponse{Result: map[string]interface{}{
		"main.go": "package main\n\nfunc main() {}\n",
	}}, nil
}

func newGraph(t *testing.T, defs []dag.StepDef) *dag.Graph {
	t.Helper()
	nodes := make([]dag.Node, len(defs))
	for i, d := range defs {
		nodes[i] = d
	}
	g, err := dag.NewGraph(nodes)
	require.NoError(t, err)
	return g
}

func newTestBuild(t *testing.T) ([]dag.StepDef, *scriptedBackend, *store.ArtifactStore) {
	t.Helper()
	backend := &scriptedBackend{}
	events := &fakeEmitter{}
	adapter := provider.NewAdapter(backend, events, "job1", clock.New(), logger.NewNoOpLog())

	c, err := cache.New(t.TempDir(), events, "job1", logger.NewNoOpLog())
	require.NoError(t, err)

	artifacts := store.NewArtifactStore(t.TempDir(), logger.NewNoOpLog())

	return Build(adapter, c, artifacts, "v1"), backend, artifacts
}

func TestBuildGraphIsAcyclicAndShaped(t *testing.T) {
	defs, _, _ := newTestBuild(t)
	g := newGraph(t, defs)
	require.ElementsMatch(t, []string{StepArchitect, StepBuilder, StepDocs, StepQA}, g.Names())
	require.ElementsMatch(t, []string{StepBuilder, StepDocs, StepQA}, g.Downstream(StepArchitect))
	require.ElementsMatch(t, []string{StepQA}, g.Downstream(StepBuilder))
}

func TestOrchestratorRunsEndToEndToSuccess(t *testing.T) {
	defs, backend, artifacts := newTestBuild(t)
	g := newGraph(t, defs)

	job := &models.Job{JobID: "job1", Spec: models.JobSpec{
		Project:         "demo",
		TaskDescription: "build a thing",
		Provider:        "fake",
	}}
	for _, d := range defs {
		job.Steps = append(job.Steps, &models.StepResult{Name: d.Name(), Status: models.StepStatusPending})
	}

	events := &fakeEmitter{}
	exec := dag.NewExecutor(g, 4, events, noOpManifest{}, clock.New(), logger.NewNoOpLog())
	jc := dag.NewJobContext(job, artifacts, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)

	for _, name := range []string{StepArchitect, StepBuilder, StepDocs, StepQA} {
		require.Equal(t, models.StepStatusSucceeded, job.StepByName(name).Status, name)
	}
	require.FileExists(t, artifacts.Root()+"/design.md")
	require.FileExists(t, artifacts.Root()+"/README.md")
	require.FileExists(t, artifacts.Root()+"/main.go")
	require.FileExists(t, artifacts.Root()+"/qa_report.md")
	require.Equal(t, 1, backend.toolCallCalls)

	var manifestPaths []string
	for _, f := range job.ToManifest().Files {
		manifestPaths = append(manifestPaths, f.Path)
	}
	require.ElementsMatch(t, []string{"design.md", "README.md", "main.go", "qa_report.md"}, manifestPaths)
}

func TestOrchestratorQAFailsOnMissingRequiredArtifact(t *testing.T) {
	backend := &scriptedBackend{}
	events := &fakeEmitter{}
	adapter := provider.NewAdapter(backend, events, "job1", clock.New(), logger.NewNoOpLog())
	c, err := cache.New(t.TempDir(), events, "job1", logger.NewNoOpLog())
	require.NoError(t, err)
	artifacts := store.NewArtifactStore(t.TempDir(), logger.NewNoOpLog())

	defs := Build(adapter, c, artifacts, "v1")
	// Tamper with qa's required globs via a spec input so it expects a file nothing produces.
	job := &models.Job{JobID: "job1", Spec: models.JobSpec{
		Project:         "demo",
		TaskDescription: "build a thing",
		Provider:        "fake",
		Inputs:          map[string]string{"qa_required_globs": "design.md,README.md,CHANGELOG.md"},
	}}
	for _, d := range defs {
		job.Steps = append(job.Steps, &models.StepResult{Name: d.Name(), Status: models.StepStatusPending})
	}

	g := newGraph(t, defs)
	exec := dag.NewExecutor(g, 4, events, noOpManifest{}, clock.New(), logger.NewNoOpLog())
	jc := dag.NewJobContext(job, artifacts, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, status)
	require.Equal(t, models.StepStatusFailed, job.StepByName(StepQA).Status)
	require.Equal(t, models.FailureKindValidationError, job.StepByName(StepQA).Failure.Kind)
	// qa still writes its report even though it fails.
	require.FileExists(t, artifacts.Root()+"/qa_report.md")
}

func TestOrchestratorSecondIdenticalRunHitsCache(t *testing.T) {
	backend := &scriptedBackend{}
	events := &fakeEmitter{}
	adapter := provider.NewAdapter(backend, events, "job1", clock.New(), logger.NewNoOpLog())
	cacheDir := t.TempDir()
	c, err := cache.New(cacheDir, events, "job1", logger.NewNoOpLog())
	require.NoError(t, err)

	runOnce := func() *store.ArtifactStore {
		artifacts := store.NewArtifactStore(t.TempDir(), logger.NewNoOpLog())
		defs := Build(adapter, c, artifacts, "v1")
		job := &models.Job{JobID: "job1", Spec: models.JobSpec{
			Project:         "demo",
			TaskDescription: "build a thing",
			Provider:        "fake",
		}}
		for _, d := range defs {
			job.Steps = append(job.Steps, &models.StepResult{Name: d.Name(), Status: models.StepStatusPending})
		}
		g := newGraph(t, defs)
		exec := dag.NewExecutor(g, 4, events, noOpManifest{}, clock.New(), logger.NewNoOpLog())
		jc := dag.NewJobContext(job, artifacts, nil, nil)
		status, err := exec.Execute(context.Background(), jc)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusSucceeded, status)
		return artifacts
	}

	runOnce()
	require.Equal(t, 2, backend.generateCalls) // architect + docs each call Generate once
	require.Equal(t, 1, backend.toolCallCalls)

	runOnce()
	require.Equal(t, 2, backend.generateCalls) // second run hits the cache for both
	require.Equal(t, 1, backend.toolCallCalls)
}
