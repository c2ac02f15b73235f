package dag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeEmitter) Emit(e models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEmitter) countType(t string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type noOpManifest struct{}

func (noOpManifest) UpdateManifest(*models.Job) error { return nil }

// noDelayBackoff retries immediately so retry-loop tests don't pay real or mocked-clock delays.
func noDelayBackoff() provider.BackoffAlgorithm {
	return func(attempt, maxAttempts int) (time.Duration, bool) {
		return 0, attempt < maxAttempts
	}
}

func newTestJob(names ...string) *models.Job {
	job := &models.Job{JobID: "job1", Spec: models.JobSpec{Project: "demo"}}
	for _, n := range names {
		job.Steps = append(job.Steps, &models.StepResult{Name: n, Status: models.StepStatusPending})
	}
	return job
}

func succeedFn() StepFunc {
	return func(ctx context.Context, sc *StepContext) (models.StepResult, error) {
		return models.StepResult{}, nil
	}
}

func failFn(kind models.FailureKind) StepFunc {
	var err error
	switch kind {
	case models.FailureKindIOError:
		err = gerror.NewErrIO("boom", fmt.Errorf("disk full"))
	case models.FailureKindValidationError:
		err = gerror.NewErrValidationFailed("bad design")
	default:
		err = gerror.NewErrUnknown(fmt.Errorf("boom"))
	}
	return func(ctx context.Context, sc *StepContext) (models.StepResult, error) {
		return models.StepResult{}, err
	}
}

func newExecutor(g *Graph, concurrency int, events *fakeEmitter) *Executor {
	return NewExecutor(g, concurrency, events, noOpManifest{}, clock.New(), logger.NewNoOpLog())
}

func TestExecuteRunsLinearChainToSuccess(t *testing.T) {
	defs := []StepDef{
		{StepName: "architect", Fn: succeedFn(), TimeoutS: 5},
		{StepName: "builder", Prereqs: []string{"architect"}, Fn: succeedFn(), TimeoutS: 5},
	}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	job := newTestJob("architect", "builder")
	events := &fakeEmitter{}
	exec := newExecutor(g, 4, events)
	jc := NewJobContext(job, nil, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.Equal(t, models.StepStatusSucceeded, job.StepByName("architect").Status)
	require.Equal(t, models.StepStatusSucceeded, job.StepByName("builder").Status)
	require.Equal(t, 2, events.countType(models.EventStepSucceeded))
	require.Equal(t, 1, events.countType(models.EventJobStarted))
	require.Equal(t, 1, events.countType(models.EventJobSucceeded))
}

func TestExecuteEmitsJobFailedWhenAStepFails(t *testing.T) {
	defs := []StepDef{
		{StepName: "architect", Fn: failFn(models.FailureKindValidationError), NoRetry: true, TimeoutS: 5},
	}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	job := newTestJob("architect")
	events := &fakeEmitter{}
	exec := newExecutor(g, 4, events)
	jc := NewJobContext(job, nil, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, status)
	require.Equal(t, 1, events.countType(models.EventJobStarted))
	require.Equal(t, 1, events.countType(models.EventJobFailed))
	require.Equal(t, 0, events.countType(models.EventJobSucceeded))
}

func TestExecuteEnforcesConcurrencyBound(t *testing.T) {
	var running int32
	var maxSeen int32
	track := func() StepFunc {
		return func(ctx context.Context, sc *StepContext) (models.StepResult, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return models.StepResult{}, nil
		}
	}

	defs := make([]StepDef, 0, 6)
	for i := 0; i < 6; i++ {
		defs = append(defs, StepDef{StepName: fmt.Sprintf("s%d", i), Fn: track(), TimeoutS: 5})
	}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	names := make([]string, 0, 6)
	for _, d := range defs {
		names = append(names, d.StepName)
	}
	job := newTestJob(names...)
	events := &fakeEmitter{}
	exec := newExecutor(g, 2, events)
	jc := NewJobContext(job, nil, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	fn := func(ctx context.Context, sc *StepContext) (models.StepResult, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return models.StepResult{}, gerror.NewErrIO("transient", fmt.Errorf("disk busy"))
		}
		return models.StepResult{}, nil
	}
	defs := []StepDef{{StepName: "builder", Fn: fn, TimeoutS: 5, Retries: 3}}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	job := newTestJob("builder")
	events := &fakeEmitter{}
	exec := newExecutor(g, 1, events).WithBackoff(noDelayBackoff())
	jc := NewJobContext(job, nil, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, status)
	require.Equal(t, models.StepStatusSucceeded, job.StepByName("builder").Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestExecutePropagatesDependencyFailedDownstream(t *testing.T) {
	defs := []StepDef{
		{StepName: "architect", Fn: failFn(models.FailureKindValidationError), TimeoutS: 5, NoRetry: true},
		{StepName: "builder", Prereqs: []string{"architect"}, Fn: succeedFn(), TimeoutS: 5},
		{StepName: "docs", Prereqs: []string{"architect"}, Fn: succeedFn(), TimeoutS: 5},
		{StepName: "qa", Prereqs: []string{"builder", "docs"}, Fn: succeedFn(), TimeoutS: 5, NoRetry: true},
	}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	job := newTestJob("architect", "builder", "docs", "qa")
	events := &fakeEmitter{}
	exec := newExecutor(g, 4, events)
	jc := NewJobContext(job, nil, nil, nil)

	status, err := exec.Execute(context.Background(), jc)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, status)
	require.Equal(t, models.StepStatusFailed, job.StepByName("architect").Status)
	require.Equal(t, models.StepStatusFailed, job.StepByName("builder").Status)
	require.Equal(t, models.StepStatusFailed, job.StepByName("docs").Status)
	require.Equal(t, models.StepStatusFailed, job.StepByName("qa").Status)
	require.Equal(t, models.FailureKindDependencyFailed, job.StepByName("builder").Failure.Kind)
	require.Equal(t, "architect", job.StepByName("builder").Failure.UpstreamStep)
	require.Equal(t, models.FailureKindDependencyFailed, job.StepByName("qa").Failure.Kind)
}

func TestExecuteCancelsRunningStepsOnContextCancellation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fn := func(ctx context.Context, sc *StepContext) (models.StepResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			return models.StepResult{}, gerror.NewErrCancelled("cancelled")
		case <-release:
			return models.StepResult{}, nil
		}
	}
	defs := []StepDef{{StepName: "architect", Fn: fn, TimeoutS: 30}}
	g, err := NewGraph(stepDefNodes(defs))
	require.NoError(t, err)

	job := newTestJob("architect")
	events := &fakeEmitter{}
	exec := newExecutor(g, 1, events)
	jc := NewJobContext(job, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var status models.JobStatus
	go func() {
		status, _ = exec.Execute(ctx, jc)
		close(done)
	}()

	<-started
	cancel()
	<-done
	close(release)

	require.Equal(t, models.JobStatusCancelled, status)
	require.Equal(t, models.StepStatusCancelled, job.StepByName("architect").Status)
	require.Equal(t, 1, events.countType(models.EventStepCancelled))
	require.Equal(t, 1, events.countType(models.EventJobCancelled))
}

// stepDefNodes adapts a slice of StepDef to []Node for NewGraph.
func stepDefNodes(defs []StepDef) []Node {
	out := make([]Node, len(defs))
	for i, d := range defs {
		out[i] = d
	}
	return out
}
