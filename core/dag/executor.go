package dag

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
)

// StepFunc is a step's implementation. It must confine its side effects to the stores reachable
// through sc, and must not read or mutate any step's state but its own and its declared
// prerequisites' (surfaced read-only via sc.Upstream).
type StepFunc func(ctx context.Context, sc *StepContext) (models.StepResult, error)

// StepDef is one node in the graph the Executor runs.
type StepDef struct {
	StepName string
	Prereqs  []string
	Fn       StepFunc
	Retries  int // ignored when NoRetry is set
	TimeoutS int
	NoRetry  bool
}

func (s StepDef) Name() string    { return s.StepName }
func (s StepDef) Needs() []string { return s.Prereqs }

func (s StepDef) maxAttempts() int {
	if s.NoRetry {
		return 1
	}
	return s.Retries + 1
}

// EventEmitter is the subset of the Event Log the executor needs.
type EventEmitter interface {
	Emit(e models.Event) error
}

// ManifestUpdater is the subset of the Run Manager the executor needs, so a manifest is rewritten
// after every terminal step transition per the shared-resource policy.
type ManifestUpdater interface {
	UpdateManifest(job *models.Job) error
}

// Executor runs a validated Graph of StepDefs against a single Job, bounded by a concurrency
// limit, with retry/backoff, dependency-failure propagation, cooperative cancellation, and
// resume support.
type Executor struct {
	graph       *Graph
	concurrency int
	events      EventEmitter
	manifest    ManifestUpdater
	clock       clock.Clock
	backoff     provider.BackoffAlgorithm
	log         logger.Log

	mu sync.Mutex // serializes mutation of jc.Job.Steps across concurrently running step goroutines
}

func NewExecutor(graph *Graph, concurrency int, events EventEmitter, manifest ManifestUpdater, clk clock.Clock, log logger.Log) *Executor {
	if concurrency <= 0 {
		concurrency = models.DefaultConcurrency
	}
	return &Executor{
		graph:       graph,
		concurrency: concurrency,
		events:      events,
		manifest:    manifest,
		clock:       clk,
		backoff:     provider.DefaultBackoff(),
		log:         log,
	}
}

// WithBackoff overrides the retry backoff policy, chiefly for deterministic tests.
func (e *Executor) WithBackoff(b provider.BackoffAlgorithm) *Executor {
	e.backoff = b
	return e
}

type stepOutcome struct {
	name   string
	result models.StepResult
}

// Execute drives jc.Job's steps to completion (or cancellation) per the scheduling algorithm:
// admit ready nodes up to the concurrency limit in deterministic name order, retry failures with
// backoff, propagate dependency_failed downstream on exhausted retries, and terminate once every
// node is in a terminal state or ctx is cancelled. It emits job.started on entry and the matching
// terminal job.* event (job.succeeded/job.failed/job.cancelled) before returning, so every run's
// event log carries a job-level record alongside its per-step ones.
func (e *Executor) Execute(ctx context.Context, jc *JobContext) (status models.JobStatus, err error) {
	e.emit(jc, models.EventJobStarted, "", models.SeverityInfo, nil)
	defer func() {
		eventType := models.EventJobSucceeded
		severity := models.SeverityInfo
		switch status {
		case models.JobStatusFailed:
			eventType = models.EventJobFailed
			severity = models.SeverityError
		case models.JobStatusCancelled:
			eventType = models.EventJobCancelled
			severity = models.SeverityWarn
		}
		e.emit(jc, eventType, "", severity, nil)
	}()

	outcomes := make(chan stepOutcome)
	running := map[string]bool{}

	for {
		if ctx.Err() != nil {
			e.drainCancelled(jc, running, outcomes)
			return models.JobStatusCancelled, nil
		}

		ready := e.readySteps(jc, running)
		if len(ready) == 0 && len(running) == 0 {
			break
		}

		for _, name := range ready {
			if len(running) >= e.concurrency {
				break
			}
			running[name] = true
			e.admit(ctx, jc, name, outcomes)
		}

		if len(running) == 0 {
			// Nothing ready and nothing running, but the graph isn't finished: every remaining
			// step must be blocked on a failed prerequisite. This loop iteration's readySteps
			// only considers success-equivalent prerequisites, so failed-dependency steps never
			// show up as ready; fail them here instead of spinning.
			e.failBlockedSteps(jc)
			continue
		}

		select {
		case <-ctx.Done():
			e.drainCancelled(jc, running, outcomes)
			return models.JobStatusCancelled, nil
		case out := <-outcomes:
			delete(running, out.name)
			e.recordOutcome(jc, out)
		}
	}

	if jc.Job.AllSuccessEquivalent() {
		return models.JobStatusSucceeded, nil
	}
	return models.JobStatusFailed, nil
}

// readySteps returns, in deterministic (name-sorted) order, every node that is pending and whose
// every prerequisite is in a success-equivalent terminal state.
func (e *Executor) readySteps(jc *JobContext, running map[string]bool) []string {
	var ready []string
	for _, name := range e.graph.Names() {
		if running[name] {
			continue
		}
		step := jc.Job.StepByName(name)
		if step == nil || step.Status != models.StepStatusPending {
			continue
		}
		node := e.graph.Node(name)
		allMet := true
		for _, need := range node.Needs() {
			upstream := jc.Job.StepByName(need)
			if upstream == nil || !upstream.Status.IsSuccessEquivalent() {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

// failBlockedSteps marks every still-pending step whose prerequisites include a failed step as
// dependency_failed, without ever running it.
func (e *Executor) failBlockedSteps(jc *JobContext) {
	for _, name := range e.graph.Names() {
		step := jc.Job.StepByName(name)
		if step == nil || step.Status != models.StepStatusPending {
			continue
		}
		node := e.graph.Node(name)
		for _, need := range node.Needs() {
			upstream := jc.Job.StepByName(need)
			if upstream != nil && upstream.Status == models.StepStatusFailed {
				e.markDependencyFailed(jc, step, need)
				break
			}
		}
	}
}

func (e *Executor) markDependencyFailed(jc *JobContext, step *models.StepResult, upstreamName string) {
	failure := models.NewDependencyFailure(upstreamName)
	_ = step.TransitionTo(models.StepStatusFailed)
	step.Failure = &failure
	e.emit(jc, models.EventStepFailed, step.Name, models.SeverityError, map[string]interface{}{"failure": failure})
	_ = e.manifest.UpdateManifest(jc.Job)
}

// admit starts a step's retry loop in its own goroutine and emits step.started.
func (e *Executor) admit(ctx context.Context, jc *JobContext, name string, outcomes chan<- stepOutcome) {
	step := jc.Job.StepByName(name)
	_ = step.TransitionTo(models.StepStatusRunning)
	step.StartedAt = models.NewTimePtr(e.clock.Now())
	e.emit(jc, models.EventStepStarted, name, models.SeverityInfo, nil)
	_ = e.manifest.UpdateManifest(jc.Job)

	def := e.graph.Node(name).(StepDef)
	upstream := e.upstreamResults(jc, def)

	go func() {
		result := e.runWithRetry(ctx, jc, def, upstream)
		outcomes <- stepOutcome{name: name, result: result}
	}()
}

func (e *Executor) upstreamResults(jc *JobContext, def StepDef) map[string]*models.StepResult {
	upstream := make(map[string]*models.StepResult, len(def.Prereqs))
	for _, need := range def.Prereqs {
		upstream[need] = jc.Job.StepByName(need)
	}
	return upstream
}

// runWithRetry invokes def.Fn under def.TimeoutS, retrying on failure per the same
// exponential-backoff policy the Provider Adapter uses, up to def.maxAttempts().
func (e *Executor) runWithRetry(ctx context.Context, jc *JobContext, def StepDef, upstream map[string]*models.StepResult) models.StepResult {
	sc := newStepContext(jc, def.Name(), upstream)
	maxAttempts := def.maxAttempts()

	var lastResult models.StepResult
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(def.TimeoutS)*time.Second)
		result, err := def.Fn(attemptCtx, sc)
		cancel()

		result.Name = def.Name()
		result.RetryCount = attempt - 1
		lastResult, lastErr = result, err

		if err == nil {
			if result.Status == "" {
				result.Status = models.StepStatusSucceeded
			}
			return result
		}

		failure := models.NewFailureFromError(err)
		if attempt == maxAttempts || !failure.Kind.Retryable() {
			result.Status = models.StepStatusFailed
			result.Failure = &failure
			return result
		}

		delay, retry := e.backoff(attempt, maxAttempts)
		if !retry {
			result.Status = models.StepStatusFailed
			result.Failure = &failure
			return result
		}
		e.log.WithField("step", def.Name()).WithField("attempt", attempt).Debugf("Retrying step after failure: %v", err)
		select {
		case <-ctx.Done():
			lastResult.Status = models.StepStatusCancelled
			return lastResult
		case <-e.clock.After(delay):
		}
	}

	failure := models.NewFailureFromError(lastErr)
	lastResult.Status = models.StepStatusFailed
	lastResult.Failure = &failure
	return lastResult
}

// recordOutcome applies a finished step's result to the Job, emits the matching event, updates
// the manifest, and propagates dependency_failed to transitively-dependent nodes if the step
// failed.
func (e *Executor) recordOutcome(jc *JobContext, out stepOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	step := jc.Job.StepByName(out.name)
	_ = step.TransitionTo(out.result.Status)
	step.CompletedAt = models.NewTimePtr(e.clock.Now())
	if step.StartedAt != nil {
		d := step.CompletedAt.Sub(step.StartedAt.Time).Seconds()
		step.DurationS = &d
	}
	step.RetryCount = out.result.RetryCount
	step.Failure = out.result.Failure
	step.Artifacts = out.result.Artifacts
	step.Output = out.result.Output

	eventType := models.EventStepSucceeded
	severity := models.SeverityInfo
	var data map[string]interface{}
	switch step.Status {
	case models.StepStatusFailed:
		eventType = models.EventStepFailed
		severity = models.SeverityError
		data = map[string]interface{}{"failure": step.Failure}
	case models.StepStatusCancelled:
		eventType = models.EventStepCancelled
		severity = models.SeverityWarn
	case models.StepStatusCached:
		eventType = models.EventStepCached
	}
	e.emit(jc, eventType, out.name, severity, data)
	_ = e.manifest.UpdateManifest(jc.Job)

	if step.Status == models.StepStatusFailed {
		for _, downstreamName := range e.graph.Downstream(out.name) {
			downstream := jc.Job.StepByName(downstreamName)
			if downstream != nil && downstream.Status == models.StepStatusPending {
				e.markDependencyFailed(jc, downstream, out.name)
			}
		}
	}
}

// drainCancelled waits for already-running steps to finish (their attempt contexts are already
// cancelled, so they should return promptly) and marks them cancelled.
func (e *Executor) drainCancelled(jc *JobContext, running map[string]bool, outcomes <-chan stepOutcome) {
	for len(running) > 0 {
		out := <-outcomes
		delete(running, out.name)
		e.mu.Lock()
		step := jc.Job.StepByName(out.name)
		if step.Status == models.StepStatusRunning {
			_ = step.TransitionTo(models.StepStatusCancelled)
			step.CompletedAt = models.NewTimePtr(e.clock.Now())
		}
		e.mu.Unlock()
		e.emit(jc, models.EventStepCancelled, out.name, models.SeverityWarn, nil)
		_ = e.manifest.UpdateManifest(jc.Job)
	}
}

func (e *Executor) emit(jc *JobContext, eventType, step string, severity models.Severity, data interface{}) {
	event := models.NewEvent(e.clock.Now(), jc.Job.JobID, eventType, severity).WithStep(step)
	if data != nil {
		if withData, err := event.WithData(data); err == nil {
			event = withData
		}
	}
	if err := e.events.Emit(event); err != nil {
		e.log.WithField("step", step).Warnf("Failed to emit event %s: %v", eventType, err)
	}
}
