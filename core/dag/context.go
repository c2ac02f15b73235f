package dag

import (
	"github.com/loomforge/loomforge/core/cache"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
	"github.com/loomforge/loomforge/core/store"
)

// JobContext carries everything a step function needs to touch the four shared stores, scoped
// to a single run. It is constructed once per Execute call and never copied by value, so step
// functions always share the one Job record the executor mutates. Unlike the teacher's
// JobBuildContext it does not carry a context.Context itself: cancellation and per-attempt
// deadlines are the executor's concern, so StepFunc receives ctx as an explicit parameter
// instead, matching the Provider Adapter's own call shape.
type JobContext struct {
	Job       *models.Job
	Store     *store.ArtifactStore
	Cache     *cache.Cache
	Providers *provider.Registry
}

func NewJobContext(job *models.Job, artifactStore *store.ArtifactStore, c *cache.Cache, providers *provider.Registry) *JobContext {
	return &JobContext{Job: job, Store: artifactStore, Cache: c, Providers: providers}
}

// StepContext narrows JobContext to one step's view: its name and its prerequisites' results.
// A step function must not reach into Job.Steps to read a sibling it wasn't given here, since
// that would violate the "does not observe other steps' state directly" contract.
type StepContext struct {
	*JobContext
	StepName string
	Upstream map[string]*models.StepResult
}

func newStepContext(jc *JobContext, name string, upstream map[string]*models.StepResult) *StepContext {
	return &StepContext{JobContext: jc, StepName: name, Upstream: upstream}
}

// UpstreamResult returns the named prerequisite's result, or nil if name was not a prerequisite
// of this step.
func (c *StepContext) UpstreamResult(name string) *models.StepResult {
	return c.Upstream[name]
}
