package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/cache"
	"github.com/loomforge/loomforge/core/dag"
	"github.com/loomforge/loomforge/core/eventlog"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/orchestrator"
	"github.com/loomforge/loomforge/core/provider"
	"github.com/loomforge/loomforge/core/runindex"
	"github.com/loomforge/loomforge/core/runmanager"
	"github.com/loomforge/loomforge/core/store"
)

// App holds every long-lived dependency a loomctl command needs: the provider registry, the
// Run Manager, and the Run Index. One App is built per process invocation.
type App struct {
	Config     Config
	Log        logger.Log
	LogFactory logger.LogFactory
	Providers  *provider.Registry
	Runs       *runmanager.Manager
	Index      *runindex.Index

	clock clock.Clock
}

// New builds an App from cfg. The returned cleanup func must be called before the process exits
// to flush the Run Index's sqlite connection.
func New(cfg Config) (*App, func() error, error) {
	registry, err := logger.NewLogRegistry(cfg.LogLevel)
	if err != nil {
		return nil, nil, gerror.NewErrValidationFailed(fmt.Sprintf("invalid log level config: %v", err))
	}

	logFactory, err := resolveLogFactory(cfg, registry)
	if err != nil {
		return nil, nil, err
	}
	log := logFactory("app")

	clk := clock.New()

	index, err := runindex.Open(cfg.IndexPath(), clk)
	if err != nil {
		return nil, nil, err
	}

	backend, err := newBackend(cfg, logFactory("provider"))
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	providers := provider.NewRegistry()
	providers.Register(backend)

	runs := runmanager.New(cfg.RunsDir(), index, clk, logFactory("runmanager"))

	a := &App{
		Config:     cfg,
		Log:        log,
		LogFactory: logFactory,
		Providers:  providers,
		Runs:       runs,
		Index:      index,
		clock:      clk,
	}
	return a, index.Close, nil
}

// resolveLogFactory picks the teacher's three logging shapes by precedence: an explicit log
// file wins, then JSON-to-stdout for --json callers, then plain stdout for interactive use.
func resolveLogFactory(cfg Config, registry *logger.LogRegistry) (logger.LogFactory, error) {
	if cfg.LogFile != "" {
		factory, err := logger.MakeLogrusLogFactoryToFile(registry, logger.LogFilePath(cfg.LogFile))
		if err != nil {
			return nil, gerror.NewErrIO(fmt.Sprintf("error opening log file %q", cfg.LogFile), err)
		}
		return factory, nil
	}
	if cfg.JSONLogs {
		return logger.MakeLogrusLogFactoryStdOut(registry), nil
	}
	return logger.MakeLogrusLogFactoryStdOutPlain(registry), nil
}

// newBackend constructs the single provider.Backend named by cfg.Provider. Selecting the
// concrete type by a config string rather than branching throughout the codebase mirrors
// server/app's *Factory functions, scaled down to loomctl's one-backend-per-invocation shape.
func newBackend(cfg Config, log logger.Log) (provider.Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return provider.NewOllama(cfg.ProviderBaseURL, cfg.ProviderModel, log), nil
	case "openai":
		return provider.NewOpenAI(cfg.ProviderBaseURL, cfg.ProviderModel, cfg.ProviderAPIKey, log), nil
	case "anthropic":
		return provider.NewAnthropic(cfg.ProviderBaseURL, cfg.ProviderModel, cfg.ProviderAPIKey, log), nil
	case "mlx":
		return provider.NewMLX(nil), nil
	default:
		return nil, gerror.NewErrValidationFailed(fmt.Sprintf("unknown provider %q (want one of ollama, openai, anthropic, mlx)", cfg.Provider))
	}
}

// CreateRun assigns a new job id and lays out its run folder.
func (a *App) CreateRun(spec models.JobSpec) (*models.Job, error) {
	if spec.Concurrency <= 0 {
		spec.Concurrency = a.Config.Concurrency
	}
	return a.Runs.Create(spec)
}

// LoadRun loads an existing run's manifest and replays its event log, for `--resume` and `show`.
func (a *App) LoadRun(jobID string) (*models.Job, error) {
	return a.Runs.Load(jobID)
}

// PreparedRun bundles everything Execute needs to run or resume job through the step graph.
type PreparedRun struct {
	Job      *models.Job
	Executor *dag.Executor
	Context  *dag.JobContext
	events   *eventlog.EventLog
}

// Close flushes and closes the run's event log. Callers must call this after Execute returns,
// success or failure, so the log file descriptor is never leaked across runs.
func (r *PreparedRun) Close() error {
	return r.events.Close()
}

// teeEmitter writes every event to the run's event log and, if observe is non-nil, also hands
// it to observe synchronously (the CLI layer's spinner updates) before returning.
type teeEmitter struct {
	log     *eventlog.EventLog
	observe func(models.Event)
}

func (t *teeEmitter) Emit(e models.Event) error {
	if t.observe != nil {
		t.observe(e)
	}
	return t.log.Emit(e)
}

// Prepare wires a loaded or newly created job's per-run Cache, Artifact Store, Provider Adapter,
// and canonical step graph into a ready-to-run Executor. Each run gets its own Cache and
// Artifact Store scoped to its run folder, since those stores are per-run state, not
// process-lifetime state. observe, if non-nil, is called with every event the run emits, so the
// CLI layer can drive progress spinners without the core packages knowing spinners exist.
func (a *App) Prepare(job *models.Job, observe func(models.Event)) (*PreparedRun, error) {
	runDir := a.Runs.RunDir(job.JobID)

	evLog, err := a.Runs.OpenEventLog(job.JobID)
	if err != nil {
		return nil, err
	}
	events := &teeEmitter{log: evLog, observe: observe}

	cacheDir := a.Config.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(runDir, ".cache")
	}
	c, err := cache.New(cacheDir, events, job.JobID, a.LogFactory("cache"))
	if err != nil {
		evLog.Close()
		return nil, err
	}

	artifacts := store.NewArtifactStore(filepath.Join(runDir, "outputs"), a.LogFactory("store"))

	backend, err := a.Providers.Lookup(job.Spec.Provider)
	if err != nil {
		evLog.Close()
		return nil, gerror.NewErrValidationFailed(err.Error())
	}
	adapter := provider.NewAdapter(backend, events, job.JobID, a.clock, a.LogFactory("provider"))

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	codeVersion := cache.ResolveCodeVersion(wd)
	defs := orchestrator.Build(adapter, c, artifacts, codeVersion)
	nodes := make([]dag.Node, len(defs))
	for i, d := range defs {
		nodes[i] = d
	}
	graph, err := dag.NewGraph(nodes)
	if err != nil {
		evLog.Close()
		return nil, gerror.NewErrInternal()
	}

	if len(job.Steps) == 0 {
		for _, d := range defs {
			job.Steps = append(job.Steps, &models.StepResult{Name: d.Name(), Status: models.StepStatusPending})
		}
	}

	exec := dag.NewExecutor(graph, job.Spec.EffectiveConcurrency(), events, a.Runs, a.clock, a.LogFactory("executor"))
	jobCtx := dag.NewJobContext(job, artifacts, c, a.Providers)

	return &PreparedRun{Job: job, Executor: exec, Context: jobCtx, events: evLog}, nil
}

// PrepareResume marks a loaded job's success-equivalent steps as skipped before handing it to
// Prepare, per the resume contract: a step that already succeeded (or was cached) must not
// re-run just because the job as a whole didn't finish.
func (a *App) PrepareResume(job *models.Job) error {
	events, err := a.Runs.OpenEventLog(job.JobID)
	if err != nil {
		return err
	}
	defer events.Close()
	return a.Runs.PrepareResume(job, events)
}
