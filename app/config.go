// Package app wires together the core packages (provider, cache, store, dag, orchestrator,
// runmanager, runindex) into the dependencies loomctl's commands need, the way bb/app and
// runner/app assemble their respective binaries: a plain constructor, no dependency-injection
// codegen.
package app

import (
	"path/filepath"

	"github.com/loomforge/loomforge/common/logger"
)

// Config is the fully-resolved set of settings a loomctl invocation needs to build an App. The
// CLI layer is responsible for turning flags, environment variables, and config files into a
// Config; app.New never reads flags or environment itself.
type Config struct {
	// WorkDir is the base directory under which runs/ and runs.db live. Defaults to
	// ~/.loomforge when left empty by the CLI layer.
	WorkDir string

	// Provider selects the backend to register: "ollama", "openai", "anthropic", or "mlx".
	Provider        string
	ProviderBaseURL string
	ProviderModel   string
	ProviderAPIKey  string

	// CacheDir overrides where the Cache is rooted. Empty means each run uses its own
	// runs/<job_id>/.cache directory; a "s3://bucket/prefix" value shares one cache across runs.
	CacheDir string

	// Concurrency is the default step concurrency applied when a JobSpec leaves it unset.
	Concurrency int

	LogLevel logger.LogLevelConfig
	// JSONLogs selects structured stdout logging (for `--json` callers); otherwise logs render
	// as plain, human-readable lines. LogFile, if set, takes precedence over both and logs to
	// a file instead of stdout.
	JSONLogs bool
	LogFile  string
}

// RunsDir is the directory the Run Manager lays out run folders under.
func (c Config) RunsDir() string {
	return filepath.Join(c.WorkDir, "runs")
}

// IndexPath is the sqlite catalog path the Run Index opens.
func (c Config) IndexPath() string {
	return filepath.Join(c.WorkDir, "runs.db")
}
