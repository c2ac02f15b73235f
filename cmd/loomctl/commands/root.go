// Package commands holds loomctl's cobra command tree. Subcommands live in their own
// subpackages and register themselves onto RootCmd from init(), the way bb's commands do, so
// main.go only needs a blank import per subcommand.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomforge/loomforge/app"
	"github.com/loomforge/loomforge/cmd/loomctl/cli"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/common/util"
	"github.com/loomforge/loomforge/common/version"
)

// debugArgsWhitelist lists the flags whose values are safe to print verbatim in debug output;
// everything else (chiefly --api-key) is masked by util.FilterOSArgs.
var debugArgsWhitelist = []string{"config", "debug", "json", "workdir", "provider", "base-url", "model", "cache-dir", "concurrency", "resume", "job-id", "limit", "events"}

const (
	DefaultConfigDir = "~/"
	ConfigFileName   = ".loomctl"
)

var defaultConfigFilePath = fmt.Sprintf("%s%s.yml", DefaultConfigDir, ConfigFileName)

// GlobalConfig holds the flags and config-file/env values every subcommand shares.
type GlobalConfig struct {
	ConfigFilePath string
	JSON           bool
	Debug          bool

	WorkDir     string
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	CacheDir    string
	Concurrency int
}

var Global = &GlobalConfig{}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(&Global.ConfigFilePath, "config", "c", defaultConfigFilePath,
		"The config file to use when executing commands.")
	RootCmd.PersistentFlags().BoolVarP(&Global.Debug, "debug", "d", false, "Enable verbose debug output.")
	RootCmd.PersistentFlags().BoolVarP(&Global.JSON, "json", "j", false, "Enable structured JSON output.")
	RootCmd.PersistentFlags().StringVar(&Global.WorkDir, "workdir", "~/.loomforge", "The directory loomctl stores runs and its cache under.")
	RootCmd.PersistentFlags().StringVar(&Global.Provider, "provider", "", "Provider tag: ollama, openai, anthropic, or mlx (env PROVIDER).")
	RootCmd.PersistentFlags().StringVar(&Global.BaseURL, "base-url", "", "Base URL for the selected provider's API.")
	RootCmd.PersistentFlags().StringVar(&Global.Model, "model", "", "Model name to request from the selected provider.")
	RootCmd.PersistentFlags().StringVar(&Global.APIKey, "api-key", "", "API key for the selected provider, if it requires one.")
	RootCmd.PersistentFlags().StringVar(&Global.CacheDir, "cache-dir", "", "Override cache location; local path or s3://bucket/prefix (env CACHE_DIR).")
	RootCmd.PersistentFlags().IntVar(&Global.Concurrency, "concurrency", 0, "Default step concurrency; falls back to each job's own setting (env CONCURRENCY).")

	viper.BindPFlag("provider", RootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("cache_dir", RootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("concurrency", RootCmd.PersistentFlags().Lookup("concurrency"))
}

// Execute runs the command tree; this is the only thing main.main calls.
func Execute() {
	cli.Exit(RootCmd.Execute())
}

// initConfig reads a config file, if present, and binds the `PROVIDER`/`CONCURRENCY`/`CACHE_DIR`
// environment variables core recognizes, spec-file/flag values always taking precedence.
func initConfig() {
	if Global.Debug {
		cli.Stderr.Printf("args: %v", util.FilterOSArgs(os.Args[1:], debugArgsWhitelist))
	}

	if Global.ConfigFilePath != "" && Global.ConfigFilePath != defaultConfigFilePath {
		viper.SetConfigFile(Global.ConfigFilePath)
	} else {
		viper.SetConfigName(ConfigFileName)
		viper.AddConfigPath(DefaultConfigDir)
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("")
	viper.BindEnv("provider", "PROVIDER")
	viper.BindEnv("concurrency", "CONCURRENCY")
	viper.BindEnv("cache_dir", "CACHE_DIR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		Global.ConfigFilePath = viper.ConfigFileUsed()
	} else if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
		cli.Exit(fmt.Errorf("error loading config file (%s): %w", viper.ConfigFileUsed(), err))
	}

	if Global.Provider == "" {
		Global.Provider = viper.GetString("provider")
	}
	if Global.CacheDir == "" {
		Global.CacheDir = viper.GetString("cache_dir")
	}
	if Global.Concurrency == 0 {
		Global.Concurrency = viper.GetInt("concurrency")
	}
}

// RootCmd is the loomctl command tree root.
var RootCmd = &cobra.Command{
	Use:     "loomctl",
	Short:   "loomctl orchestrates DAG-based LLM code-generation jobs",
	Long:    `loomctl runs a code-generation job spec through a fixed architect/builder/docs/qa step graph, with caching, retries, and resumable runs.`,
	Version: version.VersionToString(),
}

// AppConfig resolves the shared GlobalConfig into an app.Config, expanding "~" in WorkDir the
// way bb's utils.HomeifyPath does.
func AppConfig() (app.Config, error) {
	workDir, err := homeify(Global.WorkDir)
	if err != nil {
		return app.Config{}, err
	}
	if err := os.MkdirAll(workDir, 0o770); err != nil {
		return app.Config{}, fmt.Errorf("error creating work directory %q: %w", workDir, err)
	}

	logLevel := logger.LogLevelConfig("info")
	if Global.Debug {
		logLevel = "debug"
	}

	return app.Config{
		WorkDir:         workDir,
		Provider:        Global.Provider,
		ProviderBaseURL: Global.BaseURL,
		ProviderModel:   Global.Model,
		ProviderAPIKey:  Global.APIKey,
		CacheDir:        Global.CacheDir,
		Concurrency:     Global.Concurrency,
		LogLevel:        logLevel,
		JSONLogs:        Global.JSON,
	}, nil
}

// homeify expands a leading "~" to the user's home directory.
func homeify(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error resolving home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
