// Package orchestrator composes the Provider Adapter, Cache, and Artifact Store into the
// canonical code-generation step graph (architect -> {builder, docs} -> qa) and hands it to the
// DAG Executor. Prompt content and validation rules are deliberately opaque: each step function
// is a thin mechanical wrapper around a single provider call plus a file write, not a real agent.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v2"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/cache"
	"github.com/loomforge/loomforge/core/dag"
	"github.com/loomforge/loomforge/core/models"
	"github.com/loomforge/loomforge/core/provider"
	"github.com/loomforge/loomforge/core/store"
)

const (
	StepArchitect = "architect"
	StepBuilder   = "builder"
	StepDocs      = "docs"
	StepQA        = "qa"
)

// defaultRequiredGlobs is checked by qa when the JobSpec does not override it via
// Inputs["qa_required_globs"].
var defaultRequiredGlobs = []string{"design.md", "README.md"}

// Build returns the canonical four-node step graph, wired against a single job's Provider
// Adapter, Cache, and Artifact Store. codeVersion is stamped onto every request the graph makes,
// so a step definition change (a new codeVersion) invalidates cache entries keyed on the old one
// without touching the per-request options a caller controls. The four step functions are
// mechanical: they carry no prompt engineering or model-selection policy, only the
// generate/tool_call/write sequence the graph shape requires.
func Build(adapter *provider.Adapter, c *cache.Cache, artifacts *store.ArtifactStore, codeVersion string) []dag.StepDef {
	return []dag.StepDef{
		{
			StepName: StepArchitect,
			Fn:       architectStep(adapter, c, artifacts, codeVersion),
			Retries:  models.DefaultRetries,
			TimeoutS: models.DefaultTimeoutS,
		},
		{
			StepName: StepBuilder,
			Prereqs:  []string{StepArchitect},
			Fn:       builderStep(adapter, c, artifacts, codeVersion),
			Retries:  models.DefaultRetries,
			TimeoutS: models.DefaultTimeoutS,
		},
		{
			StepName: StepDocs,
			Prereqs:  []string{StepArchitect},
			Fn:       docsStep(adapter, c, artifacts, codeVersion),
			Retries:  models.DefaultRetries,
			TimeoutS: models.DefaultTimeoutS,
		},
		{
			StepName: StepQA,
			Prereqs:  []string{StepBuilder, StepDocs},
			Fn:       qaStep(artifacts),
			NoRetry:  true, // validation is deterministic under identical inputs
			TimeoutS: models.DefaultTimeoutS,
		},
	}
}

type architectOutput struct {
	Design string `json:"design"`
}

// architectStep asks the provider for a design document and persists it to outputs/design.md.
// It has no prerequisites: its only input is the job's own spec.
func architectStep(adapter *provider.Adapter, c *cache.Cache, artifacts *store.ArtifactStore, codeVersion string) dag.StepFunc {
	return func(ctx context.Context, sc *dag.StepContext) (models.StepResult, error) {
		req := models.GenerateRequest{
			Provider:    sc.Job.Spec.Provider,
			Step:        StepArchitect,
			CodeVersion: codeVersion,
			Messages: []models.Message{
				{Role: "system", Content: "Produce a design document for the requested project."},
				{Role: "user", Content: sc.Job.Spec.TaskDescription},
			},
		}
		resp, cached, err := generateCached(ctx, c, adapter, StepArchitect, req)
		if err != nil {
			return models.StepResult{}, err
		}

		write, err := artifacts.SafeWrite("design.md", []byte(resp.Text))
		if err != nil {
			return models.StepResult{}, err
		}

		output, err := json.Marshal(architectOutput{Design: resp.Text})
		if err != nil {
			return models.StepResult{}, gerror.NewErrIO("error marshalling architect output", err)
		}
		result := models.StepResult{
			Output:    output,
			Artifacts: []models.Artifact{artifactFromWrite("design.md", write, StepArchitect)},
		}
		if cached {
			result.Status = models.StepStatusCached
		}
		return result, nil
	}
}

// builderStep asks the provider for a set of source files, keyed by relative path, and persists
// each one through the Artifact Store.
func builderStep(adapter *provider.Adapter, c *cache.Cache, artifacts *store.ArtifactStore, codeVersion string) dag.StepFunc {
	return func(ctx context.Context, sc *dag.StepContext) (models.StepResult, error) {
		design, err := upstreamDesign(sc)
		if err != nil {
			return models.StepResult{}, err
		}

		req := models.ToolCallRequest{
			Provider:    sc.Job.Spec.Provider,
			Step:        StepBuilder,
			CodeVersion: codeVersion,
			ToolName:    "write_source_files",
			Arguments: map[string]interface{}{
				"task":   sc.Job.Spec.TaskDescription,
				"design": design,
			},
		}
		resp, cached, err := toolCallCached(ctx, c, adapter, StepBuilder, req)
		if err != nil {
			return models.StepResult{}, err
		}

		files, err := resultAsFileSet(resp.Result)
		if err != nil {
			return models.StepResult{}, err
		}
		if len(files) == 0 {
			return models.StepResult{}, gerror.NewErrProviderInvalidResponse(adapter.Tag(), fmt.Errorf("builder tool_call returned no files"))
		}

		var written []models.Artifact
		for _, path := range sortedKeys(files) {
			write, err := artifacts.SafeWrite(path, []byte(files[path]))
			if err != nil {
				return models.StepResult{}, err
			}
			written = append(written, artifactFromWrite(path, write, StepBuilder))
		}

		result := models.StepResult{Artifacts: written}
		if cached {
			result.Status = models.StepStatusCached
		}
		return result, nil
	}
}

// docsStep asks the provider for project documentation and persists it to outputs/README.md.
func docsStep(adapter *provider.Adapter, c *cache.Cache, artifacts *store.ArtifactStore, codeVersion string) dag.StepFunc {
	return func(ctx context.Context, sc *dag.StepContext) (models.StepResult, error) {
		design, err := upstreamDesign(sc)
		if err != nil {
			return models.StepResult{}, err
		}

		req := models.GenerateRequest{
			Provider:    sc.Job.Spec.Provider,
			Step:        StepDocs,
			CodeVersion: codeVersion,
			Messages: []models.Message{
				{Role: "system", Content: "Write end-user documentation for the project described by the design document."},
				{Role: "user", Content: design},
			},
		}
		resp, cached, err := generateCached(ctx, c, adapter, StepDocs, req)
		if err != nil {
			return models.StepResult{}, err
		}

		write, err := artifacts.SafeWrite("README.md", []byte(resp.Text))
		if err != nil {
			return models.StepResult{}, err
		}

		result := models.StepResult{Artifacts: []models.Artifact{artifactFromWrite("README.md", write, StepDocs)}}
		if cached {
			result.Status = models.StepStatusCached
		}
		return result, nil
	}
}

type qaReport struct {
	Checked []string `json:"checked"`
	Missing []string `json:"missing"`
	Passed  bool     `json:"passed"`
}

// qaStep validates that every artifact builder and docs were expected to produce is actually
// present on disk, then writes outputs/qa_report.md. It never calls the provider: validation
// must be deterministic under identical inputs, which is also why it carries no retries.
func qaStep(artifacts *store.ArtifactStore) dag.StepFunc {
	return func(ctx context.Context, sc *dag.StepContext) (models.StepResult, error) {
		globs := requiredGlobs(sc)
		report := qaReport{Passed: true}

		for _, glob := range globs {
			pattern := filepath.Join(artifacts.Root(), glob)
			matches, err := doublestar.Glob(pattern)
			if err != nil {
				return models.StepResult{}, gerror.NewErrValidationFailed(fmt.Sprintf("invalid qa glob %q: %v", glob, err))
			}
			report.Checked = append(report.Checked, glob)
			if len(matches) == 0 {
				report.Missing = append(report.Missing, glob)
				report.Passed = false
			}
		}

		builderArtifacts := 0
		if upstream := sc.UpstreamResult(StepBuilder); upstream != nil {
			builderArtifacts = len(upstream.Artifacts)
		}
		if builderArtifacts == 0 {
			report.Missing = append(report.Missing, "builder produced no artifacts")
			report.Passed = false
		}

		body := formatReport(report)
		write, err := artifacts.SafeWrite("qa_report.md", []byte(body))
		if err != nil {
			return models.StepResult{}, err
		}

		result := models.StepResult{Artifacts: []models.Artifact{artifactFromWrite("qa_report.md", write, StepQA)}}
		if !report.Passed {
			return result, gerror.NewErrValidationFailed(fmt.Sprintf("qa failed: missing %v", report.Missing))
		}
		return result, nil
	}
}

// requiredGlobs returns the qa required-artifact globs, honoring a JobSpec override so a caller
// can tailor qa's expectations per project without touching the graph.
func requiredGlobs(sc *dag.StepContext) []string {
	if raw, ok := sc.Job.Spec.Inputs["qa_required_globs"]; ok && raw != "" {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultRequiredGlobs
}

func formatReport(r qaReport) string {
	var b strings.Builder
	b.WriteString("# QA Report\n\n")
	if r.Passed {
		b.WriteString("Result: PASS\n\n")
	} else {
		b.WriteString("Result: FAIL\n\n")
	}
	b.WriteString("Checked:\n")
	for _, c := range r.Checked {
		b.WriteString(fmt.Sprintf("- %s\n", c))
	}
	if len(r.Missing) > 0 {
		b.WriteString("\nMissing:\n")
		for _, m := range r.Missing {
			b.WriteString(fmt.Sprintf("- %s\n", m))
		}
	}
	return b.String()
}

func upstreamDesign(sc *dag.StepContext) (string, error) {
	upstream := sc.UpstreamResult(StepArchitect)
	if upstream == nil || len(upstream.Output) == 0 {
		return "", gerror.NewErrValidationFailed("architect output missing from upstream step context")
	}
	var out architectOutput
	if err := json.Unmarshal(upstream.Output, &out); err != nil {
		return "", gerror.NewErrIO("error parsing architect output", err)
	}
	return out.Design, nil
}

// generateCached checks c for a previously cached response before calling the provider, storing
// the response on a miss. It reports whether the call was served from cache.
func generateCached(ctx context.Context, c *cache.Cache, adapter *provider.Adapter, step string, req models.GenerateRequest) (models.GenerateResponse, bool, error) {
	req.Options = req.Options.WithDefaults()
	fp, err := cache.FingerprintGenerate(req)
	if err != nil {
		return models.GenerateResponse{}, false, err
	}
	var resp models.GenerateResponse
	found, err := c.Get(fp, step, &resp)
	if err != nil {
		return models.GenerateResponse{}, false, err
	}
	if found {
		return resp, true, nil
	}
	resp, _, err = adapter.Generate(ctx, step, req)
	if err != nil {
		return models.GenerateResponse{}, false, err
	}
	if err := c.Put(fp, resp); err != nil {
		return models.GenerateResponse{}, false, err
	}
	return resp, false, nil
}

// toolCallCached is the tool_call analogue of generateCached.
func toolCallCached(ctx context.Context, c *cache.Cache, adapter *provider.Adapter, step string, req models.ToolCallRequest) (models.ToolCallResponse, bool, error) {
	req.Options = req.Options.WithDefaults()
	fp, err := cache.FingerprintToolCall(req)
	if err != nil {
		return models.ToolCallResponse{}, false, err
	}
	var resp models.ToolCallResponse
	found, err := c.Get(fp, step, &resp)
	if err != nil {
		return models.ToolCallResponse{}, false, err
	}
	if found {
		return resp, true, nil
	}
	resp, _, err = adapter.ToolCall(ctx, step, req)
	if err != nil {
		return models.ToolCallResponse{}, false, err
	}
	if err := c.Put(fp, resp); err != nil {
		return models.ToolCallResponse{}, false, err
	}
	return resp, false, nil
}

// resultAsFileSet normalizes a ToolCallResponse.Result into a relative-path -> content map. The
// provider backend may have come straight from JSON (map[string]interface{}) or been constructed
// in-process by a test double (map[string]string); both are accepted.
func resultAsFileSet(result interface{}) (map[string]string, error) {
	switch v := result.(type) {
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		files := make(map[string]string, len(v))
		for path, content := range v {
			text, ok := content.(string)
			if !ok {
				return nil, gerror.NewErrProviderInvalidResponse("builder", fmt.Errorf("file %q content is not a string", path))
			}
			files[path] = text
		}
		return files, nil
	default:
		return nil, gerror.NewErrProviderInvalidResponse("builder", fmt.Errorf("tool_call result has unexpected type %T", result))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func artifactFromWrite(path string, w store.WriteResult, producedBy string) models.Artifact {
	return models.Artifact{
		Path:       path,
		SHA256:     w.SHA256,
		SizeBytes:  w.SizeBytes,
		MediaType:  w.MediaType,
		ProducedBy: producedBy,
	}
}
