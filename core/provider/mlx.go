package provider

import (
	"context"
	"fmt"

	"github.com/loomforge/loomforge/core/models"
)

// MLXGenerateFunc lets callers (chiefly tests and the step implementations' own fixtures) inject
// deterministic, scripted behavior for the "mlx" provider tag without standing up a network
// service, matching the on-device/in-process adapter the provider plug-in model describes.
type MLXGenerateFunc func(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error)

// MLXBackend is the in-process Backend used when PROVIDER=mlx: no network calls, suitable for
// the orchestration core's own test suite and for fully offline runs.
type MLXBackend struct {
	Generator MLXGenerateFunc
}

// NewMLX returns a Backend that calls generate directly, with no network dependency. If
// generator is nil, a default deterministic stub is used that echoes the last user message.
func NewMLX(generator MLXGenerateFunc) Backend {
	if generator == nil {
		generator = defaultMLXGenerate
	}
	return &MLXBackend{Generator: generator}
}

func (b *MLXBackend) Tag() string { return "mlx" }

func (b *MLXBackend) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	return b.Generator(ctx, req)
}

func (b *MLXBackend) ToolCall(ctx context.Context, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	resp, err := b.Generator(ctx, models.GenerateRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Step:        req.Step,
		CodeVersion: req.CodeVersion,
		Options:     req.Options,
		Messages: []models.Message{
			{Role: "user", Content: fmt.Sprintf("%q(%v)", req.ToolName, req.Arguments)},
		},
	})
	if err != nil {
		return models.ToolCallResponse{}, err
	}
	return models.ToolCallResponse{Result: resp.Text}, nil
}

func defaultMLXGenerate(_ context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return models.GenerateResponse{Text: fmt.Sprintf("mlx stub response to: %s", last)}, nil
}
