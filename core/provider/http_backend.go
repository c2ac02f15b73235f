package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// httpBackend is the shared implementation behind the three network-based adapters (ollama,
// openai, anthropic). Each one only supplies how to build the request body and parse the
// response; transport, retry-disabling, and error classification are identical across all three.
type httpBackend struct {
	tag        string
	baseURL    string
	model      string
	apiKey     string
	httpClient *retryablehttp.Client
	buildBody  func(req models.GenerateRequest) (endpoint string, body interface{})
	parseReply func(data []byte) (models.GenerateResponse, error)
}

func newHTTPBackend(tag, baseURL, model, apiKey string, log logger.Log) *httpBackend {
	client := retryablehttp.NewClient()
	client.RetryMax = 0 // retry/backoff policy is centralized once in Adapter.invoke
	client.Logger = newLeveledLogger(log)
	return &httpBackend{
		tag:        tag,
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		httpClient: client,
	}
}

func (b *httpBackend) Tag() string { return b.tag }

func (b *httpBackend) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	endpoint, body := b.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return models.GenerateResponse{}, gerror.NewErrProviderInvalidResponse(b.tag, err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.GenerateResponse{}, gerror.NewErrIO(fmt.Sprintf("error building %s request", b.tag), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return models.GenerateResponse{}, gerror.NewErrIO(fmt.Sprintf("error calling %s", b.tag), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.GenerateResponse{}, gerror.NewErrIO(fmt.Sprintf("error reading %s response", b.tag), err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.GenerateResponse{}, gerror.NewErrProviderRateLimit(b.tag, fmt.Errorf("status %d: %s", resp.StatusCode, data))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.GenerateResponse{}, gerror.NewErrProviderInvalidResponse(b.tag, fmt.Errorf("auth failed with status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusInternalServerError:
		return models.GenerateResponse{}, gerror.NewErrIO(fmt.Sprintf("%s returned status %d", b.tag, resp.StatusCode), fmt.Errorf("%s", data))
	case resp.StatusCode >= http.StatusBadRequest:
		return models.GenerateResponse{}, gerror.NewErrProviderInvalidResponse(b.tag, fmt.Errorf("status %d: %s", resp.StatusCode, data))
	}

	parsed, err := b.parseReply(data)
	if err != nil {
		return models.GenerateResponse{}, gerror.NewErrProviderInvalidResponse(b.tag, err)
	}
	return parsed, nil
}

func (b *httpBackend) ToolCall(ctx context.Context, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	// Tool calls are modeled as a generate() request whose prompt embeds the schema; the
	// structured result is the parsed JSON body of the textual reply. This keeps every backend's
	// wire format identical between generate and tool_call, matching the contract's statement
	// that tool_call is "semantically identical to generate but returns a structured object".
	genReq := models.GenerateRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Step:        req.Step,
		CodeVersion: req.CodeVersion,
		Options:     req.Options,
		Messages: []models.Message{
			{Role: "system", Content: fmt.Sprintf("Respond with JSON matching schema: %v", req.Schema)},
			{Role: "user", Content: fmt.Sprintf("Call tool %q with arguments %v", req.ToolName, req.Arguments)},
		},
	}
	genResp, err := b.Generate(ctx, genReq)
	if err != nil {
		return models.ToolCallResponse{}, err
	}
	var result interface{}
	if err := json.Unmarshal([]byte(genResp.Text), &result); err != nil {
		return models.ToolCallResponse{}, gerror.NewErrProviderInvalidResponse(b.tag, fmt.Errorf("tool_call reply was not valid JSON: %w", err))
	}
	return models.ToolCallResponse{Result: result, PromptTokens: genResp.PromptTokens, CompletionTokens: genResp.CompletionTokens}, nil
}
