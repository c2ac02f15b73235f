package provider

import (
	"encoding/json"
	"fmt"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// NewOllama returns a Backend that talks to a local Ollama server's /api/chat endpoint.
func NewOllama(baseURL, model string, log logger.Log) Backend {
	b := newHTTPBackend("ollama", baseURL, model, "", log)
	b.buildBody = func(req models.GenerateRequest) (string, interface{}) {
		return "/api/chat", ollamaChatRequest{
			Model:    firstNonEmpty(req.Model, b.model),
			Messages: toOllamaMessages(req.Messages),
			Stream:   false,
			Options: ollamaOptions{
				Temperature: req.Options.Temperature,
				NumPredict:  req.Options.MaxTokens,
				Stop:        req.Options.Stop,
			},
		}
	}
	b.parseReply = func(data []byte) (models.GenerateResponse, error) {
		var reply ollamaChatReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return models.GenerateResponse{}, fmt.Errorf("error parsing ollama reply: %w", err)
		}
		return models.GenerateResponse{
			Text:             reply.Message.Content,
			PromptTokens:     reply.PromptEvalCount,
			CompletionTokens: reply.EvalCount,
		}, nil
	}
	return b
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatReply struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func toOllamaMessages(msgs []models.Message) []ollamaMessage {
	out := make([]ollamaMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
