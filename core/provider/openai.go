package provider

import (
	"encoding/json"
	"fmt"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// NewOpenAI returns a Backend that talks to an OpenAI-compatible /v1/chat/completions endpoint.
func NewOpenAI(baseURL, model, apiKey string, log logger.Log) Backend {
	b := newHTTPBackend("openai", baseURL, model, apiKey, log)
	b.buildBody = func(req models.GenerateRequest) (string, interface{}) {
		return "/v1/chat/completions", openAIChatRequest{
			Model:       firstNonEmpty(req.Model, b.model),
			Messages:    toOpenAIMessages(req.Messages),
			Temperature: req.Options.Temperature,
			MaxTokens:   req.Options.MaxTokens,
			Stop:        req.Options.Stop,
		}
	}
	b.parseReply = func(data []byte) (models.GenerateResponse, error) {
		var reply openAIChatReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return models.GenerateResponse{}, fmt.Errorf("error parsing openai reply: %w", err)
		}
		if len(reply.Choices) == 0 {
			return models.GenerateResponse{}, fmt.Errorf("openai reply contained no choices")
		}
		return models.GenerateResponse{
			Text:             reply.Choices[0].Message.Content,
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
		}, nil
	}
	return b
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatReply struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toOpenAIMessages(msgs []models.Message) []openAIMessage {
	out := make([]openAIMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
