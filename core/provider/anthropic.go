package provider

import (
	"encoding/json"
	"fmt"

	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// NewAnthropic returns a Backend that talks to the Anthropic Messages API.
func NewAnthropic(baseURL, model, apiKey string, log logger.Log) Backend {
	b := newHTTPBackend("anthropic", baseURL, model, apiKey, log)
	b.buildBody = func(req models.GenerateRequest) (string, interface{}) {
		system, messages := splitSystemMessage(req.Messages)
		return "/v1/messages", anthropicRequest{
			Model:       firstNonEmpty(req.Model, b.model),
			System:      system,
			Messages:    messages,
			MaxTokens:   req.Options.MaxTokens,
			Temperature: req.Options.Temperature,
			StopSeqs:    req.Options.Stop,
		}
	}
	b.parseReply = func(data []byte) (models.GenerateResponse, error) {
		var reply anthropicReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return models.GenerateResponse{}, fmt.Errorf("error parsing anthropic reply: %w", err)
		}
		var text string
		for _, block := range reply.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return models.GenerateResponse{
			Text:             text,
			PromptTokens:     reply.Usage.InputTokens,
			CompletionTokens: reply.Usage.OutputTokens,
		}, nil
	}
	return b
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicReply struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// splitSystemMessage pulls out a leading "system"-role message, since Anthropic's API takes the
// system prompt as a top-level field rather than as part of the messages array.
func splitSystemMessage(msgs []models.Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" && system == "" {
			system = m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return system, out
}
