// Package openai provides the OpenAI-compatible chat model plugin. Any
// endpoint speaking the chat completions API works by pointing
// KNOWLEDGE_SERVICE_OPENAI_BASE_URL at it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cola-ai/knowledge-service/internal/config"
	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrychat.Register(registrychat.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrychat.Model, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai chat model: KNOWLEDGE_SERVICE_OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimRight(cfg.OpenAIBaseURL, "/"); base != "" {
		clientCfg.BaseURL = base
	}
	return &OpenAIModel{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  cfg.OpenAIChatModel,
	}, nil
}

type OpenAIModel struct {
	client *goopenai.Client
	model  string
}

func (m *OpenAIModel) ModelName() string { return m.model }

func toAPIMessages(messages []registrychat.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

func (m *OpenAIModel) Complete(ctx context.Context, messages []registrychat.Message) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toAPIMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *OpenAIModel) Stream(ctx context.Context, messages []registrychat.Message, onDelta func(delta string) error) (string, error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toAPIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("chat stream failed: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("chat stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

var _ registrychat.Model = (*OpenAIModel)(nil)
