package chat

import (
	"context"
	"fmt"
)

// Role identifies the author of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a chat exchange.
type Message struct {
	Role    string
	Content string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Model is a chat completion backend.
type Model interface {
	// Complete returns the full completion for the given messages.
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream invokes onDelta for each content fragment as it arrives and
	// returns the concatenated completion. The stream is always consumed
	// to the end unless onDelta or the backend returns an error.
	Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
	// ModelName returns the model identifier used for completions.
	ModelName() string
}

// Loader creates a chat model from config.
type Loader func(ctx context.Context) (Model, error)

// Plugin represents a chat model plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a chat model plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered chat model plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named chat model plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown chat model %q; valid: %v", name, Names())
}
