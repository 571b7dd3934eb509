// Package script provides a deterministic chat model for tests and
// offline runs. Responses come from a caller-supplied function; the
// default echoes the last user message.
package script

import (
	"context"

	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrychat.Register(registrychat.Plugin{
		Name: "script",
		Loader: func(_ context.Context) (registrychat.Model, error) {
			return New(nil), nil
		},
	})
}

// RespondFunc computes a scripted completion for the given messages.
type RespondFunc func(messages []registrychat.Message) (string, error)

// Model replays scripted completions.
type Model struct {
	respond RespondFunc
}

// New builds a scripted model. A nil respond echoes the last user message.
func New(respond RespondFunc) *Model {
	if respond == nil {
		respond = func(messages []registrychat.Message) (string, error) {
			for i := len(messages) - 1; i >= 0; i-- {
				if messages[i].Role == registrychat.RoleUser {
					return messages[i].Content, nil
				}
			}
			return "", nil
		}
	}
	return &Model{respond: respond}
}

func (m *Model) ModelName() string { return "script" }

func (m *Model) Complete(ctx context.Context, messages []registrychat.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.respond(messages)
}

func (m *Model) Stream(ctx context.Context, messages []registrychat.Message, onDelta func(delta string) error) (string, error) {
	full, err := m.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	// Emit word-sized deltas so SSE handlers see a realistic stream.
	start := 0
	for i := 0; i <= len(full); i++ {
		if i == len(full) || full[i] == ' ' {
			end := i
			if end < len(full) {
				end++
			}
			if onDelta != nil && end > start {
				if err := onDelta(full[start:end]); err != nil {
					return full[:end], err
				}
			}
			start = end
		}
	}
	return full, nil
}

var _ registrychat.Model = (*Model)(nil)
