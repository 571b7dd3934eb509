package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/cola-ai/knowledge-service/internal/model"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	"github.com/cola-ai/knowledge-service/internal/rag"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

// AskResult is the outcome of one chat turn.
type AskResult struct {
	Thread    *model.Thread
	Answer    *rag.Answer
	UserMsg   *model.Message
	Assistant *model.Message
}

// Ask runs one chat turn in a thread: the user message is persisted,
// the adaptive pipeline streams an answer from the thread's knowledge
// store through onDelta, and the drained answer is persisted as the
// assistant message. A nil threadID starts a new thread with an empty
// title; the first question of a thread additionally synthesizes a
// short title, which may fail without affecting the turn.
func (s *Service) Ask(ctx context.Context, username string, threadID *int64, question string, onDelta func(delta string) error) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &registrystore.ValidationError{Field: "question", Message: "question must not be empty"}
	}
	if _, err := s.Store.EnsureUser(ctx, username); err != nil {
		return nil, err
	}

	var thread *model.Thread
	var err error
	if threadID == nil {
		thread, err = s.Store.CreateThread(ctx, username, "")
	} else {
		thread, err = s.Store.GetThread(ctx, username, *threadID)
	}
	if err != nil {
		return nil, err
	}

	history, err := s.Store.ListMessages(ctx, username, thread.ID)
	if err != nil {
		return nil, err
	}
	firstQuestion := len(history) == 0

	userMsg, err := s.Store.AppendMessage(ctx, &model.Message{
		ThreadID: thread.ID,
		Username: username,
		Role:     model.RoleUser,
		Content:  question,
	})
	if err != nil {
		return nil, err
	}

	if firstQuestion {
		s.generateTitle(ctx, thread, question)
	}

	store, _, err := s.Namespaces.Resolve(ctx, namespace.WithThread(username, thread.ID))
	if err != nil {
		return nil, err
	}

	answer, err := s.Pipeline.Ask(ctx, store, question, onDelta)
	if err != nil {
		return nil, err
	}

	assistant, err := s.Store.AppendMessage(ctx, &model.Message{
		ThreadID: thread.ID,
		Username: username,
		Role:     model.RoleAssistant,
		Content:  answer.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	return &AskResult{Thread: thread, Answer: answer, UserMsg: userMsg, Assistant: assistant}, nil
}

// generateTitle asks the model for a thread title and writes it back.
// Failures are logged and swallowed; the turn continues either way.
func (s *Service) generateTitle(ctx context.Context, thread *model.Thread, question string) {
	title, err := s.Pipeline.Title(ctx, question)
	if err != nil {
		log.Warn("Thread title generation failed", "thread", thread.ID, "err", err)
		return
	}
	title = truncate(title, s.TitleMaxLen)
	if title == "" {
		return
	}
	if err := s.Store.UpdateThreadTitle(ctx, thread.Username, thread.ID, title); err != nil {
		log.Warn("Failed to save thread title", "thread", thread.ID, "err", err)
		return
	}
	thread.Title = title
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
