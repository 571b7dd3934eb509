// Package rag implements the adaptive retrieval pipeline. Each question
// is classified into a difficulty tier that decides the decomposition
// strategy: direct rewrite-and-retrieve, three-way sub-question
// decomposition, or a three-round keyword chain. Malformed model output
// degrades to heuristics; the pipeline always reaches a streamed answer
// or an explicit error.
package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/security"
)

// Pipeline answers questions against a namespace's knowledge store.
type Pipeline struct {
	Model     registrychat.Model
	Retriever *Retriever
	// ModelTimeout bounds each individual chat model call. Zero disables it.
	ModelTimeout time.Duration
}

// Answer is the final result of one pipeline invocation.
type Answer struct {
	Text string
	// Tier is the difficulty tier that produced the answer.
	Tier int
	// Degraded reports that at least one structured model output failed
	// to parse and a heuristic fallback was used.
	Degraded bool
}

// Ask classifies the question, runs the matching tier, and streams the
// final summarization through onDelta. The full answer text is returned
// after the stream is drained.
func (p *Pipeline) Ask(ctx context.Context, store registryvector.KnowledgeStore, question string, onDelta func(delta string) error) (*Answer, error) {
	tier, degraded := p.classify(ctx, question)
	log.Debug("Question classified", "tier", tier)

	var (
		answer *Answer
		err    error
	)
	switch tier {
	case 2:
		answer, err = p.askTier2(ctx, store, question, onDelta)
	case 3:
		answer, err = p.askTier3(ctx, store, question, onDelta)
	default:
		answer, err = p.askTier1(ctx, store, question, onDelta)
	}
	if err != nil {
		return nil, err
	}
	answer.Degraded = answer.Degraded || degraded
	if security.RetrievalTierTotal != nil {
		security.RetrievalTierTotal.WithLabelValues(strconv.Itoa(answer.Tier)).Inc()
	}
	return answer, nil
}

// classify returns the difficulty tier for the question. Any failure,
// model or parse, falls open to tier 1 so a broken classifier never
// blocks answering.
func (p *Pipeline) classify(ctx context.Context, question string) (tier int, degraded bool) {
	content, err := p.complete(ctx, "classify", classifyPrompt(question))
	if err != nil {
		log.Warn("Question classification failed; defaulting to tier 1", "err", err)
		return 1, true
	}
	tier, ok := parseTier(content)
	if !ok {
		log.Warn("Question classification unparseable; defaulting to tier 1", "output", content)
		return 1, true
	}
	return tier, false
}

// askTier1 rewrites the question, retrieves once, and summarizes.
func (p *Pipeline) askTier1(ctx context.Context, store registryvector.KnowledgeStore, question string, onDelta func(string) error) (*Answer, error) {
	degraded := false
	rewritten, err := p.complete(ctx, "rewrite", rewritePrompt(question))
	if err != nil || strings.TrimSpace(rewritten) == "" {
		log.Warn("Question rewrite failed; retrieving with the original question", "err", err)
		rewritten = question
		degraded = true
	}

	results, err := p.Retriever.Retrieve(ctx, store, rewritten)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	text, err := p.stream(ctx, "answer", summarizePrompt(question, joinDocuments(results)), onDelta)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Tier: 1, Degraded: degraded}, nil
}

// askTier2 decomposes into three sub-questions, retrieves for each, and
// summarizes over the merged labeled contexts.
func (p *Pipeline) askTier2(ctx context.Context, store registryvector.KnowledgeStore, question string, onDelta func(string) error) (*Answer, error) {
	degraded := false
	subQuestions := []string{question}
	if content, err := p.complete(ctx, "decompose", decomposePrompt(question)); err != nil {
		log.Warn("Question decomposition failed; retrieving with the original question", "err", err)
		degraded = true
	} else {
		parsed, fellBack := parseList(content)
		if fellBack {
			log.Warn("Question decomposition unparseable; falling back to comma split", "output", content)
			degraded = true
		}
		if parsed = clampList(parsed, 3); len(parsed) > 0 {
			subQuestions = parsed
		}
	}

	var contexts []string
	for _, subq := range subQuestions {
		results, err := p.Retriever.Retrieve(ctx, store, subq)
		if err != nil {
			return nil, fmt.Errorf("retrieval failed for sub-question: %w", err)
		}
		contexts = append(contexts, fmt.Sprintf("Sub-question: %s\n%s", subq, joinDocuments(results)))
	}

	text, err := p.stream(ctx, "answer", summarizePrompt(question, strings.Join(contexts, "\n\n")), onDelta)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Tier: 2, Degraded: degraded}, nil
}

// askTier3 runs the three-round keyword chain: keywords from the
// original question, then a foundational sub-question, then a deeper
// causal sub-question, each feeding retrieved knowledge into the next
// round before one final summarization over the whole system.
func (p *Pipeline) askTier3(ctx context.Context, store registryvector.KnowledgeStore, question string, onDelta func(string) error) (*Answer, error) {
	degraded := false
	problemChain := []string{question}
	var knowledgeSystem []string

	// Round A: keywords from the original question.
	roundA, deg, err := p.keywordRound(ctx, store, question)
	if err != nil {
		return nil, err
	}
	degraded = degraded || deg
	knowledgeSystem = append(knowledgeSystem, roundA)

	// Round B: a sub-question targeting foundational definitions.
	subq1 := p.subQuestion(ctx, "subquestion_foundation",
		subquestionFoundationPrompt(roundA, question), question, &degraded)
	problemChain = append(problemChain, subq1)

	roundB, deg, err := p.keywordRound(ctx, store, subq1)
	if err != nil {
		return nil, err
	}
	degraded = degraded || deg
	knowledgeSystem = append(knowledgeSystem, roundB)

	// Round C: a sub-question targeting deeper causal relationships,
	// fed with everything accumulated so far.
	subq2 := p.subQuestion(ctx, "subquestion_deep",
		subquestionDeepPrompt(strings.Join(knowledgeSystem, "\n\n"), question), question, &degraded)
	problemChain = append(problemChain, subq2)

	roundC, deg, err := p.keywordRound(ctx, store, subq2)
	if err != nil {
		return nil, err
	}
	degraded = degraded || deg
	knowledgeSystem = append(knowledgeSystem, roundC)

	chain := make([]string, len(problemChain))
	for i, q := range problemChain {
		chain[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	finalContext := chainSummaryContext(strings.Join(knowledgeSystem, "\n\n"), strings.Join(chain, "\n"))

	text, err := p.stream(ctx, "answer", summarizePrompt(question, finalContext), onDelta)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Tier: 3, Degraded: degraded}, nil
}

// keywordRound extracts two keywords from the query, retrieves for each,
// and returns the labeled knowledge block.
func (p *Pipeline) keywordRound(ctx context.Context, store registryvector.KnowledgeStore, query string) (string, bool, error) {
	degraded := false
	keywords := []string{query}
	if content, err := p.complete(ctx, "keywords", keywordsPrompt(query, 2)); err != nil {
		log.Warn("Keyword extraction failed; retrieving with the full query", "err", err)
		degraded = true
	} else {
		parsed, fellBack := parseList(content)
		if fellBack {
			log.Warn("Keyword extraction unparseable; falling back to comma split", "output", content)
			degraded = true
		}
		if parsed = clampList(parsed, 2); len(parsed) > 0 {
			keywords = parsed
		}
	}

	var contexts []string
	for _, kw := range keywords {
		results, err := p.Retriever.Retrieve(ctx, store, kw)
		if err != nil {
			return "", degraded, fmt.Errorf("retrieval failed for keyword: %w", err)
		}
		contexts = append(contexts, fmt.Sprintf("Keyword: %s\n%s", kw, joinDocuments(results)))
	}
	return strings.Join(contexts, "\n\n"), degraded, nil
}

// subQuestion asks the model for a follow-up sub-question, degrading to
// the original question when the call fails.
func (p *Pipeline) subQuestion(ctx context.Context, purpose, prompt, fallback string, degraded *bool) string {
	content, err := p.complete(ctx, purpose, prompt)
	if err != nil {
		log.Warn("Sub-question generation failed; reusing the original question", "purpose", purpose, "err", err)
		*degraded = true
		return fallback
	}
	subq := parseOne(content)
	if subq == "" {
		*degraded = true
		return fallback
	}
	return subq
}

// Title generates a short thread title for the first question of a
// conversation. Whitespace is collapsed; truncation is the caller's
// concern.
func (p *Pipeline) Title(ctx context.Context, question string) (string, error) {
	content, err := p.complete(ctx, "title", titlePrompt(question))
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(content), " "), nil
}

func (p *Pipeline) complete(ctx context.Context, purpose, prompt string) (string, error) {
	if p.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ModelTimeout)
		defer cancel()
	}
	start := time.Now()
	content, err := p.Model.Complete(ctx, []registrychat.Message{registrychat.User(prompt)})
	if security.ModelCallLatency != nil {
		security.ModelCallLatency.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	}
	return content, timeoutErr(ctx, err, ErrModelTimeout)
}

func (p *Pipeline) stream(ctx context.Context, purpose, prompt string, onDelta func(string) error) (string, error) {
	if p.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ModelTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := p.Model.Stream(ctx, []registrychat.Message{registrychat.User(prompt)}, onDelta)
	if security.ModelCallLatency != nil {
		security.ModelCallLatency.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	}
	return text, timeoutErr(ctx, err, ErrModelTimeout)
}
