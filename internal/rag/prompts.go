package rag

import "fmt"

// The pipeline drives every model call through these prompt builders.
// Structured outputs are requested as JSON-style lists so parse.go can
// recover them, with heuristic fallbacks when the model ignores the
// format.

func classifyPrompt(question string) string {
	return fmt.Sprintf(`You are a question triage expert. Classify the question into one of three difficulty levels:

L1: a direct factual question with a standard answer found in reference material.
L2: requires comparing or weighing multiple factors or simple reasoning.
L3: requires multi-hop reasoning, conflicting constraints, trade-off analysis, or creative problem solving.

Return ONLY the single digit 1, 2 or 3. No explanation.

Question: %s`, question)
}

func rewritePrompt(question string) string {
	return fmt.Sprintf(`You are a question refinement expert. Rewrite the question below to be more specific and answerable, preserving its original intent. If it is already clear and specific, return it unchanged. Output only the rewritten question, nothing else.

Question: %s`, question)
}

func decomposePrompt(question string) string {
	return fmt.Sprintf(`You are a decision architect. Break the question below into exactly 3 focused sub-questions that together cover its comparison branches and a validating follow-up. Each sub-question must stand alone as a retrieval query.

Output format: a JSON array of exactly 3 strings, like ["sub-question 1", "sub-question 2", "sub-question 3"]. Output nothing else.

Question: %s`, question)
}

func keywordsPrompt(question string, n int) string {
	return fmt.Sprintf(`You are an information retrieval expert. Extract the %d most useful search keywords from the question below. Each keyword should cover a distinct information gap; avoid generic verbs like "research" or "analyze".

Output format: a JSON array of %d strings, like ["keyword 1", "keyword 2"]. Output nothing else.

Question: %s`, n, n, question)
}

func subquestionFoundationPrompt(context, question string) string {
	return fmt.Sprintf(`You are an information architect. Given the original question and the knowledge retrieved so far, generate one sub-question aimed at foundational definitions: the core concepts, established facts, and scope needed to understand the original question.

Output format: a JSON array with one string, like ["your sub-question"]. Output nothing else.

Original question: %s

Knowledge retrieved so far:
%s`, question, context)
}

func subquestionDeepPrompt(context, question string) string {
	return fmt.Sprintf(`You are a strategic analyst. Given the original question and all knowledge accumulated so far, generate one exploratory sub-question that digs into deeper causal mechanisms, trade-offs, contradictions between sources, or stakeholder interests behind the original question.

Output format: a JSON array with one string, like ["your sub-question"]. Output nothing else.

Original question: %s

Knowledge accumulated so far:
%s`, question, context)
}

func summarizePrompt(question, context string) string {
	return fmt.Sprintf(`Known knowledge:
%s

Based on the knowledge above, answer the user's question clearly and accurately: %s`, context, question)
}

func chainSummaryContext(knowledge, problemChain string) string {
	return fmt.Sprintf(`Knowledge system:
%s

Problem chain:
%s

Answer the original question systematically and in depth based on the knowledge system and problem chain above.`, knowledge, problemChain)
}

func titlePrompt(question string) string {
	return fmt.Sprintf(`Generate one short, clear conversation title (a few words, no quotes) for a conversation that starts with this question: %s`, question)
}
