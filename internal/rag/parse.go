package rag

import (
	"encoding/json"
	"strings"
)

// parseTier coerces classifier output to a difficulty tier in {1,2,3}.
// Anything unparseable reports ok=false; callers default to tier 1.
func parseTier(content string) (int, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, false
	}
	// The model is told to output a single digit, but some pad it with
	// prose; the first character decides.
	switch content[0] {
	case '1':
		return 1, true
	case '2':
		return 2, true
	case '3':
		return 3, true
	}
	return 0, false
}

// parseList parses model output expected to be a JSON array of strings.
// When strict parsing fails it degrades to splitting on commas (both
// ASCII and fullwidth), trimming list punctuation from each piece.
// degraded reports whether the fallback was taken.
func parseList(content string) (items []string, degraded bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	var parsed []string
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		for _, item := range parsed {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, false
	}

	// Models sometimes wrap the array in prose or code fences; try the
	// innermost bracketed span before giving up on JSON.
	if start, end := strings.IndexByte(content, '['), strings.LastIndexByte(content, ']'); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err == nil {
			for _, item := range parsed {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			return items, false
		}
	}

	for _, piece := range strings.Split(strings.ReplaceAll(content, "，", ","), ",") {
		piece = strings.Trim(piece, "[]\"' \t\n")
		if piece != "" {
			items = append(items, piece)
		}
	}
	return items, true
}

// parseOne extracts a single string from model output that was asked to
// return a one-element JSON array. Falls back to the raw trimmed text.
func parseOne(content string) string {
	items, degraded := parseList(content)
	if !degraded && len(items) > 0 {
		return items[0]
	}
	return strings.TrimSpace(content)
}

// clampList truncates a list to at most n items.
func clampList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
