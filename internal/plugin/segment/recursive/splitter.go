package recursive

import "strings"

// defaultSeparators splits on paragraph, line, CJK and latin sentence
// boundaries, falling back to word boundaries.
var defaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", ",", " "}

// splitter breaks text into chunks of at most chunkSize runes, with
// chunkOverlap runes carried between adjacent chunks. Splits happen at
// the coarsest separator that keeps pieces under the size limit.
type splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func newSplitter(chunkSize, chunkOverlap int) *splitter {
	return &splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split returns trimmed, non-empty chunks of text.
func (s *splitter) Split(text string) []string {
	var chunks []string
	for _, chunk := range s.split(text, s.separators) {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (s *splitter) split(text string, separators []string) []string {
	if len(text) == 0 {
		return nil
	}

	// Pick the first separator that occurs in the text; the last one is
	// the fallback even when absent.
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	var final []string
	var good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}
		// Flush accumulated small pieces, then recurse into the
		// oversized one with finer separators.
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(remaining) == 0 {
			final = append(final, s.hardSplit(piece)...)
		} else {
			final = append(final, s.split(piece, remaining)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs consecutive pieces into chunks of at most chunkSize runes,
// carrying chunkOverlap runes of trailing pieces into the next chunk.
func (s *splitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			for total > s.chunkOverlap && len(window) > 0 {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// hardSplit cuts text with no usable separators into fixed-size windows.
func (s *splitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.chunkOverlap
	if step <= 0 {
		step = s.chunkSize
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitKeepSeparator splits text by sep, keeping the separator attached
// to the preceding piece so no characters are lost.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		return []string{text}
	}
	parts := strings.SplitAfter(text, sep)
	// SplitAfter can yield a trailing empty string.
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func runeLen(s string) int {
	return len([]rune(s))
}
