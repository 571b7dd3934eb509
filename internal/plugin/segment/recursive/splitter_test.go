package recursive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := newSplitter(1000, 200)
	chunks := s.Split("a short paragraph")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph", chunks[0])
}

func TestSplitEmptyText(t *testing.T) {
	s := newSplitter(1000, 200)
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  "))
}

func TestSplitRespectsChunkSize(t *testing.T) {
	s := newSplitter(100, 20)
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("one sentence here. ")
	}
	chunks := s.Split(b.String())
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	s := newSplitter(20, 0)
	chunks := s.Split("first paragraph\n\nsecond paragraph\n\nthird paragraph")
	require.Len(t, chunks, 3)
	assert.Equal(t, "first paragraph", chunks[0])
	assert.Equal(t, "second paragraph", chunks[1])
	assert.Equal(t, "third paragraph", chunks[2])
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := newSplitter(30, 10)
	chunks := s.Split("aaaa bbbb cccc dddd eeee ffff gggg hhhh iiii jjjj")
	require.Greater(t, len(chunks), 1)
	// Adjacent chunks share some trailing/leading content.
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-4:]
		assert.Contains(t, chunks[i], strings.TrimSpace(prevTail))
	}
}

func TestSplitHandlesUnbreakableText(t *testing.T) {
	s := newSplitter(50, 10)
	chunks := s.Split(strings.Repeat("x", 200))
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 50)
	}
	// No content is lost at the start or end.
	assert.True(t, strings.HasPrefix(chunks[0], "x"))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "x"))
}

func TestSplitCJKSentences(t *testing.T) {
	s := newSplitter(12, 0)
	chunks := s.Split("今天天气很好。我们去公园。晚上吃饺子。")
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 12)
	}
}
