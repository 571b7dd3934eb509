// Package static provides a deterministic in-process embedder used for
// tests and offline runs. Vectors are hashed bags of words, normalized
// to unit length, so identical texts always embed identically and
// overlapping texts land near each other.
package static

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/cola-ai/knowledge-service/internal/registry/embed"
)

const (
	modelName = "static-hash"
	dimension = 256
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "static",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &StaticEmbedder{}, nil
		},
	})
}

type StaticEmbedder struct{}

func (e *StaticEmbedder) ModelName() string { return modelName }
func (e *StaticEmbedder) Dimension() int    { return dimension }

func (e *StaticEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vector[int(h.Sum32()%dimension)]++
	}
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*StaticEmbedder)(nil)
