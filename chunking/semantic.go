package chunking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type semanticSplitter struct {
	params   Semantic
	embedder Embedder
}

func newSemanticSplitter(params Semantic, embedder Embedder) *semanticSplitter {
	return &semanticSplitter{params: params, embedder: embedder}
}

func (s *semanticSplitter) Split(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return sentences, nil
	}

	windows := combineWindows(sentences, s.params.Window)
	vectors, err := s.embedder.EmbedDocuments(ctx, windows)
	if err != nil {
		return nil, embeddingUnavailable(err, "embedding %d sentence windows failed", len(windows))
	}
	if err := checkVectors(vectors, len(windows)); err != nil {
		return nil, err
	}

	distances := make([]float64, len(vectors)-1)
	for i := 0; i < len(vectors)-1; i++ {
		distances[i] = 1 - cosineSimilarity(vectors[i], vectors[i+1])
	}
	threshold := percentile(distances, s.params.BreakpointPercentile)

	var pieces []string
	start := 0
	for i, d := range distances {
		if d <= threshold {
			continue
		}
		group := strings.Join(sentences[start:i+1], " ")
		if s.params.MinChunkChars > 0 && utf8.RuneCountInString(group) < s.params.MinChunkChars {
			continue
		}
		pieces = append(pieces, group)
		start = i + 1
	}
	if start < len(sentences) {
		pieces = append(pieces, strings.Join(sentences[start:], " "))
	}
	return pieces, nil
}

// splitSentences cuts after '.', '?' or '!' when followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '?', '!':
		default:
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// combineWindows joins each sentence with up to window neighbours on both sides.
func combineWindows(sentences []string, window int) []string {
	combined := make([]string, len(sentences))
	for i := range sentences {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > len(sentences) {
			hi = len(sentences)
		}
		combined[i] = strings.Join(sentences[lo:hi], " ")
	}
	return combined
}

func checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return embeddingUnavailable(fmt.Errorf("got %d vectors for %d inputs", len(vectors), want),
			"embedding backend returned malformed output")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return embeddingUnavailable(fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim),
				"embedding backend returned malformed output")
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
