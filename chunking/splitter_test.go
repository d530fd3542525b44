package chunking

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder maps sentences about rockets to one axis and everything else to another.
type topicEmbedder struct {
	inputs [][]string
	trim   bool
	ragged bool
}

func (e *topicEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.inputs = append(e.inputs, texts)
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		switch {
		case e.ragged && i == 1:
			vectors = append(vectors, []float32{1, 0, 0})
		case strings.Contains(strings.ToLower(text), "rocket"):
			vectors = append(vectors, []float32{0, 1})
		default:
			vectors = append(vectors, []float32{1, 0})
		}
	}
	if e.trim {
		vectors = vectors[:len(vectors)-1]
	}
	return vectors, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"a b", "a b"},
		{"  hello \n\n world\t!  ", "hello world !"},
		{"line1\r\nline2", "line1 line2"},
		{"a\u00a0\u00a0b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestIndexImagesByPage(t *testing.T) {
	images := []ImageAsset{
		{ImageID: "a", Page: 2},
		{ImageID: "b", Page: 0},
		{ImageID: "c", Page: 2},
		{ImageID: "d", Page: 1},
		{ImageID: "e", Page: -1},
	}
	byPage := IndexImagesByPage(images)

	require.Len(t, byPage, 2)
	assert.Equal(t, []string{"a", "c"}, []string{byPage[2][0].ImageID, byPage[2][1].ImageID})
	assert.Equal(t, "d", byPage[1][0].ImageID)
	assert.Empty(t, byPage[1][0].SessionID)
}

func TestRecursiveSplitter(t *testing.T) {
	splitter, err := NewSplitter(Recursive{ChunkSize: 50, ChunkOverlap: 10}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("empty input yields no pieces", func(t *testing.T) {
		for _, in := range []string{"", "  \n\n\t"} {
			pieces, err := splitter.Split(ctx, in)
			require.NoError(t, err)
			assert.Empty(t, pieces)
		}
	})

	t.Run("pieces respect the size bound", func(t *testing.T) {
		text := strings.Repeat("Lorem ipsum dolor sit amet. ", 20) + "\n\n" + strings.Repeat("x", 130)
		pieces, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		require.Greater(t, len(pieces), 3)
		for _, p := range pieces {
			assert.LessOrEqual(t, utf8.RuneCountInString(p), 50)
		}
	})

	t.Run("neighbouring pieces overlap", func(t *testing.T) {
		text := strings.Repeat("alpha beta gamma delta ", 10)
		pieces, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		require.Greater(t, len(pieces), 1)
		last := strings.Fields(pieces[0])
		assert.True(t, strings.HasPrefix(pieces[1], last[len(last)-1]))
	})

	t.Run("deterministic", func(t *testing.T) {
		text := strings.Repeat("Ünïcode text with äccents. ", 12)
		a, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		b, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestSemanticSplitter(t *testing.T) {
	ctx := context.Background()
	text := "Cats purr softly. Cats chase mice. Cats sleep a lot. Rockets launch fast. Rockets reach orbit."

	t.Run("breaks at the topic shift", func(t *testing.T) {
		embedder := &topicEmbedder{}
		splitter, err := NewSplitter(Semantic{Window: 0, BreakpointPercentile: 90}, embedder)
		require.NoError(t, err)

		pieces, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Cats purr softly. Cats chase mice. Cats sleep a lot.",
			"Rockets launch fast. Rockets reach orbit.",
		}, pieces)
		require.Len(t, embedder.inputs, 1)
		assert.Len(t, embedder.inputs[0], 5)
	})

	t.Run("windows combine neighbours", func(t *testing.T) {
		embedder := &topicEmbedder{}
		splitter, err := NewSplitter(Semantic{Window: 1, BreakpointPercentile: 90}, embedder)
		require.NoError(t, err)

		_, err = splitter.Split(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, "Cats purr softly. Cats chase mice.", embedder.inputs[0][0])
		assert.Equal(t, "Cats purr softly. Cats chase mice. Cats sleep a lot.", embedder.inputs[0][1])
	})

	t.Run("default options keep every breakpoint", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Strategy = string(StrategySemantic)
		strategy, _, err := opts.Resolve()
		require.NoError(t, err)
		splitter, err := NewSplitter(strategy, &topicEmbedder{})
		require.NoError(t, err)

		pieces, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Cats purr softly. Cats chase mice.",
			"Cats sleep a lot. Rockets launch fast. Rockets reach orbit.",
		}, pieces)
	})

	t.Run("short groups merge forward", func(t *testing.T) {
		splitter, err := NewSplitter(Semantic{Window: 0, BreakpointPercentile: 90, MinChunkChars: 1000}, &topicEmbedder{})
		require.NoError(t, err)

		pieces, err := splitter.Split(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, []string{text}, pieces)
	})

	t.Run("single sentence skips the embedder", func(t *testing.T) {
		embedder := &topicEmbedder{}
		splitter, err := NewSplitter(Semantic{BreakpointPercentile: 90}, embedder)
		require.NoError(t, err)

		pieces, err := splitter.Split(ctx, "  Only one sentence here  ")
		require.NoError(t, err)
		assert.Equal(t, []string{"Only one sentence here"}, pieces)
		assert.Empty(t, embedder.inputs)

		pieces, err = splitter.Split(ctx, "   ")
		require.NoError(t, err)
		assert.Empty(t, pieces)
	})

	t.Run("malformed output is an embedding failure", func(t *testing.T) {
		for name, embedder := range map[string]*topicEmbedder{
			"count":     {trim: true},
			"dimension": {ragged: true},
		} {
			t.Run(name, func(t *testing.T) {
				splitter, err := NewSplitter(Semantic{BreakpointPercentile: 90}, embedder)
				require.NoError(t, err)
				_, err = splitter.Split(ctx, text)
				require.Error(t, err)
				assert.True(t, IsEmbeddingUnavailable(err))
			})
		}
	})
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"Hello world.", "How are you?", "Fine!"}, splitSentences("Hello world. How are you? Fine!"))
	assert.Equal(t, []string{"Version 1.5 is out.", "Next"}, splitSentences("Version 1.5 is out.\nNext"))
	assert.Nil(t, splitSentences(" \n "))
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 2.5, percentile([]float64{4, 1, 3, 2}, 50), 1e-9)
	assert.InDelta(t, 3.7, percentile([]float64{1, 2, 3, 4}, 90), 1e-9)
	assert.InDelta(t, 5, percentile([]float64{5}, 90), 1e-9)
	assert.InDelta(t, 4, percentile([]float64{1, 2, 3, 4}, 100), 1e-9)
}

func TestResolveOptions(t *testing.T) {
	t.Run("defaults to recursive", func(t *testing.T) {
		strategy, model, err := Options{}.Resolve()
		require.NoError(t, err)
		assert.Equal(t, Recursive{ChunkSize: DefaultChunkSize, ChunkOverlap: 0}, strategy)
		assert.Equal(t, DefaultEmbeddingModel, model)
	})

	t.Run("documented defaults", func(t *testing.T) {
		strategy, _, err := DefaultOptions().Resolve()
		require.NoError(t, err)
		assert.Equal(t, Recursive{ChunkSize: 1400, ChunkOverlap: 150}, strategy)
	})

	t.Run("semantic carries its own parameters", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Strategy = " Semantic "
		opts.EmbeddingModel = "nomic-embed-text"
		strategy, model, err := opts.Resolve()
		require.NoError(t, err)
		assert.Equal(t, Semantic{Window: 1, BreakpointPercentile: 90, MinChunkChars: 0, SimilarityThreshold: 0.55}, strategy)
		assert.Equal(t, StrategySemantic, strategy.Name())
		assert.Equal(t, "nomic-embed-text", model)
	})
}
