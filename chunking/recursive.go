package chunking

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// recursiveSeparators is the cascade tried in order: paragraph, line,
// sentence end, word and finally single characters.
var recursiveSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type recursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

func newRecursiveSplitter(params Recursive) *recursiveSplitter {
	return &recursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(params.ChunkSize),
			textsplitter.WithChunkOverlap(params.ChunkOverlap),
			textsplitter.WithSeparators(recursiveSeparators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

func (r *recursiveSplitter) Split(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return r.splitter.SplitText(text)
}
