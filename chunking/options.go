package chunking

import (
	"strings"
)

// StrategyName is the configuration name of a splitting strategy.
type StrategyName string

const (
	StrategyRecursive StrategyName = "recursive"
	StrategySemantic  StrategyName = "semantic"
)

// Defaults applied by DefaultOptions and by Options.Resolve for zero values.
const (
	DefaultStrategy             = StrategyRecursive
	DefaultEmbeddingModel       = "BAAI/bge-m3"
	DefaultChunkSize            = 1400
	DefaultChunkOverlap         = 150
	DefaultMinChunkChars        = 0 // no merging of short semantic groups
	DefaultSimilarityThreshold  = 0.55
	DefaultWindow               = 1
	DefaultBreakpointPercentile = 90.0
)

// Options is the flat, serialisable chunking configuration accepted from
// config files, CLI flags and API requests.
type Options struct {
	Strategy             string  `json:"strategy,omitempty"`
	EmbeddingModel       string  `json:"embedding_model,omitempty"`
	ChunkSize            int     `json:"chunk_size,omitempty"`
	ChunkOverlap         int     `json:"chunk_overlap"`
	MinChunkChars        int     `json:"min_chunk_chars,omitempty"`
	SimilarityThreshold  float64 `json:"similarity_threshold,omitempty"`
	Window               int     `json:"window,omitempty"`
	BreakpointPercentile float64 `json:"breakpoint_percentile,omitempty"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:             string(DefaultStrategy),
		EmbeddingModel:       DefaultEmbeddingModel,
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
		MinChunkChars:        DefaultMinChunkChars,
		SimilarityThreshold:  DefaultSimilarityThreshold,
		Window:               DefaultWindow,
		BreakpointPercentile: DefaultBreakpointPercentile,
	}
}

// Strategy is the resolved splitting strategy: either Recursive or Semantic.
type Strategy interface {
	Name() StrategyName
	isStrategy()
}

// Recursive splits on a separator cascade into pieces of at most ChunkSize
// runes, carrying ChunkOverlap runes between neighbours.
type Recursive struct {
	ChunkSize    int
	ChunkOverlap int
}

// Semantic places boundaries where consecutive sentence windows diverge.
type Semantic struct {
	Window               int
	BreakpointPercentile float64
	MinChunkChars        int
	// SimilarityThreshold is validated and reported but boundary placement
	// is driven by BreakpointPercentile.
	SimilarityThreshold float64
}

func (Recursive) Name() StrategyName { return StrategyRecursive }
func (Semantic) Name() StrategyName  { return StrategySemantic }
func (Recursive) isStrategy()        {}
func (Semantic) isStrategy()         {}

// Resolve validates the options and returns the strategy variant they
// select along with the embedding model name. Empty Strategy,
// EmbeddingModel, ChunkSize and BreakpointPercentile fall back to their
// defaults; zero is a meaningful value for every other field.
func (o Options) Resolve() (Strategy, string, error) {
	model := strings.TrimSpace(o.EmbeddingModel)
	if model == "" {
		model = DefaultEmbeddingModel
	}

	name := StrategyName(strings.ToLower(strings.TrimSpace(o.Strategy)))
	if name == "" {
		name = DefaultStrategy
	}

	size := o.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	if size < 0 {
		return nil, "", invalidConfiguration("chunk_size must be positive, got %d", size)
	}
	if o.ChunkOverlap < 0 {
		return nil, "", invalidConfiguration("chunk_overlap must not be negative, got %d", o.ChunkOverlap)
	}
	if o.ChunkOverlap >= size {
		return nil, "", invalidConfiguration("chunk_overlap (%d) must be smaller than chunk_size (%d)", o.ChunkOverlap, size)
	}

	if o.MinChunkChars < 0 {
		return nil, "", invalidConfiguration("min_chunk_chars must not be negative, got %d", o.MinChunkChars)
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return nil, "", invalidConfiguration("similarity_threshold must be within [0, 1], got %v", o.SimilarityThreshold)
	}
	if o.Window < 0 {
		return nil, "", invalidConfiguration("window must not be negative, got %d", o.Window)
	}
	percentile := o.BreakpointPercentile
	if percentile == 0 {
		percentile = DefaultBreakpointPercentile
	}
	if percentile < 0 || percentile > 100 {
		return nil, "", invalidConfiguration("breakpoint_percentile must be within (0, 100], got %v", percentile)
	}

	switch name {
	case StrategyRecursive:
		return Recursive{ChunkSize: size, ChunkOverlap: o.ChunkOverlap}, model, nil
	case StrategySemantic:
		return Semantic{
			Window:               o.Window,
			BreakpointPercentile: percentile,
			MinChunkChars:        o.MinChunkChars,
			SimilarityThreshold:  o.SimilarityThreshold,
		}, model, nil
	default:
		return nil, "", invalidConfiguration("unknown chunking strategy %q (expected %q or %q)", o.Strategy, StrategyRecursive, StrategySemantic)
	}
}
