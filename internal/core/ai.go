package core

import (
	"context"
	"time"
)

// LLMProvider is the black-box text model used for refinement and answering.
// maxTokens bounds the generation; 0 lets the model default apply.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// EmbeddingBackend maps chunk strings to fixed-dimension vectors, one per
// input and in input order. Dimension is part of the backend's identity and
// sizes the target storage table.
type EmbeddingBackend interface {
	Key() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Refinement is the result of one LLM refinement pass over a text block.
type Refinement struct {
	Text     string
	Language string
	Score    float64
	Prompt   string
}

// Refiner turns one normalized text block into a polished, single-language
// version with a quality score. A zero timeout means no timeout.
type Refiner interface {
	Refine(ctx context.Context, text, promptKey string, timeout time.Duration) (*Refinement, error)
	// RefineParagraphs refines paragraph-by-paragraph, dropping outputs that
	// match the boilerplate-rejection heuristic; used for email sources.
	RefineParagraphs(ctx context.Context, text, promptKey string, timeout time.Duration) (*Refinement, error)
}

// TextExtractor produces the ordered raw text blocks of one source file.
type TextExtractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}
