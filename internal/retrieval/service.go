package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Retrieval defaults; overridable per service instance.
const (
	DefaultThreshold = 0.75
	DefaultTopK      = 5
)

// NoResultsAnswer is the fixed response when nothing clears the
// similarity threshold. This is a valid terminal outcome, not an error.
const NoResultsAnswer = "No relevant information was found for this query."

// Filters narrow the nearest-neighbor lookup. Empty fields are ignored;
// filtering happens in the storage layer, not client-side.
type Filters struct {
	Category   string `json:"category,omitempty"`
	Regulation string `json:"regulation,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Match is a chunk row returned by the storage layer's similarity lookup.
type Match struct {
	DocumentID string
	ChunkID    string
	Content    string
	Similarity float32
}

// Source is the citation view of a Match: which chunk grounded the
// answer and how similar it was.
type Source struct {
	DocumentID string  `json:"documentId"`
	ChunkID    string  `json:"chunkId"`
	Similarity float32 `json:"similarity"`
}

type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// SearchError stages.
const (
	StageStorage   = "storage"
	StageSynthesis = "synthesis"
)

// SearchError identifies which downstream call failed. A synthesis
// failure still carries the retrieved Sources, so callers can degrade to
// citations without an answer instead of discarding the whole request.
type SearchError struct {
	Stage   string
	Sources []Source
	Err     error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s: %v", e.Stage, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkMatcher interface {
	MatchChunks(ctx context.Context, vector []float32, threshold float32, limit int, f Filters) ([]Match, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

type Service struct {
	embedder  Embedder
	matcher   ChunkMatcher
	generator Generator
	logger    *QueryLogger
	threshold float32
	topK      int
}

func NewService(e Embedder, m ChunkMatcher, g Generator, l *QueryLogger, threshold float32, topK int) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{embedder: e, matcher: m, generator: g, logger: l, threshold: threshold, topK: topK}
}

// Search embeds the query, asks the store for the nearest chunks, and
// synthesizes an answer grounded in the retrieved text only.
//
// Embedding failures propagate as *gemini.EmbeddingError; storage and
// synthesis failures come back as *SearchError.
func (s *Service) Search(ctx context.Context, query string, filters Filters) (*Result, error) {
	start := time.Now()
	var result *Result

	defer func() {
		if s.logger != nil && result != nil {
			s.logger.Log(QueryLogEntry{
				Query:      query,
				NumResults: len(result.Sources),
				Duration:   time.Since(start),
			})
		}
	}()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.matcher.MatchChunks(ctx, vec, s.threshold, s.topK, filters)
	if err != nil {
		return nil, &SearchError{Stage: StageStorage, Err: err}
	}

	if len(matches) == 0 {
		result = &Result{Answer: NoResultsAnswer, Sources: []Source{}}
		return result, nil
	}

	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{DocumentID: m.DocumentID, ChunkID: m.ChunkID, Similarity: m.Similarity}
	}

	// Factual synthesis, not generation: run cold.
	answer, err := s.generator.Generate(ctx, groundingPrompt(query, matches), 0.2)
	if err != nil {
		return nil, &SearchError{Stage: StageSynthesis, Sources: sources, Err: err}
	}

	result = &Result{Answer: strings.TrimSpace(answer), Sources: sources}
	return result, nil
}

func groundingPrompt(query string, matches []Match) string {
	var b strings.Builder
	b.WriteString("Answer the question using ONLY the context below. ")
	b.WriteString("If the context does not contain enough information to answer, say so explicitly instead of guessing.\n\nContext:\n")
	for _, m := range matches {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
