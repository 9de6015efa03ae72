package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regintel/backend/internal/adapter/gemini"
	"regintel/backend/internal/retrieval"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockMatcher struct {
	mock.Mock
}

func (m *MockMatcher) MatchChunks(ctx context.Context, vector []float32, threshold float32, limit int, f retrieval.Filters) ([]retrieval.Match, error) {
	args := m.Called(ctx, vector, threshold, limit, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Match), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	args := m.Called(ctx, prompt, temperature)
	return args.String(0), args.Error(1)
}

func testMatches() []retrieval.Match {
	return []retrieval.Match{
		{DocumentID: "doc-1", ChunkID: "c0", Content: "GDPR requires breach notification within 72 hours.", Similarity: 0.91},
		{DocumentID: "doc-2", ChunkID: "c3", Content: "Notification goes to the supervisory authority.", Similarity: 0.82},
	}
}

func TestSearch_Success(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)
	gen := new(MockGenerator)

	vec := []float32{0.1, 0.2}
	embedder.On("Embed", mock.Anything, "breach notification deadline").Return(vec, nil)
	matcher.On("MatchChunks", mock.Anything, vec, float32(0.75), 5, retrieval.Filters{}).
		Return(testMatches(), nil)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		// Grounding prompt carries the retrieved chunks and the question
		return strings.Contains(prompt, "72 hours") &&
			strings.Contains(prompt, "supervisory authority") &&
			strings.Contains(prompt, "breach notification deadline") &&
			strings.Contains(prompt, "ONLY the context")
	}), float32(0.2)).Return("Within 72 hours, to the supervisory authority.", nil)

	svc := retrieval.NewService(embedder, matcher, gen, nil, 0.75, 5)
	result, err := svc.Search(context.Background(), "breach notification deadline", retrieval.Filters{})
	require.NoError(t, err)

	assert.Equal(t, "Within 72 hours, to the supervisory authority.", result.Answer)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "doc-1", result.Sources[0].DocumentID)
	assert.Equal(t, float32(0.91), result.Sources[0].Similarity)
	assert.Equal(t, "c3", result.Sources[1].ChunkID)
}

func TestSearch_ThresholdShortCircuit(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)
	gen := new(MockGenerator)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	matcher.On("MatchChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]retrieval.Match{}, nil)

	svc := retrieval.NewService(embedder, matcher, gen, nil, 0.75, 5)
	result, err := svc.Search(context.Background(), "unrelated question", retrieval.Filters{})
	require.NoError(t, err)

	assert.Equal(t, retrieval.NoResultsAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	// Synthesis is never invoked when nothing clears the threshold
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_FiltersForwardedVerbatim(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)
	gen := new(MockGenerator)

	filters := retrieval.Filters{Category: "compliance", Country: "DE"}
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	matcher.On("MatchChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, filters).
		Return([]retrieval.Match{}, nil)

	svc := retrieval.NewService(embedder, matcher, gen, nil, 0.75, 5)
	_, err := svc.Search(context.Background(), "q", filters)
	require.NoError(t, err)
	matcher.AssertExpectations(t)
}

func TestSearch_EmbeddingErrorPropagates(t *testing.T) {
	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).
		Return(nil, &gemini.EmbeddingError{Kind: gemini.KindTransport, Err: errors.New("503")})

	svc := retrieval.NewService(embedder, new(MockMatcher), new(MockGenerator), nil, 0.75, 5)
	_, err := svc.Search(context.Background(), "q", retrieval.Filters{})

	var embedErr *gemini.EmbeddingError
	assert.True(t, errors.As(err, &embedErr))
}

func TestSearch_StorageError(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	matcher.On("MatchChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	svc := retrieval.NewService(embedder, matcher, new(MockGenerator), nil, 0.75, 5)
	_, err := svc.Search(context.Background(), "q", retrieval.Filters{})

	var searchErr *retrieval.SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, retrieval.StageStorage, searchErr.Stage)
	assert.Empty(t, searchErr.Sources)
}

func TestSearch_SynthesisErrorKeepsSources(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)
	gen := new(MockGenerator)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	matcher.On("MatchChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(testMatches(), nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("model overloaded"))

	svc := retrieval.NewService(embedder, matcher, gen, nil, 0.75, 5)
	_, err := svc.Search(context.Background(), "q", retrieval.Filters{})

	var searchErr *retrieval.SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, retrieval.StageSynthesis, searchErr.Stage)
	// Retrieval succeeded; the citations survive the failed synthesis
	require.Len(t, searchErr.Sources, 2)
	assert.Equal(t, "doc-1", searchErr.Sources[0].DocumentID)
}

func TestSearch_LogsQueries(t *testing.T) {
	embedder := new(MockEmbedder)
	matcher := new(MockMatcher)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
	matcher.On("MatchChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]retrieval.Match{}, nil)

	var buf bytes.Buffer
	logger := retrieval.NewQueryLogger(&buf)

	svc := retrieval.NewService(embedder, matcher, new(MockGenerator), logger, 0.75, 5)
	_, err := svc.Search(context.Background(), "logged query", retrieval.Filters{})
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "logged query", entry.Query)
	assert.Equal(t, 0, entry.NumResults)
}
