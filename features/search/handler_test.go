package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regintel/backend/internal/adapter/gemini"
	"regintel/backend/internal/retrieval"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query string, filters retrieval.Filters) (*retrieval.Result, error) {
	args := m.Called(ctx, query, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Result), args.Error(1)
}

func doSearch(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	return rec
}

func TestSearch_Success(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "breach notification deadlines", retrieval.Filters{Regulation: "GDPR"}).
		Return(&retrieval.Result{
			Answer: "72 hours after becoming aware of the breach.",
			Sources: []retrieval.Source{
				{DocumentID: "doc-1", ChunkID: "c0", Similarity: 0.91},
			},
		}, nil)

	handler := NewHandler(searcher)
	rec := doSearch(t, handler, `{"query":"breach notification deadlines","regulation":"GDPR"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data retrieval.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "72 hours after becoming aware of the breach.", resp.Data.Answer)
	require.Len(t, resp.Data.Sources, 1)
	assert.Equal(t, "doc-1", resp.Data.Sources[0].DocumentID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	searcher := new(MockSearcher)
	handler := NewHandler(searcher)

	rec := doSearch(t, handler, `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_InvalidBody(t *testing.T) {
	handler := NewHandler(new(MockSearcher))

	rec := doSearch(t, handler, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestSearch_SynthesisFailureReturnsSources(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "q", mock.Anything).Return(nil, &retrieval.SearchError{
		Stage: retrieval.StageSynthesis,
		Sources: []retrieval.Source{
			{DocumentID: "doc-1", ChunkID: "c2", Similarity: 0.84},
		},
		Err: errors.New("model overloaded"),
	})

	handler := NewHandler(searcher)
	rec := doSearch(t, handler, `{"query":"q"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp struct {
		Error   map[string]string  `json:"error"`
		Sources []retrieval.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SYNTHESIS_FAILED", resp.Error["code"])
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "c2", resp.Sources[0].ChunkID)
}

func TestSearch_StorageFailure(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "q", mock.Anything).Return(nil, &retrieval.SearchError{
		Stage: retrieval.StageStorage,
		Err:   errors.New("connection refused"),
	})

	handler := NewHandler(searcher)
	rec := doSearch(t, handler, `{"query":"q"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "q", mock.Anything).
		Return(nil, &gemini.EmbeddingError{Kind: gemini.KindTransport, Err: errors.New("503")})

	handler := NewHandler(searcher)
	rec := doSearch(t, handler, `{"query":"q"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMBEDDING_FAILED")
}

func TestSearch_NoResultsPassthrough(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "obscure", mock.Anything).
		Return(&retrieval.Result{Answer: retrieval.NoResultsAnswer, Sources: []retrieval.Source{}}, nil)

	handler := NewHandler(searcher)
	rec := doSearch(t, handler, `{"query":"obscure"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), retrieval.NoResultsAnswer)
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}
