package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"regintel/backend/internal/adapter/gemini"
	"regintel/backend/internal/middleware"
	"regintel/backend/internal/retrieval"
)

// Searcher is the slice of the retrieval service the handler needs.
type Searcher interface {
	Search(ctx context.Context, query string, filters retrieval.Filters) (*retrieval.Result, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

type searchRequest struct {
	Query      string `json:"query"`
	Category   string `json:"category"`
	Regulation string `json:"regulation"`
	Country    string `json:"country"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "searching", "query_len", len(req.Query), "correlationId", correlationID)

	result, err := h.searcher.Search(ctx, req.Query, retrieval.Filters{
		Category:   req.Category,
		Regulation: req.Regulation,
		Country:    req.Country,
	})
	if err != nil {
		h.writeSearchError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeSearchError maps retrieval failures to HTTP. A synthesis failure
// is degraded rather than opaque: the retrieved sources ride along in
// the error body so the caller still gets its citations.
func (h *Handler) writeSearchError(ctx context.Context, w http.ResponseWriter, err error) {
	correlationID := middleware.GetCorrelationID(ctx)
	slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", correlationID)

	var searchErr *retrieval.SearchError
	if errors.As(err, &searchErr) {
		switch searchErr.Stage {
		case retrieval.StageSynthesis:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			resp := map[string]interface{}{
				"error": map[string]string{
					"code":    "SYNTHESIS_FAILED",
					"message": "Answer synthesis failed; sources were retrieved successfully",
				},
				"sources":       searchErr.Sources,
				"correlationId": correlationID,
			}
			if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
				slog.Error("failed to encode error response", "error", encErr)
			}
			return
		case retrieval.StageStorage:
			h.writeError(ctx, w, "INTERNAL_ERROR", "Similarity search failed", http.StatusInternalServerError)
			return
		}
	}

	var embedErr *gemini.EmbeddingError
	if errors.As(err, &embedErr) {
		h.writeError(ctx, w, "EMBEDDING_FAILED", "Could not embed the query", http.StatusBadGateway)
		return
	}

	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
