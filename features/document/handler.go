package document

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"regintel/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Ingest accepts raw content and runs the full pipeline synchronously
// apart from per-chunk embedding, which is queued.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
		RawContent string `json:"raw_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.RawContent == "" {
		h.writeError(r, w, "VALIDATION_ERROR", "raw_content is required", http.StatusBadRequest)
		return
	}

	doc, err := h.service.Ingest(r.Context(), req.DocumentID, req.RawContent)
	if err != nil {
		h.writeIngestError(w, r, doc, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Reingest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.service.Reingest(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeIngestError(w, r, doc, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(r, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	chunks, err := h.service.Chunks(r.Context(), id)
	if err != nil {
		slog.Warn("failed to fetch chunks", "error", err, "document_id", id)
		chunks = []Chunk{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"document":     doc,
			"chunks":       chunks,
			"total_chunks": len(chunks),
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": status}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeIngestError reports which step failed alongside the document's
// step statuses, so the caller can show partial progress.
func (h *Handler) writeIngestError(w http.ResponseWriter, r *http.Request, doc *Document, err error) {
	slog.ErrorContext(r.Context(), "ingestion failed", "error", err)

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		h.writeError(r, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "INGESTION_FAILED",
			"step":    stepErr.Step,
			"message": stepErr.Error(),
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}
	if doc != nil {
		resp["data"] = map[string]interface{}{"document_id": doc.ID, "steps": doc.Steps}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
