package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"regintel/backend/features/job"
	"regintel/backend/internal/middleware"
)

// chunkStatusCompleted mirrors document.EmbedCompleted without importing
// the feature package into the hot path.
const chunkStatusCompleted = "completed"

// reasonLimit bounds the error text stored on a failed chunk.
const reasonLimit = 500

type EmbedConsumer struct {
	embedder    Embedder
	store       ChunkStore
	jobs        job.Repository
	timeout     time.Duration
	maxAttempts uint16
}

func NewEmbedConsumer(e Embedder, s ChunkStore, jobs job.Repository, timeout time.Duration, maxAttempts uint16) *EmbedConsumer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return &EmbedConsumer{embedder: e, store: s, jobs: jobs, timeout: timeout, maxAttempts: maxAttempts}
}

// HandleMessage embeds one chunk and records the outcome. Each chunk's
// status transition is independent: a failure here never touches sibling
// chunks or the owning document row.
//
// Returning an error requeues the message; returning nil finishes it.
func (h *EmbedConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EmbedTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON never gets better on retry
		slog.Error("poison pill: invalid embed task", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if payload.DocumentID == "" || payload.ChunkID == "" {
		slog.ErrorContext(ctx, "embed task missing identifiers, dropping", "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		return nil
	}

	status, err := h.store.GetEmbeddingStatus(ctx, payload.DocumentID, payload.ChunkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "chunk row gone, dropping task", "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
			return nil
		}
		return err
	}
	if status == chunkStatusCompleted {
		slog.InfoContext(ctx, "chunk already embedded, skipping", "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	vector, err := h.embedder.Embed(embedCtx, payload.Content)
	if err != nil {
		return h.handleEmbedFailure(ctx, m, payload, err)
	}

	updated, err := h.store.MarkChunkCompleted(embedCtx, payload.DocumentID, payload.ChunkID, vector)
	if err != nil {
		slog.ErrorContext(ctx, "failed to store embedding", "error", err, "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		return err
	}
	if !updated {
		slog.InfoContext(ctx, "chunk completed by another delivery", "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		return nil
	}

	slog.InfoContext(ctx, "chunk embedded", "document_id", payload.DocumentID, "chunk_id", payload.ChunkID, "position", payload.Position)
	return nil
}

func (h *EmbedConsumer) handleEmbedFailure(ctx context.Context, m *nsq.Message, payload EmbedTaskPayload, cause error) error {
	retryable := true
	var r interface{ Retryable() bool }
	if errors.As(cause, &r) {
		retryable = r.Retryable()
	}

	if retryable && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "embedding failed, requeueing", "error", cause, "attempt", m.Attempts, "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		return cause
	}

	// Give up: record the failure on the chunk and park the task for a
	// manual retry. Sibling chunks are unaffected.
	reason := cause.Error()
	if len(reason) > reasonLimit {
		reason = reason[:reasonLimit]
	}
	if err := h.store.MarkChunkFailed(ctx, payload.DocumentID, payload.ChunkID, reason); err != nil {
		slog.ErrorContext(ctx, "failed to mark chunk failed", "error", err, "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
	}

	if h.jobs != nil {
		deadLetter := &job.Job{
			DocumentID: payload.DocumentID,
			Handler:    "embed-worker",
			Payload:    json.RawMessage(m.Body),
			Error:      reason,
		}
		if err := h.jobs.Save(ctx, deadLetter); err != nil {
			slog.ErrorContext(ctx, "failed to save dead letter", "error", err, "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
		} else {
			slog.InfoContext(ctx, "saved dead letter for retry", "job_id", deadLetter.ID, "chunk_id", payload.ChunkID)
		}
	}

	slog.ErrorContext(ctx, "embedding failed permanently", "error", cause, "document_id", payload.DocumentID, "chunk_id", payload.ChunkID)
	return nil
}
