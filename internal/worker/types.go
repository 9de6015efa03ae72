package worker

import (
	"context"
)

// EmbedTaskPayload mirrors document.EmbedTask on the consuming side of
// the chunk.embed topic.
type EmbedTaskPayload struct {
	DocumentID    string `json:"document_id"`
	ChunkID       string `json:"chunk_id"`
	Content       string `json:"content"`
	Position      int    `json:"position"`
	CorrelationID string `json:"correlation_id"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the slice of the document repository the worker needs.
// MarkChunkCompleted reports false when the row was already completed, so
// redeliveries are visible as skips.
type ChunkStore interface {
	GetEmbeddingStatus(ctx context.Context, documentID, chunkID string) (string, error)
	MarkChunkCompleted(ctx context.Context, documentID, chunkID string, vector []float32) (bool, error)
	MarkChunkFailed(ctx context.Context, documentID, chunkID, reason string) error
}
