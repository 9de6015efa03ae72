package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"regintel/backend/internal/middleware"
	"regintel/backend/internal/text"
)

// EmbedTopic is the NSQ topic carrying one message per chunk to embed.
const EmbedTopic = "chunk.embed"

type Repository interface {
	Upsert(ctx context.Context, doc *Document) error
	SetStepStatus(ctx context.Context, id, step, status string) error
	SaveReport(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	Count(ctx context.Context) (int, error)

	UpsertChunks(ctx context.Context, chunks []Chunk) error
	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)
	ChunkStatusCounts(ctx context.Context, documentID string) (map[string]int, error)
}

type Transformer interface {
	Transform(ctx context.Context, rawText, schema, instructions string) (json.RawMessage, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// EmbedTask is the payload published per chunk. The consumer side lives in
// internal/worker.
type EmbedTask struct {
	DocumentID    string `json:"document_id"`
	ChunkID       string `json:"chunk_id"`
	Content       string `json:"content"`
	Position      int    `json:"position"`
	CorrelationID string `json:"correlation_id"`
}

type Service struct {
	repo        Repository
	transformer Transformer
	pub         EventPublisher
	chunkSize   int
	overlap     int
}

func NewService(repo Repository, transformer Transformer, pub EventPublisher, chunkSize, overlap int) *Service {
	if chunkSize <= 0 {
		chunkSize = text.DefaultChunkSize
	}
	return &Service{
		repo:        repo,
		transformer: transformer,
		pub:         pub,
		chunkSize:   chunkSize,
		overlap:     overlap,
	}
}

// Ingest runs the four-step pipeline for one document: transform the raw
// content into a structured report, split the report text into chunks,
// dispatch one embed task per chunk, then persist the report and mark the
// document RAG-enabled.
//
// Steps run strictly in order. A failing step is recorded with status
// error and surfaced as *StepError; completed steps are not rolled back.
// Re-ingesting the same id is idempotent: the document row and chunk rows
// are upserts keyed by id and (id, chunk_id).
func (s *Service) Ingest(ctx context.Context, id, rawContent string) (*Document, error) {
	if id == "" {
		id = uuid.New().String()
	}

	doc := &Document{
		ID:         id,
		RawContent: rawContent,
		Steps:      waitingSteps(),
	}
	if err := s.repo.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	// Step 1: transform
	var report Report
	var reportJSON json.RawMessage
	err := s.runStep(ctx, doc, StepTransform, func() error {
		raw, err := s.transformer.Transform(ctx, rawContent, ReportSchema, DefaultInstructions)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &report); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedReport, err)
		}
		if err := report.Validate(); err != nil {
			return err
		}
		reportJSON = raw
		return nil
	})
	if err != nil {
		return doc, err
	}

	// Step 2: chunk
	var chunks []text.Chunk
	err = s.runStep(ctx, doc, StepChunk, func() error {
		var splitErr error
		chunks, splitErr = text.Split(id, report.PlainText(), s.chunkSize, s.overlap)
		return splitErr
	})
	if err != nil {
		return doc, err
	}

	// Step 3: persist chunks as pending and dispatch embed tasks. Actual
	// embedding is decoupled; a slow or failing embed does not block the
	// rest of ingestion.
	err = s.runStep(ctx, doc, StepDispatch, func() error {
		rows := make([]Chunk, len(chunks))
		for i, c := range chunks {
			rows[i] = Chunk{
				DocumentID:      id,
				ChunkID:         c.ChunkID,
				Content:         c.Text,
				Position:        c.Position,
				EmbeddingStatus: EmbedPending,
			}
		}
		if err := s.repo.UpsertChunks(ctx, rows); err != nil {
			return err
		}

		correlationID := middleware.GetCorrelationID(ctx)
		for _, c := range chunks {
			payload, err := json.Marshal(EmbedTask{
				DocumentID:    id,
				ChunkID:       c.ChunkID,
				Content:       c.Text,
				Position:      c.Position,
				CorrelationID: correlationID,
			})
			if err != nil {
				return err
			}
			if err := s.pub.Publish(EmbedTopic, payload); err != nil {
				return fmt.Errorf("publish embed task for chunk %s: %w", c.ChunkID, err)
			}
		}
		slog.InfoContext(ctx, "dispatched embed tasks", "document_id", id, "chunks", len(chunks))
		return nil
	})
	if err != nil {
		return doc, err
	}

	// Step 4: persist the report. Independent of step 3 completion; the
	// report lands before embeddings finish. rag_enabled flips here, so
	// readers never see a half-ingested document as published.
	err = s.runStep(ctx, doc, StepPersist, func() error {
		doc.applyReport(&report)
		doc.Report = reportJSON
		doc.RAGEnabled = true
		return s.repo.SaveReport(ctx, doc)
	})
	if err != nil {
		return doc, err
	}

	return doc, nil
}

// Reingest re-runs the pipeline from the stored raw content.
func (s *Service) Reingest(ctx context.Context, id string) (*Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.RawContent == "" {
		return nil, fmt.Errorf("document %s has no stored raw content", id)
	}
	return s.Ingest(ctx, id, doc.RawContent)
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

func (s *Service) Chunks(ctx context.Context, id string) ([]Chunk, error) {
	return s.repo.GetChunks(ctx, id)
}

// Status returns the per-step statuses plus chunk embedding counts for UI
// progress feedback.
func (s *Service) Status(ctx context.Context, id string) (*IngestionStatus, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.ChunkStatusCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &IngestionStatus{
		DocumentID: id,
		Steps:      doc.Steps,
		Chunks: ChunkCounts{
			Pending:   counts[EmbedPending],
			Completed: counts[EmbedCompleted],
			Failed:    counts[EmbedFailed],
		},
	}, nil
}

type IngestionStatus struct {
	DocumentID string       `json:"document_id"`
	Steps      StepStatuses `json:"steps"`
	Chunks     ChunkCounts  `json:"chunks"`
}

type ChunkCounts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *Service) runStep(ctx context.Context, doc *Document, step string, fn func() error) error {
	if err := s.repo.SetStepStatus(ctx, doc.ID, step, StatusProcessing); err != nil {
		return &StepError{Step: step, Err: err}
	}
	doc.Steps.set(step, StatusProcessing)

	if err := fn(); err != nil {
		doc.Steps.set(step, StatusError)
		if markErr := s.repo.SetStepStatus(ctx, doc.ID, step, StatusError); markErr != nil {
			slog.ErrorContext(ctx, "failed to record step error", "document_id", doc.ID, "step", step, "error", markErr)
		}
		return &StepError{Step: step, Err: err}
	}

	if err := s.repo.SetStepStatus(ctx, doc.ID, step, StatusCompleted); err != nil {
		return &StepError{Step: step, Err: err}
	}
	doc.Steps.set(step, StatusCompleted)
	return nil
}
