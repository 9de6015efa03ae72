package document

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// stepColumns maps step names to their columns; SetStepStatus refuses
// anything outside this map so no step name ever reaches the SQL text.
var stepColumns = map[string]string{
	StepTransform: "step_transform",
	StepChunk:     "step_chunk",
	StepDispatch:  "step_dispatch",
	StepPersist:   "step_persist",
}

func (r *PostgresRepo) Upsert(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (id, raw_content, step_transform, step_chunk, step_dispatch, step_persist, rag_enabled)
		VALUES ($1, $2, 'waiting', 'waiting', 'waiting', 'waiting', FALSE)
		ON CONFLICT (id) DO UPDATE SET
			raw_content = EXCLUDED.raw_content,
			step_transform = 'waiting', step_chunk = 'waiting', step_dispatch = 'waiting', step_persist = 'waiting',
			rag_enabled = FALSE,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, doc.ID, doc.RawContent)
	return err
}

func (r *PostgresRepo) SetStepStatus(ctx context.Context, id, step, status string) error {
	col, ok := stepColumns[step]
	if !ok {
		return fmt.Errorf("unknown ingestion step: %s", step)
	}
	query := fmt.Sprintf(`UPDATE documents SET %s = $1, updated_at = NOW() WHERE id = $2`, col)
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) SaveReport(ctx context.Context, doc *Document) error {
	query := `UPDATE documents SET
			title = $2, summary = $3, categories = $4, regulations = $5,
			country = $6, region = $7, report = $8, rag_enabled = TRUE, updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.Summary,
		pq.Array(doc.Categories), pq.Array(doc.Regulations),
		doc.Country, doc.Region, []byte(doc.Report))
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	var title, summary, country, region sql.NullString
	var report []byte
	query := `SELECT id, COALESCE(title, ''), COALESCE(summary, ''), categories, regulations,
			COALESCE(country, ''), COALESCE(region, ''), rag_enabled, raw_content, report,
			step_transform, step_chunk, step_dispatch, step_persist, created_at, updated_at
		FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &title, &summary, pq.Array(&doc.Categories), pq.Array(&doc.Regulations),
		&country, &region, &doc.RAGEnabled, &doc.RawContent, &report,
		&doc.Steps.Transform, &doc.Steps.Chunk, &doc.Steps.Dispatch, &doc.Steps.Persist,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.Summary = summary.String
	doc.Country = country.String
	doc.Region = region.String
	if len(report) > 0 {
		doc.Report = report
	}
	return doc, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT id, COALESCE(title, ''), COALESCE(summary, ''), categories, regulations,
			COALESCE(country, ''), COALESCE(region, ''), rag_enabled,
			step_transform, step_chunk, step_dispatch, step_persist, created_at, updated_at
		FROM documents ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(
			&d.ID, &d.Title, &d.Summary, pq.Array(&d.Categories), pq.Array(&d.Regulations),
			&d.Country, &d.Region, &d.RAGEnabled,
			&d.Steps.Transform, &d.Steps.Chunk, &d.Steps.Dispatch, &d.Steps.Persist,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// UpsertChunks inserts chunks in pending state. Rows whose embedding
// already completed keep their vector and status; pending and failed rows
// are reset so a re-ingestion retries them.
func (r *PostgresRepo) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	query := `INSERT INTO chunks (document_id, chunk_id, content, position, embedding_status, embedding_error)
		VALUES ($1, $2, $3, $4, 'pending', '')
		ON CONFLICT (document_id, chunk_id) DO UPDATE SET
			content = EXCLUDED.content,
			position = EXCLUDED.position,
			embedding_status = 'pending',
			embedding_error = ''
		WHERE chunks.embedding_status <> 'completed'`
	for _, c := range chunks {
		if _, err := r.db.ExecContext(ctx, query, c.DocumentID, c.ChunkID, c.Content, c.Position); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

func (r *PostgresRepo) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	query := `SELECT document_id, chunk_id, content, position, embedding_status, embedding_error
		FROM chunks WHERE document_id = $1 ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.DocumentID, &c.ChunkID, &c.Content, &c.Position, &c.EmbeddingStatus, &c.EmbeddingError); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) ChunkStatusCounts(ctx context.Context, documentID string) (map[string]int, error) {
	query := `SELECT embedding_status, COUNT(*) FROM chunks WHERE document_id = $1 GROUP BY embedding_status`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// GetEmbeddingStatus is used by the embed worker to skip chunks that
// already completed on an earlier delivery.
func (r *PostgresRepo) GetEmbeddingStatus(ctx context.Context, documentID, chunkID string) (string, error) {
	var status string
	query := `SELECT embedding_status FROM chunks WHERE document_id = $1 AND chunk_id = $2`
	err := r.db.QueryRowContext(ctx, query, documentID, chunkID).Scan(&status)
	return status, err
}

// MarkChunkCompleted attaches the vector and flips the status. The guard
// makes the transition one-way: a completed chunk is never overwritten.
// Returns false when the row was already completed (or missing).
func (r *PostgresRepo) MarkChunkCompleted(ctx context.Context, documentID, chunkID string, vector []float32) (bool, error) {
	query := `UPDATE chunks SET embedding = $3, embedding_status = 'completed', embedding_error = ''
		WHERE document_id = $1 AND chunk_id = $2 AND embedding_status <> 'completed'`
	res, err := r.db.ExecContext(ctx, query, documentID, chunkID, pgvector.NewVector(vector))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresRepo) MarkChunkFailed(ctx context.Context, documentID, chunkID, reason string) error {
	query := `UPDATE chunks SET embedding_status = 'failed', embedding_error = $3
		WHERE document_id = $1 AND chunk_id = $2 AND embedding_status <> 'completed'`
	_, err := r.db.ExecContext(ctx, query, documentID, chunkID, reason)
	return err
}
