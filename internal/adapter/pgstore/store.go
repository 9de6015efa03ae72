// Package pgstore adapts the Postgres/pgvector similarity function to the
// retrieval service. Ranking and thresholding live in the match_chunks SQL
// function; this adapter only binds parameters and scans rows.
package pgstore

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"regintel/backend/internal/retrieval"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// MatchChunks runs the nearest-neighbor lookup. Empty filter fields are
// passed as NULL so the SQL function skips them; no client-side filtering
// happens on top.
func (s *Store) MatchChunks(ctx context.Context, vector []float32, threshold float32, limit int, f retrieval.Filters) ([]retrieval.Match, error) {
	query := `SELECT document_id, chunk_id, content, similarity
		FROM match_chunks($1, $2, $3, $4, $5, $6)`

	rows, err := s.db.QueryContext(ctx, query,
		pgvector.NewVector(vector), threshold, limit,
		nullable(f.Category), nullable(f.Regulation), nullable(f.Country))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []retrieval.Match
	for rows.Next() {
		var m retrieval.Match
		if err := rows.Scan(&m.DocumentID, &m.ChunkID, &m.Content, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
