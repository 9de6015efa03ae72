package text

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Default window parameters for report text: roughly 400-500 tokens per
// chunk with a 10% overlap so no sentence is lost at a boundary.
const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
)

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunk is one window of a document's text. Position is the zero-based
// reading order within the document; gaps are possible because blank
// windows are dropped.
type Chunk struct {
	ChunkID  string
	Text     string
	Position int
}

// Split cuts text into overlapping fixed-size windows. Sizes and the
// stride (chunkSize-overlap) count characters, not bytes, so a window
// boundary never lands inside a multi-byte rune. Consecutive chunks share
// their trailing/leading overlap characters. Windows that are empty after
// trimming are dropped and do not consume a position.
//
// overlap < 0 clamps to 0; overlap >= chunkSize clamps to chunkSize/10,
// which keeps the stride positive and the loop finite.
func Split(documentID, text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	runes := []rune(text)

	var chunks []Chunk
	position := 0
	start := 0

	for start < len(runes) {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, Chunk{
				ChunkID:  ChunkID(documentID, position),
				Text:     window,
				Position: position,
			})
			position++
		}

		if end == len(runes) {
			break
		}

		next := start + chunkSize - overlap
		if next <= start {
			break
		}
		start = next
	}

	return chunks, nil
}

// ChunkID derives a stable identifier from the owning document and the
// chunk's position, so re-ingesting the same document maps onto the same
// chunk rows instead of creating duplicates.
func ChunkID(documentID string, position int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentID, position)))
	return hex.EncodeToString(sum[:12])
}
