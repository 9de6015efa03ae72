package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ingestion steps, executed strictly in order.
const (
	StepTransform = "transform"
	StepChunk     = "chunk"
	StepDispatch  = "dispatch"
	StepPersist   = "persist"
)

// Step statuses.
const (
	StatusWaiting    = "waiting"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Chunk embedding statuses. A chunk transitions exactly once out of
// pending; completed rows are never overwritten by retries.
const (
	EmbedPending   = "pending"
	EmbedCompleted = "completed"
	EmbedFailed    = "failed"
)

var Steps = []string{StepTransform, StepChunk, StepDispatch, StepPersist}

// StepError names the ingestion step that failed and the underlying cause.
// Earlier steps are not rolled back; their side effects stay committed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("ingestion step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Document is one ingested unit of content. RawContent is retained so the
// pipeline can be re-run for the same id.
type Document struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Categories  []string        `json:"categories"`
	Regulations []string        `json:"regulations"`
	Country     string          `json:"country,omitempty"`
	Region      string          `json:"region,omitempty"`
	RAGEnabled  bool            `json:"rag_enabled"`
	RawContent  string          `json:"-"`
	Report      json.RawMessage `json:"report,omitempty"`
	Steps       StepStatuses    `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type StepStatuses struct {
	Transform string `json:"transform"`
	Chunk     string `json:"chunk"`
	Dispatch  string `json:"dispatch"`
	Persist   string `json:"persist"`
}

func waitingSteps() StepStatuses {
	return StepStatuses{
		Transform: StatusWaiting,
		Chunk:     StatusWaiting,
		Dispatch:  StatusWaiting,
		Persist:   StatusWaiting,
	}
}

func (s *StepStatuses) set(step, status string) {
	switch step {
	case StepTransform:
		s.Transform = status
	case StepChunk:
		s.Chunk = status
	case StepDispatch:
		s.Dispatch = status
	case StepPersist:
		s.Persist = status
	}
}

// Chunk is a contiguous slice of a document's text. Content is never
// empty; blank windows are dropped before persistence.
type Chunk struct {
	DocumentID      string    `json:"document_id"`
	ChunkID         string    `json:"chunk_id"`
	Content         string    `json:"content"`
	Position        int       `json:"position"`
	Embedding       []float32 `json:"-"`
	EmbeddingStatus string    `json:"embedding_status"`
	EmbeddingError  string    `json:"embedding_error,omitempty"`
}

// Report is the structured output of the transform step.
type Report struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Summary string `json:"summary"`
	Content struct {
		Sections       []ReportSection `json:"sections"`
		Visualizations []json.RawMessage `json:"visualizations,omitempty"`
		Tables         []json.RawMessage `json:"tables,omitempty"`
	} `json:"content"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
	Country  string   `json:"country"`
	Region   string   `json:"region"`
}

type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

var ErrMalformedReport = errors.New("malformed report")

// Validate enforces the minimum shape a well-formed report must have. The
// transformer hands back opaque JSON; the schema check happens here.
func (r *Report) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrMalformedReport)
	}
	if strings.TrimSpace(r.Slug) == "" {
		return fmt.Errorf("%w: missing slug", ErrMalformedReport)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("%w: missing summary", ErrMalformedReport)
	}
	if len(r.Content.Sections) == 0 {
		return fmt.Errorf("%w: no content sections", ErrMalformedReport)
	}
	return nil
}

// PlainText flattens the report into the text that gets chunked and
// embedded: title, summary, then every section in reading order.
func (r *Report) PlainText() string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteString("\n\n")
	b.WriteString(r.Summary)
	for _, s := range r.Content.Sections {
		b.WriteString("\n\n")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString("\n")
		}
		b.WriteString(s.Content)
	}
	return b.String()
}

// applyReport copies report metadata onto the document. Tags are treated
// as regulation identifiers; the category field carries the category set.
func (d *Document) applyReport(r *Report) {
	d.Title = r.Title
	d.Summary = r.Summary
	d.Country = r.Country
	d.Region = r.Region
	d.Regulations = dedupe(r.Tags)
	if r.Category != "" {
		d.Categories = []string{r.Category}
	} else {
		d.Categories = []string{}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
