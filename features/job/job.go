package job

import (
	"encoding/json"
	"time"
)

// Job is a dead-lettered embedding task parked in failed_jobs after the
// worker gave up. Payload is the original NSQ message body, so a retry
// republishes it verbatim.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
