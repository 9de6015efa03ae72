package gemini

import "fmt"

// EmbeddingError kinds.
const (
	KindTransport         = "transport"
	KindMalformedResponse = "malformed_response"
)

// EmbeddingError classifies an embedding failure so callers can decide
// whether a retry makes sense (transport) or not (malformed response).
// The message never includes raw provider response bodies.
type EmbeddingError struct {
	Kind string
	Err  error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("embedding %s", e.Kind)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed.
func (e *EmbeddingError) Retryable() bool {
	return e.Kind == KindTransport
}
