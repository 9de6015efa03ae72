// Package transform turns free-form text into structured JSON by way of a
// generative model. The model is not trusted to emit pure JSON, so the raw
// response goes through an extraction step before parsing.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// TransformError kinds.
const (
	KindInvalidJSON = "invalid_json"
	KindTransport   = "transport"
)

// previewLen bounds how much of an unparsable payload ends up in error
// messages and logs.
const previewLen = 100

type TransformError struct {
	Kind    string
	Preview string
	Err     error
}

func (e *TransformError) Error() string {
	if e.Kind == KindInvalidJSON {
		return fmt.Sprintf("transform %s: %v (preview: %q)", e.Kind, e.Err, e.Preview)
	}
	return fmt.Sprintf("transform %s: %v", e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Generator is the generative-model surface the transformer needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

type Transformer struct {
	gen         Generator
	temperature float32
}

func NewTransformer(gen Generator) *Transformer {
	// Structuring wants some creative latitude; synthesis elsewhere runs colder.
	return &Transformer{gen: gen, temperature: 0.7}
}

// Transform asks the model to restructure rawText according to schema and
// instructions, then extracts and parses the JSON payload from the
// response. The result is opaque JSON; field-level validation is the
// caller's job since the provider cannot be trusted to match the schema
// exactly.
func (t *Transformer) Transform(ctx context.Context, rawText, schema, instructions string) (json.RawMessage, error) {
	prompt := buildPrompt(rawText, schema, instructions)

	out, err := t.gen.Generate(ctx, prompt, t.temperature)
	if err != nil {
		return nil, &TransformError{Kind: KindTransport, Err: err}
	}

	candidate := ExtractJSON(out)
	if !json.Valid([]byte(candidate)) {
		slog.WarnContext(ctx, "model response is not valid json", "preview", preview(candidate))
		return nil, &TransformError{
			Kind:    KindInvalidJSON,
			Preview: preview(candidate),
			Err:     fmt.Errorf("model response is not valid JSON"),
		}
	}

	return json.RawMessage(candidate), nil
}

func buildPrompt(rawText, schema, instructions string) string {
	return fmt.Sprintf(`%s

Respond with a single JSON document matching this schema exactly. Do not add fields. Do not include commentary outside the JSON.

Schema:
%s

Input:
%s`, instructions, schema, rawText)
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}
