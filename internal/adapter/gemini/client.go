package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// MaxEmbedChars bounds the text sent to the embedding endpoint, counted
// in characters. Longer inputs are truncated on a rune boundary (logged,
// not an error) before the call.
const MaxEmbedChars = 20000

// Client wraps the two Gemini surfaces the pipeline needs: embedding for
// chunks/queries and text generation for report structuring and answer
// synthesis.
type Client struct {
	client        *genai.Client
	embedModel    string
	generateModel string
}

func NewClient(ctx context.Context, apiKey, embedModel, generateModel string, opts ...option.ClientOption) (*Client, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:        client,
		embedModel:    embedModel,
		generateModel: generateModel,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Embed returns the embedding vector for text. Failures are classified as
// *EmbeddingError: transport (call failed) or malformed_response (provider
// returned no usable vector).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if n := utf8.RuneCountInString(text); n > MaxEmbedChars {
		slog.WarnContext(ctx, "truncating embedding input", "model", c.embedModel, "length", n, "max", MaxEmbedChars)
		text = string([]rune(text)[:MaxEmbedChars])
	}

	em := c.client.EmbeddingModel(c.embedModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &EmbeddingError{Kind: KindTransport, Err: err}
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &EmbeddingError{Kind: KindMalformedResponse, Err: errors.New("response carries no embedding values")}
	}
	return res.Embedding.Values, nil
}

// Generate sends prompt to the generative model and returns the raw text
// response. Callers pick the temperature: ingestion structuring runs hot,
// grounded synthesis runs cold.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	model := c.client.GenerativeModel(c.generateModel)
	model.SetTemperature(temperature)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", errors.New("generate content: empty response")
	}

	var out string
	for _, part := range res.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out += string(txt)
		}
	}
	if out == "" {
		return "", errors.New("generate content: no text parts in response")
	}
	return out, nil
}
