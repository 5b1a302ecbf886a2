package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// ErrEmptyEmbedding is returned when the provider answers without values.
var ErrEmptyEmbedding = errors.New("empty embedding")

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// embedFunc is the provider call, swappable in tests.
type embedFunc func(ctx context.Context, model, text string) ([]float32, error)

// GeminiEmbedder embeds query text with a Gemini embedding model behind a
// circuit breaker. It satisfies search.Embedder.
type GeminiEmbedder struct {
	model string
	cb    *gobreaker.CircuitBreaker
	embed embedFunc
}

// NewGeminiEmbedder wraps client.
func NewGeminiEmbedder(client *genai.Client, model string, cb *gobreaker.CircuitBreaker) *GeminiEmbedder {
	return &GeminiEmbedder{
		model: model,
		cb:    cb,
		embed: func(ctx context.Context, model, text string) ([]float32, error) {
			resp, err := client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
			if err != nil {
				return nil, err
			}
			if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
				return nil, ErrEmptyEmbedding
			}
			return resp.Embeddings[0].Values, nil
		},
	}
}

// Embed returns the embedding of text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "GeminiEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("model", g.model))

	out, err := g.cb.Execute(func() (any, error) {
		v, err := g.embed(ctx, g.model, text)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return v, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out.([]float32), nil
}

// generateFunc is the provider call, swappable in tests.
type generateFunc func(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error)

// GeminiCompleter is a Completer that prompts a Gemini model directly and
// asks for a JSON answer shaped like GenerateResult. It serves deployments
// without a separate completion service.
type GeminiCompleter struct {
	model       string
	temperature float32
	cb          *gobreaker.CircuitBreaker
	generate    generateFunc
}

// NewGeminiCompleter wraps client.
func NewGeminiCompleter(client *genai.Client, model string, temperature float32, cb *gobreaker.CircuitBreaker) *GeminiCompleter {
	return &GeminiCompleter{
		model:       model,
		temperature: temperature,
		cb:          cb,
		generate: func(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
			if err != nil {
				return "", err
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				return "", errors.New("no candidates in Gemini response")
			}
			var b strings.Builder
			for _, part := range resp.Candidates[0].Content.Parts {
				if part != nil && part.Text != "" {
					b.WriteString(part.Text)
				}
			}
			return b.String(), nil
		},
	}
}

// Generate builds a prompt from req and parses the model's JSON answer.
func (g *GeminiCompleter) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, span := tracer.Start(ctx, "GeminiCompleter.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", req.MerchantID), attribute.String("model", g.model))

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		ResponseSchema:   generateResultSchema(),
	}
	prompt := buildPrompt(req)

	out, err := g.cb.Execute(func() (any, error) {
		return g.generate(ctx, g.model, prompt, cfg)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text := strings.TrimSpace(out.(string))
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(strings.TrimPrefix(text, "json"))

	var res GenerateResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("parse Gemini JSON response: %w", err)
	}
	if strings.TrimSpace(res.Response) == "" {
		return nil, errors.New("missing response in Gemini answer")
	}
	if res.OrderQuote != nil && len(res.OrderQuote.Items) == 0 {
		res.OrderQuote = nil
	}
	return &res, nil
}

func buildPrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the WhatsApp ordering assistant of %q.\n", req.MerchantName)
	b.WriteString("Answer in the customer's language. Be brief and friendly.\n")
	b.WriteString("When the customer clearly asks to order catalog items, fill order_quote with the items, quantities and total computed from catalog prices.\n\n")
	if req.ContextText != "" {
		b.WriteString("# CONTEXT\n")
		b.WriteString(req.ContextText)
		b.WriteString("\n\n")
	}
	if len(req.Catalog) > 0 {
		b.WriteString("# CATALOG\n")
		for _, c := range req.Catalog {
			fmt.Fprintf(&b, "- %s: %d", c.Name, c.Price)
			if c.Description != "" {
				b.WriteString(" (" + c.Description + ")")
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	b.WriteString("# CONVERSATION\n")
	for _, m := range req.History {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func generateResultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response":          {Type: genai.TypeString},
			"detected_language": {Type: genai.TypeString},
			"order_quote": {
				Type:     genai.TypeObject,
				Nullable: genai.Ptr(true),
				Properties: map[string]*genai.Schema{
					"total":         {Type: genai.TypeInteger},
					"items_summary": {Type: genai.TypeString},
					"not_found": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeString},
					},
					"items": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"item_name": {Type: genai.TypeString},
								"quantity":  {Type: genai.TypeInteger},
							},
							Required: []string{"item_name", "quantity"},
						},
					},
				},
			},
		},
		Required: []string{"response"},
	}
}
