package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/resilience"
)

func TestGeminiEmbedder_Embed(t *testing.T) {
	e := &GeminiEmbedder{
		model: "text-embedding-004",
		cb:    resilience.NewCircuitBreaker("embed-ok", nil),
		embed: func(_ context.Context, model, text string) ([]float32, error) {
			if model != "text-embedding-004" || text != "mafé" {
				t.Errorf("unexpected call %q %q", model, text)
			}
			return []float32{0.1, 0.2}, nil
		},
	}
	v, err := e.Embed(context.Background(), "mafé")
	if err != nil || len(v) != 2 {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestGeminiEmbedder_EmptyAndError(t *testing.T) {
	e := &GeminiEmbedder{
		cb:    resilience.NewCircuitBreaker("embed-empty", nil),
		embed: func(context.Context, string, string) ([]float32, error) { return nil, nil },
	}
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, ErrEmptyEmbedding) {
		t.Fatalf("expected ErrEmptyEmbedding, got %v", err)
	}

	boom := errors.New("quota")
	e.embed = func(context.Context, string, string) ([]float32, error) { return nil, boom }
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGeminiCompleter_ParsesJSONAnswer(t *testing.T) {
	var prompt string
	g := &GeminiCompleter{
		model: "gemini-2.0-flash",
		cb:    resilience.NewCircuitBreaker("gen-ok", nil),
		generate: func(_ context.Context, _ string, p string, cfg *genai.GenerateContentConfig) (string, error) {
			prompt = p
			if cfg.ResponseMIMEType != "application/json" || cfg.ResponseSchema == nil {
				t.Errorf("expected JSON response config")
			}
			return "```json\n" + `{"response":"Sure!","detected_language":"fr","order_quote":{"total":7000,"items_summary":"2x Mafé","items":[{"item_name":"Mafé","quantity":2}]}}` + "\n```", nil
		},
	}
	res, err := g.Generate(context.Background(), GenerateRequest{
		MerchantName: "Chez Fatou",
		ContextText:  "Hours: 10-22",
		Catalog:      []CatalogEntry{{Name: "Mafé", Price: 3500}},
		History:      []domain.ChatMessage{{Role: domain.RoleUser, Content: "I want 2 mafé"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Response != "Sure!" || res.OrderQuote == nil || res.OrderQuote.Total != 7000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, want := range []string{"Chez Fatou", "Hours: 10-22", "- Mafé: 3500", "user: I want 2 mafé"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGeminiCompleter_EmptyQuoteDropped(t *testing.T) {
	g := &GeminiCompleter{
		cb: resilience.NewCircuitBreaker("gen-empty-quote", nil),
		generate: func(context.Context, string, string, *genai.GenerateContentConfig) (string, error) {
			return `{"response":"Hello","order_quote":{"total":0,"items":[]}}`, nil
		},
	}
	res, err := g.Generate(context.Background(), GenerateRequest{})
	if err != nil || res.OrderQuote != nil {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestGeminiCompleter_Errors(t *testing.T) {
	g := &GeminiCompleter{
		cb: resilience.NewCircuitBreaker("gen-err", nil),
		generate: func(context.Context, string, string, *genai.GenerateContentConfig) (string, error) {
			return "", errors.New("RESOURCE_EXHAUSTED")
		},
	}
	if _, err := g.Generate(context.Background(), GenerateRequest{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	g.generate = func(context.Context, string, string, *genai.GenerateContentConfig) (string, error) {
		return `{"detected_language":"en"}`, nil
	}
	if _, err := g.Generate(context.Background(), GenerateRequest{}); err == nil {
		t.Fatalf("expected error for missing response")
	}
}
