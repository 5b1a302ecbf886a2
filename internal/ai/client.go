package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-wa-commerce/internal/resilience"
)

var tracer = otel.Tracer("ai")

// HTTPCompleter calls the completion service at POST {baseURL}/v1/generate.
type HTTPCompleter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewHTTPCompleter creates a new HTTPCompleter. apiKey is sent as a bearer
// token when non-empty.
func NewHTTPCompleter(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HTTPCompleter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPCompleter{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

// Generate invokes the completion service.
func (c *HTTPCompleter) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, span := tracer.Start(ctx, "HTTPCompleter.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant.id", req.MerchantID),
		attribute.Int("history.len", len(req.History)),
		attribute.Int("catalog.len", len(req.Catalog)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	result, err := c.cb.Execute(func() (any, error) {
		var out GenerateResult
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				err := fmt.Errorf("generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return resilience.Permanent(err)
				}
				return err
			}

			out = GenerateResult{}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return resilience.Permanent(fmt.Errorf("decode generate response: %w", err))
			}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &out, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res := result.(*GenerateResult)
	span.SetAttributes(attribute.Bool("quote.present", res.OrderQuote != nil))
	return res, nil
}
