package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-wa-commerce/internal/resilience"
)

var tracer = otel.Tracer("whatsapp")

const (
	DefaultGraphBaseURL = "https://graph.facebook.com/v21.0"
	DefaultAltBaseURL   = "https://waba-v2.360dialog.io"
)

// ErrNoCredentials is returned when neither a token nor an API key is known.
var ErrNoCredentials = errors.New("no messaging credentials")

// Creds are per-merchant overrides of the default credentials. APIKey
// selects the alternate provider.
type Creds struct {
	AccessToken string
	APIKey      string
	BaseURL     string
}

// Sender delivers outbound messages.
type Sender interface {
	SendMessage(ctx context.Context, phoneNumberID, to, text string, creds Creds) error
	SendImage(ctx context.Context, phoneNumberID, to, imageURL, caption string, creds Creds) error
}

// Client is the HTTP Sender.
type Client struct {
	httpClient   *http.Client
	graphBaseURL string
	defaultToken string
	cb           *gobreaker.CircuitBreaker
	cfg          resilience.Config
}

// NewClient creates a Client. graphBaseURL defaults to DefaultGraphBaseURL;
// defaultToken is used when a merchant has no token of its own.
func NewClient(httpClient *http.Client, graphBaseURL, defaultToken string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if graphBaseURL == "" {
		graphBaseURL = DefaultGraphBaseURL
	}
	return &Client{
		httpClient:   httpClient,
		graphBaseURL: strings.TrimRight(graphBaseURL, "/"),
		defaultToken: defaultToken,
		cb:           cb,
		cfg:          cfg,
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             *struct {
		Body       string `json:"body"`
		PreviewURL bool   `json:"preview_url"`
	} `json:"text,omitempty"`
	Image *struct {
		Link    string `json:"link"`
		Caption string `json:"caption,omitempty"`
	} `json:"image,omitempty"`
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, phoneNumberID, to, text string, creds Creds) error {
	p := textPayload{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
	p.Text = &struct {
		Body       string `json:"body"`
		PreviewURL bool   `json:"preview_url"`
	}{Body: text}
	return c.send(ctx, "SendMessage", phoneNumberID, p, creds)
}

// SendImage sends an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, phoneNumberID, to, imageURL, caption string, creds Creds) error {
	p := textPayload{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "image"}
	p.Image = &struct {
		Link    string `json:"link"`
		Caption string `json:"caption,omitempty"`
	}{Link: imageURL, Caption: caption}
	return c.send(ctx, "SendImage", phoneNumberID, p, creds)
}

func (c *Client) send(ctx context.Context, op, phoneNumberID string, payload textPayload, creds Creds) error {
	ctx, span := tracer.Start(ctx, "whatsapp."+op)
	defer span.End()
	span.SetAttributes(attribute.String("phone_number_id", phoneNumberID), attribute.String("message.type", payload.Type))

	url, header, value, err := c.target(phoneNumberID, creds)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(header, value)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode/100 != 2 {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				err := fmt.Errorf("send returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return resilience.Permanent(err)
				}
				return err
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// target picks the provider endpoint and auth header for creds.
func (c *Client) target(phoneNumberID string, creds Creds) (url, header, value string, err error) {
	if creds.APIKey != "" {
		base := creds.BaseURL
		if base == "" {
			base = DefaultAltBaseURL
		}
		return strings.TrimRight(base, "/") + "/messages", "D360-API-KEY", creds.APIKey, nil
	}
	token := creds.AccessToken
	if token == "" {
		token = c.defaultToken
	}
	if token == "" {
		return "", "", "", ErrNoCredentials
	}
	base := c.graphBaseURL
	if creds.BaseURL != "" {
		base = strings.TrimRight(creds.BaseURL, "/")
	}
	return base + "/" + phoneNumberID + "/messages", "Authorization", "Bearer " + token, nil
}
