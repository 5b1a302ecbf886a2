package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

const (
	ctxKeyRawBody    = "webhook.body"
	ctxKeyRateBypass = "rate.bypass"
)

// WebhookSignature buffers the request body and, when secret is set, checks
// it against the X-Hub-Signature-256 header. Mismatched or missing
// signatures are rejected with 403. Verified requests skip rate limiting.
//
// The buffered body is available to handlers through RawBody and is also
// restored on the request.
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_request",
				"message":    "unreadable body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(ctxKeyRawBody, body)

		if secret == "" {
			c.Next()
			return
		}
		if err := whatsapp.VerifySignature(secret, body, c.GetHeader(whatsapp.SignatureHeader)); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "invalid_signature",
				"message":    "signature verification failed",
			})
			return
		}
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}
}

// RawBody returns the body buffered by WebhookSignature.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ctxKeyRawBody)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
