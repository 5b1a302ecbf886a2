// WhatsApp webhook handlers.
//
//   - GET  /webhook  (subscription handshake)
//   - POST /webhook  (message notifications)
//
// Notifications are always acknowledged with 200 once authenticated: the
// platform retries anything else, and a payload it keeps resending will not
// parse any better the second time.
package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-commerce/internal/http/middleware"
	"github.com/tbourn/go-wa-commerce/internal/sysutil"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

// WebhookAck is the body of an accepted notification.
type WebhookAck struct {
	Status string `json:"status" example:"ok"`
}

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     Webhook subscription handshake
// @Description Echoes hub.challenge when hub.mode is "subscribe" and hub.verify_token matches the global token or a merchant's token. Bare mode/verify_token/challenge are accepted too.
// @Tags        Webhook
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Subscription mode"  example(subscribe)
// @Param       hub.verify_token  query  string  true  "Verify token"
// @Param       hub.challenge     query  string  true  "Challenge to echo"
//
// @Success     200  {string}  string                  "The challenge"
// @Failure     403  {object}  handlers.ErrorResponse  "Verification failed"
// @Router      /webhook [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := sysutil.FirstNonEmpty(c.Query("hub.mode"), c.Query("mode"))
	token := sysutil.FirstNonEmpty(c.Query("hub.verify_token"), c.Query("verify_token"))
	challenge := sysutil.FirstNonEmpty(c.Query("hub.challenge"), c.Query("challenge"))

	if mode != "subscribe" || token == "" || !h.tokenAccepted(c, token) {
		fail(c, http.StatusForbidden, ErrCodeVerifyFailed, "webhook verification failed")
		return
	}
	middleware.LoggerFrom(c).Info().Msg("webhook verified")
	c.String(http.StatusOK, challenge)
}

func (h *Handlers) tokenAccepted(c *gin.Context, token string) bool {
	if h.verifyToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		return true
	}
	if h.knownToken == nil {
		return false
	}
	known, err := h.knownToken(c.Request.Context(), token)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("verify token lookup failed")
		return false
	}
	return known
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Receive message notifications
// @Description Parses a WhatsApp Cloud API notification and dispatches each message. When an app secret is configured the X-Hub-Signature-256 header must match the body. Malformed payloads are acknowledged with status "ignored".
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       X-Hub-Signature-256  header  string  false  "sha256=<hex HMAC of the body>"
// @Param       body                 body    object  true   "Webhook notification"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Router      /webhook [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	raw, found := middleware.RawBody(c)
	if !found {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				fail(c, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "body too large")
				return
			}
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
			return
		}
		raw = b
	}

	msgs, err := whatsapp.Parse(raw)
	if err != nil {
		middleware.LoggerFrom(c).Info().Err(err).Int("bytes", len(raw)).Msg("webhook payload ignored")
		ok(c, http.StatusOK, WebhookAck{Status: "ignored"})
		return
	}
	if len(msgs) > 0 {
		h.dispatcher.Dispatch(c.Request.Context(), msgs)
	}
	ok(c, http.StatusOK, WebhookAck{Status: "ok"})
}
