// Package handlers provides the HTTP handlers of the WhatsApp webhook and the
// merchant admin API.
//
// Error codes are lowercase snake_case. Generic codes mirror HTTP status
// semantics; domain codes name failures the status alone cannot convey.
// Clients branch on the code, never on the message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Webhook
	ErrCodeVerifyFailed     = "verification_failed"
	ErrCodeInvalidSignature = "invalid_signature"

	// Admin API
	ErrCodeMerchantNotFound = "merchant_not_found"
	ErrCodeInvalidCatalog   = "invalid_catalog"
	ErrCodeCatalogFailed    = "catalog_update_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeClearFailed      = "clear_failed"
)
