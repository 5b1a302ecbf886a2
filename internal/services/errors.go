// Package services defines the message pipeline: the single-merchant and
// concierge processors, the order-quote state machine and the dispatcher
// that routes inbound WhatsApp messages to them.
//
// This file centralizes service-level error values and the error kinds used
// to classify pipeline failures for logs and metrics.
package services

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrMerchantNotFound indicates no merchant owns the phone-number id of an
	// inbound message.
	ErrMerchantNotFound = errors.New("merchant not found")

	// ErrMerchantInactive indicates the merchant exists but is switched off.
	ErrMerchantInactive = errors.New("merchant inactive")

	// ErrUnsupportedMessage is returned for message types the pipeline drops.
	ErrUnsupportedMessage = errors.New("unsupported message type")

	// ErrEmptyText is returned for text messages with no content.
	ErrEmptyText = errors.New("empty message text")

	// ErrInvalidCatalog is returned by catalog management for invalid items.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindTransient  ErrorKind = "transient"
	KindMalformed  ErrorKind = "malformed"
	KindValidation ErrorKind = "validation"
)

// PipelineError attaches a kind and the failing step to an error.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func wrapErr(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, defaulting to KindTransient for
// unclassified failures.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrMerchantNotFound), errors.Is(err, ErrMerchantInactive):
		return KindConfig
	case errors.Is(err, ErrUnsupportedMessage), errors.Is(err, ErrEmptyText):
		return KindMalformed
	case errors.Is(err, ErrInvalidCatalog):
		return KindValidation
	}
	return KindTransient
}
