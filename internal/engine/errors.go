package engine

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal and never retried: missing credentials,
// unique-key fields absent from the requested field list, inverted or
// future-dated backfill ranges.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// APIError is a non-success response from an external platform API after the
// adapter's internal retries are exhausted. StatusCode 0 means the request
// never produced a response (network failure).
type APIError struct {
	Platform   string
	StatusCode int
	Code       string // platform-specific error code, when present
	Message    string
	Transient  bool // set when the platform code is a documented transient one
	Err        error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (status %d, code %s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the error is worth retrying: 5xx, 429,
// no status at all, or a platform-specific transient code.
func (e *APIError) Retryable() bool {
	return e.Transient || e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// SchemaError is fatal: the destination cannot represent the data, e.g. a
// unique-key field missing from the schema definition.
type SchemaError struct {
	Table string
	Field string
	Msg   string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error on %s.%s: %s", e.Table, e.Field, e.Msg)
	}
	return fmt.Sprintf("schema error on %s: %s", e.Table, e.Msg)
}

// PayloadTooLargeError signals a size-limit rejection from a bulk endpoint
// or an oversized generated statement. It is the trigger for recursive batch
// halving and is deliberately a separate classification from APIError
// retryability, so a transient error can never start a halving cascade.
type PayloadTooLargeError struct {
	Platform string
	Entities int
	Bytes    int
	Limit    int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("%s: payload for %d entities exceeds size limit (%d > %d bytes)",
		e.Platform, e.Entities, e.Bytes, e.Limit)
}

// FatalSizeError is raised when halving has reached a single entity/record
// and the generated payload still exceeds the technology limit. Not
// retryable, not halvable.
type FatalSizeError struct {
	Subject string
	Bytes   int
	Limit   int
}

func (e *FatalSizeError) Error() string {
	if e.Bytes == 0 && e.Limit == 0 {
		return fmt.Sprintf("single %s still exceeds size limit after halving", e.Subject)
	}
	return fmt.Sprintf("single %s still exceeds size limit after halving (%d > %d bytes)",
		e.Subject, e.Bytes, e.Limit)
}

// IsRetryable reports whether err is a transient APIError. Everything else
// in the taxonomy is terminal for the request that produced it.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// IsPayloadTooLarge reports whether err is the size-limit classification
// used by batch halving. Kept strictly distinct from IsRetryable.
func IsPayloadTooLarge(err error) bool {
	var sizeErr *PayloadTooLargeError
	return errors.As(err, &sizeErr)
}
