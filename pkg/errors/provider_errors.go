// Package errors provides the error envelope storage provider adapters wrap their failures in,
// plus low-level helpers used during classification.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderNotConfigured is returned when no adapter is registered for a provider
	// or the provider is missing required settings.
	ErrProviderNotConfigured = errors.New("storage provider is not configured")

	// ErrFeatureNotSupported is returned when an adapter cannot perform an operation.
	ErrFeatureNotSupported = errors.New("operation not supported by storage provider")
)

// ProviderError wraps a failed provider call with the transport details an adapter observed.
type ProviderError struct {
	Provider   string // e.g. google-drive, dropbox
	Operation  string // e.g. upload, refresh_token
	StatusCode int    // HTTP status, 0 when the call never got a response
	Code       string // provider error code, e.g. "storageQuotaExceeded", "insufficient_space"
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Operation != "" {
		b.WriteString(" ")
		b.WriteString(e.Operation)
	}
	b.WriteString(" failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError for an HTTP response.
func NewProviderError(provider, operation string, status int, code, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if pe, ok := AsProviderError(err); ok {
		return pe.StatusCode
	}
	return 0
}

// Text returns the lower-cased text used for pattern matching: provider code, message and the
// full error string.
func Text(err error) string {
	if err == nil {
		return ""
	}
	parts := []string{err.Error()}
	if pe, ok := AsProviderError(err); ok {
		parts = append(parts, pe.Code, pe.Message)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// ContainsAny reports whether text contains any of the given lower-case keywords.
func ContainsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// IsConnectionError checks if the error text indicates a connection problem.
func IsConnectionError(text string) bool {
	return ContainsAny(strings.ToLower(text),
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"connection lost",
		"can't connect",
		"could not resolve host",
		"network is unreachable",
		"dial tcp",
		"tls handshake",
		"unexpected eof",
	)
}

// IsTimeoutText checks if the error text indicates a timeout.
func IsTimeoutText(text string) bool {
	return ContainsAny(strings.ToLower(text),
		"timeout",
		"timed out",
		"deadline exceeded",
	)
}
