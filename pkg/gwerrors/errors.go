// Package gwerrors is the tagged error hierarchy the routing core raises
// and matches on: one struct per error kind, each with Error()/Unwrap(),
// an Is<Kind> predicate, and a New<Kind> constructor — the same shape the
// provider package uses, extended with the kinds the router and adapter
// need (spec.md §7).
package gwerrors

import (
	"errors"
	"fmt"
)

// ApiKeyMissingError is raised by the Credential Resolver when a
// provider binding's credential (and every fallback) fails to resolve
// (spec.md §4.1, §7).
type ApiKeyMissingError struct {
	Provider   string
	Credential string // textual form, e.g. "env::OPENAI_API_KEY"
	Cause      error
}

func (e *ApiKeyMissingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("missing credential for provider %q (%s): %v", e.Provider, e.Credential, e.Cause)
	}
	return fmt.Sprintf("missing credential for provider %q (%s)", e.Provider, e.Credential)
}

func (e *ApiKeyMissingError) Unwrap() error { return e.Cause }

func IsApiKeyMissingError(err error) bool {
	var target *ApiKeyMissingError
	return errors.As(err, &target)
}

func NewApiKeyMissingError(provider, credential string, cause error) *ApiKeyMissingError {
	return &ApiKeyMissingError{Provider: provider, Credential: credential, Cause: cause}
}

// InvalidRequestError is raised when a CanonicalRequest fails a
// precondition the core itself enforces before touching any provider
// (e.g. a ModelConfig that fails Validate) (spec.md §7). A rate-limited
// request without max_tokens is reported as RateLimitMissingMaxTokensError
// instead.
type InvalidRequestError struct {
	Reason string
	Cause  error
}

func (e *InvalidRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return e.Cause }

func IsInvalidRequestError(err error) bool {
	var target *InvalidRequestError
	return errors.As(err, &target)
}

func NewInvalidRequestError(reason string, cause error) *InvalidRequestError {
	return &InvalidRequestError{Reason: reason, Cause: cause}
}

// RateLimitMissingMaxTokensError is its own error kind (not an
// InvalidRequestError) for the precondition failure spec.md §4.5 calls out by name: a rate-limited
// binding was invoked without max_tokens set, so the ticket manager has
// no basis to reserve an output-token estimate.
type RateLimitMissingMaxTokensError struct {
	Provider string
}

func (e *RateLimitMissingMaxTokensError) Error() string {
	return fmt.Sprintf("provider %q is rate-limited but request has no max_tokens", e.Provider)
}

func IsRateLimitMissingMaxTokensError(err error) bool {
	var target *RateLimitMissingMaxTokensError
	return errors.As(err, &target)
}

func NewRateLimitMissingMaxTokensError(provider string) *RateLimitMissingMaxTokensError {
	return &RateLimitMissingMaxTokensError{Provider: provider}
}

// InferenceClientError represents a 4xx failure from a provider's HTTP
// response, or a transport-level failure with no status code (spec.md
// §4.4, §7): the binding that produced it is recorded in the
// exhaustion map and the router fails over to the next one — a 4xx from
// one provider says nothing about whether another provider/account
// would accept the same request.
type InferenceClientError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *InferenceClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: client error (%d): %s (caused by: %v)", e.Provider, e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: client error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *InferenceClientError) Unwrap() error { return e.Cause }

func IsInferenceClientError(err error) bool {
	var target *InferenceClientError
	return errors.As(err, &target)
}

func NewInferenceClientError(provider string, statusCode int, message string, cause error) *InferenceClientError {
	return &InferenceClientError{Provider: provider, StatusCode: statusCode, Message: message, Cause: cause}
}

// InferenceServerError represents a retryable 5xx (or other non-2xx
// status outside the client-error set) failure from a provider (spec.md §4.4, §7): the router fails over to
// the next provider binding.
type InferenceServerError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *InferenceServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: server error (%d): %s (caused by: %v)", e.Provider, e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: server error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *InferenceServerError) Unwrap() error { return e.Cause }

func IsInferenceServerError(err error) bool {
	var target *InferenceServerError
	return errors.As(err, &target)
}

func NewInferenceServerError(provider string, statusCode int, message string, cause error) *InferenceServerError {
	return &InferenceServerError{Provider: provider, StatusCode: statusCode, Message: message, Cause: cause}
}

// ModelProviderTimeoutError records that one provider binding's advisory
// per-provider timeout elapsed (spec.md §4.7); the router wraps this as
// a failover-triggering cause, distinct from the terminal
// ModelTimeoutError below.
type ModelProviderTimeoutError struct {
	Provider string
	Cause    error
}

func (e *ModelProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %q timed out", e.Provider)
}

func (e *ModelProviderTimeoutError) Unwrap() error { return e.Cause }

func IsModelProviderTimeoutError(err error) bool {
	var target *ModelProviderTimeoutError
	return errors.As(err, &target)
}

func NewModelProviderTimeoutError(provider string, cause error) *ModelProviderTimeoutError {
	return &ModelProviderTimeoutError{Provider: provider, Cause: cause}
}

// ModelTimeoutError is terminal: the top-level timeout for the whole
// Route call elapsed. It always wins over a simultaneously-firing
// ModelProviderTimeoutError (spec.md §4.7 Open Question, resolved in
// DESIGN.md) and ends the request — the router does not fail over.
type ModelTimeoutError struct {
	Model string
}

func (e *ModelTimeoutError) Error() string {
	return fmt.Sprintf("model %q exceeded its top-level timeout", e.Model)
}

func IsModelTimeoutError(err error) bool {
	var target *ModelTimeoutError
	return errors.As(err, &target)
}

func NewModelTimeoutError(model string) *ModelTimeoutError {
	return &ModelTimeoutError{Model: model}
}

// ModelProvidersExhaustedError is raised by the Router when every
// provider binding for a model has failed (spec.md §4.7). Errors is
// keyed by provider name but Order preserves the binding order so a
// caller can reconstruct which attempt failed with which error without
// depending on Go's unordered map iteration.
type ModelProvidersExhaustedError struct {
	Model  string
	Order  []string
	Errors map[string]error
}

func (e *ModelProvidersExhaustedError) Error() string {
	msg := fmt.Sprintf("model %q: all %d provider(s) failed:", e.Model, len(e.Order))
	for _, name := range e.Order {
		msg += fmt.Sprintf(" [%s: %v]", name, e.Errors[name])
	}
	return msg
}

func IsModelProvidersExhaustedError(err error) bool {
	var target *ModelProvidersExhaustedError
	return errors.As(err, &target)
}

func NewModelProvidersExhaustedError(model string) *ModelProvidersExhaustedError {
	return &ModelProvidersExhaustedError{Model: model, Errors: make(map[string]error)}
}

// Add records one provider's terminal error while preserving insertion
// order for Error()'s rendering.
func (e *ModelProvidersExhaustedError) Add(provider string, err error) {
	if _, seen := e.Errors[provider]; !seen {
		e.Order = append(e.Order, provider)
	}
	e.Errors[provider] = err
}

// FatalStreamError represents a mid-stream failure that cannot be
// recovered by failover (spec.md §4.8): the Stream Wrapper has already
// forwarded chunks to the caller, so the Router cannot retry the request
// against another provider without producing a duplicated/inconsistent
// reply. The Cache Port must not be written on this path (spec.md §4.6).
type FatalStreamError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *FatalStreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: fatal stream error: %s (caused by: %v)", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: fatal stream error: %s", e.Provider, e.Message)
}

func (e *FatalStreamError) Unwrap() error { return e.Cause }

func IsFatalStreamError(err error) bool {
	var target *FatalStreamError
	return errors.As(err, &target)
}

func NewFatalStreamError(provider, message string, cause error) *FatalStreamError {
	return &FatalStreamError{Provider: provider, Message: message, Cause: cause}
}

// SerializationError wraps a failure to marshal a CanonicalRequest into
// a provider's wire format, or to unmarshal its response (spec.md §4.2,
// §4.3).
type SerializationError struct {
	Provider string
	Stage    string // "request" or "response"
	Cause    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: %s serialization failed: %v", e.Provider, e.Stage, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

func IsSerializationError(err error) bool {
	var target *SerializationError
	return errors.As(err, &target)
}

func NewSerializationError(provider, stage string, cause error) *SerializationError {
	return &SerializationError{Provider: provider, Stage: stage, Cause: cause}
}

// UnsupportedModelProviderForBatchInferenceError is raised when a batch
// inference call names a ProviderBinding.Kind whose KindSpec doesn't set
// SupportsBatch (spec.md §4.4 batch contract, §6): batch is an opt-in
// capability per provider family, not a universal one.
type UnsupportedModelProviderForBatchInferenceError struct {
	Provider string
	Kind     string
}

func (e *UnsupportedModelProviderForBatchInferenceError) Error() string {
	return fmt.Sprintf("provider %q (kind %q) does not support batch inference", e.Provider, e.Kind)
}

func IsUnsupportedModelProviderForBatchInferenceError(err error) bool {
	var target *UnsupportedModelProviderForBatchInferenceError
	return errors.As(err, &target)
}

func NewUnsupportedModelProviderForBatchInferenceError(provider, kind string) *UnsupportedModelProviderForBatchInferenceError {
	return &UnsupportedModelProviderForBatchInferenceError{Provider: provider, Kind: kind}
}

// IsFailoverTriggering reports whether err should make the Router try
// the next provider binding rather than surface immediately to the
// caller (spec.md §7): missing credentials, 4xx/5xx/transport failures,
// and per-provider timeouts all advance to the next binding.
// InvalidRequestError, RateLimitMissingMaxTokensError, SerializationError,
// and ModelTimeoutError are terminal — they fail identically against
// every remaining provider (or, for ModelTimeoutError, there is no time
// left to try one), so the router does not bother.
func IsFailoverTriggering(err error) bool {
	switch {
	case IsApiKeyMissingError(err):
		return true
	case IsInferenceClientError(err):
		return true
	case IsInferenceServerError(err):
		return true
	case IsModelProviderTimeoutError(err):
		return true
	default:
		return false
	}
}
