package gwerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelProvidersExhaustedError_PreservesOrder(t *testing.T) {
	exhausted := NewModelProvidersExhaustedError("claude-router")
	exhausted.Add("anthropic-primary", NewInferenceServerError("anthropic-primary", 503, "overloaded", nil))
	exhausted.Add("anthropic-secondary", NewApiKeyMissingError("anthropic-secondary", "env::FALLBACK_KEY", nil))
	exhausted.Add("bedrock", NewInferenceClientError("bedrock", 400, "bad request", nil))

	assert.Equal(t, []string{"anthropic-primary", "anthropic-secondary", "bedrock"}, exhausted.Order)
	assert.Len(t, exhausted.Errors, 3)
	assert.Contains(t, exhausted.Error(), "anthropic-primary")
	assert.Contains(t, exhausted.Error(), "bedrock")
}

func TestModelProvidersExhaustedError_AddIsIdempotentForOrder(t *testing.T) {
	exhausted := NewModelProvidersExhaustedError("m")
	exhausted.Add("p1", errors.New("first"))
	exhausted.Add("p1", errors.New("second"))

	assert.Equal(t, []string{"p1"}, exhausted.Order)
	assert.EqualError(t, exhausted.Errors["p1"], "second")
}

func TestIsFailoverTriggering(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"api key missing", NewApiKeyMissingError("openai", "env::X", nil), true},
		{"client 4xx", NewInferenceClientError("openai", 429, "rate limited", nil), true},
		{"server 5xx", NewInferenceServerError("openai", 503, "down", nil), true},
		{"provider timeout", NewModelProviderTimeoutError("openai", nil), true},
		{"invalid request", NewInvalidRequestError("empty messages", nil), false},
		{"rate limit missing max tokens", NewRateLimitMissingMaxTokensError("openai"), false},
		{"serialization", NewSerializationError("openai", "request", errors.New("boom")), false},
		{"model timeout", NewModelTimeoutError("claude-router"), false},
		{"fatal stream", NewFatalStreamError("openai", "malformed frame", nil), false},
		{"plain error", errors.New("generic"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFailoverTriggering(tc.err))
		})
	}
}

func TestErrorPredicates_MatchOnlyOwnKind(t *testing.T) {
	err := NewFatalStreamError("anthropic", "bad frame", errors.New("eof"))

	assert.True(t, IsFatalStreamError(err))
	assert.False(t, IsInferenceServerError(err))
	assert.False(t, IsModelTimeoutError(err))

	assert.EqualError(t, errors.Unwrap(err), "eof")
}

func TestRateLimitMissingMaxTokensError_Message(t *testing.T) {
	err := NewRateLimitMissingMaxTokensError("together")
	assert.Contains(t, err.Error(), "together")
	assert.Contains(t, err.Error(), "max_tokens")
}
