package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/credential"
	"github.com/inferencegw/core/pkg/gwerrors"
	internalhttp "github.com/inferencegw/core/pkg/internal/http"
	"github.com/inferencegw/core/pkg/gwtelemetry"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/ratelimit"
)

// inlineTracker runs every spawned task synchronously so ticket returns
// and cache writes are observable immediately after a call returns,
// instead of racing a background goroutine in a test.
type inlineTracker struct{}

func (inlineTracker) Go(name string, fn func() error) { _ = fn() }

// noopSink is a gwtelemetry.Sink that never records anything, standing
// in for the teacher's "telemetry is off by default" stance in tests
// that don't assert on spans.
type noopSink struct{}

func (noopSink) StartAttempt(ctx context.Context, model, provider string) (context.Context, gwtelemetry.Attempt) {
	return ctx, noopAttempt{}
}

type noopAttempt struct{}

func (noopAttempt) SetAttribute(string, interface{})    {}
func (noopAttempt) MarkOpenInferenceChain()             {}
func (noopAttempt) RecordUsage(gwtypes.Usage)           {}
func (noopAttempt) RecordError(error)                   {}
func (noopAttempt) End()                                {}

func openAIWireResponse(text, finishReason string) map[string]interface{} {
	return map[string]interface{}{
		"id": "chatcmpl-1",
		"choices": []map[string]interface{}{
			{
				"message":       map[string]interface{}{"content": text},
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	}
}

// testBinding sets BaseURL explicitly to the httptest server under
// test: the adapter resolves each attempt's endpoint from the binding
// (or the KindSpec's documented default) rather than from whatever
// base URL the shared HTTP client happened to be constructed with, so
// tests must route through the same override production config would
// use.
func testBinding(name, baseURL string) gwtypes.ProviderBinding {
	return gwtypes.ProviderBinding{
		Name:       name,
		Kind:       "openai",
		BaseURL:    baseURL,
		ModelID:    "gpt-4o-mini",
		Credential: gwtypes.Credential{Kind: gwtypes.CredentialStatic, StaticValue: "sk-test"},
	}
}

func testClients(t *testing.T, server *httptest.Server) Clients {
	t.Helper()
	return Clients{
		HTTP:       internalhttp.NewClient(internalhttp.Config{}),
		Credential: credential.NewResolver(),
		RateLimit:  ratelimit.NewManager(),
		Cache:      cache.NewPort(cache.NewMemoryStore(0, 0)),
		Telemetry:  noopSink{},
	}
}

func basicRequest(maxTokens *int) *gwtypes.CanonicalRequest {
	return &gwtypes.CanonicalRequest{
		Messages: []gwtypes.RequestMessage{{
			Role:    gwtypes.RoleUser,
			Content: []gwtypes.ContentBlock{{Kind: gwtypes.ContentText, Text: "what is the capital of France?"}},
		}},
		MaxTokens: maxTokens,
	}
}

func TestAdapter_Infer_SuccessAttachesDiagnosticsAndLatency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris", "stop"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	result, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
		CacheMode: cache.Mode{EnabledRead: true, EnabledWrite: true},
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Cached)
	assert.Equal(t, "Paris", result.Response.Output[0].Text)
	assert.Equal(t, "openai-primary", result.Response.ModelProviderName)
	assert.NotEmpty(t, result.Response.RawRequest)
	assert.NotEmpty(t, result.Response.RawResponse)
	assert.Greater(t, result.Response.Latency, time.Duration(0))
}

func TestAdapter_Infer_CacheHitShortCircuitsBeforeHTTPCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris", "stop"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	clients := testClients(t, server)
	me := Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
		CacheMode: cache.Mode{EnabledRead: true, EnabledWrite: true},
	}

	first, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), clients, me)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, calls)

	second, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), clients, me)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "Paris", second.Response.Output[0].Text)
	assert.EqualValues(t, 0, second.Response.Latency)
	assert.Equal(t, 1, calls, "cache hit must not re-invoke the provider")
}

func TestAdapter_Infer_RateLimitPreconditionFailsBeforeAnyHTTPCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	binding := testBinding("openai-primary", server.URL)
	binding.RateLimitBucket = "openai-primary-tpm"

	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(nil), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   binding,
	})

	require.Error(t, err)
	assert.True(t, gwerrors.IsRateLimitMissingMaxTokensError(err))
	assert.Equal(t, 0, calls, "no HTTP call may happen before the max_tokens precondition is checked")
}

func TestAdapter_Infer_ClientErrorStatusMapsToInferenceClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.Error(t, err)
	assert.True(t, gwerrors.IsInferenceClientError(err))
	assert.True(t, gwerrors.IsFailoverTriggering(err))
}

func TestAdapter_Infer_ServerErrorStatusMapsToInferenceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.Error(t, err)
	assert.True(t, gwerrors.IsInferenceServerError(err))
	assert.True(t, gwerrors.IsFailoverTriggering(err))
}

func TestAdapter_Infer_TransportFailureMapsToInferenceClientErrorWithZeroStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close() // closed before use: every Do() call now fails at the transport level

	a := New(DefaultRegistry())
	max := 128
	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.Error(t, err)
	require.True(t, gwerrors.IsInferenceClientError(err))
	var clientErr *gwerrors.InferenceClientError
	assert.ErrorAs(t, err, &clientErr)
	assert.Equal(t, 0, clientErr.StatusCode)
}

func TestAdapter_Infer_ExtraBodyJSONPointerMergeReachesOutboundRequest(t *testing.T) {
	var receivedBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris", "stop"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	req := basicRequest(&max)
	req.ExtraBody = []gwtypes.JSONPatch{
		{Pointer: "/metadata/tenant", Value: "acme-corp"},
	}

	binding := testBinding("openai-primary", server.URL)
	binding.ExtraBody = []gwtypes.JSONPatch{
		{Pointer: "/metadata/region", Value: "us-east"},
	}
	binding.ExtraHeaders = map[string]string{"X-Org-Id": "org_123"}

	_, err := a.Infer(context.Background(), inlineTracker{}, req, testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   binding,
	})
	require.NoError(t, err)

	require.NotNil(t, receivedBody)
	metadata, ok := receivedBody["metadata"].(map[string]interface{})
	require.True(t, ok, "extra_body must create the missing /metadata object")
	assert.Equal(t, "acme-corp", metadata["tenant"])
	assert.Equal(t, "us-east", metadata["region"])
}

func TestAdapter_Infer_TicketIsConsumedAndReturnedWithActualUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris", "stop"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	rl := ratelimit.NewManager()
	rl.RegisterBucket("openai-primary-tpm", ratelimit.BucketConfig{TokensPerSecond: 1000, Burst: 1000})

	clients := testClients(t, server)
	clients.RateLimit = rl

	binding := testBinding("openai-primary", server.URL)
	binding.RateLimitBucket = "openai-primary-tpm"

	max := 128
	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), clients, Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   binding,
	})
	require.NoError(t, err)

	// Completion tokens reported by the fixture response is 5; a
	// follow-up consume of 995 (the 1000 burst less those 5) must now succeed near
	// instantly, proving the unused 123 tokens were given back rather
	// than left stuck in the first reservation.
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = rl.Consume(ctx, "openai-primary-tpm", 995)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAdapter_Infer_SuccessfulResponseIsWrittenToCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris", "stop"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	clients := testClients(t, server)
	me := Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
		CacheMode: cache.Mode{EnabledRead: true, EnabledWrite: true},
	}

	_, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), clients, me)
	require.NoError(t, err)

	second, err := a.Infer(context.Background(), inlineTracker{}, basicRequest(&max), clients, me)
	require.NoError(t, err)
	assert.True(t, second.Cached)
}

func TestAdapter_InferStream_CacheHitReturnsPrecomputedChunksWithoutHTTPCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	clients := testClients(t, server)

	max := 128
	req := basicRequest(&max)
	binding := testBinding("openai-primary", server.URL)

	// Key the fixture on the same projection of the translated body that
	// InferStream fingerprints, so the lookup below is a genuine hit.
	spec, ok := DefaultRegistry().Lookup(binding.Kind)
	require.True(t, ok)
	translated, err := spec.NewTranslator().TranslateRequest(context.Background(), req, binding.ModelID, binding.Name, binding.Kind)
	require.NoError(t, err)

	finish := gwtypes.FinishStop
	fp := cache.Fingerprint("gpt-4o-mini-alias", "openai-primary", cacheableProjection(translated), req.ToolConfig)
	clients.Cache.WriteStreaming(inlineTracker{}, fp, []gwtypes.StreamChunk{
		{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: "Paris"}}, FinishReason: &finish},
	}, `{"model":"gpt-4o-mini"}`, gwtypes.Usage{}, nil, cache.Mode{EnabledWrite: true})

	_, cachedHit, cachedChunks, err := a.InferStream(context.Background(), req, clients, Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   binding,
		CacheMode: cache.Mode{EnabledRead: true, EnabledWrite: true},
	})

	require.NoError(t, err)
	require.True(t, cachedHit)
	require.Len(t, cachedChunks, 1)
	assert.Equal(t, 0, calls)
}

func TestAdapter_InferStream_BuildsDecoderWithJSONModeAndDiscardFlags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	max := 128
	req := basicRequest(&max)
	req.JSONMode = gwtypes.JSONModeOn

	discard := true
	binding := testBinding("openai-primary", server.URL)
	binding.DiscardUnknownChunks = &discard

	handle, cachedHit, _, err := a.InferStream(context.Background(), req, testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   binding,
	})

	require.NoError(t, err)
	assert.False(t, cachedHit)
	require.NotNil(t, handle)
	assert.NotNil(t, handle.Decoder)
	assert.Equal(t, "openai-primary", handle.ProviderName)
	defer handle.Body.Close()
}
