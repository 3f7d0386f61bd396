package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/adapter"
	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/credential"
	"github.com/inferencegw/core/pkg/gwtelemetry"
	"github.com/inferencegw/core/pkg/gwtypes"
	internalhttp "github.com/inferencegw/core/pkg/internal/http"
	"github.com/inferencegw/core/pkg/ratelimit"
	"github.com/inferencegw/core/pkg/router"
)

type inlineTracker struct{}

func (inlineTracker) Go(name string, fn func() error) { _ = fn() }

func testHandler(provider *httptest.Server) *handler {
	clients := adapter.Clients{
		HTTP:       internalhttp.NewClient(internalhttp.Config{}),
		Credential: credential.NewResolver(),
		RateLimit:  ratelimit.NewManager(),
		Cache:      cache.NewPort(cache.NewMemoryStore(0, 0)),
		Telemetry:  gwtelemetry.NewOtelSink(nil),
	}
	r := router.New(adapter.New(adapter.DefaultRegistry()), clients, inlineTracker{})

	return &handler{
		router: r,
		models: map[string]gwtypes.ModelConfig{
			"demo-model": {
				Name:    "demo-model",
				Routing: gwtypes.RoutingOrderedFailover,
				Providers: []gwtypes.ProviderBinding{{
					Name:       "openai-primary",
					Kind:       "openai",
					BaseURL:    provider.URL,
					ModelID:    "gpt-4o-mini",
					Credential: gwtypes.Credential{Kind: gwtypes.CredentialStatic, StaticValue: "sk-test"},
				}},
			},
		},
	}
}

func openAIWireResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id": "chatcmpl-1",
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": text}, "finish_reason": "stop"},
		},
		"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestHandleChatCompletions_UnknownModelReturns404(t *testing.T) {
	h := testHandler(httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	body := strings.NewReader(`{"model":"does-not-exist","messages":[{"role":"user","content":[{"kind":"text","text":"hi"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChatCompletions_SuccessReturnsProviderResponse(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(openAIWireResponse("Paris"))
	}))
	defer provider.Close()

	h := testHandler(provider)
	body := strings.NewReader(`{
		"model": "demo-model",
		"messages": [{"role":"user","content":[{"kind":"text","text":"what is the capital of France?"}]}],
		"max_tokens": 128
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))

	var resp gwtypes.ProviderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Paris", resp.Output[0].Text)
	assert.Equal(t, "openai-primary", resp.ModelProviderName)
}

func TestHandleChatCompletions_StreamWritesSSEEventsThenDone(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Paris\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
			"data: [DONE]\n\n"))
	}))
	defer provider.Close()

	h := testHandler(provider)
	body := strings.NewReader(`{
		"model": "demo-model",
		"stream": true,
		"messages": [{"role":"user","content":[{"kind":"text","text":"what is the capital of France?"}]}],
		"max_tokens": 128
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.handleChatCompletions(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish streaming in time")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var events []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, events, 3)
	assert.Contains(t, events[0], "Paris")
	assert.Contains(t, events[1], "stop")
	assert.Equal(t, "[DONE]", events[2])
}
