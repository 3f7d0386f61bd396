// Package adapter is the Provider Adapter (spec.md §4.4): the nine-step
// pipeline that turns one CanonicalRequest plus one ProviderBinding into
// an HTTP call against a specific upstream, for both unary and streaming
// inference. Grounded on the teacher's per-provider providers/*/provider.go
// (base URL + auth header wiring) and providers/*/language_model.go
// (request path + PostJSON/DoStream call shape), generalized from N
// hand-written provider packages into one dispatch table keyed by
// ProviderBinding.Kind plus the four Content Translator / Stream Decoder
// families already built.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-openapi/jsonpointer"

	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/credential"
	"github.com/inferencegw/core/pkg/gwerrors"
	internalhttp "github.com/inferencegw/core/pkg/internal/http"
	"github.com/inferencegw/core/pkg/gwtelemetry"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/ratelimit"

	anthropicdecoder "github.com/inferencegw/core/decoder/anthropic"
	googledecoder "github.com/inferencegw/core/decoder/google"
	openaicompatdecoder "github.com/inferencegw/core/decoder/openaicompat"
	anthropictranslator "github.com/inferencegw/core/translator/anthropic"
	bedrocktranslator "github.com/inferencegw/core/translator/bedrock"
	googletranslator "github.com/inferencegw/core/translator/google"
	openaicompattranslator "github.com/inferencegw/core/translator/openaicompat"
)

// Translator is the Content Translator surface every translator/<family>
// package satisfies structurally (spec.md §4.2).
type Translator interface {
	TranslateRequest(ctx context.Context, req *gwtypes.CanonicalRequest, modelID, providerName, kind string) (map[string]interface{}, error)
	TranslateResponse(raw []byte, jsonMode gwtypes.JSONMode) (*gwtypes.ProviderResponse, error)
}

// StreamDecoder is the Stream Decoder surface every decoder/<family>
// package satisfies structurally (spec.md §4.3).
type StreamDecoder interface {
	Next() (*gwtypes.StreamChunk, error)
}

// KindSpec wires one ProviderBinding.Kind to its translator/decoder
// family and its HTTP conventions (base URL, chat path, auth headers).
type KindSpec struct {
	NewTranslator func() Translator
	NewDecoder    func(r io.Reader, jsonModeOn, discardUnknownChunks bool) StreamDecoder

	DefaultBaseURL string
	ChatPath       func(modelID string, streaming bool) string

	// ApplyAuth attaches the resolved credential to outbound headers. For
	// Google's query-string convention it leaves headers untouched; the
	// adapter appends the key to ChatPath's result itself (see withGoogleKey).
	ApplyAuth func(headers map[string]string, resolved credential.Resolved)

	SupportsBatch bool
}

// Registry maps ProviderBinding.Kind to its KindSpec.
type Registry struct {
	kinds map[string]KindSpec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]KindSpec)}
}

// Register adds or replaces the KindSpec for kind.
func (r *Registry) Register(kind string, spec KindSpec) {
	r.kinds[kind] = spec
}

// Lookup returns the KindSpec for kind, if registered.
func (r *Registry) Lookup(kind string) (KindSpec, bool) {
	spec, ok := r.kinds[kind]
	return spec, ok
}

func bearerAuth(headers map[string]string, resolved credential.Resolved) {
	if resolved.IsSdk || resolved.IsNone {
		return
	}
	headers["Authorization"] = "Bearer " + resolved.Value
}

func anthropicAuth(headers map[string]string, resolved credential.Resolved) {
	headers["anthropic-version"] = "2023-06-01"
	if resolved.IsSdk || resolved.IsNone {
		return
	}
	headers["x-api-key"] = resolved.Value
}

// DefaultRegistry registers every translator/decoder family this module
// ships against the provider kinds the teacher's pkg/providers tree
// names, using each family's own default base URL and auth convention
// (spec.md §6 "Adapter → HTTP").
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("anthropic", KindSpec{
		NewTranslator:  func() Translator { return anthropictranslator.New() },
		NewDecoder:     newAnthropicDecoder,
		DefaultBaseURL: "https://api.anthropic.com",
		ChatPath:       func(string, bool) string { return "/v1/messages" },
		ApplyAuth:      anthropicAuth,
	})

	r.Register("bedrock", KindSpec{
		NewTranslator:  func() Translator { return bedrocktranslator.New() },
		NewDecoder:     newAnthropicDecoder,
		DefaultBaseURL: "",
		ChatPath: func(modelID string, streaming bool) string {
			action := "invoke"
			if streaming {
				action = "invoke-with-response-stream"
			}
			return fmt.Sprintf("/model/%s/%s", modelID, action)
		},
		// Bedrock auth is AWS SigV4 request signing via the SDK's default
		// credential chain, not a static header — the teacher's own
		// pkg/providers/bedrock/provider.go stubs this with the comment
		// "AWS Signature V4 signing would be required for real
		// implementation"; this adapter carries that same boundary
		// forward rather than inventing a signer the teacher never had.
		ApplyAuth: func(map[string]string, credential.Resolved) {},
	})

	r.Register("google", KindSpec{
		NewTranslator:  func() Translator { return googletranslator.New() },
		NewDecoder:     newGoogleDecoder,
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		ChatPath: func(modelID string, streaming bool) string {
			if streaming {
				return fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse", modelID)
			}
			return fmt.Sprintf("/v1beta/models/%s:generateContent", modelID)
		},
		// Google's API key travels as a "?key=" query parameter, not a
		// header (teacher's providers/google/language_model.go); that
		// parameter is appended by the adapter itself, see withGoogleKey.
		ApplyAuth: func(map[string]string, credential.Resolved) {},
	})

	openaiFamily := func(baseURL string) KindSpec {
		return KindSpec{
			NewTranslator:  func() Translator { return openaicompattranslator.New() },
			NewDecoder:     newOpenAICompatDecoder,
			DefaultBaseURL: baseURL,
			ChatPath:       func(string, bool) string { return "/chat/completions" },
			ApplyAuth:      bearerAuth,
			SupportsBatch:  true,
		}
	}

	r.Register("openai", openaiFamily("https://api.openai.com/v1"))
	r.Register("azure", openaiFamily(""))
	r.Register("mistral", openaiFamily("https://api.mistral.ai/v1"))
	r.Register("xai", openaiFamily("https://api.x.ai/v1"))
	r.Register("together", openaiFamily("https://api.together.xyz/v1"))
	r.Register("fireworks", openaiFamily("https://api.fireworks.ai/inference/v1"))
	r.Register("groq", openaiFamily("https://api.groq.com/openai/v1"))
	r.Register("deepseek", openaiFamily("https://api.deepseek.com/v1"))
	r.Register("hyperbolic", openaiFamily("https://api.hyperbolic.xyz/v1"))
	r.Register("vllm", openaiFamily(""))
	r.Register("tgi", openaiFamily(""))
	r.Register("sglang", openaiFamily(""))

	openrouter := openaiFamily("https://openrouter.ai/api/v1")
	openrouter.ApplyAuth = func(headers map[string]string, resolved credential.Resolved) {
		bearerAuth(headers, resolved)
		// OpenRouter additionally requires these per spec.md §6; they are
		// overridable by a binding's own extra_headers since those are
		// layered on top after ApplyAuth runs (see Adapter.Infer/InferStream).
		headers["HTTP-Referer"] = "https://github.com/inferencegw/core"
		headers["X-Title"] = "inferencegw"
	}
	r.Register("openrouter", openrouter)

	return r
}

func newAnthropicDecoder(r io.Reader, jsonModeOn, discardUnknownChunks bool) StreamDecoder {
	return anthropicdecoder.New(r, jsonModeOn, discardUnknownChunks)
}

func newGoogleDecoder(r io.Reader, jsonModeOn, discardUnknownChunks bool) StreamDecoder {
	return googledecoder.New(r, jsonModeOn, discardUnknownChunks)
}

func newOpenAICompatDecoder(r io.Reader, jsonModeOn, discardUnknownChunks bool) StreamDecoder {
	return openaicompatdecoder.New(r, jsonModeOn, discardUnknownChunks)
}

// Clients bundles the shared, concurrency-safe resources one Adapter
// call needs (spec.md §5 "Shared resources"): the HTTP client, the
// credential resolver, the rate-limit manager, the cache port, and the
// span sink.
type Clients struct {
	HTTP       *internalhttp.Client
	Credential *credential.Resolver
	RateLimit  *ratelimit.Manager
	Cache      *cache.Port
	Telemetry  gwtelemetry.Sink
}

// Me identifies the model/provider pair this adapter call is attempting,
// plus the ambient policy (cache mode, discard-unknown-chunks default)
// the router resolved for it.
type Me struct {
	ModelName  string
	Binding    gwtypes.ProviderBinding
	CacheMode  cache.Mode
	DiscardUnknownChunksDefault bool
}

// DeferredRunner is the tracker interface the adapter spawns ticket
// returns and cache writes on (spec.md §4.5, §4.6) — see
// pkg/tasktracker.Tracker.
type DeferredRunner interface {
	Go(name string, fn func() error)
}

// Adapter runs the nine-step contract of spec.md §4.4 against one
// KindSpec.
type Adapter struct {
	registry *Registry
}

// New returns an Adapter backed by registry.
func New(registry *Registry) *Adapter {
	return &Adapter{registry: registry}
}

// InferResult is the outcome of a successful unary Infer.
type InferResult struct {
	Response *gwtypes.ProviderResponse
	Cached   bool
}

// Infer implements the unary half of spec.md §4.4's nine steps.
func (a *Adapter) Infer(ctx context.Context, tracker DeferredRunner, req *gwtypes.CanonicalRequest, clients Clients, me Me) (*InferResult, error) {
	spec, ok := a.registry.Lookup(me.Binding.Kind)
	if !ok {
		return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown provider kind %q", me.Binding.Kind), nil)
	}

	translator := spec.NewTranslator()
	body, err := translator.TranslateRequest(ctx, req, me.Binding.ModelID, me.Binding.Name, me.Binding.Kind)
	if err != nil {
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}
	applyInferenceParams(body, req.InferenceParams, me.Binding.Name)

	fingerprint := cache.Fingerprint(me.ModelName, me.Binding.Name, cacheableProjection(body), req.ToolConfig)
	if hit, ok := clients.Cache.LookupUnary(fingerprint, me.CacheMode); ok {
		return &InferResult{Response: hit, Cached: true}, nil
	}

	if err := ratelimit.ValidateMaxTokensRequired(me.Binding.Name, req.MaxTokens, me.Binding.RateLimitBucket); err != nil {
		return nil, err
	}
	var ticket *ratelimitTicketHandle
	if me.Binding.RateLimitBucket != "" {
		t, err := clients.RateLimit.Consume(ctx, me.Binding.RateLimitBucket, int64(estimatedOutputTokens(req)))
		if err != nil {
			return nil, gwerrors.NewModelProviderTimeoutError(me.Binding.Name, err)
		}
		ticket = &ratelimitTicketHandle{manager: clients.RateLimit, ticket: t}
	}

	if err := mergeExtraBody(body, me.Binding.ExtraBody); err != nil {
		returnTicket(tracker, ticket, nil)
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}
	if err := mergeExtraBody(body, req.ExtraBody); err != nil {
		returnTicket(tracker, ticket, nil)
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}

	resolved, err := clients.Credential.Resolve(me.Binding.Name, me.Binding.Credential, nil)
	if err != nil {
		returnTicket(tracker, ticket, nil)
		return nil, err
	}
	spec.ApplyAuth(headers, resolved)
	for k, v := range me.Binding.ExtraHeaders {
		headers[k] = v
	}
	for k, v := range req.ExtraHeaders {
		headers[k] = v
	}

	path := spec.ChatPath(me.Binding.ModelID, false)
	path = withGoogleKey(me.Binding.Kind, path, resolved)

	ctx, attempt := clients.Telemetry.StartAttempt(ctx, me.ModelName, me.Binding.Name)
	defer attempt.End()

	start := time.Now()
	resp, err := clients.HTTP.WithBaseURL(effectiveBaseURL(spec, me.Binding)).Do(ctx, internalhttp.Request{
		Method:  http.MethodPost,
		Path:    path,
		Headers: headers,
		Body:    body,
	})
	latency := time.Since(start)
	if err != nil {
		attempt.RecordError(err)
		returnTicket(tracker, ticket, nil)
		return nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	rawRequest := marshalForDiagnostics(body)
	if classifyStatus(resp.StatusCode) != statusOK {
		statusErr := statusToError(me.Binding.Name, resp.StatusCode, string(resp.Body))
		attempt.RecordError(statusErr)
		returnTicket(tracker, ticket, nil)
		return nil, statusErr
	}

	providerResp, err := translator.TranslateResponse(resp.Body, req.JSONMode)
	if err != nil {
		returnTicket(tracker, ticket, nil)
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "response", err)
	}
	providerResp.RawRequest = rawRequest
	providerResp.RawResponse = string(resp.Body)
	providerResp.Latency = latency
	providerResp.ModelProviderName = me.Binding.Name

	attempt.RecordUsage(providerResp.Usage)
	returnTicket(tracker, ticket, providerResp.Usage.OutputTokens)

	clients.Cache.WriteUnary(tracker, fingerprint, *providerResp, me.CacheMode)

	return &InferResult{Response: providerResp, Cached: false}, nil
}

// InferStream implements the streaming half of spec.md §4.4. It returns
// the raw decoder plus the fingerprint/translator context the Stream
// Wrapper (pkg/router) needs to finish the job (replay on cache hit,
// write on clean completion, ticket return either way) — the Stream
// Wrapper, not this method, owns the peek-first and forwarding-channel
// behavior of spec.md §4.8.
type StreamHandle struct {
	Decoder     StreamDecoder
	Body        io.ReadCloser
	Fingerprint string
	RawRequest  string
	Ticket      *ratelimitTicketHandle
	ProviderName string
}

func (a *Adapter) InferStream(ctx context.Context, req *gwtypes.CanonicalRequest, clients Clients, me Me) (*StreamHandle, bool, []gwtypes.StreamChunk, error) {
	spec, ok := a.registry.Lookup(me.Binding.Kind)
	if !ok {
		return nil, false, nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown provider kind %q", me.Binding.Kind), nil)
	}

	translator := spec.NewTranslator()
	body, err := translator.TranslateRequest(ctx, req, me.Binding.ModelID, me.Binding.Name, me.Binding.Kind)
	if err != nil {
		return nil, false, nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}
	applyInferenceParams(body, req.InferenceParams, me.Binding.Name)
	body["stream"] = true

	fingerprint := cache.Fingerprint(me.ModelName, me.Binding.Name, cacheableProjection(body), req.ToolConfig)
	if cached, ok := clients.Cache.LookupStreaming(fingerprint, me.CacheMode); ok {
		return nil, true, cached, nil
	}

	if err := ratelimit.ValidateMaxTokensRequired(me.Binding.Name, req.MaxTokens, me.Binding.RateLimitBucket); err != nil {
		return nil, false, nil, err
	}
	var ticket *ratelimitTicketHandle
	if me.Binding.RateLimitBucket != "" {
		t, err := clients.RateLimit.Consume(ctx, me.Binding.RateLimitBucket, int64(estimatedOutputTokens(req)))
		if err != nil {
			return nil, false, nil, gwerrors.NewModelProviderTimeoutError(me.Binding.Name, err)
		}
		ticket = &ratelimitTicketHandle{manager: clients.RateLimit, ticket: t}
	}

	releaseTicket := func() {
		if ticket != nil {
			ticket.manager.Return(ticket.ticket, nil)
		}
	}

	if err := mergeExtraBody(body, me.Binding.ExtraBody); err != nil {
		releaseTicket()
		return nil, false, nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}
	if err := mergeExtraBody(body, req.ExtraBody); err != nil {
		releaseTicket()
		return nil, false, nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}

	headers := map[string]string{"Content-Type": "application/json", "Accept": "text/event-stream"}

	resolved, err := clients.Credential.Resolve(me.Binding.Name, me.Binding.Credential, nil)
	if err != nil {
		releaseTicket()
		return nil, false, nil, err
	}
	spec.ApplyAuth(headers, resolved)
	for k, v := range me.Binding.ExtraHeaders {
		headers[k] = v
	}
	for k, v := range req.ExtraHeaders {
		headers[k] = v
	}

	path := spec.ChatPath(me.Binding.ModelID, true)
	path = withGoogleKey(me.Binding.Kind, path, resolved)

	httpResp, err := clients.HTTP.WithBaseURL(effectiveBaseURL(spec, me.Binding)).DoStream(ctx, internalhttp.Request{
		Method:  http.MethodPost,
		Path:    path,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		releaseTicket()
		return nil, false, nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	discardUnknown := me.Binding.EffectiveDiscardUnknownChunks(me.DiscardUnknownChunksDefault)
	jsonModeOn := req.JSONMode != gwtypes.JSONModeOff
	decoder := spec.NewDecoder(httpResp.Body, jsonModeOn, discardUnknown)

	return &StreamHandle{
		Decoder:      decoder,
		Body:         httpResp.Body,
		Fingerprint:  fingerprint,
		RawRequest:   marshalForDiagnostics(body),
		Ticket:       ticket,
		ProviderName: me.Binding.Name,
	}, false, nil, nil
}

// ratelimitTicketHandle binds a ratelimit.Ticket to the Manager that
// issued it, so returnTicket doesn't need to thread the Manager through
// every call site.
type ratelimitTicketHandle struct {
	manager *ratelimit.Manager
	ticket  *ratelimit.Ticket
}

func returnTicket(tracker DeferredRunner, h *ratelimitTicketHandle, actualOutputTokens *int64) {
	if h == nil {
		return
	}
	tracker.Go("ratelimit.return", func() error {
		h.manager.Return(h.ticket, actualOutputTokens)
		return nil
	})
}

// ReturnTicket exposes returnTicket to callers outside this package
// (the Stream Wrapper in pkg/router finishes reconciling a streaming
// ticket once the stream itself completes or fails).
func ReturnTicket(tracker DeferredRunner, h *ratelimitTicketHandle, actualOutputTokens *int64) {
	returnTicket(tracker, h, actualOutputTokens)
}

func estimatedOutputTokens(req *gwtypes.CanonicalRequest) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return 1
}

type httpStatusClass int

const (
	statusOK httpStatusClass = iota
	statusClientError
	statusServerError
)

var clientErrorStatusCodes = map[int]bool{400: true, 401: true, 402: true, 403: true, 413: true, 429: true}

func classifyStatus(code int) httpStatusClass {
	if code >= 200 && code < 300 {
		return statusOK
	}
	if clientErrorStatusCodes[code] {
		return statusClientError
	}
	return statusServerError
}

func statusToError(provider string, code int, rawResponse string) error {
	message := fmt.Sprintf("unexpected status %d: %s", code, truncateForMessage(rawResponse))
	switch classifyStatus(code) {
	case statusClientError:
		return gwerrors.NewInferenceClientError(provider, code, message, nil)
	default:
		return gwerrors.NewInferenceServerError(provider, code, message, nil)
	}
}

// applyInferenceParams merges the universal InferenceParams knobs
// spec.md §4.4 step 1 calls for. Only the fields a provider's wire
// format actually defines are set; anything the translator itself
// already wrote (reasoning_effort, service_tier — see
// translator/openaicompat) stays in place, since this only fills in
// gaps a translator's own TranslateRequest didn't already cover for
// families that support it generically.
func applyInferenceParams(body map[string]interface{}, params gwtypes.InferenceParams, provider string) {
	if params.Verbosity != "" {
		if _, exists := body["verbosity"]; !exists {
			body["verbosity"] = params.Verbosity
		}
	}
}

// cacheableProjection strips fields that must never participate in the
// cache fingerprint (spec.md §4.6): "stream" toggles transport framing
// only, not content, and would otherwise make a cacheable unary request
// and its streaming twin hash differently for no semantic reason.
func cacheableProjection(body map[string]interface{}) map[string]interface{} {
	projected := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "stream" {
			continue
		}
		projected[k] = v
	}
	return projected
}

func marshalForDiagnostics(body map[string]interface{}) string {
	b, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(b)
}

// truncateForMessage bounds how much of a raw provider response body gets
// folded into an error's Message — the full body is still available to
// callers via attempt telemetry/logs, this is only for the short
// human-readable summary.
func truncateForMessage(raw string) string {
	const limit = 200
	if len(raw) <= limit {
		return raw
	}
	return raw[:limit] + "..."
}

// effectiveBaseURL resolves the endpoint a binding's requests actually
// go to: an explicit per-binding override (self-hosted vLLM/TGI/SGLang,
// an Azure regional deployment, a proxy) wins over the KindSpec's
// documented default.
func effectiveBaseURL(spec KindSpec, binding gwtypes.ProviderBinding) string {
	if binding.BaseURL != "" {
		return binding.BaseURL
	}
	return spec.DefaultBaseURL
}

// withGoogleKey appends Google's "?key=" query parameter to path — the
// one provider family in this registry that authenticates via the URL
// rather than a header (teacher's providers/google/language_model.go).
func withGoogleKey(kind, path string, resolved credential.Resolved) string {
	if kind != "google" || resolved.IsSdk || resolved.IsNone {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%skey=%s", path, sep, resolved.Value)
}

// mergeExtraBody applies each patch's JSON-pointer path into body
// (spec.md §4.4 step 4, §9 "Extra-body merge"). Token decoding (the
// "~0"/"~1" escapes RFC 6901 defines) is handled by go-openapi/jsonpointer;
// the deep-merge policy of creating missing intermediate objects along
// the path is this function's own, since the spec requires overrides to
// always apply even into a branch the translator never populated, and
// jsonpointer's own Set does not create missing parents.
func mergeExtraBody(body map[string]interface{}, patches []gwtypes.JSONPatch) error {
	for _, patch := range patches {
		if err := setJSONPointer(body, patch.Pointer, patch.Value); err != nil {
			if patch.Optional {
				continue
			}
			return fmt.Errorf("extra_body pointer %q: %w", patch.Pointer, err)
		}
	}
	return nil
}

func setJSONPointer(root map[string]interface{}, pointer string, value interface{}) error {
	ptr, err := jsonpointer.New(pointer)
	if err != nil {
		return fmt.Errorf("invalid json pointer: %w", err)
	}
	tokens := ptr.DecodedTokens()
	if len(tokens) == 0 {
		return fmt.Errorf("empty json pointer")
	}

	node := root
	for _, token := range tokens[:len(tokens)-1] {
		next, ok := node[token]
		if !ok {
			created := make(map[string]interface{})
			node[token] = created
			node = created
			continue
		}
		nextMap, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("path segment %q is not an object", token)
		}
		node = nextMap
	}
	node[tokens[len(tokens)-1]] = value
	return nil
}
