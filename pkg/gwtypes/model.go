package gwtypes

import "fmt"

// CredentialKind discriminates the Credential tagged union (spec.md §3,
// textual form in §6).
type CredentialKind string

const (
	CredentialStatic       CredentialKind = "static"        // value baked in at load time ("dynamic::NAME" resolved once)
	CredentialDynamic      CredentialKind = "dynamic"        // "dynamic::NAME" — resolved per-request from caller-supplied values
	CredentialEnv          CredentialKind = "env"             // "env::NAME" — resolved from the process environment, cached
	CredentialPathFromEnv  CredentialKind = "path_from_env"  // "path_from_env::NAME" — env var holds a file path; file contents cached
	CredentialPath         CredentialKind = "path"            // "path::/abs/path" — literal file path; file contents cached
	CredentialSdk          CredentialKind = "sdk"             // provider SDK's own ambient credential discovery (e.g. AWS default chain)
	CredentialNone         CredentialKind = "none"            // no credential required/attached
)

// Credential is the tagged-union credential source for one ProviderBinding
// (spec.md §3, §4.1). At most one of EnvVar, DynamicName, StaticValue
// and FilePath is meaningful,
// selected by Kind; Fallback, if non-nil, is tried when the primary
// resolution fails (spec.md §4.1 "fallback chain").
type Credential struct {
	Kind CredentialKind `json:"kind"`

	// EnvVar holds the environment variable name for Kind ==
	// CredentialEnv or CredentialPathFromEnv.
	EnvVar string `json:"env_var,omitempty"`

	// DynamicName holds the caller-supplied key name for Kind ==
	// CredentialDynamic.
	DynamicName string `json:"dynamic_name,omitempty"`

	// StaticValue holds the literal resolved secret for Kind ==
	// CredentialStatic.
	StaticValue string `json:"-"`

	// FilePath holds the literal path for Kind == CredentialPath.
	FilePath string `json:"file_path,omitempty"`

	// Fallback is attempted, in order, if resolving this credential
	// fails (spec.md §4.1).
	Fallback *Credential `json:"fallback,omitempty"`
}

// String renders the textual form from spec.md §6: "env::NAME",
// "path_from_env::NAME", "dynamic::NAME", "path::/abs/path", "sdk",
// "none". CredentialStatic has no textual form (it only arises from
// resolving one of the above) and renders as "static".
func (c Credential) String() string {
	switch c.Kind {
	case CredentialEnv:
		return "env::" + c.EnvVar
	case CredentialPathFromEnv:
		return "path_from_env::" + c.EnvVar
	case CredentialDynamic:
		return "dynamic::" + c.DynamicName
	case CredentialPath:
		return "path::" + c.FilePath
	case CredentialSdk:
		return "sdk"
	case CredentialNone:
		return "none"
	case CredentialStatic:
		return "static"
	default:
		return fmt.Sprintf("unknown(%s)", c.Kind)
	}
}

// ProviderTimeouts layers the advisory per-provider timeout under the
// terminal top-level one (spec.md §4.7, Open Question resolved in
// DESIGN.md: the top-level timeout always wins a simultaneous fire).
type ProviderTimeouts struct {
	// PerProvider is advisory: when it elapses the router treats the
	// current provider attempt as failed and fails over, but the
	// request as a whole may continue against the next provider.
	// Applies to the unary path (spec.md §4.7 "per_provider.non_streaming.total_ms").
	PerProvider *int64 `json:"per_provider_ms,omitempty"`

	// StreamingTTFT is the advisory per-attempt timeout for the
	// streaming path (spec.md §4.7 "streaming.ttft_ms"): it bounds how
	// long the router waits for the first peeked chunk from this
	// provider before treating the attempt as failed and failing over.
	StreamingTTFT *int64 `json:"streaming_ttft_ms,omitempty"`

	// TopLevel is terminal: when it elapses the whole Route call ends,
	// regardless of how many providers remain. Every binding in a
	// ModelConfig is expected to carry the same TopLevel value (it is a
	// model-level concept denormalized onto each binding rather than
	// given its own ModelConfig field, since the router only ever reads
	// it off the first binding it tries).
	TopLevel *int64 `json:"top_level_ms,omitempty"`
}

// ProviderBinding is one entry in a ModelConfig's ordered provider list
// (spec.md §3, §4.7).
type ProviderBinding struct {
	Name string `json:"name"`

	// Kind selects which translator/decoder family handles this
	// binding (e.g. "anthropic", "openai", "azure", "bedrock",
	// "google", "mistral", "xai", "together", "fireworks", "groq",
	// "deepseek", "openrouter", "hyperbolic", "vllm", "tgi", "sglang").
	Kind string `json:"kind"`

	BaseURL    string `json:"base_url,omitempty"`
	ModelID    string `json:"model_id"`
	Credential Credential `json:"credential"`

	Timeouts ProviderTimeouts `json:"timeouts,omitempty"`

	// ExtraBody/ExtraHeaders are layered *under* the request-level ones
	// of the same name (spec.md §11 supplement — request wins on
	// conflicting JSON-pointer paths).
	ExtraBody    []JSONPatch       `json:"extra_body,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`

	// DiscardUnknownChunks overrides ModelConfig.DefaultDiscardUnknownChunks
	// for this binding when non-nil (spec.md §11 supplement).
	DiscardUnknownChunks *bool `json:"discard_unknown_chunks,omitempty"`

	// RateLimitBucket names the token-bucket this binding draws tickets
	// from (spec.md §4.5); bindings may share a bucket to pool quota
	// across aliased deployments of the same upstream account.
	RateLimitBucket string `json:"rate_limit_bucket,omitempty"`
}

// EffectiveDiscardUnknownChunks resolves the per-binding override against
// the model-level default (spec.md §11 supplement).
func (p ProviderBinding) EffectiveDiscardUnknownChunks(modelDefault bool) bool {
	if p.DiscardUnknownChunks != nil {
		return *p.DiscardUnknownChunks
	}
	return modelDefault
}

// RoutingPolicy selects how ModelConfig.Providers is walked on failover
// (spec.md §4.7). Only ordered failover is specified; this exists so a
// future policy can be added without breaking the struct shape.
type RoutingPolicy string

const (
	RoutingOrderedFailover RoutingPolicy = "ordered_failover"
)

// ModelConfig is the routing entry for one logical model name: an
// ordered list of ProviderBindings tried in turn on failure (spec.md §3,
// §4.7).
type ModelConfig struct {
	Name     string            `json:"name"`
	Routing  RoutingPolicy     `json:"routing"`
	Providers []ProviderBinding `json:"providers"`

	// DefaultDiscardUnknownChunks is the model-level default consulted
	// when a ProviderBinding omits its own override (spec.md §11
	// supplement).
	DefaultDiscardUnknownChunks bool `json:"default_discard_unknown_chunks,omitempty"`
}

// Validate checks the invariants spec.md §3 places on a ModelConfig:
// at least one provider, and every provider names a translator kind.
func (m ModelConfig) Validate() error {
	if len(m.Providers) == 0 {
		return fmt.Errorf("gwtypes: model %q has no providers", m.Name)
	}
	for i, p := range m.Providers {
		if p.Kind == "" {
			return fmt.Errorf("gwtypes: model %q provider[%d] %q has no kind", m.Name, i, p.Name)
		}
		if p.ModelID == "" {
			return fmt.Errorf("gwtypes: model %q provider[%d] %q has no model_id", m.Name, i, p.Name)
		}
	}
	return nil
}
