package gwtypes

// JSONMode controls whether and how strictly the provider must emit JSON.
type JSONMode string

const (
	JSONModeOff    JSONMode = "off"
	JSONModeOn     JSONMode = "on"
	JSONModeStrict JSONMode = "strict"
)

// FunctionType selects the canonical request's output shape.
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

// ToolChoiceKind discriminates ToolConfig.ToolChoice.
type ToolChoiceKind string

const (
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceSpecific ToolChoiceKind = "specific"
)

// ToolChoice is the canonical tagged-union tool_choice value.
type ToolChoice struct {
	Kind ToolChoiceKind `json:"kind"`
	Name string         `json:"name,omitempty"` // set when Kind == ToolChoiceSpecific
}

// ToolDef is one tool definition offered to the model.
type ToolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// ToolConfig bundles the tool-calling knobs of a CanonicalRequest.
type ToolConfig struct {
	Tools             []ToolDef  `json:"tools,omitempty"`
	ToolChoice        ToolChoice `json:"tool_choice"`
	ParallelToolCalls *bool      `json:"parallel_tool_calls,omitempty"`
	AllowedTools      []string   `json:"allowed_tools,omitempty"`
	Strict            bool       `json:"strict,omitempty"`
}

// InferenceParams carries provider-steering knobs that are not universal
// sampling parameters (spec.md §3).
type InferenceParams struct {
	ReasoningEffort    string `json:"reasoning_effort,omitempty"`
	ServiceTier        string `json:"service_tier,omitempty"`
	ThinkingBudgetTokens *int `json:"thinking_budget_tokens,omitempty"`
	Verbosity          string `json:"verbosity,omitempty"`
}

// CanonicalRequest is the provider-independent inference request (§3).
//
// It is created by the endpoint layer and borrowed (read-only) through
// the core: translators must never mutate the request they are given —
// they produce a new wire body instead (spec.md §9, "Lifetime /
// ownership").
type CanonicalRequest struct {
	Messages []RequestMessage `json:"messages"`
	System   string           `json:"system,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`

	Stream bool `json:"stream"`

	JSONMode     JSONMode    `json:"json_mode,omitempty"`
	FunctionType FunctionType `json:"function_type,omitempty"`
	OutputSchema interface{} `json:"output_schema,omitempty"`

	ToolConfig *ToolConfig `json:"tool_config,omitempty"`

	InferenceParams InferenceParams `json:"inference_params,omitempty"`

	ExtraBody    []JSONPatch       `json:"extra_body,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`

	FetchAndEncodeInputFilesBeforeInference bool `json:"fetch_and_encode_input_files_before_inference,omitempty"`
}

// JSONPatch is one (json_pointer, value) override applied after
// translation, per spec.md §9 "Extra-body merge".
type JSONPatch struct {
	Pointer  string      `json:"pointer"`
	Value    interface{} `json:"value"`
	Optional bool        `json:"optional,omitempty"`
}

// Clone returns a shallow copy safe for a translator to adapt into a new
// request without mutating the caller's original (messages/tool slices
// are not deep-copied since translators only ever append/replace the
// slice header, never mutate an element in place).
func (r *CanonicalRequest) Clone() *CanonicalRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Messages = append([]RequestMessage(nil), r.Messages...)
	return &clone
}
