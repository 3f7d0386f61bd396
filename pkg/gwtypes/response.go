package gwtypes

import "time"

// FinishReason is the canonical completion reason (§3).
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishContentFilter  FinishReason = "content_filter"
	FinishToolCall       FinishReason = "tool_call"
	FinishStopSequence   FinishReason = "stop_sequence"
	FinishUnknown        FinishReason = "unknown"
)

// Usage is the canonical token-usage record.
type Usage struct {
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`
}

// TotalTokens returns InputTokens+OutputTokens, or nil if either is unknown.
func (u Usage) TotalTokens() *int64 {
	if u.InputTokens == nil || u.OutputTokens == nil {
		return nil
	}
	total := *u.InputTokens + *u.OutputTokens
	return &total
}

// ContentBlockOutput is one block of a completed (non-streaming) response.
type ContentBlockOutput = ContentBlock

// ProviderResponse is the unified result of a completed unary inference
// (§3).
type ProviderResponse struct {
	ID       string               `json:"id"`
	Output   []ContentBlockOutput `json:"output"`
	System   string               `json:"system,omitempty"`

	InputMessages []RequestMessage `json:"input_messages,omitempty"`
	RawRequest    string           `json:"raw_request,omitempty"`
	RawResponse   string           `json:"raw_response,omitempty"`

	Usage   Usage         `json:"usage"`
	Latency time.Duration `json:"latency"`

	FinishReason FinishReason `json:"finish_reason"`
	RawUsage     map[string]interface{} `json:"raw_usage,omitempty"`

	ModelProviderName string `json:"model_provider_name,omitempty"`
	Cached            bool   `json:"cached,omitempty"`
}

// ContentChunkKind discriminates a StreamChunk's content units.
type ContentChunkKind string

const (
	ChunkText     ContentChunkKind = "text"
	ChunkToolCall ContentChunkKind = "tool_call"
	ChunkThought  ContentChunkKind = "thought"
	ChunkUnknown  ContentChunkKind = "unknown"
)

// ContentChunk is one piece of streamed content (§3). Like ContentBlock,
// it is a tagged union modeled as a single struct; a StreamChunk may
// carry several of these (e.g. a tool-call delta alongside a usage
// update).
type ContentChunk struct {
	Kind ContentChunkKind `json:"kind"`

	ID   string `json:"id,omitempty"` // groups consecutive chunks of the same logical unit
	Text string `json:"text,omitempty"`

	ToolCallID    string `json:"tool_call_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`
	ToolArguments string `json:"tool_arguments,omitempty"`

	ThoughtText      string                 `json:"thought_text,omitempty"`
	ThoughtSignature string                 `json:"thought_signature,omitempty"`
	ThoughtSummary   string                 `json:"thought_summary,omitempty"`
	ThoughtExtraData map[string]interface{} `json:"thought_extra_data,omitempty"`

	UnknownData     map[string]interface{} `json:"unknown_data,omitempty"`
	UnknownModel    string                  `json:"unknown_model_name,omitempty"`
	UnknownProvider string                  `json:"unknown_provider_name,omitempty"`
}

// StreamChunk is one emitted unit of a streaming response (§3).
type StreamChunk struct {
	Content      []ContentChunk `json:"content,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	RawResponse  string         `json:"raw_response,omitempty"`
	Latency      time.Duration  `json:"latency"`
	FinishReason *FinishReason  `json:"finish_reason,omitempty"`

	// Cached is true when this chunk was replayed from the Cache Port
	// rather than produced live by a provider (§4.6 "Streaming
	// reconstruction").
	Cached bool `json:"-"`
}
