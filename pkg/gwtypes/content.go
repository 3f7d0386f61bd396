// Package gwtypes defines the provider-independent data model the routing
// core operates on: CanonicalRequest, ContentBlock, ModelConfig,
// ProviderBinding, Credential, ProviderResponse, and StreamChunk.
package gwtypes

// Role identifies the sender of a RequestMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RequestMessage is one turn of a CanonicalRequest conversation.
type RequestMessage struct {
	Role    Role          `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlockKind discriminates the ContentBlock tagged union.
type ContentBlockKind string

const (
	ContentText       ContentBlockKind = "text"
	ContentToolCall   ContentBlockKind = "tool_call"
	ContentToolResult ContentBlockKind = "tool_result"
	ContentFile       ContentBlockKind = "file"
	ContentThought    ContentBlockKind = "thought"
	ContentUnknown    ContentBlockKind = "unknown"
)

// ContentBlock is the tagged-union content unit carried in messages.
//
// Only the fields relevant to Kind are populated; this mirrors the
// teacher's ContentPart interface (pkg/provider/types/message.go) but is
// modeled as one discriminated struct rather than one type per variant,
// since translators need to inspect and rewrite the scoping fields
// (ModelName/ProviderName/ProviderType) uniformly across kinds.
type ContentBlock struct {
	Kind ContentBlockKind `json:"kind"`

	// Text: Kind == ContentText
	Text string `json:"text,omitempty"`

	// ToolCall: Kind == ContentToolCall
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
	ToolArguments string `json:"tool_arguments,omitempty"` // raw JSON text

	// ToolResult: Kind == ContentToolResult
	ToolResultID     string      `json:"tool_result_id,omitempty"`
	ToolResultName   string      `json:"tool_result_name,omitempty"`
	ToolResultValue  interface{} `json:"tool_result_value,omitempty"`

	// File: Kind == ContentFile
	File *LazyFile `json:"file,omitempty"`

	// Thought: Kind == ContentThought
	ThoughtText        string                 `json:"thought_text,omitempty"`
	ThoughtSignature   string                 `json:"thought_signature,omitempty"`
	ThoughtSummary     string                 `json:"thought_summary,omitempty"`
	ThoughtProviderType string                `json:"thought_provider_type,omitempty"`
	ThoughtExtraData   map[string]interface{} `json:"thought_extra_data,omitempty"`

	// Unknown: Kind == ContentUnknown
	UnknownData map[string]interface{} `json:"unknown_data,omitempty"`

	// Scoping — set on Unknown and (ModelName/ProviderName only) on no
	// other kind per spec.md §3; ThoughtProviderType above carries the
	// Thought scoping tag instead of these two.
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// LazyFile is either URL-backed (lazily resolved) or already holds bytes.
type LazyFile struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

// IsResolved reports whether the file bytes are already present.
func (f *LazyFile) IsResolved() bool {
	return f != nil && len(f.Bytes) > 0
}

// ScopedForProvider reports whether block b should be delivered to the
// given (modelName, providerName, providerType) triple, per spec.md §3:
// Unknown blocks scoped by (model_name, provider_name); Thought blocks
// scoped by provider_type. Unscoped blocks are always delivered.
func (b ContentBlock) ScopedForProvider(modelName, providerName, providerType string) bool {
	switch b.Kind {
	case ContentUnknown:
		if b.ModelName != "" && b.ProviderName != "" {
			return b.ModelName == modelName && b.ProviderName == providerName
		}
		return true
	case ContentThought:
		if b.ThoughtProviderType != "" {
			return b.ThoughtProviderType == providerType
		}
		return true
	default:
		return true
	}
}
