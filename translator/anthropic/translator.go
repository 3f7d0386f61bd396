// Package anthropic is the Content Translator for Anthropic's Messages
// API (spec.md §4.2). It implements the rules shared across translators
// — role coalescing, system-message placement, scoped-block filtering,
// tool representation, JSON mode, file inlining, and thought handling —
// the way the teacher's pkg/providers/anthropic/language_model.go builds
// its request body, generalized from the teacher's own GenerateOptions
// to gwtypes.CanonicalRequest.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/internal/fileresolve"
	"github.com/inferencegw/core/pkg/providerutils/tool"
)

// ProviderType is the provider_type tag Thought blocks are scoped by
// (spec.md §3) and the name surfaced in error values.
const ProviderType = "anthropic"

// maxTokensDefaults is the model-name-prefix lookup table spec.md §4.2
// rule 8 requires when a request omits max_tokens. Longest prefix wins.
var maxTokensDefaults = []struct {
	prefix string
	tokens int
}{
	{"claude-opus-4", 32000},
	{"claude-sonnet-4", 64000},
	{"claude-haiku-4", 8192},
	{"claude-3-7-sonnet", 64000},
	{"claude-3-5-sonnet", 8192},
	{"claude-3-5-haiku", 8192},
	{"claude-3-opus", 4096},
	{"claude-3-sonnet", 4096},
	{"claude-3-haiku", 4096},
}

func defaultMaxTokens(modelID string) (int, error) {
	for _, entry := range maxTokensDefaults {
		if strings.HasPrefix(modelID, entry.prefix) {
			return entry.tokens, nil
		}
	}
	return 0, fmt.Errorf("anthropic: no default max_tokens for unrecognized model %q; set max_tokens explicitly", modelID)
}

// Translator implements the Anthropic Content Translator.
type Translator struct{}

// New returns an Anthropic Translator.
func New() *Translator { return &Translator{} }

// TranslateRequest implements spec.md §4.2 for Anthropic's Messages API.
func (t *Translator) TranslateRequest(ctx context.Context, req *gwtypes.CanonicalRequest, modelID, providerName, kind string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"model":  modelID,
		"stream": req.Stream,
	}

	messages := scopeAndCoalesce(req.Messages, modelID, providerName)
	anthMessages, err := convertMessages(ctx, messages, req.FetchAndEncodeInputFilesBeforeInference)
	if err != nil {
		return nil, gwerrors.NewSerializationError(providerName, "request", err)
	}

	effectiveMode := req.JSONMode
	if effectiveMode == gwtypes.JSONModeStrict && (req.OutputSchema == nil || strings.Contains(modelID, "3.5")) {
		effectiveMode = gwtypes.JSONModeOn // spec.md §4.2 rule 5: falls back to On
	}

	jsonOn := effectiveMode == gwtypes.JSONModeOn
	if jsonOn {
		anthMessages = append(anthMessages, map[string]interface{}{
			"role":    "assistant",
			"content": "Here is the JSON requested:\n{",
		})
	}
	body["messages"] = anthMessages

	system := req.System
	if jsonOn && !mentionsJSON(system, messages) {
		system = "Respond using JSON.\n\n" + system
	}
	if system != "" {
		body["system"] = system
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	} else {
		def, err := defaultMaxTokens(modelID)
		if err != nil {
			return nil, gwerrors.NewInvalidRequestError(err.Error(), err)
		}
		maxTokens = def
	}
	body["max_tokens"] = maxTokens

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil && req.Temperature == nil {
		body["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}

	applyToolConfig(body, req, modelID)
	if effectiveMode == gwtypes.JSONModeStrict {
		body["output_config"] = map[string]interface{}{
			"format": map[string]interface{}{
				"type":   "json_schema",
				"schema": req.OutputSchema,
			},
		}
	}

	return body, nil
}

// mentionsJSON reports whether "json" (case-insensitive) already
// appears in the system text or any message, satisfying providers that
// require the literal string to be present (spec.md §4.2 rule 2).
func mentionsJSON(system string, messages []gwtypes.RequestMessage) bool {
	if strings.Contains(strings.ToLower(system), "json") {
		return true
	}
	for _, m := range messages {
		for _, c := range m.Content {
			if c.Kind == gwtypes.ContentText && strings.Contains(strings.ToLower(c.Text), "json") {
				return true
			}
		}
	}
	return false
}

// scopeAndCoalesce applies spec.md §4.2 rules 1 and 3: drop
// out-of-scope Unknown/Thought blocks, then prepend/append synthetic
// "[listening]" user turns so the sequence starts with user and never
// ends on assistant (Anthropic rejects both).
func scopeAndCoalesce(messages []gwtypes.RequestMessage, modelID, providerName string) []gwtypes.RequestMessage {
	filtered := make([]gwtypes.RequestMessage, 0, len(messages))
	for _, m := range messages {
		kept := make([]gwtypes.ContentBlock, 0, len(m.Content))
		for _, c := range m.Content {
			if !c.ScopedForProvider(modelID, providerName, ProviderType) {
				continue
			}
			if c.Kind == gwtypes.ContentThought && c.ThoughtProviderType != "" && c.ThoughtProviderType != ProviderType {
				gwlog.Warnf("anthropic: dropping thought block scoped to provider_type %q", c.ThoughtProviderType)
				continue
			}
			kept = append(kept, c)
		}
		filtered = append(filtered, gwtypes.RequestMessage{Role: m.Role, Content: kept})
	}

	if len(filtered) == 0 {
		return filtered
	}

	out := make([]gwtypes.RequestMessage, 0, len(filtered)+2)
	if filtered[0].Role != gwtypes.RoleUser {
		out = append(out, listeningMessage())
	}
	out = append(out, filtered...)
	if out[len(out)-1].Role == gwtypes.RoleAssistant {
		out = append(out, listeningMessage())
	}
	return out
}

func listeningMessage() gwtypes.RequestMessage {
	return gwtypes.RequestMessage{
		Role:    gwtypes.RoleUser,
		Content: []gwtypes.ContentBlock{{Kind: gwtypes.ContentText, Text: "[listening]"}},
	}
}

func convertMessages(ctx context.Context, messages []gwtypes.RequestMessage, fetchBeforeInference bool) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		if m.Role == gwtypes.RoleUser {
			for _, c := range m.Content {
				if c.Kind == gwtypes.ContentToolCall {
					return nil, fmt.Errorf("user message must not contain a tool_call block")
				}
			}
		}
		if m.Role == gwtypes.RoleAssistant {
			for _, c := range m.Content {
				if c.Kind == gwtypes.ContentToolResult {
					return nil, fmt.Errorf("assistant message must not contain a tool_result block")
				}
			}
		}

		parts := make([]map[string]interface{}, 0, len(m.Content))
		for _, c := range m.Content {
			part, err := convertBlock(ctx, c, fetchBeforeInference)
			if err != nil {
				return nil, err
			}
			if part != nil {
				parts = append(parts, part)
			}
		}
		out = append(out, map[string]interface{}{
			"role":    string(m.Role),
			"content": parts,
		})
	}
	return out, nil
}

func convertBlock(ctx context.Context, c gwtypes.ContentBlock, fetchBeforeInference bool) (map[string]interface{}, error) {
	switch c.Kind {
	case gwtypes.ContentText:
		return map[string]interface{}{"type": "text", "text": c.Text}, nil

	case gwtypes.ContentToolCall:
		var args map[string]interface{}
		if c.ToolArguments != "" {
			if err := json.Unmarshal([]byte(c.ToolArguments), &args); err != nil {
				return nil, fmt.Errorf("tool_call %q arguments must parse as a JSON object for Anthropic: %w", c.ToolCallID, err)
			}
		}
		return map[string]interface{}{
			"type":  "tool_use",
			"id":    c.ToolCallID,
			"name":  c.ToolName,
			"input": args,
		}, nil

	case gwtypes.ContentToolResult:
		return map[string]interface{}{
			"type":        "tool_result",
			"tool_use_id": c.ToolResultID,
			"content":     fmt.Sprintf("%v", c.ToolResultValue),
		}, nil

	case gwtypes.ContentFile:
		return convertFile(ctx, c.File, fetchBeforeInference)

	case gwtypes.ContentThought:
		// Matching provider_type has already survived scoping; re-serialize
		// as a thinking block (spec.md §4.2 rule 7).
		return map[string]interface{}{
			"type":      "thinking",
			"thinking":  c.ThoughtText,
			"signature": c.ThoughtSignature,
		}, nil

	case gwtypes.ContentUnknown:
		return nil, nil

	default:
		return nil, nil
	}
}

// convertFile implements spec.md §4.2 rule 6: an image with a known MIME
// type is forwarded by URL unless fetchBeforeInference forces inlining;
// everything else (and every image once that flag is set) is resolved —
// fetching bytes if URL-backed — and inlined as base64.
func convertFile(ctx context.Context, f *gwtypes.LazyFile, fetchBeforeInference bool) (map[string]interface{}, error) {
	if f == nil {
		return map[string]interface{}{"type": "text", "text": ""}, nil
	}
	isImage := strings.HasPrefix(f.MimeType, "image/")
	if !fetchBeforeInference && isImage && f.URL != "" && !f.IsResolved() {
		return map[string]interface{}{
			"type":   "image",
			"source": map[string]interface{}{"type": "url", "url": f.URL},
		}, nil
	}

	data, err := fileresolve.Resolve(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("resolving file %q: %w", f.URL, err)
	}

	kind := "document"
	if isImage {
		kind = "image"
	}
	return map[string]interface{}{
		"type": kind,
		"source": map[string]interface{}{
			"type":       "base64",
			"media_type": f.MimeType,
			"data":       base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// applyToolConfig implements spec.md §4.2 rule 4.
func applyToolConfig(body map[string]interface{}, req *gwtypes.CanonicalRequest, modelID string) {
	if req.ToolConfig == nil || len(req.ToolConfig.Tools) == 0 {
		return
	}
	if req.ToolConfig.ToolChoice.Kind == gwtypes.ToolChoiceNone {
		return
	}

	body["tools"] = tool.ToAnthropicFormat(req.ToolConfig.Tools)
	body["tool_choice"] = tool.ConvertToolChoiceToAnthropic(req.ToolConfig.ToolChoice)

	if req.ToolConfig.ParallelToolCalls != nil && !*req.ToolConfig.ParallelToolCalls {
		if strings.HasPrefix(modelID, "o1") {
			return
		}
		if tc, ok := body["tool_choice"].(map[string]interface{}); ok {
			tc["disable_parallel_tool_use"] = true
		}
	}
}

