// Package openaicompat is the Content Translator for the OpenAI-compatible
// chat-completions family spec.md §4.2/§12 treats as one translator:
// OpenAI, Azure OpenAI, Mistral, xAI, Together, Fireworks, Groq, DeepSeek,
// OpenRouter, Hyperbolic, vLLM, TGI, and SGLang. Grounded on the teacher's
// pkg/providers/openai/language_model.go buildRequestBody/convertResponse,
// generalized from the teacher's own GenerateOptions to
// gwtypes.CanonicalRequest and widened to cover the rest of the family's
// minor wire differences (documented per-rule below).
package openaicompat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/internal/fileresolve"
	"github.com/inferencegw/core/pkg/providerutils/tool"
)

// ProviderType is the provider_type tag Thought blocks are scoped by
// (spec.md §3) for every member of this family.
const ProviderType = "openaicompat"

// reasoningDetailsKind is the ProviderBinding.Kind whose wire format
// round-trips Thought blocks through an OpenRouter-style
// "reasoning_details" array (spec.md §4.2 rule 7, §4.3). Every other
// member of the family has no request-side reasoning representation.
const reasoningDetailsKind = "openrouter"

// Translator implements the OpenAI-compatible Content Translator.
type Translator struct{}

// New returns an OpenAI-compatible Translator.
func New() *Translator { return &Translator{} }

// TranslateRequest implements spec.md §4.2 for the chat-completions wire
// format shared by the whole family.
func (t *Translator) TranslateRequest(ctx context.Context, req *gwtypes.CanonicalRequest, modelID, providerName, kind string) (map[string]interface{}, error) {
	messages := scopeBlocks(req.Messages, modelID, providerName)

	wireMessages, err := convertMessages(ctx, messages, req.System, req.FetchAndEncodeInputFilesBeforeInference, kind)
	if err != nil {
		return nil, gwerrors.NewSerializationError(providerName, "request", err)
	}

	effectiveMode := req.JSONMode
	jsonOn := effectiveMode == gwtypes.JSONModeOn || effectiveMode == gwtypes.JSONModeStrict

	if jsonOn {
		wireMessages = append(wireMessages, map[string]interface{}{
			"role":    "assistant",
			"content": "Here is the JSON requested:\n{",
		})
	}

	body := map[string]interface{}{
		"model":    modelID,
		"stream":   req.Stream,
		"messages": wireMessages,
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = *req.PresencePenalty
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}

	applyToolConfig(body, req)

	switch effectiveMode {
	case gwtypes.JSONModeOn:
		body["response_format"] = map[string]interface{}{"type": "json_object"}
	case gwtypes.JSONModeStrict:
		if req.OutputSchema != nil {
			body["response_format"] = map[string]interface{}{
				"type": "json_schema",
				"json_schema": map[string]interface{}{
					"name":   "response",
					"schema": req.OutputSchema,
					"strict": true,
				},
			}
		} else {
			body["response_format"] = map[string]interface{}{"type": "json_object"}
		}
	}

	if req.InferenceParams.ReasoningEffort != "" {
		body["reasoning_effort"] = req.InferenceParams.ReasoningEffort
	}
	if req.InferenceParams.ServiceTier != "" {
		body["service_tier"] = req.InferenceParams.ServiceTier
	}

	return body, nil
}

// scopeBlocks applies spec.md §4.2 rule 1: drop any Unknown/Thought
// block that isn't scoped to this (modelID, providerName, ProviderType).
// Unlike Anthropic, this family has no role-coalescing requirement —
// system, user, and assistant roles are all legal as the first/last turn.
func scopeBlocks(messages []gwtypes.RequestMessage, modelID, providerName string) []gwtypes.RequestMessage {
	out := make([]gwtypes.RequestMessage, 0, len(messages))
	for _, m := range messages {
		kept := make([]gwtypes.ContentBlock, 0, len(m.Content))
		for _, c := range m.Content {
			if !c.ScopedForProvider(modelID, providerName, ProviderType) {
				continue
			}
			if c.Kind == gwtypes.ContentThought && c.ThoughtProviderType != "" && c.ThoughtProviderType != ProviderType {
				continue
			}
			kept = append(kept, c)
		}
		out = append(out, gwtypes.RequestMessage{Role: m.Role, Content: kept})
	}
	return out
}

// convertMessages flattens each RequestMessage to the family's wire
// shape: one object per message, content either a plain string (the
// common case, a single text block) or an array of typed parts (tool
// calls, tool results, files). A leading system message is prepended
// when req.System is non-empty, matching the teacher's buildRequestBody.
func convertMessages(ctx context.Context, messages []gwtypes.RequestMessage, system string, fetchBeforeInference bool, kind string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(messages)+1)
	if system != "" {
		out = append(out, map[string]interface{}{"role": "system", "content": system})
	}

	for _, m := range messages {
		msg, err := convertMessage(ctx, m, fetchBeforeInference, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, msg...)
	}
	return out, nil
}

// convertMessage returns one or more wire messages for a single
// RequestMessage: tool_result blocks must each become their own
// {"role":"tool",...} message in this family, so a RequestMessage with
// several tool results fans out to several wire messages.
func convertMessage(ctx context.Context, m gwtypes.RequestMessage, fetchBeforeInference bool, kind string) ([]map[string]interface{}, error) {
	var toolResults []map[string]interface{}
	var toolCalls []map[string]interface{}
	var parts []interface{}
	var reasoningDetails []map[string]interface{}
	var plainText string
	textOnly := true

	for _, c := range m.Content {
		switch c.Kind {
		case gwtypes.ContentText:
			plainText += c.Text
			parts = append(parts, map[string]interface{}{"type": "text", "text": c.Text})

		case gwtypes.ContentToolCall:
			if m.Role != gwtypes.RoleAssistant {
				return nil, fmt.Errorf("tool_call block only valid on an assistant message, got role %q", m.Role)
			}
			args := c.ToolArguments
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   c.ToolCallID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      c.ToolName,
					"arguments": args,
				},
			})
			textOnly = false

		case gwtypes.ContentToolResult:
			toolResults = append(toolResults, map[string]interface{}{
				"role":         "tool",
				"tool_call_id": c.ToolResultID,
				"content":      fmt.Sprintf("%v", c.ToolResultValue),
			})
			textOnly = false

		case gwtypes.ContentFile:
			part, err := convertFile(ctx, c.File, fetchBeforeInference)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			textOnly = false

		case gwtypes.ContentThought:
			// Matching provider_type already survived scoping (spec.md §4.2
			// rule 7). Only OpenRouter's wire format has a request-side
			// reasoning representation; everywhere else the block is dropped.
			if kind == reasoningDetailsKind {
				reasoningDetails = append(reasoningDetails, convertThoughtToReasoningDetail(c, len(reasoningDetails)))
				textOnly = false
			}
			continue

		case gwtypes.ContentUnknown:
			continue
		}
	}

	var msgs []map[string]interface{}
	if len(parts) > 0 || len(toolCalls) > 0 || len(reasoningDetails) > 0 {
		msg := map[string]interface{}{"role": string(m.Role)}
		if textOnly {
			msg["content"] = plainText
		} else if len(parts) > 0 {
			msg["content"] = parts
		} else {
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		if len(reasoningDetails) > 0 {
			msg["reasoning_details"] = reasoningDetails
		}
		msgs = append(msgs, msg)
	}
	msgs = append(msgs, toolResults...)
	return msgs, nil
}

// convertThoughtToReasoningDetail implements spec.md §4.2 rule 7's
// re-serialization half of the §4.3 reasoning_details round-trip: an
// encrypted Thought (extra_data.encrypted = true) goes back out as
// type "reasoning.encrypted" with its ciphertext in "data"; a Thought
// carrying only a summary goes out as "reasoning.summary"; otherwise
// plain text goes out as "reasoning.text".
func convertThoughtToReasoningDetail(c gwtypes.ContentBlock, index int) map[string]interface{} {
	detail := map[string]interface{}{"index": index}
	if encrypted, _ := c.ThoughtExtraData["encrypted"].(bool); encrypted {
		detail["type"] = "reasoning.encrypted"
		detail["data"] = c.ThoughtSignature
		return detail
	}
	if c.ThoughtText == "" && c.ThoughtSummary != "" {
		detail["type"] = "reasoning.summary"
		detail["summary"] = c.ThoughtSummary
		return detail
	}
	detail["type"] = "reasoning.text"
	detail["text"] = c.ThoughtText
	if c.ThoughtSignature != "" {
		detail["signature"] = c.ThoughtSignature
	}
	return detail
}

// convertFile implements spec.md §4.2 rule 6: a URL-backed, known-MIME
// image is forwarded directly unless fetchBeforeInference forces
// inlining; everything else is resolved (fetching bytes if URL-backed)
// and inlined as a base64 data URL.
func convertFile(ctx context.Context, f *gwtypes.LazyFile, fetchBeforeInference bool) (map[string]interface{}, error) {
	if f == nil {
		return map[string]interface{}{"type": "text", "text": ""}, nil
	}
	isImage := strings.HasPrefix(f.MimeType, "image/")
	if !fetchBeforeInference && isImage && f.URL != "" && !f.IsResolved() {
		return map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]interface{}{"url": f.URL},
		}, nil
	}

	data, err := fileresolve.Resolve(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("resolving file %q: %w", f.URL, err)
	}
	url := fmt.Sprintf("data:%s;base64,%s", f.MimeType, base64.StdEncoding.EncodeToString(data))
	return map[string]interface{}{
		"type":      "image_url",
		"image_url": map[string]interface{}{"url": url},
	}, nil
}

// applyToolConfig implements spec.md §4.2 rule 4 for the OpenAI-compatible
// wire format. parallel_tool_calls is forwarded whenever the request sets
// it, for every model; the o1-family omission applies only to the
// Anthropic translator.
func applyToolConfig(body map[string]interface{}, req *gwtypes.CanonicalRequest) {
	if req.ToolConfig == nil || len(req.ToolConfig.Tools) == 0 {
		return
	}

	body["tools"] = tool.ToOpenAIFormat(req.ToolConfig.Tools, req.ToolConfig.Strict)
	body["tool_choice"] = tool.ConvertToolChoiceToOpenAI(req.ToolConfig.ToolChoice)

	if req.ToolConfig.ParallelToolCalls != nil {
		body["parallel_tool_calls"] = *req.ToolConfig.ParallelToolCalls
	}
}
