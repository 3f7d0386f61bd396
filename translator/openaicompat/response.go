package openaicompat

import (
	"encoding/json"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
)

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails *struct {
		CachedTokens *int `json:"cached_tokens,omitempty"`
	} `json:"prompt_tokens_details,omitempty"`

	CompletionTokensDetails *struct {
		ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
	} `json:"completion_tokens_details,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

// TranslateResponse implements spec.md §4.2's translateResponse for the
// chat-completions non-streaming response shared across the family.
func (t *Translator) TranslateResponse(raw []byte, jsonMode gwtypes.JSONMode) (*gwtypes.ProviderResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gwerrors.NewSerializationError("openaicompat", "response", err)
	}

	out := &gwtypes.ProviderResponse{
		ID:          resp.ID,
		RawResponse: string(raw),
		Usage:       convertUsage(resp.Usage),
		RawUsage:    rawUsageDetails(resp.Usage),
	}

	if len(resp.Choices) == 0 {
		out.FinishReason = gwtypes.FinishUnknown
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		text := choice.Message.Content
		if jsonMode == gwtypes.JSONModeOn || jsonMode == gwtypes.JSONModeStrict {
			text = "{" + text
		}
		out.Output = append(out.Output, gwtypes.ContentBlock{Kind: gwtypes.ContentText, Text: text})
	}

	for _, tc := range choice.Message.ToolCalls {
		out.Output = append(out.Output, gwtypes.ContentBlock{
			Kind:          gwtypes.ContentToolCall,
			ToolCallID:    tc.ID,
			ToolName:      tc.Function.Name,
			ToolArguments: tc.Function.Arguments,
		})
	}

	out.FinishReason = convertFinishReason(choice.FinishReason)
	return out, nil
}

func convertFinishReason(reason string) gwtypes.FinishReason {
	switch reason {
	case "stop":
		return gwtypes.FinishStop
	case "length":
		return gwtypes.FinishLength
	case "content_filter":
		return gwtypes.FinishContentFilter
	case "tool_calls":
		return gwtypes.FinishToolCall
	default:
		return gwtypes.FinishUnknown
	}
}

func convertUsage(u wireUsage) gwtypes.Usage {
	input := int64(u.PromptTokens)
	output := int64(u.CompletionTokens)
	return gwtypes.Usage{InputTokens: &input, OutputTokens: &output}
}

// rawUsageDetails preserves the family's cache/reasoning token breakdown
// on ProviderResponse.RawUsage, since gwtypes.Usage only models the two
// canonical totals (spec.md §3).
func rawUsageDetails(u wireUsage) map[string]interface{} {
	details := map[string]interface{}{}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens != nil {
		details["cached_tokens"] = *u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil && u.CompletionTokensDetails.ReasoningTokens != nil {
		details["reasoning_tokens"] = *u.CompletionTokensDetails.ReasoningTokens
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
