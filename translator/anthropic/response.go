package anthropic

import (
	"encoding/json"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
)

type wireContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input"`
	Thinking  string                 `json:"thinking"`
	Signature string                 `json:"signature"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type wireResponse struct {
	ID         string             `json:"id"`
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      wireUsage          `json:"usage"`
}

// TranslateResponse implements spec.md §4.2's translateResponse for
// Anthropic's non-streaming Messages response.
func (t *Translator) TranslateResponse(raw []byte, jsonMode gwtypes.JSONMode) (*gwtypes.ProviderResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gwerrors.NewSerializationError("anthropic", "response", err)
	}

	out := &gwtypes.ProviderResponse{
		ID:          resp.ID,
		RawResponse: string(raw),
	}

	firstText := true
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			text := c.Text
			if jsonMode == gwtypes.JSONModeOn && firstText {
				text = "{" + text
			}
			firstText = false
			out.Output = append(out.Output, gwtypes.ContentBlock{Kind: gwtypes.ContentText, Text: text})

		case "tool_use":
			args, _ := json.Marshal(c.Input)
			out.Output = append(out.Output, gwtypes.ContentBlock{
				Kind:          gwtypes.ContentToolCall,
				ToolCallID:    c.ID,
				ToolName:      c.Name,
				ToolArguments: string(args),
			})

		case "thinking":
			out.Output = append(out.Output, gwtypes.ContentBlock{
				Kind:                gwtypes.ContentThought,
				ThoughtText:         c.Thinking,
				ThoughtSignature:    c.Signature,
				ThoughtProviderType: ProviderType,
			})
		}
	}

	out.FinishReason = convertFinishReason(resp.StopReason)
	out.Usage = convertUsage(resp.Usage)
	return out, nil
}

func convertFinishReason(stopReason string) gwtypes.FinishReason {
	switch stopReason {
	case "end_turn":
		return gwtypes.FinishStop
	case "max_tokens":
		return gwtypes.FinishLength
	case "tool_use":
		return gwtypes.FinishToolCall
	case "stop_sequence":
		return gwtypes.FinishStopSequence
	default:
		return gwtypes.FinishUnknown
	}
}

func convertUsage(u wireUsage) gwtypes.Usage {
	input := int64(u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens)
	output := int64(u.OutputTokens)
	return gwtypes.Usage{InputTokens: &input, OutputTokens: &output}
}
