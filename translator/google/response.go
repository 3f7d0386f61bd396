package google

import (
	"encoding/json"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
)

type wirePart struct {
	Text         string `json:"text"`
	FunctionCall *struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args"`
	} `json:"functionCall,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// TranslateResponse implements spec.md §4.2's translateResponse for
// Gemini's non-streaming generateContent response.
func (t *Translator) TranslateResponse(raw []byte, jsonMode gwtypes.JSONMode) (*gwtypes.ProviderResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gwerrors.NewSerializationError("google", "response", err)
	}

	out := &gwtypes.ProviderResponse{RawResponse: string(raw)}
	if resp.UsageMetadata != nil {
		input := int64(resp.UsageMetadata.PromptTokenCount)
		output := int64(resp.UsageMetadata.CandidatesTokenCount)
		out.Usage = gwtypes.Usage{InputTokens: &input, OutputTokens: &output}
	}

	if len(resp.Candidates) == 0 {
		out.FinishReason = gwtypes.FinishUnknown
		return out, nil
	}

	candidate := resp.Candidates[0]
	firstText := true
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.Output = append(out.Output, gwtypes.ContentBlock{
				Kind:          gwtypes.ContentToolCall,
				ToolCallID:    part.FunctionCall.Name, // Gemini assigns no call id
				ToolName:      part.FunctionCall.Name,
				ToolArguments: string(args),
			})
		case part.Text != "":
			text := part.Text
			if firstText && (jsonMode == gwtypes.JSONModeOn || jsonMode == gwtypes.JSONModeStrict) {
				text = "{" + text
			}
			firstText = false
			out.Output = append(out.Output, gwtypes.ContentBlock{Kind: gwtypes.ContentText, Text: text})
		}
	}

	out.FinishReason = convertFinishReason(candidate.FinishReason)
	return out, nil
}

func convertFinishReason(reason string) gwtypes.FinishReason {
	switch reason {
	case "STOP":
		return gwtypes.FinishStop
	case "MAX_TOKENS":
		return gwtypes.FinishLength
	case "SAFETY", "RECITATION":
		return gwtypes.FinishContentFilter
	default:
		return gwtypes.FinishUnknown
	}
}
