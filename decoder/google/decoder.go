// Package google is the Stream Decoder for Gemini's streamGenerateContent
// SSE stream (spec.md §4.3), grounded on the teacher's googleStream
// (pkg/providers/google/language_model.go): each event repeats the full
// candidate/usage shape of the non-streaming response, so this decoder
// declares its own copy of that shape (wireStreamResponse) and simply
// emits one chunk per part instead of assembling a GenerateResult.
package google

import (
	"encoding/json"
	"io"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/providerutils/streaming"
)

// ProviderType names the provider family for error/unknown-chunk tagging.
const ProviderType = "google"

type wireStreamResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				FunctionCall *struct {
					Name string                 `json:"name"`
					Args map[string]interface{} `json:"args"`
				} `json:"functionCall,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// Decoder is the per-stream stateful Gemini SSE decoder.
type Decoder struct {
	parser *streaming.SSEParser

	jsonModeOn     bool
	firstText      bool
	discardUnknown bool

	pending []gwtypes.StreamChunk
	err     error
}

// New builds a Decoder over an already-opened SSE byte stream.
func New(r io.Reader, jsonModeOn, discardUnknownChunks bool) *Decoder {
	return &Decoder{
		parser:         streaming.NewSSEParser(r),
		jsonModeOn:     jsonModeOn,
		firstText:      true,
		discardUnknown: discardUnknownChunks,
	}
}

// Next returns the next StreamChunk, or io.EOF on clean completion.
func (d *Decoder) Next() (*gwtypes.StreamChunk, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.pending) > 0 {
		chunk := d.pending[0]
		d.pending = d.pending[1:]
		return &chunk, nil
	}

	event, err := d.parser.Next()
	if err != nil {
		d.err = err
		return nil, err
	}
	if streaming.IsStreamDone(event) {
		d.err = io.EOF
		return nil, io.EOF
	}

	var resp wireStreamResponse
	if err := json.Unmarshal([]byte(event.Data), &resp); err != nil {
		return nil, gwerrors.NewFatalStreamError(ProviderType, "malformed stream chunk", err)
	}

	if len(resp.Candidates) == 0 {
		return d.unknownChunk(event.Data)
	}
	candidate := resp.Candidates[0]

	var chunks []gwtypes.StreamChunk
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			chunks = append(chunks, gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{
				Kind:          gwtypes.ChunkToolCall,
				ToolCallID:    part.FunctionCall.Name,
				ToolName:      part.FunctionCall.Name,
				ToolArguments: string(args),
			}}})
		case part.Text != "":
			text := part.Text
			if d.jsonModeOn && d.firstText {
				text = "{" + text
			}
			d.firstText = false
			chunks = append(chunks, gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: text}}})
		}
	}

	if candidate.FinishReason != "" {
		finish := convertFinishReason(candidate.FinishReason)
		final := gwtypes.StreamChunk{FinishReason: &finish}
		if resp.UsageMetadata != nil {
			input := int64(resp.UsageMetadata.PromptTokenCount)
			output := int64(resp.UsageMetadata.CandidatesTokenCount)
			final.Usage = &gwtypes.Usage{InputTokens: &input, OutputTokens: &output}
		}
		chunks = append(chunks, final)
	}

	if len(chunks) == 0 {
		return d.Next()
	}
	d.pending = chunks[1:]
	first := chunks[0]
	return &first, nil
}

func (d *Decoder) unknownChunk(data string) (*gwtypes.StreamChunk, error) {
	if d.discardUnknown {
		gwlog.Warnf("google: discarding unrecognized stream chunk shape")
		return d.Next()
	}
	var payload map[string]interface{}
	_ = json.Unmarshal([]byte(data), &payload)
	return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{
		Kind:            gwtypes.ChunkUnknown,
		UnknownData:     payload,
		UnknownProvider: ProviderType,
	}}}, nil
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
