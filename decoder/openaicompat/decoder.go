// Package openaicompat is the Stream Decoder for the chat-completions
// SSE stream shared by the OpenAI-compatible family (spec.md §4.3).
// Grounded on the teacher's openAIStream (pkg/providers/openai/language_model.go),
// whose Next() left streaming tool calls as a "// TODO: Handle streaming
// tool calls" stub. This decoder fills that gap: spec.md §4.3 requires
// providers that stream tool-call deltas by integer index to keep a
// growing table of (id, name) per index, since only the first delta for
// an index carries id/name — later deltas only carry the index and an
// arguments fragment.
package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/providerutils/streaming"
)

// ProviderType names the provider family for error/unknown-chunk tagging.
const ProviderType = "openaicompat"

// toolCallSlot is the per-index accumulation state spec.md §4.3 calls
// for: the id/name arrive once, in the first delta for that index.
type toolCallSlot struct {
	id   string
	name string
}

// Decoder is the per-stream stateful OpenAI-compatible SSE decoder.
type Decoder struct {
	parser *streaming.SSEParser

	toolCalls map[int]*toolCallSlot

	jsonModeOn     bool
	firstText      bool
	discardUnknown bool

	// pending holds chunks already decoded from the current event but
	// not yet returned, for events (e.g. several reasoning_details
	// entries at once) that expand to more than one StreamChunk.
	pending []*gwtypes.StreamChunk

	err error
}

// New builds a Decoder over an already-opened SSE byte stream.
// jsonModeOn mirrors the input-side JSON prefill: the first emitted
// text chunk gets a leading "{". discardUnknownChunks controls the
// spec.md §4.3 "Unknown chunks" policy for choice shapes this decoder
// doesn't recognize.
func New(r io.Reader, jsonModeOn, discardUnknownChunks bool) *Decoder {
	return &Decoder{
		parser:         streaming.NewSSEParser(r),
		toolCalls:      make(map[int]*toolCallSlot),
		jsonModeOn:     jsonModeOn,
		firstText:      true,
		discardUnknown: discardUnknownChunks,
	}
}

type wireReasoningDetail struct {
	Index     *int   `json:"index"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Summary   string `json:"summary"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

type wireDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
			ReasoningDetails []wireReasoningDetail `json:"reasoning_details"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Next returns the next StreamChunk, or io.EOF on clean completion.
func (d *Decoder) Next() (*gwtypes.StreamChunk, error) {
	if len(d.pending) > 0 {
		chunk := d.pending[0]
		d.pending = d.pending[1:]
		return chunk, nil
	}

	if d.err != nil {
		return nil, d.err
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

	var data wireDelta
	if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
		return nil, gwerrors.NewFatalStreamError(ProviderType, "malformed stream chunk", err)
	}

	if len(data.Choices) == 0 {
		if data.Usage != nil {
			input := int64(data.Usage.PromptTokens)
			output := int64(data.Usage.CompletionTokens)
			return &gwtypes.StreamChunk{Usage: &gwtypes.Usage{InputTokens: &input, OutputTokens: &output}}, nil
		}
		return d.Next()
	}

	choice := data.Choices[0]

	if choice.Delta.Content != "" {
		text := choice.Delta.Content
		if d.jsonModeOn && d.firstText {
			text = "{" + text
		}
		d.firstText = false
		return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: text}}}, nil
	}

	if len(choice.Delta.ToolCalls) > 0 {
		chunk, err := d.accumulateToolCall(choice.Delta.ToolCalls[0].Index, choice.Delta.ToolCalls[0].ID, choice.Delta.ToolCalls[0].Function.Name, choice.Delta.ToolCalls[0].Function.Arguments)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			return d.Next()
		}
		return chunk, nil
	}

	if len(choice.Delta.ReasoningDetails) > 0 {
		chunks := reasoningDetailChunks(choice.Delta.ReasoningDetails)
		if len(chunks) == 0 {
			return d.Next()
		}
		d.pending = append(d.pending, chunks[1:]...)
		return chunks[0], nil
	}

	if choice.FinishReason != nil {
		finish := convertFinishReason(*choice.FinishReason)
		return &gwtypes.StreamChunk{FinishReason: &finish}, nil
	}

	return d.unknownChunk(event.Data)
}

// accumulateToolCall implements spec.md §4.3's index-keyed tool-call
// delta table: the first delta for an index carries id (and usually
// name) and opens the slot; every subsequent delta for that index is an
// arguments fragment looked up by index. A fragment for an index that
// was never opened is a fatal stream error — the decoder has no id/name
// to attach it to.
func (d *Decoder) accumulateToolCall(index int, id, name, argsFragment string) (*gwtypes.StreamChunk, error) {
	slot, exists := d.toolCalls[index]
	if !exists {
		if id == "" {
			return nil, gwerrors.NewFatalStreamError(ProviderType, "tool call delta at an unopened index carries no id", nil)
		}
		slot = &toolCallSlot{id: id, name: name}
		d.toolCalls[index] = slot
	} else {
		if id != "" {
			slot.id = id
		}
		if name != "" {
			slot.name = name
		}
	}

	if argsFragment == "" {
		return nil, nil
	}
	return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{
		Kind:          gwtypes.ChunkToolCall,
		ID:            slot.id,
		ToolCallID:    slot.id,
		ToolName:      slot.name,
		ToolArguments: argsFragment,
	}}}, nil
}

// reasoningDetailChunks implements spec.md §4.3's OpenRouter reasoning
// details handling: each entry is grouped by its index field (falling
// back to array position) and mapped onto a Thought chunk. An
// "encrypted" variant stores its ciphertext in the signature field and
// flags extra_data.encrypted so a later request-side re-serialization
// knows not to treat it as plain text.
func reasoningDetailChunks(details []wireReasoningDetail) []*gwtypes.StreamChunk {
	chunks := make([]*gwtypes.StreamChunk, 0, len(details))
	for pos, rd := range details {
		index := pos
		if rd.Index != nil {
			index = *rd.Index
		}

		content := gwtypes.ContentChunk{
			Kind: gwtypes.ChunkThought,
			ID:   fmt.Sprintf("reasoning-%d", index),
		}
		switch rd.Type {
		case "reasoning.summary":
			content.ThoughtSummary = rd.Summary
		case "reasoning.encrypted":
			content.ThoughtSignature = rd.Data
			content.ThoughtExtraData = map[string]interface{}{"encrypted": true}
		default:
			content.ThoughtText = rd.Text
			if rd.Signature != "" {
				content.ThoughtSignature = rd.Signature
			}
		}
		chunks = append(chunks, &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{content}})
	}
	return chunks
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

func (d *Decoder) unknownChunk(data string) (*gwtypes.StreamChunk, error) {
	if d.discardUnknown {
		gwlog.Warnf("openaicompat: discarding unrecognized stream chunk shape")
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
