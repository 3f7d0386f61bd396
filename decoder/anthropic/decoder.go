// Package anthropic is the Stream Decoder for Anthropic's Messages SSE
// stream (spec.md §4.3), grounded on the teacher's anthropicStream
// (pkg/providers/anthropic/language_model.go): single-slot tool-call id
// tracking per content-block index, usage accumulated across
// message_start/message_delta, and a clean no-op on every block type the
// router's domain model doesn't need to see.
package anthropic

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwlog"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/providerutils/streaming"
)

// blockState tracks one content_block_start..content_block_stop span.
type blockState struct {
	kind       string // "tool_use", "thinking", "other"
	toolCallID string
	toolName   string
	inputBuf   []byte
}

// Decoder is the per-stream stateful Anthropic SSE decoder.
type Decoder struct {
	parser *streaming.SSEParser

	blocks map[int]*blockState
	pending []gwtypes.StreamChunk

	jsonModeOn  bool
	firstText   bool
	discardUnknown bool

	inputTokens      int64
	cacheReadTokens  int64
	cacheWriteTokens int64

	err error
}

// New builds a Decoder over an already-opened SSE byte stream.
// jsonModeOn mirrors the input-side JSON prefill (spec.md §4.3 "JSON
// prefill"): the first emitted text chunk gets a leading "{".
// discardUnknownChunks controls the spec.md §4.3 "Unknown chunks" policy.
func New(r io.Reader, jsonModeOn, discardUnknownChunks bool) *Decoder {
	return &Decoder{
		parser:         streaming.NewSSEParser(r),
		blocks:         make(map[int]*blockState),
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

	switch event.Event {
	case "ping":
		return d.Next()

	case "message_start":
		return d.handleMessageStart(event.Data)

	case "content_block_start":
		return d.handleBlockStart(event.Data)

	case "content_block_delta":
		return d.handleBlockDelta(event.Data)

	case "content_block_stop":
		return d.handleBlockStop(event.Data)

	case "message_delta":
		return d.handleMessageDelta(event.Data)

	case "message_stop":
		d.err = io.EOF
		return nil, io.EOF

	default:
		return d.unknownChunk(event.Event, event.Data)
	}
}

func (d *Decoder) handleMessageStart(data string) (*gwtypes.StreamChunk, error) {
	var msg struct {
		Message struct {
			Usage struct {
				InputTokens              int `json:"input_tokens"`
				CacheReadInputTokens     int `json:"cache_read_input_tokens"`
				CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			} `json:"usage"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return d.Next()
	}
	d.inputTokens = int64(msg.Message.Usage.InputTokens)
	d.cacheReadTokens = int64(msg.Message.Usage.CacheReadInputTokens)
	d.cacheWriteTokens = int64(msg.Message.Usage.CacheCreationInputTokens)
	return d.Next()
}

func (d *Decoder) handleBlockStart(data string) (*gwtypes.StreamChunk, error) {
	var start struct {
		Index        int `json:"index"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"content_block"`
	}
	if err := json.Unmarshal([]byte(data), &start); err != nil {
		return d.Next()
	}

	switch start.ContentBlock.Type {
	case "tool_use":
		d.blocks[start.Index] = &blockState{kind: "tool_use", toolCallID: start.ContentBlock.ID, toolName: start.ContentBlock.Name}
	case "thinking":
		d.blocks[start.Index] = &blockState{kind: "thinking"}
	default:
		d.blocks[start.Index] = &blockState{kind: "other"}
	}
	return d.Next()
}

func (d *Decoder) handleBlockDelta(data string) (*gwtypes.StreamChunk, error) {
	var delta struct {
		Index int `json:"index"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			Thinking    string `json:"thinking"`
			Signature   string `json:"signature"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return nil, gwerrors.NewFatalStreamError(ProviderType, "malformed content_block_delta", err)
	}

	switch delta.Delta.Type {
	case "text_delta":
		text := delta.Delta.Text
		if d.jsonModeOn && d.firstText {
			text = "{" + text
		}
		d.firstText = false
		return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: text}}}, nil

	case "input_json_delta":
		if delta.Delta.PartialJSON == "" {
			return d.Next()
		}
		block := d.blocks[delta.Index]
		if block == nil || block.kind != "tool_use" {
			return nil, gwerrors.NewFatalStreamError(ProviderType, "input_json_delta with no preceding tool_use block", nil)
		}
		block.inputBuf = append(block.inputBuf, delta.Delta.PartialJSON...)
		return d.Next()

	case "thinking_delta":
		return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{
			Kind:        gwtypes.ChunkThought,
			ThoughtText: delta.Delta.Thinking,
		}}}, nil

	case "signature_delta":
		return d.Next()

	default:
		return d.unknownChunk("content_block_delta", data)
	}
}

func (d *Decoder) handleBlockStop(data string) (*gwtypes.StreamChunk, error) {
	var stop struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal([]byte(data), &stop); err != nil {
		return d.Next()
	}
	block := d.blocks[stop.Index]
	delete(d.blocks, stop.Index)

	if block == nil || block.kind != "tool_use" {
		return d.Next()
	}

	args := "{}"
	if len(block.inputBuf) > 0 {
		var v map[string]interface{}
		if err := json.Unmarshal(block.inputBuf, &v); err != nil {
			return nil, gwerrors.NewFatalStreamError(ProviderType, fmt.Sprintf("malformed tool call arguments for %q", block.toolName), err)
		}
		args = string(block.inputBuf)
	}

	return &gwtypes.StreamChunk{Content: []gwtypes.ContentChunk{{
		Kind:          gwtypes.ChunkToolCall,
		ToolCallID:    block.toolCallID,
		ToolName:      block.toolName,
		ToolArguments: args,
	}}}, nil
}

func (d *Decoder) handleMessageDelta(data string) (*gwtypes.StreamChunk, error) {
	var delta struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return nil, gwerrors.NewFatalStreamError(ProviderType, "malformed message_delta", err)
	}
	if delta.Delta.StopReason == "" {
		return d.Next()
	}

	finish := finishReasonFromStopReason(delta.Delta.StopReason)
	inputTotal := d.inputTokens + d.cacheReadTokens + d.cacheWriteTokens
	outputTotal := int64(delta.Usage.OutputTokens)

	return &gwtypes.StreamChunk{
		Usage:        &gwtypes.Usage{InputTokens: &inputTotal, OutputTokens: &outputTotal},
		FinishReason: &finish,
	}, nil
}

func finishReasonFromStopReason(stopReason string) gwtypes.FinishReason {
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

func (d *Decoder) unknownChunk(eventType, data string) (*gwtypes.StreamChunk, error) {
	if d.discardUnknown {
		gwlog.Warnf("anthropic: discarding unrecognized stream event %q", eventType)
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

// ProviderType names the provider family for error/unknown-chunk tagging.
const ProviderType = "anthropic"
