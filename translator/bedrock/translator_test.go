package bedrock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/gwtypes"
)

func userText(s string) gwtypes.RequestMessage {
	return gwtypes.RequestMessage{Role: gwtypes.RoleUser, Content: []gwtypes.ContentBlock{{Kind: gwtypes.ContentText, Text: s}}}
}

func TestTranslateRequest_StripsModelAndStreamAddsAnthropicVersion(t *testing.T) {
	tr := New()
	req := &gwtypes.CanonicalRequest{Messages: []gwtypes.RequestMessage{userText("hi")}}

	body, err := tr.TranslateRequest(context.Background(), req, "anthropic.claude-3-5-sonnet-20241022-v2:0", "bedrock-primary", "bedrock")
	require.NoError(t, err)

	_, hasModel := body["model"]
	_, hasStream := body["stream"]
	assert.False(t, hasModel)
	assert.False(t, hasStream)
	assert.Equal(t, AnthropicVersion, body["anthropic_version"])
	assert.Equal(t, 8192, body["max_tokens"])
}

func TestTranslateResponse_DelegatesToAnthropicShape(t *testing.T) {
	tr := New()
	raw := []byte(`{"id":"msg_1","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)

	resp, err := tr.TranslateResponse(raw, gwtypes.JSONModeOff)
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	assert.Equal(t, "hi", resp.Output[0].Text)
	assert.Equal(t, gwtypes.FinishStop, resp.FinishReason)
}
