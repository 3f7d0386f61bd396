// Package bedrock is the Content Translator for Claude-on-Bedrock
// (spec.md §4.2), grounded on the teacher's
// pkg/providers/bedrock/anthropic/language_model.go buildRequestBody:
// the wire body is Anthropic's Messages format minus "model"/"stream"
// (Bedrock carries the model id in the invoke URL path and streaming in
// the choice of invoke-vs-invoke-with-response-stream endpoint) plus a
// required "anthropic_version" field. Rather than duplicate Anthropic's
// role-coalescing, scoped-block filtering, JSON-mode prefill, and
// max_tokens-default logic, this translator delegates body construction
// to translator/anthropic and reshapes its output, matching the
// teacher's own choice to keep the Bedrock Anthropic model a thin
// wrapper around the same message-conversion helpers the direct
// Anthropic provider uses (pkg/providerutils/prompt.ToAnthropicMessages
// is shared by both in the teacher).
package bedrock

import (
	"context"
	"strings"

	"github.com/inferencegw/core/pkg/gwtypes"
	anthropictranslator "github.com/inferencegw/core/translator/anthropic"
)

// AnthropicVersion is the Bedrock-required wire constant identifying the
// Messages API revision, matching the teacher's bedrock/anthropic const.
const AnthropicVersion = "bedrock-2023-05-31"

// ProviderType is the provider_type tag Thought blocks are scoped by.
const ProviderType = "bedrock"

// Translator implements the Bedrock (Claude) Content Translator.
type Translator struct {
	inner *anthropictranslator.Translator
}

// New returns a Bedrock Translator.
func New() *Translator { return &Translator{inner: anthropictranslator.New()} }

// TranslateRequest implements spec.md §4.2 for Bedrock's Claude invoke
// body: Anthropic's Messages shape with "model"/"stream" stripped (both
// are expressed via the invoke URL, not the body) and
// "anthropic_version" added.
func (t *Translator) TranslateRequest(ctx context.Context, req *gwtypes.CanonicalRequest, modelID, providerName, kind string) (map[string]interface{}, error) {
	// Bedrock model IDs carry a vendor prefix ("anthropic.claude-3-5-
	// sonnet-...-v1:0") the inner translator's max-tokens-default table
	// doesn't expect; strip it so the lookup matches the same way it
	// would against the direct Anthropic API's bare model name.
	bareModelID := modelID
	if idx := strings.Index(bareModelID, "."); idx != -1 {
		bareModelID = bareModelID[idx+1:]
	}
	if idx := strings.LastIndex(bareModelID, "-v"); idx != -1 {
		bareModelID = bareModelID[:idx]
	}

	body, err := t.inner.TranslateRequest(ctx, req, bareModelID, providerName, kind)
	if err != nil {
		return nil, err
	}
	delete(body, "model")
	delete(body, "stream")
	body["anthropic_version"] = AnthropicVersion
	return body, nil
}

// TranslateResponse implements spec.md §4.2's translateResponse for
// Bedrock's Claude invoke response, which is wire-identical to direct
// Anthropic's Messages response.
func (t *Translator) TranslateResponse(raw []byte, jsonMode gwtypes.JSONMode) (*gwtypes.ProviderResponse, error) {
	return t.inner.TranslateResponse(raw, jsonMode)
}
