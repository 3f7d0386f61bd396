// Package google is the Content Translator for Google's Gemini
// generateContent API (spec.md §4.2), grounded on the teacher's
// pkg/providers/google/language_model.go buildRequestBody/convertResponse,
// generalized from the teacher's own GenerateOptions to
// gwtypes.CanonicalRequest. Gemini's wire shape differs from both other
// families enough to need its own translator rather than reuse: content
// lives under "contents"/"parts", generation knobs nest under
// "generationConfig", and tool results travel as a "functionResponse"
// part rather than a dedicated message role.
package google

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
// (spec.md §3).
const ProviderType = "google"

// Translator implements the Google Content Translator.
type Translator struct{}

// New returns a Google Translator.
func New() *Translator { return &Translator{} }

// TranslateRequest implements spec.md §4.2 for Gemini's generateContent
// wire format.
func (t *Translator) TranslateRequest(ctx context.Context, req *gwtypes.CanonicalRequest, modelID, providerName, kind string) (map[string]interface{}, error) {
	messages := scopeBlocks(req.Messages, modelID, providerName)

	contents, err := convertMessages(ctx, messages, req.FetchAndEncodeInputFilesBeforeInference)
	if err != nil {
		return nil, gwerrors.NewSerializationError(providerName, "request", err)
	}

	effectiveMode := req.JSONMode
	jsonOn := effectiveMode == gwtypes.JSONModeOn || effectiveMode == gwtypes.JSONModeStrict
	if jsonOn {
		contents = append(contents, map[string]interface{}{
			"role":  "model",
			"parts": []map[string]interface{}{{"text": "Here is the JSON requested:\n{"}},
		})
	}

	body := map[string]interface{}{"contents": contents}

	if req.System != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": req.System}},
		}
	}

	genConfig := map[string]interface{}{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}

	switch effectiveMode {
	case gwtypes.JSONModeOn:
		genConfig["responseMimeType"] = "application/json"
	case gwtypes.JSONModeStrict:
		genConfig["responseMimeType"] = "application/json"
		if req.OutputSchema != nil {
			genConfig["responseSchema"] = req.OutputSchema
		}
	}

	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	applyToolConfig(body, req)

	return body, nil
}

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

// googleRole maps the canonical two-role model onto Gemini's
// "user"/"model" roles (Gemini has no "assistant").
func googleRole(r gwtypes.Role) string {
	if r == gwtypes.RoleAssistant {
		return "model"
	}
	return "user"
}

func convertMessages(ctx context.Context, messages []gwtypes.RequestMessage, fetchBeforeInference bool) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
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
		if len(parts) == 0 {
			continue
		}
		out = append(out, map[string]interface{}{
			"role":  googleRole(m.Role),
			"parts": parts,
		})
	}
	return out, nil
}

func convertBlock(ctx context.Context, c gwtypes.ContentBlock, fetchBeforeInference bool) (map[string]interface{}, error) {
	switch c.Kind {
	case gwtypes.ContentText:
		return map[string]interface{}{"text": c.Text}, nil

	case gwtypes.ContentToolCall:
		var args map[string]interface{}
		if c.ToolArguments != "" {
			if err := json.Unmarshal([]byte(c.ToolArguments), &args); err != nil {
				return nil, fmt.Errorf("tool_call %q arguments must parse as a JSON object for Google: %w", c.ToolCallID, err)
			}
		}
		return map[string]interface{}{
			"functionCall": map[string]interface{}{"name": c.ToolName, "args": args},
		}, nil

	case gwtypes.ContentToolResult:
		return map[string]interface{}{
			"functionResponse": map[string]interface{}{
				"name":     c.ToolResultName,
				"response": map[string]interface{}{"result": c.ToolResultValue},
			},
		}, nil

	case gwtypes.ContentFile:
		return convertFile(ctx, c.File, fetchBeforeInference)

	case gwtypes.ContentThought:
		// Matching provider_type already survived scoping; Gemini has no
		// request-side thinking part, so the thought text is dropped.
		return nil, nil

	default:
		return nil, nil
	}
}

// convertFile implements spec.md §4.2 rule 6: a URL-backed, known-MIME
// image is forwarded as fileUri unless fetchBeforeInference forces
// inlining; everything else is resolved (fetching bytes if URL-backed)
// and inlined as base64.
func convertFile(ctx context.Context, f *gwtypes.LazyFile, fetchBeforeInference bool) (map[string]interface{}, error) {
	if f == nil {
		return map[string]interface{}{"text": ""}, nil
	}
	isImage := strings.HasPrefix(f.MimeType, "image/")
	if !fetchBeforeInference && isImage && f.URL != "" && !f.IsResolved() {
		return map[string]interface{}{
			"fileData": map[string]interface{}{
				"mimeType": f.MimeType,
				"fileUri":  f.URL,
			},
		}, nil
	}

	data, err := fileresolve.Resolve(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("resolving file %q: %w", f.URL, err)
	}
	return map[string]interface{}{
		"inlineData": map[string]interface{}{
			"mimeType": f.MimeType,
			"data":     base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// applyToolConfig implements spec.md §4.2 rule 4 for Gemini's
// functionDeclarations/functionCallingConfig shape.
func applyToolConfig(body map[string]interface{}, req *gwtypes.CanonicalRequest) {
	if req.ToolConfig == nil || len(req.ToolConfig.Tools) == 0 {
		return
	}
	if req.ToolConfig.ToolChoice.Kind == gwtypes.ToolChoiceNone {
		return
	}

	body["tools"] = []map[string]interface{}{
		{"functionDeclarations": tool.ToGoogleFormat(req.ToolConfig.Tools)},
	}

	mode := tool.ConvertToolChoiceToGoogle(req.ToolConfig.ToolChoice)
	config := map[string]interface{}{"mode": mode}
	if req.ToolConfig.ToolChoice.Kind == gwtypes.ToolChoiceSpecific {
		config["allowedFunctionNames"] = []string{req.ToolConfig.ToolChoice.Name}
	}
	body["toolConfig"] = map[string]interface{}{"functionCallingConfig": config}
}
