// Package tool converts the canonical tool definitions and tool-choice
// value (gwtypes.ToolDef / gwtypes.ToolChoice) into each provider
// family's wire format, and back. One converter lives here rather than
// inside each translator package because the OpenAI-compatible family,
// Anthropic, and Google tool wire formats are each used by more than one
// translator (spec.md §4.2 rule 4).
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/inferencegw/core/pkg/gwtypes"
)

// ToJSONSchema converts one ToolDef to the OpenAI-style function-calling
// JSON Schema wrapper.
func ToJSONSchema(t gwtypes.ToolDef, strict bool) map[string]interface{} {
	functionDef := map[string]interface{}{
		"name":        t.Name,
		"description": t.Description,
	}
	if t.Parameters != nil {
		functionDef["parameters"] = t.Parameters
	}
	if strict {
		functionDef["strict"] = true
	}
	return map[string]interface{}{
		"type":     "function",
		"function": functionDef,
	}
}

// ToOpenAIFormat converts tools to the OpenAI-compatible tool format
// shared by OpenAI, Azure, Mistral, xAI, Together, Fireworks, Groq,
// DeepSeek, OpenRouter, Hyperbolic, vLLM, TGI, and SGLang.
func ToOpenAIFormat(tools []gwtypes.ToolDef, strict bool) []map[string]interface{} {
	result := make([]map[string]interface{}, len(tools))
	for i, t := range tools {
		result[i] = ToJSONSchema(t, strict)
	}
	return result
}

// ToAnthropicFormat converts tools to Anthropic's tool format.
func ToAnthropicFormat(tools []gwtypes.ToolDef) []map[string]interface{} {
	result := make([]map[string]interface{}, len(tools))
	for i, t := range tools {
		result[i] = map[string]interface{}{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		}
	}
	return result
}

// ToGoogleFormat converts tools to Google's function-declaration format.
func ToGoogleFormat(tools []gwtypes.ToolDef) []map[string]interface{} {
	result := make([]map[string]interface{}, len(tools))
	for i, t := range tools {
		result[i] = map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		}
	}
	return result
}

// ParseToolCallArguments normalizes a raw tool-call-arguments payload
// (already a map, a JSON string, or raw bytes) to a map.
func ParseToolCallArguments(args interface{}) (map[string]interface{}, error) {
	switch v := args.(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments JSON: %w", err)
		}
		return result, nil
	case []byte:
		var result map[string]interface{}
		if err := json.Unmarshal(v, &result); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments JSON: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported tool arguments type: %T", args)
	}
}

// FindTool finds a tool by name.
func FindTool(toolName string, tools []gwtypes.ToolDef) (*gwtypes.ToolDef, error) {
	for i := range tools {
		if tools[i].Name == toolName {
			return &tools[i], nil
		}
	}
	return nil, fmt.Errorf("tool not found: %s", toolName)
}

// ConvertToolChoiceToOpenAI implements spec.md §4.2 rule 4 for the
// OpenAI-compatible family.
func ConvertToolChoiceToOpenAI(choice gwtypes.ToolChoice) interface{} {
	switch choice.Kind {
	case gwtypes.ToolChoiceAuto:
		return "auto"
	case gwtypes.ToolChoiceNone:
		return "none"
	case gwtypes.ToolChoiceRequired:
		return "required"
	case gwtypes.ToolChoiceSpecific:
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": choice.Name},
		}
	default:
		return "auto"
	}
}

// ConvertToolChoiceToAnthropic implements spec.md §4.2 rule 4 for
// Anthropic. Auto/Required/Specific map onto Anthropic's object form;
// None has no Anthropic equivalent — the caller omits "tools"/"tool_choice"
// entirely in that case (see translator/anthropic).
func ConvertToolChoiceToAnthropic(choice gwtypes.ToolChoice) interface{} {
	switch choice.Kind {
	case gwtypes.ToolChoiceAuto:
		return map[string]interface{}{"type": "auto"}
	case gwtypes.ToolChoiceRequired:
		return map[string]interface{}{"type": "any"}
	case gwtypes.ToolChoiceSpecific:
		return map[string]interface{}{"type": "tool", "name": choice.Name}
	default:
		return map[string]interface{}{"type": "auto"}
	}
}

// ConvertToolChoiceToGoogle implements spec.md §4.2 rule 4 for Google.
func ConvertToolChoiceToGoogle(choice gwtypes.ToolChoice) string {
	switch choice.Kind {
	case gwtypes.ToolChoiceAuto:
		return "AUTO"
	case gwtypes.ToolChoiceNone:
		return "NONE"
	case gwtypes.ToolChoiceRequired:
		return "ANY"
	default:
		return "AUTO"
	}
}
