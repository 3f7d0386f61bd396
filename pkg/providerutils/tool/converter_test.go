package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/gwtypes"
)

func TestToJSONSchema_StrictModeIncluded(t *testing.T) {
	td := gwtypes.ToolDef{Name: "my_tool", Description: "does something"}

	schema := ToJSONSchema(td, true)

	fn, ok := schema["function"].(map[string]interface{})
	require.True(t, ok, "expected 'function' key with map value")
	assert.Equal(t, true, fn["strict"])
}

func TestToJSONSchema_StrictModeOmittedWhenFalse(t *testing.T) {
	td := gwtypes.ToolDef{Name: "my_tool", Description: "does something"}

	schema := ToJSONSchema(td, false)

	fn, ok := schema["function"].(map[string]interface{})
	require.True(t, ok)
	_, hasStrict := fn["strict"]
	assert.False(t, hasStrict, "strict should not be present when not requested")
}

func TestToOpenAIFormat_StrictModeForwarded(t *testing.T) {
	tools := []gwtypes.ToolDef{
		{Name: "strict_tool", Description: "strict"},
		{Name: "normal_tool", Description: "normal"},
	}

	formatted := ToOpenAIFormat(tools, true)
	require.Len(t, formatted, 2)

	fn0 := formatted[0]["function"].(map[string]interface{})
	assert.Equal(t, true, fn0["strict"])
	fn1 := formatted[1]["function"].(map[string]interface{})
	assert.Equal(t, true, fn1["strict"])
}

func TestToAnthropicFormat(t *testing.T) {
	tools := []gwtypes.ToolDef{
		{Name: "get_weather", Description: "fetch weather", Parameters: map[string]interface{}{"type": "object"}},
	}
	formatted := ToAnthropicFormat(tools)
	require.Len(t, formatted, 1)
	assert.Equal(t, "get_weather", formatted[0]["name"])
	assert.Equal(t, "fetch weather", formatted[0]["description"])
	assert.NotNil(t, formatted[0]["input_schema"])
}

func TestConvertToolChoiceToOpenAI(t *testing.T) {
	assert.Equal(t, "auto", ConvertToolChoiceToOpenAI(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceAuto}))
	assert.Equal(t, "none", ConvertToolChoiceToOpenAI(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceNone}))
	assert.Equal(t, "required", ConvertToolChoiceToOpenAI(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceRequired}))

	specific := ConvertToolChoiceToOpenAI(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceSpecific, Name: "get_weather"})
	m, ok := specific.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "function", m["type"])
}

func TestConvertToolChoiceToAnthropic(t *testing.T) {
	auto := ConvertToolChoiceToAnthropic(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceAuto}).(map[string]interface{})
	assert.Equal(t, "auto", auto["type"])

	required := ConvertToolChoiceToAnthropic(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceRequired}).(map[string]interface{})
	assert.Equal(t, "any", required["type"])

	specific := ConvertToolChoiceToAnthropic(gwtypes.ToolChoice{Kind: gwtypes.ToolChoiceSpecific, Name: "x"}).(map[string]interface{})
	assert.Equal(t, "tool", specific["type"])
	assert.Equal(t, "x", specific["name"])
}

func TestFindTool(t *testing.T) {
	tools := []gwtypes.ToolDef{{Name: "a"}, {Name: "b"}}

	found, err := FindTool("b", tools)
	require.NoError(t, err)
	assert.Equal(t, "b", found.Name)

	_, err = FindTool("c", tools)
	assert.Error(t, err)
}

func TestParseToolCallArguments(t *testing.T) {
	fromMap, err := ParseToolCallArguments(map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, float64(1), fromMap["x"])

	fromString, err := ParseToolCallArguments(`{"y": "z"}`)
	require.NoError(t, err)
	assert.Equal(t, "z", fromString["y"])

	_, err = ParseToolCallArguments(42)
	assert.Error(t, err)
}
