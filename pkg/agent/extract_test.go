package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTextFromMessageSlice(t *testing.T) {
	result := map[string]any{"messages": []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}}
	assert.Equal(t, "hello", ExtractText(result))
}

func TestExtractTextKeepsLastAssistantMessage(t *testing.T) {
	result := map[string]any{"messages": []any{
		map[string]any{"role": "assistant", "content": "first draft"},
		map[string]any{"role": "tool", "content": "tool noise"},
		map[string]any{"role": "assistant", "content": "  final answer  "},
	}}
	assert.Equal(t, "final answer", ExtractText(result))
}

func TestExtractTextAcceptsTypeAndTextKeys(t *testing.T) {
	result := map[string]any{"messages": []any{
		map[string]any{"type": "ai", "text": "typed answer"},
	}}
	assert.Equal(t, "typed answer", ExtractText(result))
}

func TestExtractTextSkipsEmptyAssistantMessages(t *testing.T) {
	result := map[string]any{"messages": []any{
		map[string]any{"role": "assistant", "content": "kept"},
		map[string]any{"role": "assistant", "content": "   "},
	}}
	assert.Equal(t, "kept", ExtractText(result))
}

func TestExtractTextFromSingleMessage(t *testing.T) {
	assert.Equal(t, "direct", ExtractText(Message{Role: "assistant", Content: "direct"}))
}

func TestExtractTextFromOutputKeys(t *testing.T) {
	assert.Equal(t, "from output", ExtractText(map[string]any{"output": "from output"}))
	assert.Equal(t, "from content", ExtractText(map[string]any{"content": "from content"}))
	assert.Equal(t, "from text", ExtractText(map[string]any{"text": "from text"}))
}

func TestExtractTextFallsBackToStringify(t *testing.T) {
	assert.Equal(t, "42", ExtractText(42))
	assert.Equal(t, "map[]", ExtractText(map[string]any{}))
}
