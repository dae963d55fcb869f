package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"datachat-agent/internal/utils"
	"datachat-agent/pkg/logger"
)

func testLogger(t *testing.T) utils.ExtendedLogger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "agent.log"), "debug")
}

// scriptedModel returns canned responses in order and records every
// prompt it saw. When stream is set, each response's content is also
// pushed through the caller's streaming func.
type scriptedModel struct {
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
	stream    bool
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, messages)
	n := len(m.calls)
	if n > len(m.responses) {
		panic("scripted model exhausted")
	}
	resp := m.responses[n-1]

	if m.stream {
		opts := llms.CallOptions{}
		for _, opt := range options {
			opt(&opts)
		}
		if opts.StreamingFunc != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
			_ = opts.StreamingFunc(ctx, []byte(resp.Choices[0].Content))
		}
	}
	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", nil
}

// recordingHooks captures callback activity.
type recordingHooks struct {
	tokens    []string
	tools     []string
	completed int
}

func (h *recordingHooks) OnToken(text string)     { h.tokens = append(h.tokens, text) }
func (h *recordingHooks) OnToolStart(tool string) { h.tools = append(h.tools, tool) }
func (h *recordingHooks) OnCompletion()           { h.completed++ }

// recordingIndex answers every search with a fixed chunk.
type recordingIndex struct {
	queries []string
	answer  string
}

func (r *recordingIndex) AddPDF(ctx context.Context, raw []byte) error       { return nil }
func (r *recordingIndex) AddDocument(ctx context.Context, text string) error { return nil }
func (r *recordingIndex) Search(ctx context.Context, query string) string {
	r.queries = append(r.queries, query)
	return r.answer
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   id,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      name,
				Arguments: args,
			},
		}},
	}}}
}

func newTestSession(t *testing.T, model llms.Model, index *recordingIndex, cfg Config) *Session {
	t.Helper()
	session, err := NewSession(context.Background(), cfg, Deps{
		Index:  index,
		Logger: testLogger(t),
		Model:  model,
	})
	require.NoError(t, err)
	return session
}

func TestInvokePlainAnswer(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("Hello there.")}, stream: true}
	hooks := &recordingHooks{}
	session := newTestSession(t, model, &recordingIndex{}, Options{}.Resolve())

	result, err := session.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}}, hooks)
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", ExtractText(result))
	assert.Equal(t, []string{"Hello there."}, hooks.tokens)
	assert.Empty(t, hooks.tools)
	assert.Equal(t, 1, hooks.completed)
}

func TestInvokeRunsToolsBetweenTurns(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call-1", "search_vector_db", `{"query": "cats"}`),
		textResponse("Cats are covered on page 3."),
	}}
	index := &recordingIndex{answer: "Page 3 discusses cats at length."}
	hooks := &recordingHooks{}
	session := newTestSession(t, model, index, Options{}.Resolve())

	result, err := session.Invoke(context.Background(), []Message{{Role: "user", Content: "what about cats?"}}, hooks)
	require.NoError(t, err)

	assert.Equal(t, []string{"search_vector_db"}, hooks.tools)
	assert.Equal(t, []string{"cats"}, index.queries)
	assert.Equal(t, "Cats are covered on page 3.", ExtractText(result))

	// The second generation must carry the tool response back.
	require.Len(t, model.calls, 2)
	second := model.calls[1]
	found := false
	for _, msg := range second {
		if msg.Role != llms.ChatMessageTypeTool {
			continue
		}
		for _, part := range msg.Parts {
			if resp, ok := part.(llms.ToolCallResponse); ok {
				assert.Equal(t, "call-1", resp.ToolCallID)
				assert.Equal(t, "Page 3 discusses cats at length.", resp.Content)
				found = true
			}
		}
	}
	assert.True(t, found, "tool response missing from second prompt")
}

func TestInvokeBadToolArgumentsRecover(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call-1", "search_vector_db", `{notjson`),
		textResponse("Sorry, I could not search."),
	}}
	session := newTestSession(t, model, &recordingIndex{}, Options{}.Resolve())

	result, err := session.Invoke(context.Background(), []Message{{Role: "user", Content: "search"}}, &recordingHooks{})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I could not search.", ExtractText(result))
}

func TestInvokeStopsAfterMaxTurns(t *testing.T) {
	loop := toolCallResponse("call-n", "search_vector_db", `{"query": "again"}`)
	cfg := Options{}.Resolve()
	cfg.MaxTurns = 3
	model := &scriptedModel{responses: []*llms.ContentResponse{loop, loop, loop}}
	session := newTestSession(t, model, &recordingIndex{answer: "nothing new"}, cfg)

	_, err := session.Invoke(context.Background(), []Message{{Role: "user", Content: "loop"}}, &recordingHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 tool turns")
}

func TestSystemPromptCarriesFileContext(t *testing.T) {
	cfg := Options{}.Resolve()
	cfg.FileContext = "File: scores.csv\nname  score\nalice  10"
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("ok")}}
	session := newTestSession(t, model, &recordingIndex{}, cfg)

	_, err := session.Invoke(context.Background(), []Message{{Role: "user", Content: "summarize"}}, &recordingHooks{})
	require.NoError(t, err)

	require.NotEmpty(t, model.calls)
	system := model.calls[0][0]
	assert.Equal(t, llms.ChatMessageTypeSystem, system.Role)
	text := system.Parts[0].(llms.TextContent).Text
	assert.Contains(t, text, "scores.csv")
	assert.Contains(t, text, "alice")
}

func TestOptionsResolveDefaults(t *testing.T) {
	cfg := Options{}.Resolve()

	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Equal(t, 0.5, cfg.Temperature)
	assert.Equal(t, 3, cfg.Verbosity)
	assert.False(t, cfg.Debug)
}

func TestOptionsResolveKeepsExplicitZeroTemperature(t *testing.T) {
	zero := 0.0
	model := "gpt-4o-mini"
	cfg := Options{Model: &model, Temperature: &zero}.Resolve()

	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 0.0, cfg.Temperature)
	assert.Equal(t, 3, cfg.Verbosity)
}
