// Package agent runs the tool-calling conversation loop. A Session is
// built per request from the client options and invoked once with the
// conversation transcript; callback hooks observe tokens and tool
// activity as the run progresses.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"

	"datachat-agent/internal/llm"
	"datachat-agent/internal/rag"
	"datachat-agent/internal/utils"
)

// Message is one turn of the client-visible conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Hooks receives callbacks while the agent runs. Implementations must
// not block: the agent calls them inline on the generation path.
type Hooks interface {
	OnToken(text string)
	OnToolStart(tool string)
	OnCompletion()
}

// NoopHooks is used for non-streaming invocations.
type NoopHooks struct{}

func (NoopHooks) OnToken(string)     {}
func (NoopHooks) OnToolStart(string) {}
func (NoopHooks) OnCompletion()      {}

// Deps carries the process-level collaborators a session needs. Model
// overrides the provider factory when set, which keeps tests off the
// network.
type Deps struct {
	Index  rag.Searcher
	Logger utils.ExtendedLogger
	Model  llms.Model
}

// Session is a configured agent bound to one request.
type Session struct {
	model  llms.Model
	index  rag.Searcher
	cfg    Config
	logger utils.ExtendedLogger
}

// NewSession builds the model for the configured provider and wires the
// retrieval index. Missing credentials surface here, before any stream
// starts.
func NewSession(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	model := deps.Model
	if model == nil {
		var err error
		model, err = llm.Initialize(ctx, llm.Config{ModelID: cfg.Model, Logger: deps.Logger})
		if err != nil {
			return nil, err
		}
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Session{model: model, index: deps.Index, cfg: cfg, logger: deps.Logger}, nil
}

// Invoke runs the conversation to completion. Tool calls are executed
// between generations until the model answers in plain text; the final
// transcript comes back as {"messages": [...]}.
func (s *Session) Invoke(ctx context.Context, messages []Message, hooks Hooks) (any, error) {
	if hooks == nil {
		hooks = NoopHooks{}
	}

	history := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt()),
	}
	for _, m := range messages {
		history = append(history, llms.TextParts(roleFor(m.Role), m.Content))
	}

	if s.cfg.Debug {
		s.logTokenCount(history)
	}

	callOptions := []llms.CallOption{
		llms.WithTemperature(s.cfg.Temperature),
		llms.WithTools(sessionTools()),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			hooks.OnToken(string(chunk))
			return nil
		}),
	}

	for turn := 0; turn < s.cfg.MaxTurns; turn++ {
		resp, err := s.model.GenerateContent(ctx, history, callOptions...)
		if err != nil {
			return nil, fmt.Errorf("generation failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices")
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			hooks.OnCompletion()
			transcript := make([]Message, 0, len(messages)+1)
			transcript = append(transcript, messages...)
			transcript = append(transcript, Message{Role: "assistant", Content: choice.Content})
			return map[string]any{"messages": transcript}, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		history = append(history, assistant)

		for _, call := range choice.ToolCalls {
			name := call.FunctionCall.Name
			hooks.OnToolStart(name)
			output := s.runTool(ctx, call)
			history = append(history, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       name,
					Content:    output,
				}},
			})
		}
	}

	return nil, fmt.Errorf("conversation exceeded %d tool turns", s.cfg.MaxTurns)
}

func roleFor(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "assistant", "ai":
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	case "tool":
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

var verbosityGuidance = map[int]string{
	1: "Answer in one or two sentences.",
	2: "Keep answers brief, a short paragraph at most.",
	3: "Answer with moderate detail.",
	4: "Answer thoroughly, with supporting detail.",
	5: "Answer exhaustively, covering examples and caveats.",
}

func (s *Session) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a helpful data analysis assistant. Format every answer in Markdown.\n")
	b.WriteString("When the user asks about an uploaded document, use the search_vector_db tool to retrieve relevant passages before answering.\n")

	guidance, ok := verbosityGuidance[s.cfg.Verbosity]
	if !ok {
		guidance = verbosityGuidance[DefaultVerbosity]
	}
	b.WriteString(guidance)

	if s.cfg.FileContext != "" {
		b.WriteString("\n\nThe user uploaded a file. Its contents:\n")
		b.WriteString(s.cfg.FileContext)
	}
	return b.String()
}

// logTokenCount reports the prompt size in tokens for debug runs. The
// cl100k_base count is an estimate for non-OpenAI models but close
// enough to catch oversized prompts.
func (s *Session) logTokenCount(history []llms.MessageContent) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		s.logger.Debugf("[AGENT] token counting unavailable: %v", err)
		return
	}
	total := 0
	for _, msg := range history {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				total += len(enc.Encode(text.Text, nil, nil))
			}
		}
	}
	s.logger.Debugf("[AGENT] prompt: %d messages, ~%d tokens, model=%s temp=%.2f",
		len(history), total, s.cfg.Model, s.cfg.Temperature)
}
