package agent

import (
	"fmt"
	"strings"
)

// ExtractText pulls the final assistant markdown out of an invocation
// result. It tolerates every transcript shape the loop or a client may
// hand back and never fails: when nothing matches, the result is
// stringified.
func ExtractText(result any) string {
	if msgs, ok := messageList(result); ok {
		last := ""
		for _, m := range msgs {
			role, content := messageFields(m)
			if (role == "assistant" || role == "ai") && strings.TrimSpace(content) != "" {
				last = strings.TrimSpace(content)
			}
		}
		if last != "" {
			return last
		}
	}

	if m, ok := result.(Message); ok && strings.TrimSpace(m.Content) != "" {
		return strings.TrimSpace(m.Content)
	}

	if dict, ok := result.(map[string]any); ok {
		for _, key := range []string{"output", "content", "text"} {
			if v, ok := dict[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}

	return fmt.Sprintf("%v", result)
}

func messageList(result any) ([]any, bool) {
	dict, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	switch msgs := dict["messages"].(type) {
	case []any:
		return msgs, true
	case []Message:
		items := make([]any, len(msgs))
		for i, m := range msgs {
			items[i] = m
		}
		return items, true
	default:
		return nil, false
	}
}

func messageFields(m any) (role, content string) {
	switch msg := m.(type) {
	case Message:
		return strings.ToLower(msg.Role), msg.Content
	case map[string]any:
		role, _ := msg["role"].(string)
		if role == "" {
			role, _ = msg["type"].(string)
		}
		content, _ := msg["content"].(string)
		if content == "" {
			content, _ = msg["text"].(string)
		}
		return strings.ToLower(role), content
	default:
		return "", ""
	}
}
