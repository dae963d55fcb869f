package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

const searchToolName = "search_vector_db"

// sessionTools lists the tool definitions advertised to the model.
func sessionTools() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        searchToolName,
				Description: "Search the uploaded documents for passages relevant to a query. Use this whenever the user asks about an uploaded PDF.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The search query.",
						},
					},
					"required": []string{"query"},
				},
			},
		},
	}
}

// runTool executes one tool call. Failures come back as tool output so
// the model can recover instead of the request dying.
func (s *Session) runTool(ctx context.Context, call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return "Tool call carried no function."
	}
	switch call.FunctionCall.Name {
	case searchToolName:
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.FunctionCall.Arguments), &args); err != nil {
			s.logger.Warnf("[AGENT] bad %s arguments: %v", searchToolName, err)
			return fmt.Sprintf("Invalid tool arguments: %v", err)
		}
		return s.index.Search(ctx, args.Query)
	default:
		return fmt.Sprintf("Unknown tool: %s", call.FunctionCall.Name)
	}
}
