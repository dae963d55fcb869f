package relay

import "fmt"

// toolStatusMessages maps tool names to the phase description shown to
// the user while the tool runs.
var toolStatusMessages = map[string]string{
	"tavily_search":                 "Searching the web...",
	"search_vector_db":              "Searching documents...",
	"CustomSemanticScholarQueryRun": "Searching academic papers...",
	"PythonREPLTool":                "Analyzing data...",
	"crawl4ai_scraper":              "Scraping website...",
}

// StatusFor returns the display message for a tool invocation, with a
// generic fallback for tools not in the table.
func StatusFor(tool string) string {
	if msg, ok := toolStatusMessages[tool]; ok {
		return msg
	}
	return fmt.Sprintf("Running tool: %s...", tool)
}
