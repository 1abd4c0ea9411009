package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// WebSearcher runs one web search.
type WebSearcher interface {
	WebSearch(ctx context.Context, query string) ([]schema.SearchResultRecord, error)
}

// WebSearchSchema defines the JSON schema for web_search parameters.
const WebSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Search query for recent coffee news, trends, prices or reviews"
    }
  },
  "required": ["query"]
}`

// WebSearchTool implements web_search.
type WebSearchTool struct {
	searcher WebSearcher
}

// NewWebSearchTool creates a web_search tool.
func NewWebSearchTool(s WebSearcher) *WebSearchTool {
	return &WebSearchTool{searcher: s}
}

func (t *WebSearchTool) Name() string   { return WebSearchName }
func (t *WebSearchTool) Schema() []byte { return []byte(WebSearchSchema) }
func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date coffee information. Returns summaries with sources."
}

// Invoke returns a []schema.SearchResultRecord.
func (t *WebSearchTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	return t.searcher.WebSearch(ctx, params.Query)
}
