package search

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForLLMContext renders search results as the "Available Tools" block
// the agent loop splices into its prompt, matching tool_use.py's
// _build_user_prompt tool-listing format (name, description, required and
// optional params per tool).
func FormatForLLMContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Available Tools:**\n")
	for _, r := range results {
		t := r.Tool
		fmt.Fprintf(&b, "- **%s**: %s\n", t.Name, t.Description)
		fmt.Fprintf(&b, "  Required params: %v\n", t.RequiredParams)
		fmt.Fprintf(&b, "  Optional params: %v\n", optionalParamNames(t.OptionalParams))
	}
	if len(results) > 1 {
		b.WriteString("\n**Note:** You can create a COMPOSITE TOOL that uses multiple existing tools via executeTool()!\n")
	}
	return b.String()
}

func optionalParamNames(params map[string]any) []string {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
