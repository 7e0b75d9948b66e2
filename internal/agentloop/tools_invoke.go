package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alex/internal/search"
)

// toolRetryBackoff is the fixed pause between the two use_tool attempts,
// matching the original's short sleep-and-retry-once before quarantine.
const toolRetryBackoff = 3 * time.Second

// handleFetchTool runs the fetch_tool sub-procedure: a search-engine query
// (or, for an empty query, a listing of everything active) whose results
// populate ictx.fetchedTools for the next prompt.
func (l *Loop) handleFetchTool(ictx *iterationContext, action map[string]any) (any, error) {
	query := actionString(action, "query")

	var results []search.SearchResult
	if strings.TrimSpace(query) == "" {
		for _, t := range l.registry.List() {
			if !t.Executable() {
				continue
			}
			tt := t
			results = append(results, search.SearchResult{Tool: &tt})
		}
	} else {
		var err error
		results, err = l.search.Search(query, l.searchTopK, "")
		if err != nil {
			return nil, fmt.Errorf("search tools: %w", err)
		}
	}

	// §4.4: exclude_bugged defaults to true for LLM-context generation, so
	// a quarantined tool never resurfaces as something the LLM can select.
	ictx.fetchedTools = make([]toolSummary, 0, len(results))
	for _, r := range results {
		if !r.Tool.Executable() {
			continue
		}
		ictx.fetchedTools = append(ictx.fetchedTools, toolSummary{
			Name:           r.Tool.Name,
			Description:    r.Tool.Description,
			RequiredParams: r.Tool.RequiredParams,
			OptionalParams: r.Tool.OptionalParams,
		})
	}

	return map[string]any{"found": len(ictx.fetchedTools), "query": query}, nil
}

// handleUseTool runs the use_tool sub-procedure: fail fast on a
// already-quarantined tool, otherwise up to two attempts through the
// registry's sandboxed Execute with a fixed backoff between them, marking
// the tool bugged if both attempts fail.
func (l *Loop) handleUseTool(ctx context.Context, ictx *iterationContext, action map[string]any) (any, error) {
	name := actionString(action, "tool_name")
	if name == "" {
		return nil, fmt.Errorf("use_tool requires tool_name")
	}
	params := actionParams(action)

	t, err := l.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown tool %q: %w", name, err)
	}
	if t.Bugged {
		res := toolExecResult{ToolName: name, Success: false, Error: fmt.Sprintf("tool %q is quarantined (bug_count=%d)", name, t.BugCount)}
		ictx.toolResults = append(ictx.toolResults, res)
		return res, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timeAfter(toolRetryBackoff):
			}
		}

		rec, execErr := l.registry.Execute(ctx, name, params)
		if execErr == nil && rec.Success {
			res := toolExecResult{ToolName: name, Success: true, Result: rec.Result}
			ictx.toolResults = append(ictx.toolResults, res)
			return res, nil
		}

		if execErr != nil {
			lastErr = execErr
		} else {
			lastErr = fmt.Errorf("%s", rec.Error)
		}
	}

	// Both attempts went through Registry.Execute, which already ran the
	// failure-count ramp (RecordFailure) on each one; a second consecutive
	// failure crosses the default threshold and the tool is now bugged
	// without any admin-only MarkBugged call from here.
	res := toolExecResult{ToolName: name, Success: false, Error: lastErr.Error()}
	ictx.toolResults = append(ictx.toolResults, res)
	ictx.history = append(ictx.history, HistoryEntry{
		Iteration: ictx.iteration,
		State:     "use_tool",
		Reasoning: fmt.Sprintf("tool %q failed twice and was quarantined; author a new, differently-named tool instead of retrying it", name),
		Result:    res,
	})
	return res, nil
}
