package agentloop

import "fmt"

// handleAnalyzeComposite runs the analyze_tools_for_composite sub-procedure
// (§9 Open Question 1): it fetches the full source of the named candidate
// tools — defaulting to every tool the last fetch_tool search surfaced —
// and flags the next create_tool as composite-required, so the composite
// signal survives even if the LLM's create_tool action omits an
// executeTool(...) hint of its own.
func (l *Loop) handleAnalyzeComposite(ictx *iterationContext, action map[string]any) (any, error) {
	names := stringSliceFrom(action["tool_names"])
	if len(names) == 0 {
		for _, t := range ictx.fetchedTools {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("analyze_tools_for_composite requires a prior fetch_tool search or an explicit tool_names list")
	}

	sources := make([]toolSource, 0, len(names))
	for _, name := range names {
		t, err := l.registry.Get(name)
		if err != nil {
			continue
		}
		sources = append(sources, toolSource{Name: t.Name, Code: t.Code})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("none of the requested tools were found to analyze")
	}

	ictx.compositeSources = sources
	ictx.compositeRequired = true

	return map[string]any{"analyzed": len(sources)}, nil
}
