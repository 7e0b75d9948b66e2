package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"alex/internal/registry"
)

// forbiddenCodeSubstrings mirrors the Python original's forbidden_patterns
// check: code containing any of these (case-insensitive) is rejected rather
// than registered, since it signals a stubbed-out rather than real
// implementation.
var forbiddenCodeSubstrings = []string{
	"placeholder",
	"simulated",
	"mock",
	"dummy",
	"fake",
	"TODO",
	"not implemented",
	"pass  # implementation",
}

func validateGeneratedCode(code string) error {
	lower := strings.ToLower(code)
	for _, bad := range forbiddenCodeSubstrings {
		if strings.Contains(lower, strings.ToLower(bad)) {
			return fmt.Errorf("generated code contains forbidden marker %q", bad)
		}
	}
	return nil
}

// entryNameFor derives the Go entry function name from a create_tool action,
// defaulting to "entry" when the tool name can't be turned into a sane
// identifier.
func entryNameFor(action map[string]any) string {
	name, _ := action["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return "entry"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "entry"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}

// ensureEntryFunction wraps bare statement bodies (code that never declares
// the expected entry function, instead computing a value and assigning it to
// a "result" variable) into a proper func(params map[string]any) (any,
// error) definition — porting the Python auto-wrap-if-no-result-assignment
// trick to Go's func-shaped tool contract.
func ensureEntryFunction(code, entryName string) string {
	if strings.Contains(code, "func "+entryName+"(") {
		return code
	}
	return fmt.Sprintf(
		"func %s(params map[string]any) (any, error) {\n%s\nreturn result, nil\n}\n",
		entryName, code,
	)
}

func stringSliceFrom(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapFrom(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// returnSchemaJSON marshals the action's return_schema field (a generic
// map decoded from the LLM's JSON) into the json.RawMessage registry.Tool
// stores it as.
func returnSchemaJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// toolsToPointers bridges registry.Registry.List()'s value-typed []Tool to
// the []*Tool shape search.Engine.Build expects.
func toolsToPointers(tools []registry.Tool) []*registry.Tool {
	out := make([]*registry.Tool, len(tools))
	for i := range tools {
		out[i] = &tools[i]
	}
	return out
}

// handleCreateTool runs the create_tool sub-procedure: a focused code-
// generation call, forbidden-marker validation, composite-tool preference
// enforcement, registration, and a registry/search index rebuild.
func (l *Loop) handleCreateTool(ctx context.Context, ictx *iterationContext, action map[string]any) (any, error) {
	name := actionString(action, "name")
	description := actionString(action, "description")
	if name == "" || description == "" {
		return nil, fmt.Errorf("create_tool requires name and description")
	}

	if !hasFetchedTools(ictx) {
		return nil, fmt.Errorf("search for existing tools first: create_tool requires a prior fetch_tool observation in this conversation")
	}
	composite := ictx.compositeRequired || looksComposite(action)
	sources := ictx.compositeSources
	ictx.compositeRequired = false
	ictx.compositeSources = nil

	codePrompt := buildToolCodePrompt(action, sources)
	rawCode, err := l.llm.Complete(ctx, codePrompt)
	if err != nil {
		return nil, fmt.Errorf("generate tool code: %w", err)
	}
	code := stripCodeFence(rawCode)

	entryName := entryNameFor(action)
	code = ensureEntryFunction(code, entryName)

	if composite && !strings.Contains(code, "executeTool(") {
		return nil, fmt.Errorf("composite tool %q must call executeTool(...) in its generated code", name)
	}

	if err := validateGeneratedCode(code); err != nil {
		return nil, err
	}

	t := &registry.Tool{
		Name:           name,
		Category:       actionString(action, "category"),
		Description:    description,
		Tags:           stringSliceFrom(action["tags"]),
		RequiredParams: stringSliceFrom(action["required_params"]),
		OptionalParams: mapFrom(action["optional_params"]),
		ReturnSchema:   returnSchemaJSON(action["return_schema"]),
		Code:           code,
		EntryName:      entryName,
		Active:         true,
	}

	if err := l.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("register tool: %w", err)
	}

	if err := l.registry.Reload(ctx); err != nil {
		return nil, fmt.Errorf("reload registry: %w", err)
	}
	l.search.Build(toolsToPointers(l.registry.List()))

	if l.toolGracePeriod > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeAfter(l.toolGracePeriod):
		}
	}

	return map[string]any{"created_tool": name}, nil
}

// hasFetchedTools reports whether a fetch_tool observation exists earlier
// in this conversation, the composite-preference guard §4.6.2 requires of
// every create_tool regardless of whether it signals composite.
func hasFetchedTools(ictx *iterationContext) bool {
	for _, h := range ictx.history {
		if h.State == "fetch_tool" {
			return true
		}
	}
	return false
}

// looksComposite reports whether the LLM's create_tool action itself
// signals a composite tool (its draft code hint calls executeTool(...)).
// This is independent of hasFetchedTools: it only decides whether the
// generated code is later required to call executeTool(...), not whether
// the create is allowed at all.
func looksComposite(action map[string]any) bool {
	code, _ := action["code"].(string)
	return strings.Contains(code, "executeTool(")
}
