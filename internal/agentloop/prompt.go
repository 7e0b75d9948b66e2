package agentloop

import (
	"fmt"
	"sort"
	"strings"
)

// systemPrompt is the fixed instruction block sent on every iteration,
// generalizing tool_use.py's _build_system_prompt from Python's
// execute_tool()/`pass  # implementation` idiom to this port's Go driver
// (executeTool helper, func-shaped tool code).
const systemPrompt = `You are an AI assistant with access to a tool system. You can take one of these actions each turn:

**States:**
1. respond: directly answer if you can with high confidence (does not end the conversation)
2. fetch_tool: search the catalog for tools that can help answer the question
3. use_tool: execute a specific tool with parameters
4. analyze_tools_for_composite: fetch the full source of fetched candidate tools before writing a composite tool that calls them
5. create_tool: author a new tool if none exist for the task
6. exit_response: provide the final answer and conclude

**CRITICAL: Tool Creation Rule:**
- If fetch_tool finds no appropriate tools, you MUST transition to create_tool.
- Do not exit or respond without creating a tool when none exist for the task.
- create_tool is only accepted after at least one fetch_tool search this conversation; otherwise it is rejected and you must fetch_tool first.

**COMPOSITE TOOLS:**
Tool code can call other existing tools via the executeTool(name string, params map[string]any) (any, error) helper that is always in scope inside generated code:

	result1, err := executeTool("calculate_factorial", map[string]any{"n": params["n"]})

Only create a composite tool after a fetch_tool search has shown you the tools it will call. Use analyze_tools_for_composite first to see their full source, then the following create_tool is treated as composite-required and its generated code must call executeTool(...).

**Response Format:**
Respond with ONLY valid JSON in this exact structure:
{
  "state": "respond|fetch_tool|use_tool|analyze_tools_for_composite|create_tool|exit_response",
  "reasoning": "why you chose this state",
  "action": { }
}

**Action fields by state:**
- use_tool: {"tool_name": "exact_tool_name", "params": {"p1": "v1"}}
- fetch_tool: {"query": "search query string"}
- analyze_tools_for_composite: {"tool_names": ["tool1", "tool2"]}
- create_tool: {"name": "...", "description": "...", "category": "...", "required_params": ["..."], "optional_params": {}, "return_schema": {}, "tags": [], "code": "func entry(params map[string]any) (any, error) { ... }"}
- respond / exit_response: {"final_answer": "your answer here", "confidence": "high|medium|low"}

Use "reasoning", not "response". Use "params", not "parameters".`

func buildUserPrompt(ictx *iterationContext, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Question:** %s\n\n", ictx.question)
	fmt.Fprintf(&b, "**Iteration:** %d/%d\n\n", ictx.iteration, maxIterations)

	if len(ictx.history) > 0 {
		b.WriteString("**Previous Actions:**\n")
		for _, h := range ictx.history {
			fmt.Fprintf(&b, "- %s: %s\n", h.State, h.Reasoning)
			if h.Result != nil {
				fmt.Fprintf(&b, "  Result: %v\n", h.Result)
			}
		}
		b.WriteString("\n")
	}

	if len(ictx.fetchedTools) > 0 {
		b.WriteString("**Available Tools:**\n")
		for _, t := range ictx.fetchedTools {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.Name, t.Description)
			fmt.Fprintf(&b, "  Required params: %v\n", t.RequiredParams)
			fmt.Fprintf(&b, "  Optional params: %v\n", optionalParamKeys(t.OptionalParams))
		}
		if len(ictx.fetchedTools) > 1 {
			b.WriteString("\n**Note:** you can create a COMPOSITE TOOL that chains several of these via executeTool().\n")
		}
		b.WriteString("\n")
	}

	if len(ictx.compositeSources) > 0 {
		b.WriteString("**Fetched Tool Source (for composite use):**\n")
		for _, s := range ictx.compositeSources {
			fmt.Fprintf(&b, "- **%s**:\n```go\n%s\n```\n", s.Name, s.Code)
		}
		b.WriteString("\n")
	}

	if len(ictx.toolResults) > 0 {
		b.WriteString("**Tool Execution Results:**\n")
		for _, r := range ictx.toolResults {
			fmt.Fprintf(&b, "- Tool: %s\n  Success: %v\n  Result: %v\n", r.ToolName, r.Success, r.Result)
			if r.Error != "" {
				fmt.Fprintf(&b, "  Error: %s\n", r.Error)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("**Your Response (JSON only):**")
	return b.String()
}

func optionalParamKeys(params map[string]any) []string {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildToolCodePrompt asks the LLM for tool code in isolation, generalizing
// _generate_tool_code_prompt to the Go driver contract: a function taking
// map[string]any params and returning (any, error). sources, when
// non-empty (populated by a prior analyze_tools_for_composite), is
// appended so the generated code calls executeTool against real
// signatures instead of guessed ones.
func buildToolCodePrompt(action map[string]any, sources []toolSource) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Generate ONLY executable Go code for the following tool. No explanation, no markdown fences.

**Tool Specification:**
- Name: %v
- Description: %v
- Category: %v
- Required Parameters: %v
- Optional Parameters: %v

**Requirements:**
1. Define exactly one function: func %s(params map[string]any) (any, error)
2. Access parameters via the params map with type assertions
3. Return the result value and a nil error on success, or (nil, err) on failure
4. Use real behavior — no placeholders, mocks, or simulated data
5. To call another existing tool, use the in-scope helper:
     result, err := executeTool("other_tool_name", map[string]any{"key": value})
`,
		action["name"], action["description"], action["category"],
		action["required_params"], action["optional_params"], entryNameFor(action))

	if len(sources) > 0 {
		b.WriteString("\n**This must be a COMPOSITE tool. It must call executeTool(...) against the following existing tools:**\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- **%s**:\n```go\n%s\n```\n", s.Name, s.Code)
		}
	}

	b.WriteString("\nGenerate the code now (code only):")
	return b.String()
}
