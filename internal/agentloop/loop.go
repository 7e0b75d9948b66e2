package agentloop

import (
	"context"
	"fmt"
	"time"

	"alex/internal/logging"
	"alex/internal/registry"
	"alex/internal/search"
	"alex/internal/toolstore"
)

// timeAfter is indirected so tests can shrink the use_tool retry backoff
// and tool-creation grace period without waiting on real wall-clock time.
var timeAfter = time.After

// LLMClient is the subset of *llmclient.Client the loop needs, satisfied
// structurally so tests can supply a fake without constructing a real Key
// Pool or genai client.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures a Loop.
type Config struct {
	LLM           LLMClient
	Registry      *registry.Registry
	Store         *toolstore.Store
	Search        *search.Engine
	MaxIterations int
	SearchTopK    int
	// ToolGracePeriod pauses after registering a newly created tool, giving
	// any background watchers (e.g. the HTTP availability endpoint) a beat
	// to observe the reload before the loop immediately tries to use it.
	ToolGracePeriod time.Duration
	Logger          logging.Logger
}

// Loop drives one bounded THINK/ACT/OBSERVE conversation per Process call,
// generalizing ToolUseAgent.process_question: only exit_response ends the
// loop early, respond is an in-loop observation like any other action.
type Loop struct {
	llm             LLMClient
	registry        *registry.Registry
	store           *toolstore.Store
	search          *search.Engine
	maxIterations   int
	searchTopK      int
	toolGracePeriod time.Duration
	logger          logging.Logger
}

// New builds a Loop from cfg, applying the MAX_ITERATIONS default (10)
// SPEC_FULL.md names and a search result fan-out default of 5.
func New(cfg Config) (*Loop, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("agentloop: LLM client is required")
	}
	if cfg.Registry == nil || cfg.Store == nil || cfg.Search == nil {
		return nil, fmt.Errorf("agentloop: registry, store, and search engine are required")
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	topK := cfg.SearchTopK
	if topK <= 0 {
		topK = 5
	}
	return &Loop{
		llm:             cfg.LLM,
		registry:        cfg.Registry,
		store:           cfg.Store,
		search:          cfg.Search,
		maxIterations:   maxIterations,
		searchTopK:      topK,
		toolGracePeriod: cfg.ToolGracePeriod,
		logger:          logging.OrNop(cfg.Logger),
	}, nil
}

// Process answers one question, iterating states until exit_response is
// chosen or the iteration budget is exhausted.
func (l *Loop) Process(ctx context.Context, question string) Result {
	ictx := &iterationContext{question: question}

	var actions []ActionRecord
	var lastDirectAnswer string

	for ictx.iteration < l.maxIterations {
		ictx.iteration++

		if err := ctx.Err(); err != nil {
			return l.boundedResult(ictx, actions, "context canceled: "+err.Error())
		}

		resp, err := l.think(ctx, ictx)
		if err != nil {
			l.logger.Warn("agentloop: think failed on iteration %d: %v", ictx.iteration, err)
			ictx.history = append(ictx.history, HistoryEntry{
				Iteration: ictx.iteration,
				State:     "parse_failure",
				Reasoning: err.Error(),
			})
			continue
		}

		record := ActionRecord{Iteration: ictx.iteration, State: resp.State, Timestamp: timeNow()}

		switch resp.State {
		case "respond":
			answer := actionString(resp.Action, "final_answer")
			lastDirectAnswer = answer
			record.Success = true
			l.appendHistory(ictx, resp, map[string]any{"direct_answer": answer})

		case "fetch_tool":
			record.Query = actionString(resp.Action, "query")
			out, err := l.handleFetchTool(ictx, resp.Action)
			record.Success = err == nil
			if err != nil {
				record.Error = err.Error()
			}
			l.appendHistory(ictx, resp, resultOrErr(out, err))

		case "use_tool":
			record.ToolName = actionString(resp.Action, "tool_name")
			out, err := l.handleUseTool(ctx, ictx, resp.Action)
			record.Success = err == nil
			if err != nil {
				record.Error = err.Error()
			}
			l.appendHistory(ictx, resp, resultOrErr(out, err))

		case "analyze_tools_for_composite":
			out, err := l.handleAnalyzeComposite(ictx, resp.Action)
			record.Success = err == nil
			if err != nil {
				record.Error = err.Error()
			}
			l.appendHistory(ictx, resp, resultOrErr(out, err))

		case "create_tool":
			record.ToolName = actionString(resp.Action, "name")
			out, err := l.handleCreateTool(ctx, ictx, resp.Action)
			record.Success = err == nil
			if err != nil {
				record.Error = err.Error()
			}
			l.appendHistory(ictx, resp, resultOrErr(out, err))

		case "exit_response":
			answer := actionString(resp.Action, "final_answer")
			record.Success = true
			l.appendHistory(ictx, resp, map[string]any{"final_answer": answer})
			actions = append(actions, record)
			return Result{
				Success:    true,
				Response:   answer,
				Iterations: ictx.iteration,
				Actions:    actions,
				History:    ictx.history,
			}

		default:
			record.Error = "unknown state: " + resp.State
			l.appendHistory(ictx, resp, map[string]any{"error": record.Error})
		}

		actions = append(actions, record)
	}

	if lastDirectAnswer != "" {
		return Result{
			Success:    true,
			Response:   lastDirectAnswer,
			Iterations: ictx.iteration,
			Actions:    actions,
			History:    ictx.history,
		}
	}
	return l.boundedResult(ictx, actions, "maximum iterations reached without a final answer")
}

func (l *Loop) boundedResult(ictx *iterationContext, actions []ActionRecord, msg string) Result {
	return Result{
		Success:    false,
		Error:      msg,
		ErrorType:  "bounded_iterations",
		Iterations: ictx.iteration,
		Actions:    actions,
		History:    ictx.history,
	}
}

func (l *Loop) appendHistory(ictx *iterationContext, resp *agentResponse, result any) {
	ictx.history = append(ictx.history, HistoryEntry{
		Iteration: ictx.iteration,
		State:     resp.State,
		Reasoning: resp.Reasoning,
		Action:    resp.Action,
		Result:    result,
	})
}

func resultOrErr(out any, err error) any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// think issues one LLM call and parses its response.
func (l *Loop) think(ctx context.Context, ictx *iterationContext) (*agentResponse, error) {
	prompt := systemPrompt + "\n\n" + buildUserPrompt(ictx, l.maxIterations)
	raw, err := l.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}
	return parseResponse(raw)
}

// timeNow is a var, not a direct time.Now call, so tests can stub
// deterministic timestamps onto ActionRecord.
var timeNow = time.Now
