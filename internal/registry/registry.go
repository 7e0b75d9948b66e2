package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	alexerrors "alex/internal/errors"
	"alex/internal/logging"
	"alex/internal/sandbox"
)

// Source supplies the authoritative tool set on Reload. internal/toolstore
// implements this; the Tool Store is the sole persistence authority (§9
// Open Question 2 decision) — the Registry never writes back to it.
type Source interface {
	AllTools(ctx context.Context) ([]*Tool, error)
}

// Config configures a Registry.
type Config struct {
	Source        Source
	Executor      sandbox.Executor
	BugThreshold  int
	BreakerConfig alexerrors.CircuitBreakerConfig
	Logger        logging.Logger
}

// registryTables is the immutable snapshot swapped atomically on Reload.
type registryTables struct {
	tools       map[string]*Tool
	unavailable map[string]string
	defs        []Tool // sorted by name, read-only summary view
}

// Registry is the hot-reloadable in-memory tool catalog (§4.3). List,
// Get, and Execute read a lock-free atomic snapshot; Reload builds a new
// snapshot and swaps the pointer, so in-flight executions holding the old
// snapshot complete against it undisturbed.
type Registry struct {
	source   Source
	executor sandbox.Executor
	logger   logging.Logger
	threshold int

	breakers *alexerrors.CircuitBreakerManager
	tables   atomic.Pointer[registryTables]

	reloadGroup singleflight.Group
	mu          sync.Mutex // guards bug-state mutation within a snapshot
}

// New builds a Registry and performs an initial Reload.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("registry: Source is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("registry: Executor is required")
	}
	threshold := cfg.BugThreshold
	if threshold <= 0 {
		threshold = DefaultBugThreshold
	}
	r := &Registry{
		source:    cfg.Source,
		executor:  cfg.Executor,
		logger:    logging.OrNop(cfg.Logger),
		threshold: threshold,
		breakers:  alexerrors.NewCircuitBreakerManager(normalizeBreakerConfig(cfg.BreakerConfig), cfg.Logger),
	}
	r.tables.Store(&registryTables{
		tools:       map[string]*Tool{},
		unavailable: map[string]string{},
	})
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the Source and atomically swaps the table. Concurrent
// callers collapse onto a single in-flight reload via singleflight.
func (r *Registry) Reload(ctx context.Context) error {
	_, err, _ := r.reloadGroup.Do("reload", func() (any, error) {
		tools, err := r.source.AllTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: reload source: %w", err)
		}

		next := &registryTables{
			tools:       make(map[string]*Tool, len(tools)),
			unavailable: map[string]string{},
		}
		for _, t := range tools {
			if t == nil || t.Name == "" {
				continue
			}
			if t.Code == "" || t.EntryName == "" {
				next.unavailable[t.Name] = "tool manifest missing code or entry_name"
				continue
			}
			// Clone so the Registry's bug/execution bookkeeping never
			// races with the Tool Store mutating its own authoritative
			// copy of the same tool (§9 Open Question 2: Store is sole
			// persistence authority, Registry holds an independent
			// in-memory snapshot refreshed on Reload).
			next.tools[t.Name] = t.Clone()
		}
		next.defs = buildDefs(next.tools)

		r.tables.Store(next)
		return nil, nil
	})
	return err
}

// normalizeBreakerConfig fills unset fields with the package defaults,
// matching the teacher's normalizeCircuitBreakerConfig.
func normalizeBreakerConfig(cfg alexerrors.CircuitBreakerConfig) alexerrors.CircuitBreakerConfig {
	defaults := alexerrors.DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return cfg
}

func buildDefs(tools map[string]*Tool) []Tool {
	defs := make([]Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, *t.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// List returns a sorted, read-only summary of every loaded tool.
func (r *Registry) List() []Tool {
	return r.tables.Load().defs
}

// Get returns the live tool record by name, or an error if unknown.
func (r *Registry) Get(name string) (*Tool, error) {
	t, ok := r.tables.Load().tools[name]
	if !ok {
		return nil, alexerrors.New(alexerrors.KindNotFound, nil, "tool not found: "+name)
	}
	return t, nil
}

// AvailabilityStatus returns the set of loaded tool names and the set of
// source entries that failed to load, keyed by name to the reason.
func (r *Registry) AvailabilityStatus() (available []string, unavailable map[string]string) {
	snap := r.tables.Load()
	available = make([]string, 0, len(snap.tools))
	for name := range snap.tools {
		available = append(available, name)
	}
	sort.Strings(available)
	unavailable = make(map[string]string, len(snap.unavailable))
	for k, v := range snap.unavailable {
		unavailable[k] = v
	}
	return available, unavailable
}

// Execute runs a tool by name through the sandbox once, wrapped in a
// per-tool circuit breaker (no retry), updating bug-quarantine state on
// failure. A bugged tool is rejected immediately without reaching the
// executor.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*sandbox.ExecutionRecord, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, alexerrors.New(alexerrors.KindInvalidInput, nil, "tool inactive: "+name)
	}
	if t.Bugged {
		return nil, alexerrors.New(alexerrors.KindBugged, nil, "tool quarantined: "+name)
	}

	breaker := r.breakers.Get("tool:" + name)
	rec, execErr := alexerrors.ExecuteFunc(breaker, ctx, func(innerCtx context.Context) (*sandbox.ExecutionRecord, error) {
		return r.executor.Execute(innerCtx, sandbox.Request{
			Code:         t.Code,
			EntryName:    t.EntryName,
			Params:       params,
			Requirements: t.Requirements,
		})
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if execErr != nil {
		RecordFailure(t, execErr.Error(), r.threshold, now)
		r.logger.Warn("tool %s execution failed: %v", name, execErr)
		return nil, execErr
	}
	if rec != nil && !rec.Success {
		RecordFailure(t, rec.Error, r.threshold, now)
		return rec, nil
	}
	RecordSuccess(t, now)
	return rec, nil
}

// MarkBugged force-quarantines a tool, bypassing the failure-count ramp.
// Reserved for admin-triggered intervention (e.g. a human flags a tool as
// unsafe outside the normal failure path).
func (r *Registry) MarkBugged(name, reason string) error {
	t, err := r.Get(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t.Bugged = true
	if t.BugCount < r.threshold {
		t.BugCount = r.threshold
	}
	t.LastFailureTime = &now
	t.FailureLog = append(t.FailureLog, FailureEntry{Timestamp: now, Error: reason})
	return nil
}

// ClearBug resets quarantine state on a tool. Callers must enforce
// admin-only access at the httpapi layer (§9 Open Question 3 decision).
func (r *Registry) ClearBug(name string) error {
	t, err := r.Get(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ClearBug(t)
	return nil
}
