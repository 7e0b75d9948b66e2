// Package toolstore implements persistent CRUD for LLM-authored tools, the
// fuzzy search ranker (§4.4 alternate), and composite tool execution with
// cycle detection (§4.5), grounded on the Python reference's
// CodeToolManager.
package toolstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"alex/internal/logging"
	"alex/internal/registry"
	"alex/internal/sandbox"
)

// AuditEntry records one authored-tool mutation for operator review.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ToolName  string    `json:"tool_name"`
	Action    string    `json:"action"` // created|updated|deleted|bug_marked|bug_cleared
	CodeDiff  string    `json:"code_diff,omitempty"`
}

// Config configures a Store.
type Config struct {
	// PersistPath is the JSON file backing the store. Empty disables
	// persistence (in-memory only — used by tests).
	PersistPath string
	Executor    sandbox.Executor
	Logger      logging.Logger
}

// Store is the sole persistence authority for authored tools (§9 Open
// Question 2 decision); internal/registry treats it as a read-only
// registry.Source and never writes back to it.
type Store struct {
	mu          sync.RWMutex
	tools       map[string]*registry.Tool
	audit       []AuditEntry
	persistPath string
	executor    sandbox.Executor
	logger      logging.Logger
	callback    *callbackServer
}

// New builds a Store, loading any persisted tools from Config.PersistPath.
func New(cfg Config) (*Store, error) {
	s := &Store{
		tools:       make(map[string]*registry.Tool),
		persistPath: cfg.PersistPath,
		executor:    cfg.Executor,
		logger:      logging.OrNop(cfg.Logger),
	}
	if cfg.PersistPath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.persistPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("toolstore: load %s: %w", s.persistPath, err)
	}
	var tools []*registry.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return fmt.Errorf("toolstore: decode %s: %w", s.persistPath, err)
	}
	for _, t := range tools {
		s.tools[t.Name] = t
	}
	return nil
}

// persist writes the current tool set to PersistPath. Callers must hold
// s.mu (read or write) when calling.
func (s *Store) persist() error {
	if s.persistPath == "" {
		return nil
	}
	list := make([]*registry.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("toolstore: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.persistPath), 0o755); err != nil {
		return fmt.Errorf("toolstore: mkdir: %w", err)
	}
	return os.WriteFile(s.persistPath, data, 0o644)
}

// Create adds a newly authored tool. Returns an error if the name is
// already taken (name uniqueness invariant, §3).
func (s *Store) Create(ctx context.Context, t *registry.Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("toolstore: tool name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[t.Name]; exists {
		return fmt.Errorf("toolstore: tool already exists: %s", t.Name)
	}
	t.Active = true
	s.tools[t.Name] = t
	s.audit = append(s.audit, AuditEntry{Timestamp: time.Now(), ToolName: t.Name, Action: "created"})
	return s.persist()
}

// Get returns a tool by name.
func (s *Store) Get(name string) (*registry.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("toolstore: tool not found: %s", name)
	}
	return t, nil
}

// Update replaces a tool's authored fields (code, description, params),
// diffing the old/new code for the audit trail via go-diff.
func (s *Store) Update(ctx context.Context, name string, mutate func(t *registry.Tool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	if !ok {
		return fmt.Errorf("toolstore: tool not found: %s", name)
	}
	oldCode := t.Code
	mutate(t)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldCode, t.Code, false)
	s.audit = append(s.audit, AuditEntry{
		Timestamp: time.Now(),
		ToolName:  name,
		Action:    "updated",
		CodeDiff:  dmp.DiffPrettyText(diffs),
	})
	return s.persist()
}

// Delete removes a tool.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[name]; !ok {
		return fmt.Errorf("toolstore: tool not found: %s", name)
	}
	delete(s.tools, name)
	s.audit = append(s.audit, AuditEntry{Timestamp: time.Now(), ToolName: name, Action: "deleted"})
	return s.persist()
}

// ListFilter narrows List's result set.
type ListFilter struct {
	ActiveOnly    bool
	ExcludeBugged bool
	Category      string
}

// List returns tools matching filter, sorted by name.
func (s *Store) List(filter ListFilter) []*registry.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*registry.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		if filter.ActiveOnly && !t.Active {
			continue
		}
		if filter.ExcludeBugged && t.Bugged {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllTools implements registry.Source, handing the registry a snapshot it
// can rebuild its own table from on Reload.
func (s *Store) AllTools(ctx context.Context) ([]*registry.Tool, error) {
	return s.List(ListFilter{}), nil
}

// Audit returns the mutation history, most recent last.
func (s *Store) Audit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audit...)
}

// Search delegates to the fuzzy ranker, returning hits above threshold
// sorted descending.
func (s *Store) Search(query string, topK int) []registry.Tool {
	if topK <= 0 {
		topK = 10
	}
	candidates := s.List(ListFilter{})

	type scored struct {
		tool  *registry.Tool
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, t := range candidates {
		sc := fuzzyScore(t, query)
		if sc > DefaultFuzzyThreshold {
			scoredList = append(scoredList, scored{tool: t, score: sc})
		}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	if len(scoredList) > topK {
		scoredList = scoredList[:topK]
	}
	out := make([]registry.Tool, len(scoredList))
	for i, sc := range scoredList {
		out[i] = *sc.tool
	}
	return out
}
