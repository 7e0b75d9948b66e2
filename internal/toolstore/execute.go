package toolstore

import (
	"context"
	"fmt"
	"time"

	alexerrors "alex/internal/errors"
	"alex/internal/registry"
	"alex/internal/sandbox"
)

// Execute runs an authored tool by name through the configured Executor,
// enforcing bug quarantine and composite call-depth limits (§4.5). The
// callback server's recursive calls go through it; the agent loop's
// use_tool goes through registry.Registry.Execute instead.
func (s *Store) Execute(ctx context.Context, name string, params map[string]any) (*sandbox.ExecutionRecord, error) {
	depth := depthFromContext(ctx)
	if depth > MaxCompositeDepth {
		return nil, alexerrors.New(alexerrors.KindBoundedIterations, nil,
			fmt.Sprintf("composite call depth exceeded calling %s", name))
	}

	t, err := s.Get(name)
	if err != nil {
		return nil, alexerrors.New(alexerrors.KindNotFound, err, "tool not found: "+name)
	}
	if !t.Active {
		return nil, alexerrors.New(alexerrors.KindInvalidInput, nil, "tool inactive: "+name)
	}
	if t.Bugged {
		return nil, alexerrors.New(alexerrors.KindBugged, nil, "tool quarantined: "+name)
	}

	callbackURL, err := s.ensureCallbackServer()
	if err != nil {
		return nil, alexerrors.New(alexerrors.KindSandboxSubstrate, err, "composite callback server unavailable")
	}

	rec, execErr := s.executor.Execute(ctx, sandbox.Request{
		Code:         t.Code,
		EntryName:    t.EntryName,
		Params:       params,
		Requirements: t.Requirements,
		CallbackURL:  callbackURL,
		Depth:        depth,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if execErr != nil {
		registry.RecordFailure(t, execErr.Error(), registry.DefaultBugThreshold, now)
		_ = s.persist()
		return nil, execErr
	}
	if rec != nil && !rec.Success {
		registry.RecordFailure(t, rec.Error, registry.DefaultBugThreshold, now)
		_ = s.persist()
		return rec, nil
	}
	registry.RecordSuccess(t, now)
	_ = s.persist()
	return rec, nil
}

// ensureCallbackServer lazily starts the composite-call callback server on
// first use, so a Store that never executes a composite tool never opens
// a socket.
func (s *Store) ensureCallbackServer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil {
		return s.callback.URL(), nil
	}
	cs, err := newCallbackServer(s, s.logger)
	if err != nil {
		return "", err
	}
	s.callback = cs
	return cs.URL(), nil
}

// Close releases the callback server, if one was started.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback == nil {
		return nil
	}
	return s.callback.Close()
}

// MarkBugged force-quarantines a tool (admin intervention).
func (s *Store) MarkBugged(name, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	if !ok {
		return fmt.Errorf("toolstore: tool not found: %s", name)
	}
	now := time.Now()
	t.Bugged = true
	if t.BugCount < registry.DefaultBugThreshold {
		t.BugCount = registry.DefaultBugThreshold
	}
	t.LastFailureTime = &now
	t.FailureLog = append(t.FailureLog, registry.FailureEntry{Timestamp: now, Error: reason})
	s.audit = append(s.audit, AuditEntry{Timestamp: now, ToolName: name, Action: "bug_marked"})
	return s.persist()
}

// ClearBug resets quarantine state; callers must enforce admin-only access
// at the httpapi layer (§9 Open Question 3 decision).
func (s *Store) ClearBug(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	if !ok {
		return fmt.Errorf("toolstore: tool not found: %s", name)
	}
	registry.ClearBug(t)
	s.audit = append(s.audit, AuditEntry{Timestamp: time.Now(), ToolName: name, Action: "bug_cleared"})
	return s.persist()
}
