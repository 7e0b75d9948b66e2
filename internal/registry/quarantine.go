package registry

import "time"

// DefaultBugThreshold is the number of distinct failures a tool accrues
// before it is quarantined (marked Bugged), per the bug-count invariant.
const DefaultBugThreshold = 2

// RecordFailure appends a failure and, once the count reaches threshold,
// flips Bugged to true. The transition is monotone within a tool's
// lifetime: once true, only an explicit ClearBug resets it.
func RecordFailure(t *Tool, errText string, threshold int, now time.Time) {
	if threshold <= 0 {
		threshold = DefaultBugThreshold
	}
	t.BugCount++
	t.FailureLog = append(t.FailureLog, FailureEntry{Timestamp: now, Error: errText})
	if t.FirstFailureTime == nil {
		t.FirstFailureTime = &now
	}
	t.LastFailureTime = &now
	if t.BugCount >= threshold {
		t.Bugged = true
	}
}

// ClearBug returns a tool to executable state. Only an admin-authenticated
// caller (enforced at the httpapi layer, not here) may invoke this. Bug
// history is append-only: FailureLog, BugCount, and the failure timestamps
// are preserved so mark-bugged-then-clear-bug round-trips without losing
// the record of why the tool was quarantined, matching the original
// clear_bug_status (tool_store.py), which only flips is_bugged.
func ClearBug(t *Tool) {
	t.Bugged = false
}

// RecordSuccess updates execution bookkeeping on a clean run. Success does
// not clear an existing bug flag or bug count — quarantine is cleared only
// explicitly, per the monotone-transition invariant.
func RecordSuccess(t *Tool, now time.Time) {
	t.ExecutionCount++
	t.LastExecuted = &now
}
