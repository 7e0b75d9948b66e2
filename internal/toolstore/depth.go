package toolstore

import "context"

// MaxCompositeDepth bounds recursive composite tool calls (§4.5).
const MaxCompositeDepth = 8

type depthKey struct{}

// depthFromContext returns the current composite-call depth, 0 at the top
// level (a call originating directly from the agent loop, not from inside
// another tool's executeTool closure).
func depthFromContext(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// withDepth returns a context carrying the next composite-call depth.
func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
