package mode

import "context"

type engineCtxKey struct{}

// withEngineContext tags ctx as belonging to the engine's own execution: a
// running work item, a RunInMode block, or a modal drain pass. Blocking on
// availability from such a context can never make progress.
func withEngineContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, engineCtxKey{}, true)
}

// InEngineContext reports whether ctx is tagged as engine-owned execution.
func InEngineContext(ctx context.Context) bool {
	v, _ := ctx.Value(engineCtxKey{}).(bool)
	return v
}
