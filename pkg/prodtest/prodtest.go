package prodtest

import (
	"context"

	"production-test/internal/session"
	"production-test/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Result and Event re-expose the session types a caller sees.
type (
	Result = session.Result
	Event  = session.Event
)

// Run executes one production test with the given options using the internal
// tasks implementation. report may be nil.
func Run(ctx context.Context, opts Options, report func(Event)) (*Result, error) {
	return tasks.RunSession(ctx, opts, report)
}

// ServeHistory serves the run history API until ctx is canceled.
func ServeHistory(ctx context.Context, opts Options) error {
	return tasks.ServeHistory(ctx, opts)
}
