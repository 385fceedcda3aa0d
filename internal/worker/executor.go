package worker

import "context"

// Executor runs fn on behalf of the record identified by key.
type Executor interface {
	Do(ctx context.Context, key string, fn func(context.Context)) error
}

// Inline runs fn directly in the caller's goroutine. Operations on the same
// record from different callers interleave freely, so a concurrent
// load-modify-save can overwrite another's append.
type Inline struct{}

func (Inline) Do(ctx context.Context, _ string, fn func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn(ctx)
	return nil
}
