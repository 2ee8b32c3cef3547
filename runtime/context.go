// Package runtime provides the per-query execution context shared by
// all operators of one query.
package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Context bundles the cancellation context, the logger, and the
// WaitGroup that Cancel blocks on so operators can finish releasing
// resources before the query tears down.
type Context struct {
	context.Context
	cancel    context.CancelFunc
	Logger    *zap.Logger
	WaitGroup sync.WaitGroup
}

func NewContext(ctx context.Context, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Context{
		Context: ctx,
		cancel:  cancel,
		Logger:  logger,
	}
}

// Cancel cancels the query and waits for operator goroutines to
// finish their cleanup.
func (c *Context) Cancel() {
	c.cancel()
	c.WaitGroup.Wait()
}
