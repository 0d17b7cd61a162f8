package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Tasks runs fire-and-forget background work. Tasks receive the
// server-scoped context, so a webhook client disconnecting never cancels an
// in-flight completion. Panics are caught and logged, never propagated.
type Tasks struct {
	ctx context.Context
	lg  *zap.SugaredLogger
	wg  sync.WaitGroup
}

func NewTasks(ctx context.Context, lg *zap.SugaredLogger) *Tasks {
	return &Tasks{ctx: ctx, lg: lg}
}

func (t *Tasks) Submit(name string, fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.lg.Errorf("[TASK] %s panicked: %v", name, r)
			}
		}()
		fn(t.ctx)
	}()
}

// Wait blocks until every submitted task has finished. Used on shutdown so
// captured results are not lost.
func (t *Tasks) Wait() {
	t.wg.Wait()
}
