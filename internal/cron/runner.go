// Package cronrunner schedules the background workers on cron specs with a
// seconds field ("@every 1s" and friends).
package cronrunner

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner drives worker ticks on their cron schedule. Every tick receives the
// base context, so cancelling it (process shutdown) also cancels in-flight
// ticks.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
}

func New(logger *zap.Logger, ctx context.Context) *Runner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Runner{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		ctx:    ctx,
	}
}

// Add registers tick under a six-field cron spec. Ticks scheduled after the
// base context is cancelled are skipped rather than run against a dying
// process.
func (r *Runner) Add(spec string, tick func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if r.ctx.Err() != nil {
			return
		}
		tick(r.ctx)
	})
}

func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("worker schedule started")
}

// Stop halts scheduling and blocks until running ticks return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("worker schedule stopped")
}
