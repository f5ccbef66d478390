package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/phobos/internal/logging"
)

// Executor runs one boot item.
type Executor interface {
	Execute(ctx context.Context, item Item) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, item Item) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, item Item) error {
	return f(ctx, item)
}

// Failure records an item that did not complete.
type Failure struct {
	Item Item
	Err  error
}

// Report summarizes a boot run.
type Report struct {
	Ran      []Item
	Failed   []Failure
	Skipped  int
	Duration time.Duration
}

// OK reports whether every item ran.
func (r Report) OK() bool {
	return len(r.Failed) == 0 && r.Skipped == 0
}

// Runner executes the registry's items in order.
type Runner struct {
	reg  *Registry
	exec Executor
	log  *logging.Logger
}

// NewRunner creates a runner.
func NewRunner(reg *Registry, exec Executor, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{reg: reg, exec: exec, log: log.WithComponent("boot")}
}

// Run executes every item. Item failures and panics are recorded and the
// run continues; only a failure to list items or a done ctx ends it early.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	items, err := r.reg.All(ctx)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for i, item := range items {
		if ctx.Err() != nil {
			rep.Skipped = len(items) - i
			break
		}
		if err := r.execute(ctx, item); err != nil {
			r.log.Warn("boot item failed",
				"package", item.PackageID,
				"id", item.ID,
				"command", item.Command,
				"error", err,
			)
			rep.Failed = append(rep.Failed, Failure{Item: item, Err: err})
			continue
		}
		rep.Ran = append(rep.Ran, item)
	}

	rep.Duration = time.Since(start)
	r.log.Info("boot sequence finished",
		"ran", len(rep.Ran),
		"failed", len(rep.Failed),
		"skipped", rep.Skipped,
	)
	return rep, ctx.Err()
}

func (r *Runner) execute(ctx context.Context, item Item) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("boot item panicked: %v", p)
		}
	}()
	return r.exec.Execute(ctx, item)
}
