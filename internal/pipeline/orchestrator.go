// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/layerkit/layerkit/internal/clock"
	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
)

const (
	// StepPending means the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning means the step is executing.
	StepRunning StepStatus = "running"
	// StepSucceeded means the step and its post-condition passed.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed means the step returned an error.
	StepFailed StepStatus = "failed"
	// StepSkipped means an earlier failure stopped the pipeline first.
	StepSkipped StepStatus = "skipped"
)

// DefaultRetry is the retry policy used when none is configured.
var DefaultRetry = RetryPolicy{Attempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}

type (
	// StepStatus is the per-step outcome recorded in a Result.
	StepStatus string

	// RetryPolicy bounds retries of transient failures.
	RetryPolicy struct {
		// Attempts is the total number of tries, including the first.
		Attempts       int
		InitialBackoff time.Duration
		MaxBackoff     time.Duration
	}

	// StepRecord is the execution record of one step.
	StepRecord struct {
		Name        string
		Description string
		Class       Class
		Status      StepStatus
		Attempts    int
		Started     time.Time
		Duration    time.Duration
		Changed     bool
		Summary     string
		Details     any
		Err         error
	}

	// Result is the outcome of Orchestrator.Run.
	Result struct {
		Status      Status
		Steps       []*StepRecord
		Moves       []Move
		Transitions []Transition
		Started     time.Time
		Duration    time.Duration
	}

	// Orchestrator executes a Plan against an Env.
	Orchestrator struct {
		concurrency int
		retry       RetryPolicy
		observers   []Observer
		holder      string
		lock        bool
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

// WithConcurrency sets how many independent steps may run at once. Values
// below 2 run strictly sequentially.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithObserver registers an observer for state transitions.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithLockHolder sets the text written into the build lock file.
func WithLockHolder(holder string) Option {
	return func(o *Orchestrator) { o.holder = holder }
}

// WithoutLock disables the target lock. Dry runs use it because they never
// write to the real target.
func WithoutLock() Option {
	return func(o *Orchestrator) { o.lock = false }
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{concurrency: 1, retry: DefaultRetry, lock: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.Attempts < 1 {
		o.retry.Attempts = 1
	}
	return o
}

// Run executes plan. It returns a Result in every case where at least the
// lock was taken; the error is a *StepError naming the first failing step.
// There is no rollback: a failed run leaves the target as the failing step
// left it.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan, env *Env) (*Result, error) {
	logger := env.logger()
	clk := env.clock()

	if o.lock {
		lock, err := fsys.AcquireLock(env.FS, o.holder)
		if err != nil {
			return nil, fmt.Errorf("acquire build lock: %w", err)
		}
		defer lock.Release()
	}

	m := newMachine(clk, o.observers)
	res := &Result{Started: clk.Now(), Moves: plan.Moves()}
	records := make(map[string]*StepRecord, len(plan.order))
	for _, s := range plan.Steps() {
		rec := &StepRecord{Name: s.Name, Description: s.Description, Class: s.Class, Status: StepPending}
		records[s.Name] = rec
		res.Steps = append(res.Steps, rec)
	}
	for _, mv := range res.Moves {
		logger.Info("step reordered", "step", mv.Step, "before", mv.Before)
	}

	failed, cause := o.preflight(plan, env)
	if failed == "" {
		if o.concurrency > 1 {
			failed, cause = o.runLevels(ctx, plan, env, m, records)
		} else {
			failed, cause = o.runSequential(ctx, plan, env, m, records)
		}
	}

	var err error
	if failed != "" {
		records[failed].Status = StepFailed
		records[failed].Err = cause
		for _, rec := range res.Steps {
			if rec.Status == StepPending {
				rec.Status = StepSkipped
			}
		}
		if terr := m.transition(Status{State: StateFailed, Step: failed, Cause: cause}); terr != nil {
			return nil, terr
		}
		err = &StepError{Step: failed, Err: cause}
		logger.Error("pipeline failed", "step", failed, "kind", fault.KindOf(cause).String(), "error", cause)
	} else {
		if terr := m.transition(Status{State: StateCompleted}); terr != nil {
			return nil, terr
		}
		logger.Info("pipeline completed", "steps", len(res.Steps))
	}

	res.Status = m.status()
	res.Transitions = m.transitions()
	res.Duration = clk.Since(res.Started)
	return res, err
}

// preflight verifies that every input no step produces already exists in
// the target, before anything runs.
func (o *Orchestrator) preflight(plan *Plan, env *Env) (string, error) {
	for _, s := range plan.Steps() {
		for _, in := range plan.Unbound(s.Name) {
			if in.Kind() == KindPath {
				ok, err := fsys.Exists(env.FS, in.Key())
				if err != nil {
					return s.Name, fmt.Errorf("preflight %s: %w", in, err)
				}
				if ok {
					continue
				}
			}
			if s.Unsatisfied != nil {
				return s.Name, s.Unsatisfied(in)
			}
			return s.Name, fmt.Errorf("input %s is not produced by any step and is absent from the target", in)
		}
	}
	return "", nil
}

func (o *Orchestrator) runSequential(ctx context.Context, plan *Plan, env *Env, m *machine, records map[string]*StepRecord) (string, error) {
	for _, s := range plan.Steps() {
		if err := o.runStep(ctx, s, env, m, records[s.Name]); err != nil {
			return s.Name, err
		}
	}
	return "", nil
}

// runLevels runs each level's steps concurrently. Every step of a level
// finishes before the next level starts; the first failure in level order
// is reported.
func (o *Orchestrator) runLevels(ctx context.Context, plan *Plan, env *Env, m *machine, records map[string]*StepRecord) (string, error) {
	for _, level := range plan.Levels() {
		errs := make([]error, len(level))
		var g errgroup.Group
		g.SetLimit(o.concurrency)
		for i, name := range level {
			s, _ := plan.Step(name)
			g.Go(func() error {
				errs[i] = o.runStep(ctx, s, env, m, records[name])
				return nil
			})
		}
		_ = g.Wait()

		first := ""
		var firstErr error
		for i, err := range errs {
			if err == nil {
				continue
			}
			if first == "" {
				first, firstErr = level[i], err
				continue
			}
			records[level[i]].Status = StepFailed
			records[level[i]].Err = err
		}
		if first != "" {
			return first, firstErr
		}
	}
	return "", nil
}

func (o *Orchestrator) runStep(ctx context.Context, s Step, env *Env, m *machine, rec *StepRecord) error {
	logger := env.logger().With("step", s.Name)
	clk := env.clock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.transition(Status{State: StateRunning, Step: s.Name}); err != nil {
		return err
	}
	rec.Status = StepRunning
	rec.Started = clk.Now()
	logger.Info("step started", "class", string(s.Class))

	var outcome Outcome
	op := func() error {
		rec.Attempts++
		out, err := s.Run(ctx, env)
		if err == nil {
			outcome = out
			return nil
		}
		if s.Class == SafeToRepeat && fault.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("transient failure, retrying", "attempt", rec.Attempts, "wait", wait, "error", err)
	}
	err := backoff.RetryNotify(op, o.backoff(ctx, clk), notify)
	if err == nil && s.Check != nil && !env.DryRun {
		if cerr := s.Check(ctx, env); cerr != nil {
			err = fmt.Errorf("post-condition: %w", cerr)
		}
	}
	rec.Duration = clk.Since(rec.Started)
	if err != nil {
		return err
	}

	rec.Status = StepSucceeded
	rec.Changed = outcome.Changed
	rec.Summary = outcome.Summary
	rec.Details = outcome.Details
	logger.Info("step completed", "changed", outcome.Changed, "attempts", rec.Attempts,
		slog.Duration("duration", rec.Duration))
	return nil
}

func (o *Orchestrator) backoff(ctx context.Context, clk clock.Clock) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.retry.InitialBackoff > 0 {
		b.InitialInterval = o.retry.InitialBackoff
	}
	if o.retry.MaxBackoff > 0 {
		b.MaxInterval = o.retry.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.retry.Attempts-1)), ctx)
}
