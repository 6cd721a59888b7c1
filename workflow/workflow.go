// Package workflow chains dependent UI actions into one all-or-nothing
// outcome per target.
//
// Steps run strictly in order and each is a single executor call. The
// first failing step aborts the rest. Whatever happens, the runner leaves
// the detail view with exactly one navigate-back, so the caller finds the
// list page again. No progress is kept between runs: a retried target
// starts over at step 1.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/autoinvite/executor"
	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/uidriver"
)

// Target is one candidate unit of work.
type Target struct {
	// ID is the idempotency key. When the page exposes no stable id the
	// name is used instead and Degraded is set.
	ID       string
	Name     string
	Degraded bool
	// Handle is the target's element on the list page.
	Handle uidriver.Element
}

// Step is one named action of the workflow. The locator value may hold
// the placeholders {id} and {name}, replaced by the target's before the
// step runs, to scope a step to the target's own card. For XPath and CSS
// locators the placeholder expands to a quoted string literal, so it is
// written unquoted: //div[@data-id={id}].
type Step struct {
	Name   string
	Action locator.Action
}

// For returns the step's action bound to t.
func (s Step) For(t Target) locator.Action {
	act := s.Action
	if strings.Contains(act.Locator.Value, "{") {
		k := act.Locator.Kind
		act.Locator.Value = strings.NewReplacer(
			"{id}", k.Quote(t.ID),
			"{name}", k.Quote(t.Name),
		).Replace(act.Locator.Value)
	}
	return act
}

// Performer runs one action with retries. *executor.Executor satisfies it.
type Performer interface {
	Perform(ctx context.Context, act locator.Action, description string) executor.Outcome
}

// Navigator returns to the previous view.
type Navigator interface {
	NavigateBack(ctx context.Context) error
}

// Status of a finished workflow.
type Status int

const (
	Success Status = iota
	Failed
)

// Outcome is the result of one Run.
type Outcome struct {
	Status Status
	// FailedStep is the 1-based index of the step that failed; 0 on success.
	FailedStep int
	StepName   string
	Err        error
}

// Succeeded reports whether every step succeeded.
func (o Outcome) Succeeded() bool { return o.Status == Success }

func (o Outcome) String() string {
	if o.Succeeded() {
		return "success"
	}
	return fmt.Sprintf("failed at step %d (%s)", o.FailedStep, o.StepName)
}

// ErrNoSteps is returned by New for an empty step list.
var ErrNoSteps = errors.New("workflow: no steps")

// Config configures a Runner.
type Config struct {
	Steps []Step
	// Delays supplies the pacing pause after a completed workflow.
	Delays executor.DelayPolicy
	Logger *slog.Logger
}

// Runner executes the configured steps for one target at a time. It holds
// no per-target state.
type Runner struct {
	perf   Performer
	nav    Navigator
	steps  []Step
	delays executor.DelayPolicy
	logger *slog.Logger
}

// New validates the step list and returns a Runner.
func New(perf Performer, nav Navigator, cfg Config) (*Runner, error) {
	if len(cfg.Steps) == 0 {
		return nil, ErrNoSteps
	}
	for i, st := range cfg.Steps {
		if err := st.Action.Locator.Validate(); err != nil {
			return nil, fmt.Errorf("workflow: step %d (%s): %w", i+1, st.Name, err)
		}
	}
	if cfg.Delays == nil {
		cfg.Delays = executor.NoDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		perf:   perf,
		nav:    nav,
		steps:  append([]Step(nil), cfg.Steps...),
		delays: cfg.Delays,
		logger: cfg.Logger,
	}, nil
}

// Steps returns a copy of the configured steps.
func (r *Runner) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

// Run executes every step for t. It never panics and never returns an
// error; failures are reported through Outcome.
func (r *Runner) Run(ctx context.Context, t Target) Outcome {
	log := r.logger.With("item_id", t.ID, "item_name", t.Name)
	log.Info("workflow: start", "steps", len(r.steps))

	for i, st := range r.steps {
		idx := i + 1
		res, fault := r.runStep(ctx, st, t)
		if fault != nil {
			log.Error("workflow: unexpected fault",
				"step", idx, "step_name", st.Name, "error", fault)
			return r.abort(ctx, log, idx, st, fault)
		}
		if !res.Succeeded {
			log.Error("workflow: step failed",
				"step", idx, "step_name", st.Name,
				"attempts", res.Attempts, "error", res.Err)
			return r.abort(ctx, log, idx, st, res.Err)
		}
		log.Debug("workflow: step done", "step", idx, "step_name", st.Name)
	}

	// The last step leaves the driver on the detail view.
	r.back(ctx, log)
	executor.Sleep(ctx, r.delays.Settle())
	log.Info("workflow: completed")
	return Outcome{Status: Success}
}

func (r *Runner) runStep(ctx context.Context, st Step, t Target) (res executor.Outcome, fault error) {
	defer func() {
		if p := recover(); p != nil {
			fault = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.perf.Perform(ctx, st.For(t), st.Name), nil
}

func (r *Runner) abort(ctx context.Context, log *slog.Logger, idx int, st Step, err error) Outcome {
	r.back(ctx, log)
	return Outcome{Status: Failed, FailedStep: idx, StepName: st.Name, Err: err}
}

func (r *Runner) back(ctx context.Context, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn("workflow: navigate back panicked", "panic", p)
		}
	}()
	if err := r.nav.NavigateBack(ctx); err != nil {
		log.Warn("workflow: navigate back failed", "error", err)
	}
}
