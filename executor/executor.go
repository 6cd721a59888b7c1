// Package executor performs single UI interactions against a flaky,
// asynchronously rendering page.
//
// One Perform call walks the state machine
//
//	Idle -> Attempting -> Succeeded
//	            |
//	            +-> RetryPending -> Attempting ... -> Exhausted
//
// Timeouts, missing elements, obstructed clicks and driver panics are all
// folded into a failed attempt. Perform never returns an error and never
// panics; callers only see an Outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/uidriver"
)

// Config configures an Executor.
type Config struct {
	// MaxRetries is the attempt ceiling. Values below 1 mean 1.
	MaxRetries int

	// WaitTimeout bounds the wait for an element to become clickable.
	// Default: 10s.
	WaitTimeout time.Duration

	// Delays decides approach, pacing and retry pauses. Default: NoDelay.
	Delays DelayPolicy

	// Limiter, when set, caps the rate of interaction attempts.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.Delays == nil {
		c.Delays = NoDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outcome is the result of one Perform call.
type Outcome struct {
	Succeeded bool
	Attempts  int
	// Err is the failure of the last attempt; nil on success.
	Err error
}

// ErrUnsupportedOp is reported for actions other than click.
var ErrUnsupportedOp = errors.New("executor: unsupported operation")

// Executor performs Actions with bounded retries.
type Executor struct {
	drv uidriver.Driver
	cfg Config
}

// New creates an Executor bound to a driver session.
func New(drv uidriver.Driver, cfg Config) *Executor {
	cfg.defaults()
	return &Executor{drv: drv, cfg: cfg}
}

// MaxRetries returns the effective attempt ceiling.
func (e *Executor) MaxRetries() int { return e.cfg.MaxRetries }

// Delays returns the pacing policy shared with callers.
func (e *Executor) Delays() DelayPolicy { return e.cfg.Delays }

// Perform runs act until it succeeds or MaxRetries attempts have failed.
// description labels the action in logs; empty falls back to the locator's.
func (e *Executor) Perform(ctx context.Context, act locator.Action, description string) Outcome {
	if description == "" {
		description = act.Locator.Label()
	}
	log := e.cfg.Logger.With("action", description, "locator", act.Locator.String())

	if err := validate(act); err != nil {
		log.Error("executor: invalid action", "error", err)
		return Outcome{Attempts: 1, Err: err}
	}

	ceiling := e.cfg.MaxRetries
	var last error
	for attempt := 1; attempt <= ceiling; attempt++ {
		err := e.attempt(ctx, act.Locator)
		if err == nil {
			log.Info("executor: action succeeded", "attempt", attempt)
			Sleep(ctx, e.cfg.Delays.Settle())
			return Outcome{Succeeded: true, Attempts: attempt}
		}
		last = err
		log.Warn("executor: attempt failed",
			"attempt", attempt, "max_retries", ceiling, "error", err)

		if attempt == ceiling {
			break
		}
		if ctx.Err() != nil {
			log.Warn("executor: context done, abandoning retries", "attempt", attempt)
			return Outcome{Attempts: attempt, Err: errors.Join(last, ctx.Err())}
		}
		e.reposition(ctx, act.Locator)
		Sleep(ctx, e.cfg.Delays.Backoff(attempt))
	}

	log.Error("executor: retries exhausted", "attempts", ceiling, "error", last)
	return Outcome{Attempts: ceiling, Err: last}
}

// ClickLink clicks a link by its exact or partial text.
func (e *Executor) ClickLink(ctx context.Context, text string, partial bool) Outcome {
	loc := locator.LinkText(text, text)
	if partial {
		loc = locator.PartialLinkText(text, text)
	}
	return e.Perform(ctx, locator.Click(loc), "")
}

func validate(act locator.Action) error {
	if act.Op != "" && act.Op != locator.OpClick {
		return fmt.Errorf("%w: %q", ErrUnsupportedOp, act.Op)
	}
	return act.Locator.Validate()
}

// attempt is one Attempting state: wait, approach, click.
func (e *Executor) attempt(ctx context.Context, loc locator.Locator) (err error) {
	if e.cfg.Limiter != nil {
		if err := e.cfg.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()

	el, err := e.drv.WaitUntil(ctx, loc, uidriver.Clickable, e.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("wait clickable: %w", err)
	}
	if el == nil {
		return uidriver.ErrNotFound
	}

	if err := e.drv.MoveTo(ctx, el); err != nil {
		e.cfg.Logger.Debug("executor: pointer move failed", "locator", loc.String(), "error", err)
	}
	Sleep(ctx, e.cfg.Delays.Approach())

	if err := e.drv.Click(ctx, el); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// reposition is the recovery step between attempts: relocate the element
// without waiting and scroll it into view. Failure here is not an error.
func (e *Executor) reposition(ctx context.Context, loc locator.Locator) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Debug("executor: recovery panic", "locator", loc.String(), "panic", r)
		}
	}()

	els, err := e.drv.Find(ctx, loc)
	if err != nil || len(els) == 0 {
		e.cfg.Logger.Debug("executor: element not relocatable", "locator", loc.String(), "error", err)
		return
	}
	if err := e.drv.ScrollIntoView(ctx, els[0]); err != nil {
		e.cfg.Logger.Debug("executor: scroll into view failed", "locator", loc.String(), "error", err)
	}
}
