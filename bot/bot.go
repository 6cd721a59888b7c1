// Package bot assembles a configured engine from a driver session and a
// ledger: one executor, one workflow runner and one page iterator sharing
// the same driver.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/autoinvite/config"
	"github.com/hazyhaar/autoinvite/executor"
	"github.com/hazyhaar/autoinvite/ledger"
	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/observability"
	"github.com/hazyhaar/autoinvite/pager"
	"github.com/hazyhaar/autoinvite/uidriver"
	"github.com/hazyhaar/autoinvite/workflow"
)

// Options carries the optional collaborators of a Bot.
type Options struct {
	Logger  *slog.Logger
	Events  *observability.EventLogger
	Metrics *observability.Metrics
	// Out receives the statistics blocks. Default: os.Stdout.
	Out io.Writer
	// Delays overrides the randomized pacing built from the config.
	Delays executor.DelayPolicy
}

// Bot runs the invitation workflow over the pages of one session.
type Bot struct {
	cfg    *config.Config
	led    *ledger.Ledger
	exec   *executor.Executor
	runner *workflow.Runner
	pages  *pager.Iterator
	opts   Options
}

// New wires the engine. It fails only on an unusable target description.
func New(cfg *config.Config, drv uidriver.Driver, led *ledger.Ledger, opts Options) (*Bot, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Delays == nil {
		opts.Delays = executor.NewHumanDelays(cfg.MinDelay.D(), cfg.MaxDelay.D(), cfg.ClickRetryDelay.D())
	}

	ecfg := executor.Config{
		MaxRetries:  cfg.MaxRetries,
		WaitTimeout: cfg.ImplicitWait.D(),
		Delays:      opts.Delays,
		Logger:      opts.Logger,
	}
	if n := cfg.MaxActionsPerMinute; n > 0 {
		ecfg.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
	exec := executor.New(drv, ecfg)

	steps, err := cfg.Steps()
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}
	runner, err := workflow.New(exec, drv, workflow.Config{
		Steps:  steps,
		Delays: opts.Delays,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}

	items, err := cfg.Target.Items.Locator()
	if err != nil {
		return nil, fmt.Errorf("bot: target.items: %w", err)
	}
	name, err := cfg.Target.Name.Locator()
	if err != nil {
		return nil, fmt.Errorf("bot: target.name: %w", err)
	}
	next, err := cfg.Target.NextPage.Locator()
	if err != nil {
		return nil, fmt.Errorf("bot: target.next_page: %w", err)
	}

	b := &Bot{cfg: cfg, led: led, exec: exec, runner: runner, opts: opts}
	b.pages, err = pager.New(drv, led, runner, exec, pager.Config{
		Items:       items,
		Name:        name,
		IDAttribute: cfg.Target.IDAttribute,
		NextPage:    locator.Click(next),
		ScrollDelay: cfg.ScrollDelay.D(),
		ItemDelay:   cfg.ItemDelay.D(),
		PageDelay:   cfg.PageDelay.D(),
		Logger:      opts.Logger,
		Events:      opts.Events,
		Metrics:     opts.Metrics,
		OnPage:      b.pageDone,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}
	return b, nil
}

// Pages exposes the iterator for callers that drive pages themselves.
func (b *Bot) Pages() *pager.Iterator { return b.pages }

// Run processes up to maxPages pages (0 means no cap) starting at the
// page the driver is on, printing statistics before, per page and after.
func (b *Bot) Run(ctx context.Context, maxPages int) pager.Report {
	log := b.opts.Logger
	b.led.WriteStatistics(b.opts.Out, "Statistics before run")
	b.opts.Events.LogEvent(ctx, observability.Event{
		Type:    observability.EventRunStarted,
		Success: true,
		Details: map[string]any{"max_pages": maxPages, "max_retries": b.exec.MaxRetries()},
	})

	rep := b.pages.Run(ctx, maxPages)

	// The run context may be cancelled; the closing records still go out.
	done := context.WithoutCancel(ctx)
	stats := b.led.Statistics()
	b.opts.Events.LogEvent(done, observability.Event{
		Type:    observability.EventRunFinished,
		Success: rep.Reason != pager.StopFault && rep.Reason != pager.StopAdvanceFailed,
		Details: map[string]any{
			"reason":    rep.Reason.String(),
			"pages":     rep.Pages,
			"attempted": rep.Attempted,
			"succeeded": rep.Succeeded,
			"total":     stats.Total,
			"success":   stats.Succeeded,
			"failed":    stats.Failed,
		},
	})
	b.opts.Metrics.Observe(observability.MetricRunDurationMs, rep.Duration,
		map[string]string{"reason": rep.Reason.String()})
	b.opts.Metrics.Flush()

	fmt.Fprintf(b.opts.Out, "\nRun stopped (%s): %d page(s), %d invitation(s) sent this run\n",
		rep.Reason, rep.Pages, rep.Succeeded)
	b.led.WriteStatistics(b.opts.Out, "Final statistics")
	log.Info("bot: run finished",
		"reason", rep.Reason.String(), "pages", rep.Pages,
		"succeeded", rep.Succeeded, "duration", rep.Duration.String())
	return rep
}

func (b *Bot) pageDone(page int, res pager.PageResult) {
	fmt.Fprintf(b.opts.Out, "\nPage %d done: %d of %d item(s) succeeded\n", page, res.Succeeded, res.Attempted)
	b.led.WriteStatistics(b.opts.Out, fmt.Sprintf("Statistics after page %d", page))
}
