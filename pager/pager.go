// Package pager drives the outer loop of a run: list the items of the
// current page, skip the ones the ledger already knows, run the workflow
// for the others and move to the next page.
//
// Items are processed one at a time in page order. A failed item never
// stops the page; a failed page advance stops the run.
package pager

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/autoinvite/executor"
	"github.com/hazyhaar/autoinvite/ledger"
	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/observability"
	"github.com/hazyhaar/autoinvite/uidriver"
	"github.com/hazyhaar/autoinvite/workflow"
)

// Ledger is the idempotency gate and outcome sink.
type Ledger interface {
	IsProcessed(id string) bool
	Record(ctx context.Context, id, name string, status ledger.Status) ledger.Entry
}

// Runner runs the workflow for one target.
type Runner interface {
	Run(ctx context.Context, t workflow.Target) workflow.Outcome
}

// Config describes the list page.
type Config struct {
	// Items matches every item container of the current page.
	Items locator.Locator
	// Name is looked up inside an item container.
	Name locator.Locator
	// IDAttribute holds the stable id on the container. When it is missing
	// the name is used as id.
	IDAttribute string
	// NextPage is the pagination control.
	NextPage locator.Action

	// ScrollDelay follows scrolling an item into view, ItemDelay follows
	// every item and PageDelay follows a page advance.
	ScrollDelay time.Duration
	ItemDelay   time.Duration
	PageDelay   time.Duration

	Logger *slog.Logger
	// Events receives item and page events. Optional.
	Events *observability.EventLogger
	// Metrics receives item and page durations. Optional.
	Metrics *observability.Metrics
	// OnPage is called after each processed page.
	OnPage func(page int, res PageResult)
}

// Iterator walks the pages of one session.
type Iterator struct {
	drv    uidriver.Driver
	ledger Ledger
	runner Runner
	perf   workflow.Performer
	cfg    Config
}

// New returns an Iterator. perf performs the next-page action.
func New(drv uidriver.Driver, led Ledger, runner Runner, perf workflow.Performer, cfg Config) (*Iterator, error) {
	for _, l := range []locator.Locator{cfg.Items, cfg.Name, cfg.NextPage.Locator} {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("pager: %s: %w", l.Label(), err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Iterator{drv: drv, ledger: led, runner: runner, perf: perf, cfg: cfg}, nil
}

// Candidates reads the items of the current page and returns a sequence
// of the ones still to process. Ids and names are read up front, since
// item handles do not survive navigating away from the list; the ledger
// check happens as each target is yielded. The sequence is single-use.
// The error reports a failure to list the page at all.
func (it *Iterator) Candidates(ctx context.Context) (iter.Seq[workflow.Target], error) {
	targets, err := it.scan(ctx)
	if err != nil {
		return nil, err
	}

	var used atomic.Bool
	return func(yield func(workflow.Target) bool) {
		if used.Swap(true) {
			it.cfg.Logger.Warn("pager: candidate sequence reused")
			return
		}
		for _, t := range targets {
			if it.ledger.IsProcessed(t.ID) {
				it.cfg.Logger.Info("pager: skipping processed item", "item_id", t.ID, "item_name", t.Name)
				it.cfg.Events.LogEvent(ctx, observability.Event{
					Type: observability.EventItemSkipped, ItemID: t.ID, ItemName: t.Name, Success: true,
				})
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}

func (it *Iterator) scan(ctx context.Context) (targets []workflow.Target, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pager: list items: panic: %v", r)
		}
	}()

	els, err := it.drv.Find(ctx, it.cfg.Items)
	if err != nil {
		return nil, fmt.Errorf("pager: list items: %w", err)
	}
	for i, el := range els {
		t, ok := it.extract(ctx, el)
		if !ok {
			it.cfg.Logger.Debug("pager: item without name ignored", "index", i)
			continue
		}
		targets = append(targets, t)
	}
	it.cfg.Logger.Debug("pager: items listed", "found", len(els), "usable", len(targets))
	return targets, nil
}

func (it *Iterator) extract(ctx context.Context, el uidriver.Element) (workflow.Target, bool) {
	names, err := el.Find(ctx, it.cfg.Name)
	if err != nil || len(names) == 0 {
		return workflow.Target{}, false
	}
	name, err := names[0].Text(ctx)
	if err != nil {
		return workflow.Target{}, false
	}
	name = strings.TrimSpace(name)

	t := workflow.Target{Name: name, Handle: el}
	if it.cfg.IDAttribute != "" {
		if id, ok, err := el.Attribute(ctx, it.cfg.IDAttribute); err == nil && ok {
			t.ID = strings.TrimSpace(id)
		}
	}
	if t.ID == "" {
		t.ID = name
		t.Degraded = true
	}
	if t.ID == "" {
		return workflow.Target{}, false
	}
	return t, true
}

// PageResult tallies one ProcessPage call.
type PageResult struct {
	Attempted int
	Succeeded int
	// Interrupted is set when ctx was done before every candidate ran.
	Interrupted bool
	// ListErr is set when the page items could not be listed.
	ListErr error
}

// ProcessPage runs the workflow for every candidate of the current page
// and records each outcome as soon as it is known. ctx is checked between
// items only: an item that started runs to completion and is recorded.
func (it *Iterator) ProcessPage(ctx context.Context, page int) PageResult {
	log := it.cfg.Logger.With("page", page)
	var res PageResult

	seq, err := it.Candidates(ctx)
	if err != nil {
		log.Error("pager: cannot list items", "error", err)
		res.ListErr = err
		return res
	}

	for t := range seq {
		if ctx.Err() != nil {
			log.Info("pager: interrupted, stopping before next item", "item_id", t.ID)
			res.Interrupted = true
			break
		}
		res.Attempted++
		if it.processItem(context.WithoutCancel(ctx), page, t) {
			res.Succeeded++
		}
		executor.Sleep(ctx, it.cfg.ItemDelay)
	}
	return res
}

func (it *Iterator) processItem(ctx context.Context, page int, t workflow.Target) bool {
	log := it.cfg.Logger.With("page", page, "item_id", t.ID, "item_name", t.Name)
	if t.Degraded {
		log.Warn("pager: item has no id attribute, keyed by name")
	}
	start := time.Now()

	it.scrollTo(ctx, log, t)
	out := it.run(ctx, t)

	status := ledger.Success
	if !out.Succeeded() {
		status = ledger.Failed
	}
	it.ledger.Record(ctx, t.ID, t.Name, status)

	ev := observability.Event{
		Type: observability.EventItemFinished, Page: page,
		ItemID: t.ID, ItemName: t.Name, Success: out.Succeeded(),
	}
	if !out.Succeeded() {
		ev.Step = out.FailedStep
		ev.Details = map[string]any{"step_name": out.StepName}
		if out.Err != nil {
			ev.Details["error"] = out.Err.Error()
		}
		log.Warn("pager: item failed", "outcome", out.String())
	} else {
		log.Info("pager: item done")
	}
	it.cfg.Events.LogEvent(ctx, ev)
	it.cfg.Metrics.Observe(observability.MetricItemDurationMs, time.Since(start),
		map[string]string{"status": string(status)})
	return out.Succeeded()
}

func (it *Iterator) scrollTo(ctx context.Context, log *slog.Logger, t workflow.Target) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("pager: scroll panicked", "panic", r)
		}
	}()
	if t.Handle != nil {
		if err := it.drv.ScrollIntoView(ctx, t.Handle); err != nil {
			log.Debug("pager: scroll into view failed", "error", err)
		}
	}
	executor.Sleep(ctx, it.cfg.ScrollDelay)
}

// run shields the page loop from a runner that panics.
func (it *Iterator) run(ctx context.Context, t workflow.Target) (out workflow.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = workflow.Outcome{Status: workflow.Failed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return it.runner.Run(ctx, t)
}

// HasNextPage reports whether the next-page control exists and is
// enabled. Lookup errors count as no next page.
func (it *Iterator) HasNextPage(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			it.cfg.Logger.Warn("pager: next page lookup panicked", "panic", r)
			ok = false
		}
	}()
	ok, err := it.drv.HasEnabledControl(ctx, it.cfg.NextPage.Locator)
	if err != nil {
		it.cfg.Logger.Debug("pager: next page lookup failed", "error", err)
		return false
	}
	return ok
}

// AdvancePage clicks the next-page control and waits for the new page.
func (it *Iterator) AdvancePage(ctx context.Context) bool {
	it.cfg.Logger.Info("pager: advancing to next page")
	out := it.perf.Perform(ctx, it.cfg.NextPage, "next page")
	if !out.Succeeded {
		return false
	}
	executor.Sleep(ctx, it.cfg.PageDelay)
	return true
}

// StopReason tells why Run returned.
type StopReason int

const (
	StopLastPage StopReason = iota
	StopPageCap
	StopAdvanceFailed
	StopInterrupted
	StopFault
)

func (r StopReason) String() string {
	switch r {
	case StopLastPage:
		return "last page"
	case StopPageCap:
		return "page cap"
	case StopAdvanceFailed:
		return "advance failed"
	case StopInterrupted:
		return "interrupted"
	case StopFault:
		return "fault"
	}
	return "unknown"
}

// Report summarises a Run.
type Report struct {
	Pages     int
	Attempted int
	Succeeded int
	Reason    StopReason
	// Err is set when Reason is StopFault.
	Err      error
	Duration time.Duration
}

// Run processes pages until there is no next page, maxPages pages have
// been processed (0 means no cap), a page advance fails or ctx is done.
func (it *Iterator) Run(ctx context.Context, maxPages int) (rep Report) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			it.cfg.Logger.Error("pager: run aborted by unexpected fault", "page", rep.Pages, "panic", r)
			rep.Reason = StopFault
			rep.Err = fmt.Errorf("pager: panic: %v", r)
		}
		rep.Duration = time.Since(start)
		it.cfg.Logger.Info("pager: run stopped",
			"reason", rep.Reason.String(), "pages", rep.Pages,
			"attempted", rep.Attempted, "succeeded", rep.Succeeded)
	}()

	for page := 1; ; page++ {
		it.cfg.Logger.Info("pager: processing page", "page", page)
		pageStart := time.Now()
		res := it.ProcessPage(ctx, page)
		rep.Pages = page
		rep.Attempted += res.Attempted
		rep.Succeeded += res.Succeeded
		it.cfg.Metrics.Observe(observability.MetricPageDurationMs, time.Since(pageStart),
			map[string]string{"page": fmt.Sprint(page)})
		if it.cfg.OnPage != nil {
			it.cfg.OnPage(page, res)
		}

		switch {
		case res.Interrupted || ctx.Err() != nil:
			rep.Reason = StopInterrupted
			return rep
		case !it.HasNextPage(ctx):
			rep.Reason = StopLastPage
			return rep
		case maxPages > 0 && page >= maxPages:
			rep.Reason = StopPageCap
			return rep
		case !it.AdvancePage(ctx):
			if ctx.Err() != nil {
				it.cfg.Logger.Info("pager: interrupted during page advance", "page", page)
				rep.Reason = StopInterrupted
				return rep
			}
			it.cfg.Logger.Error("pager: page advance failed, stopping", "page", page)
			rep.Reason = StopAdvanceFailed
			return rep
		}
		it.cfg.Events.LogEvent(ctx, observability.Event{
			Type: observability.EventPageAdvanced, Page: page + 1, Success: true,
		})
	}
}
