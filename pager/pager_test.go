package pager

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/autoinvite/dbopen"
	"github.com/hazyhaar/autoinvite/executor"
	"github.com/hazyhaar/autoinvite/ledger"
	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/observability"
	"github.com/hazyhaar/autoinvite/uidriver/uidrivertest"
	"github.com/hazyhaar/autoinvite/workflow"
)

var (
	items    = locator.CSS(".talent-item", "talent card")
	nameLoc  = locator.CSS(".talent-name", "talent name")
	nextPage = locator.XPath("//button[contains(text(), 'Next')]", "next page button")
	discard  = slog.New(slog.DiscardHandler)
)

func steps() []workflow.Step {
	var out []workflow.Step
	for _, n := range []string{"Details", "Invite", "Add last offer", "Confirm", "Send"} {
		out = append(out, workflow.Step{
			Name:   n,
			Action: locator.Click(locator.XPath("//button[contains(text(), '"+n+"')]", n)),
		})
	}
	return out
}

type world struct {
	drv    *uidrivertest.Driver
	ledger *ledger.Ledger
	exec   *executor.Executor
	path   string
}

func newWorld(t *testing.T, cards ...*uidrivertest.Element) *world {
	t.Helper()
	w := &world{
		drv:  &uidrivertest.Driver{},
		path: filepath.Join(t.TempDir(), "data", "invite_records.json"),
	}
	w.drv.SetList(items, cards...)
	w.ledger = ledger.Open(context.Background(), &ledger.FileStore{Path: w.path}, ledger.WithLogger(discard))
	w.exec = executor.New(w.drv, executor.Config{MaxRetries: 3, Logger: discard})
	return w
}

func card(id, name string) *uidrivertest.Element {
	return uidrivertest.Item(nameLoc, "data-id", id, name)
}

func (w *world) iterator(t *testing.T, runner Runner, mod func(*Config)) *Iterator {
	t.Helper()
	if runner == nil {
		r, err := workflow.New(w.exec, w.drv, workflow.Config{Steps: steps(), Logger: discard})
		if err != nil {
			t.Fatal(err)
		}
		runner = r
	}
	cfg := Config{
		Items:       items,
		Name:        nameLoc,
		IDAttribute: "data-id",
		NextPage:    locator.Click(nextPage),
		Logger:      discard,
	}
	if mod != nil {
		mod(&cfg)
	}
	it, err := New(w.drv, w.ledger, runner, w.exec, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return it
}

// fakeRunner fails or panics on chosen ids and records the order of calls.
type fakeRunner struct {
	fail   map[string]bool
	panics map[string]bool
	before func(id string)
	calls  []string
}

func (f *fakeRunner) Run(ctx context.Context, t workflow.Target) workflow.Outcome {
	f.calls = append(f.calls, t.ID)
	if f.before != nil {
		f.before(t.ID)
	}
	if f.panics[t.ID] {
		panic("renderer crashed")
	}
	if f.fail[t.ID] {
		return workflow.Outcome{Status: workflow.Failed, FailedStep: 2, StepName: "Invite"}
	}
	return workflow.Outcome{Status: workflow.Success}
}

func TestRun_SingleItemSucceeds(t *testing.T) {
	w := newWorld(t, card("u1", "Alice"))
	rep := w.iterator(t, nil, nil).Run(context.Background(), 0)

	if rep.Reason != StopLastPage || rep.Pages != 1 {
		t.Errorf("report: got reason %s pages %d, want last page after 1", rep.Reason, rep.Pages)
	}
	if rep.Succeeded != 1 {
		t.Errorf("succeeded: got %d, want 1", rep.Succeeded)
	}
	hist := w.ledger.Entries("u1")
	if len(hist) != 1 || hist[0].Status != ledger.Success || hist[0].Name != "Alice" {
		t.Errorf("u1 history: got %+v", hist)
	}
	if got, want := w.ledger.Statistics(), (ledger.Stats{Total: 1, Succeeded: 1}); got != want {
		t.Errorf("Statistics: got %+v, want %+v", got, want)
	}
}

func TestCandidates_SkipsProcessed(t *testing.T) {
	w := newWorld(t, card("u1", "Alice"), card("u2", "Bob"))
	w.ledger.Record(context.Background(), "u1", "Alice", ledger.Success)
	it := w.iterator(t, nil, nil)

	res := it.ProcessPage(context.Background(), 1)
	if res.Attempted != 1 || res.Succeeded != 1 {
		t.Errorf("ProcessPage: got %+v, want 1 attempted 1 succeeded", res)
	}
	if got := w.drv.Count("scroll", "item:u1Alice"); got != 0 {
		t.Errorf("u1 scrolled %d times, want 0", got)
	}
	first := steps()[0].Action.Locator.Key()
	if got := w.drv.Count("click", first); got != 1 {
		t.Errorf("step 1 clicks: got %d, want 1 (u2 only)", got)
	}
	if got := len(w.ledger.Entries("u1")); got != 1 {
		t.Errorf("u1 entries: got %d, want 1", got)
	}
}

func TestProcessPage_LastStepFailsIsRecorded(t *testing.T) {
	w := newWorld(t, card("u1", "Alice"))
	send := steps()[4].Action.Locator.Key()
	w.drv.Unavailable = map[string]int{send: -1}

	res := w.iterator(t, nil, nil).ProcessPage(context.Background(), 1)
	if res.Succeeded != 0 || res.Attempted != 1 {
		t.Errorf("ProcessPage: got %+v", res)
	}
	if got := w.drv.Count("back", ""); got != 1 {
		t.Errorf("navigate back: got %d, want 1", got)
	}
	hist := w.ledger.Entries("u1")
	if len(hist) != 1 || hist[0].Status != ledger.Failed {
		t.Errorf("u1 history: got %+v, want one failed entry", hist)
	}
}

func TestProcessPage_FailureDoesNotStopPage(t *testing.T) {
	w := newWorld(t, card("a", "A"), card("b", "B"), card("c", "C"), card("d", "D"))
	fr := &fakeRunner{
		fail:   map[string]bool{"b": true},
		panics: map[string]bool{"c": true},
	}
	res := w.iterator(t, fr, nil).ProcessPage(context.Background(), 1)

	if len(fr.calls) != 4 {
		t.Fatalf("runner calls: got %v, want all four items", fr.calls)
	}
	if res.Succeeded != 2 || res.Attempted != 4 {
		t.Errorf("ProcessPage: got %+v, want 4 attempted 2 succeeded", res)
	}
	for id, want := range map[string]ledger.Status{"a": ledger.Success, "b": ledger.Failed, "c": ledger.Failed, "d": ledger.Success} {
		hist := w.ledger.Entries(id)
		if len(hist) != 1 || hist[0].Status != want {
			t.Errorf("%s history: got %+v, want one %s", id, hist, want)
		}
	}
}

func TestRun_NoNextPageStopsAfterFirst(t *testing.T) {
	w := newWorld(t, card("a", "A"), card("b", "B"))
	fr := &fakeRunner{fail: map[string]bool{"b": true}}
	rep := w.iterator(t, fr, nil).Run(context.Background(), 0)

	if rep.Pages != 1 || rep.Reason != StopLastPage {
		t.Errorf("report: got %+v", rep)
	}
	if got, want := w.ledger.Statistics(), (ledger.Stats{Total: 2, Succeeded: 1, Failed: 1}); got != want {
		t.Errorf("Statistics: got %+v, want %+v", got, want)
	}
	if got := w.drv.Count("click", nextPage.Key()); got != 0 {
		t.Errorf("next page clicks: got %d, want 0", got)
	}
}

func pagedWorld(t *testing.T, pages [][]*uidrivertest.Element) *world {
	w := newWorld(t, pages[0]...)
	w.drv.SetControl(nextPage, true)
	current := 0
	w.drv.OnClick = func(d *uidrivertest.Driver, key string) {
		if key != nextPage.Key() {
			return
		}
		current++
		if current < len(pages) {
			d.SetList(items, pages[current]...)
		}
		d.SetControl(nextPage, current < len(pages)-1)
	}
	return w
}

func TestRun_WalksAllPages(t *testing.T) {
	w := pagedWorld(t, [][]*uidrivertest.Element{
		{card("a", "A"), card("b", "B")},
		{card("c", "C")},
		{card("d", "D"), card("e", "E")},
	})
	var seen []int
	rep := w.iterator(t, &fakeRunner{}, func(c *Config) {
		c.OnPage = func(page int, res PageResult) { seen = append(seen, page) }
	}).Run(context.Background(), 0)

	if rep.Pages != 3 || rep.Reason != StopLastPage || rep.Succeeded != 5 {
		t.Errorf("report: got %+v", rep)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("OnPage pages: got %v, want [1 2 3]", seen)
	}
}

func TestRun_PageCap(t *testing.T) {
	w := pagedWorld(t, [][]*uidrivertest.Element{
		{card("a", "A")}, {card("b", "B")}, {card("c", "C")},
	})
	fr := &fakeRunner{}
	rep := w.iterator(t, fr, nil).Run(context.Background(), 2)

	if rep.Pages != 2 || rep.Reason != StopPageCap {
		t.Errorf("report: got %+v, want page cap after 2", rep)
	}
	if len(fr.calls) != 2 {
		t.Errorf("runner calls: got %v, want [a b]", fr.calls)
	}
}

func TestRun_AdvanceFailureHalts(t *testing.T) {
	w := newWorld(t, card("a", "A"))
	w.drv.SetControl(nextPage, true)
	w.drv.Unavailable = map[string]int{nextPage.Key(): -1}

	rep := w.iterator(t, &fakeRunner{}, nil).Run(context.Background(), 0)
	if rep.Reason != StopAdvanceFailed || rep.Pages != 1 {
		t.Errorf("report: got %+v, want advance failed after 1 page", rep)
	}
	if got := w.drv.Count("wait", nextPage.Key()); got != 3 {
		t.Errorf("advance attempts: got %d, want 3", got)
	}
	if w.ledger.Statistics().Total != 1 {
		t.Error("statistics lost after advance failure")
	}
}

func TestRun_InterruptFinishesInFlightItem(t *testing.T) {
	w := newWorld(t, card("a", "A"), card("b", "B"), card("c", "C"))
	w.drv.SetControl(nextPage, true)
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{before: func(id string) {
		if id == "a" {
			cancel()
		}
	}}

	rep := w.iterator(t, fr, nil).Run(ctx, 0)
	if rep.Reason != StopInterrupted {
		t.Errorf("reason: got %s, want interrupted", rep.Reason)
	}
	if len(fr.calls) != 1 {
		t.Errorf("runner calls: got %v, want only a", fr.calls)
	}
	if !w.ledger.IsProcessed("a") {
		t.Error("in-flight item a not recorded")
	}
	if w.ledger.IsProcessed("b") {
		t.Error("item b recorded after interrupt")
	}
	if got := w.drv.Count("click", nextPage.Key()); got != 0 {
		t.Errorf("next page clicks after interrupt: got %d", got)
	}
}

// cancelOnPerform stands in for the executor and cancels the run while
// the next-page action is in progress.
type cancelOnPerform struct {
	cancel context.CancelFunc
	calls  int
}

func (p *cancelOnPerform) Perform(ctx context.Context, act locator.Action, description string) executor.Outcome {
	p.calls++
	p.cancel()
	return executor.Outcome{Attempts: 1, Err: ctx.Err()}
}

func TestRun_InterruptDuringAdvance(t *testing.T) {
	w := newWorld(t, card("a", "A"))
	w.drv.SetControl(nextPage, true)
	ctx, cancel := context.WithCancel(context.Background())
	perf := &cancelOnPerform{cancel: cancel}

	it, err := New(w.drv, w.ledger, &fakeRunner{}, perf, Config{
		Items:       items,
		Name:        nameLoc,
		IDAttribute: "data-id",
		NextPage:    locator.Click(nextPage),
		Logger:      discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	rep := it.Run(ctx, 0)
	if rep.Reason != StopInterrupted {
		t.Errorf("reason: got %s, want interrupted", rep.Reason)
	}
	if perf.calls != 1 || rep.Pages != 1 {
		t.Errorf("got %d advance calls over %d pages, want 1 and 1", perf.calls, rep.Pages)
	}
}

func TestCandidates_DegradedAndNamelessItems(t *testing.T) {
	noID := card("", "Carol")
	nameless := &uidrivertest.Element{Name: "nameless", Attrs: map[string]string{"data-id": "x9"}}
	w := newWorld(t, noID, nameless, card(" u7 ", " Dan "))
	it := w.iterator(t, nil, nil)

	seq, err := it.Candidates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []workflow.Target
	for tg := range seq {
		got = append(got, tg)
	}
	if len(got) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(got))
	}
	if got[0].ID != "Carol" || !got[0].Degraded {
		t.Errorf("degraded item: got %+v", got[0])
	}
	if got[1].ID != "u7" || got[1].Name != "Dan" || got[1].Degraded {
		t.Errorf("trimmed item: got id %q name %q degraded %v", got[1].ID, got[1].Name, got[1].Degraded)
	}

	// Single-use.
	n := 0
	for range seq {
		n++
	}
	if n != 0 {
		t.Errorf("second iteration yielded %d targets, want 0", n)
	}
}

func TestCandidates_GateCheckedAtYield(t *testing.T) {
	w := newWorld(t, card("u1", "Alice"), card("u1", "Alice"))
	it := w.iterator(t, &fakeRunner{}, nil)

	res := it.ProcessPage(context.Background(), 1)
	if res.Attempted != 1 {
		t.Errorf("duplicate id on one page: attempted %d, want 1", res.Attempted)
	}
}

func TestProcessPage_ListingFailure(t *testing.T) {
	w := newWorld(t, card("a", "A"))
	w.drv.FindErrors = map[string]error{items.Key(): errors.New("session lost")}

	res := w.iterator(t, &fakeRunner{}, nil).ProcessPage(context.Background(), 1)
	if res.ListErr == nil || res.Succeeded != 0 {
		t.Errorf("ProcessPage: got %+v, want list error and 0 successes", res)
	}
}

func TestHasNextPage(t *testing.T) {
	w := newWorld(t)
	it := w.iterator(t, &fakeRunner{}, nil)
	if it.HasNextPage(context.Background()) {
		t.Error("missing control: got true")
	}
	w.drv.SetControl(nextPage, true)
	if !it.HasNextPage(context.Background()) {
		t.Error("enabled control: got false")
	}
	if got := w.drv.Count("click", ""); got != 0 {
		t.Errorf("HasNextPage clicked %d times", got)
	}
}

func TestRun_WritesEvents(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	events := observability.NewEventLogger(db, "run_t", observability.WithLogger(discard))
	w := pagedWorld(t, [][]*uidrivertest.Element{
		{card("a", "A"), card("b", "B")},
		{card("c", "C")},
	})
	w.ledger.Record(context.Background(), "a", "A", ledger.Success)

	w.iterator(t, &fakeRunner{fail: map[string]bool{"c": true}}, func(c *Config) {
		c.Events = events
	}).Run(context.Background(), 0)

	ctx := context.Background()
	count := func(typ string) int {
		evs, err := observability.Query(ctx, db, observability.Filter{Type: typ})
		if err != nil {
			t.Fatal(err)
		}
		return len(evs)
	}
	if got := count(observability.EventItemSkipped); got != 1 {
		t.Errorf("skipped events: got %d, want 1", got)
	}
	if got := count(observability.EventItemFinished); got != 2 {
		t.Errorf("finished events: got %d, want 2", got)
	}
	if got := count(observability.EventPageAdvanced); got != 1 {
		t.Errorf("page events: got %d, want 1", got)
	}
	failed, _ := observability.Query(ctx, db, observability.Filter{ItemID: "c"})
	if len(failed) != 1 || failed[0].Success || failed[0].Step != 2 {
		t.Errorf("c event: got %+v", failed)
	}
}

func TestNew_RejectsEmptyLocators(t *testing.T) {
	w := newWorld(t)
	_, err := New(w.drv, w.ledger, &fakeRunner{}, w.exec, Config{
		Items: items, Name: nameLoc, NextPage: locator.Click(locator.XPath(" ", "next")),
	})
	if !errors.Is(err, locator.ErrEmpty) {
		t.Errorf("New without next page: got %v, want ErrEmpty", err)
	}
}
