// Package uidrivertest provides a scripted, in-memory uidriver.Driver for
// exercising the automation engine without a browser.
package uidrivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/uidriver"
)

// Element is a fake page element.
type Element struct {
	// Name identifies the element in recorded calls. Empty means the
	// locator key it was produced for.
	Name    string
	Loc     locator.Locator
	Content string
	// Outer is returned by HTML; empty means Content.
	Outer    string
	Attrs    map[string]string
	Children map[string][]*Element // keyed by locator.Key()
	Detached bool
}

// Item builds a list entry carrying an optional id attribute and a child
// name element reachable through nameLoc.
func Item(nameLoc locator.Locator, idAttr, id, name string) *Element {
	el := &Element{
		Name:  "item:" + id + name,
		Attrs: map[string]string{},
		Children: map[string][]*Element{
			nameLoc.Key(): {{Loc: nameLoc, Content: name}},
		},
	}
	if id != "" {
		el.Attrs[idAttr] = id
	}
	return el
}

func (e *Element) key() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Loc.Key()
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if e.Detached {
		return "", uidriver.ErrDetached
	}
	return e.Content, nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if e.Detached {
		return "", false, uidriver.ErrDetached
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) HTML(ctx context.Context) (string, error) {
	if e.Detached {
		return "", uidriver.ErrDetached
	}
	if e.Outer != "" {
		return e.Outer, nil
	}
	return e.Content, nil
}

func (e *Element) Find(ctx context.Context, loc locator.Locator) ([]uidriver.Element, error) {
	if e.Detached {
		return nil, uidriver.ErrDetached
	}
	return toElements(e.Children[loc.Key()]), nil
}

// Call is one recorded driver interaction.
type Call struct {
	Op  string // find, wait, move, click, scroll, back, markup, control
	Key string
}

// Driver is a scripted uidriver.Driver. Zero value is usable; tests fill
// the maps before handing it to the engine. All maps are keyed by
// locator.Key().
type Driver struct {
	mu sync.Mutex

	// Lists is returned by Find.
	Lists map[string][]*Element
	// Unavailable makes WaitUntil fail: n > 0 fails the next n waits,
	// n < 0 fails every wait.
	Unavailable map[string]int
	// ClickErrors makes Click fail for elements produced by that locator.
	ClickErrors map[string]error
	// Panics makes WaitUntil panic for that locator.
	Panics map[string]bool
	// Controls answers HasEnabledControl.
	Controls map[string]bool
	// FindErrors makes Find fail.
	FindErrors map[string]error
	Markup     string
	// OnClick runs after every successful click, with the mutex released.
	OnClick func(d *Driver, key string)
	// BackErr is returned by NavigateBack.
	BackErr error

	calls []Call
}

var _ uidriver.Driver = (*Driver)(nil)

func (d *Driver) record(op, key string) {
	d.calls = append(d.calls, Call{Op: op, Key: key})
}

func (d *Driver) Find(ctx context.Context, loc locator.Locator) ([]uidriver.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("find", loc.Key())
	if err := d.FindErrors[loc.Key()]; err != nil {
		return nil, err
	}
	return toElements(d.Lists[loc.Key()]), nil
}

func (d *Driver) WaitUntil(ctx context.Context, loc locator.Locator, cond uidriver.Condition, timeout time.Duration) (uidriver.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := loc.Key()
	d.record("wait", key)
	if d.Panics[key] {
		panic(fmt.Sprintf("uidrivertest: scripted panic for %s", key))
	}
	if n, ok := d.Unavailable[key]; ok && n != 0 {
		if n > 0 {
			d.Unavailable[key] = n - 1
		}
		return nil, fmt.Errorf("%s %s: %w", key, cond, uidriver.ErrTimeout)
	}
	if els := d.Lists[key]; len(els) > 0 {
		return els[0], nil
	}
	return &Element{Loc: loc}, nil
}

func (d *Driver) MoveTo(ctx context.Context, el uidriver.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("move", keyOf(el))
	return nil
}

func (d *Driver) Click(ctx context.Context, el uidriver.Element) error {
	d.mu.Lock()
	key := keyOf(el)
	d.record("click", key)
	if e, ok := el.(*Element); ok {
		if err := d.ClickErrors[e.Loc.Key()]; err != nil {
			d.mu.Unlock()
			return err
		}
	}
	hook := d.OnClick
	d.mu.Unlock()
	if hook != nil {
		hook(d, key)
	}
	return nil
}

func (d *Driver) ScrollIntoView(ctx context.Context, el uidriver.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("scroll", keyOf(el))
	return nil
}

func (d *Driver) NavigateBack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("back", "")
	return d.BackErr
}

func (d *Driver) PageMarkup(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("markup", "")
	return d.Markup, nil
}

func (d *Driver) HasEnabledControl(ctx context.Context, loc locator.Locator) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("control", loc.Key())
	return d.Controls[loc.Key()], nil
}

// SetList replaces the Find result for a locator. Safe inside OnClick.
func (d *Driver) SetList(loc locator.Locator, els ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Lists == nil {
		d.Lists = map[string][]*Element{}
	}
	d.Lists[loc.Key()] = els
}

// SetControl sets the HasEnabledControl answer. Safe inside OnClick.
func (d *Driver) SetControl(loc locator.Locator, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Controls == nil {
		d.Controls = map[string]bool{}
	}
	d.Controls[loc.Key()] = enabled
}

// Calls returns a copy of the recorded interactions.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Count returns how many calls match op, and key when key is non-empty.
func (d *Driver) Count(op, key string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Op == op && (key == "" || c.Key == key) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (d *Driver) Reset() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

func keyOf(el uidriver.Element) string {
	if e, ok := el.(*Element); ok {
		return e.key()
	}
	return fmt.Sprintf("%T", el)
}

func toElements(els []*Element) []uidriver.Element {
	if len(els) == 0 {
		return nil
	}
	out := make([]uidriver.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out
}
