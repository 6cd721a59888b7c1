package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/uidriver"
)

var _ uidriver.Driver = (*Session)(nil)

// element wraps a rod element as a uidriver.Element.
type element struct {
	el *rod.Element
}

func (e *element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return s, classify(err)
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, classify(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) HTML(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).HTML()
	return s, classify(err)
}

func (e *element) Find(ctx context.Context, loc locator.Locator) ([]uidriver.Element, error) {
	css, xpath, err := translate(loc, true)
	if err != nil {
		return nil, err
	}
	el := e.el.Context(ctx)
	var found rod.Elements
	if xpath != "" {
		found, err = el.ElementsX(xpath)
	} else {
		found, err = el.Elements(css)
	}
	if err != nil {
		return nil, classify(err)
	}
	return wrap(found), nil
}

// Find returns every element matching loc without waiting.
func (s *Session) Find(ctx context.Context, loc locator.Locator) ([]uidriver.Element, error) {
	css, xpath, err := translate(loc, false)
	if err != nil {
		return nil, err
	}
	p := s.page.Context(ctx)
	var found rod.Elements
	if xpath != "" {
		found, err = p.ElementsX(xpath)
	} else {
		found, err = p.Elements(css)
	}
	if err != nil {
		return nil, classify(err)
	}
	return wrap(found), nil
}

// WaitUntil polls for loc until cond holds or timeout expires. A
// non-positive timeout uses the session's implicit wait.
func (s *Session) WaitUntil(ctx context.Context, loc locator.Locator, cond uidriver.Condition, timeout time.Duration) (uidriver.Element, error) {
	css, xpath, err := translate(loc, false)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.cfg.ImplicitWait
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := s.page.Context(wctx)
	var el *rod.Element
	if xpath != "" {
		el, err = p.ElementX(xpath)
	} else {
		el, err = p.Element(css)
	}
	if err == nil && cond == uidriver.Clickable {
		if err = el.WaitVisible(); err == nil {
			err = el.WaitEnabled()
		}
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s not %s after %s", uidriver.ErrTimeout, loc, cond, timeout)
		}
		return nil, classify(err)
	}
	return &element{el: el.Context(ctx)}, nil
}

func (s *Session) MoveTo(ctx context.Context, el uidriver.Element) error {
	re, err := unwrap(el)
	if err != nil {
		return err
	}
	return classify(re.Context(ctx).Hover())
}

func (s *Session) Click(ctx context.Context, el uidriver.Element) error {
	re, err := unwrap(el)
	if err != nil {
		return err
	}
	return classify(re.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

// ScrollIntoView centers the element in the viewport, falling back to
// the protocol's if-needed scroll.
func (s *Session) ScrollIntoView(ctx context.Context, el uidriver.Element) error {
	re, err := unwrap(el)
	if err != nil {
		return err
	}
	re = re.Context(ctx)
	if _, err := re.Eval(`() => this.scrollIntoView({behavior: 'smooth', block: 'center'})`); err == nil {
		return nil
	}
	return classify(re.ScrollIntoView())
}

func (s *Session) NavigateBack(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.NavigateBack(); err != nil {
		return fmt.Errorf("browser: navigate back: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		s.cfg.Logger.Debug("browser: wait load after back", "error", err)
	}
	return nil
}

func (s *Session) PageMarkup(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: page markup: %w", err)
	}
	return html, nil
}

// HasEnabledControl checks the first match of loc without waiting.
func (s *Session) HasEnabledControl(ctx context.Context, loc locator.Locator) (bool, error) {
	found, err := s.Find(ctx, loc)
	if err != nil || len(found) == 0 {
		return false, err
	}
	disabled, err := found[0].(*element).el.Context(ctx).Disabled()
	if err != nil {
		return false, classify(err)
	}
	return !disabled, nil
}

func wrap(els rod.Elements) []uidriver.Element {
	out := make([]uidriver.Element, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out
}

func unwrap(el uidriver.Element) (*rod.Element, error) {
	e, ok := el.(*element)
	if !ok || e == nil || e.el == nil {
		return nil, fmt.Errorf("browser: foreign element handle %T", el)
	}
	return e.el, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", uidriver.ErrNotFound, err)
	}
	var gone *rod.ObjectNotFoundError
	if errors.As(err, &gone) || strings.Contains(err.Error(), "does not belong to the document") {
		return fmt.Errorf("%w: %v", uidriver.ErrDetached, err)
	}
	return err
}

// translate maps a Locator onto a CSS selector or an XPath expression
// (exactly one is non-empty). relative anchors XPath at the context node.
func translate(loc locator.Locator, relative bool) (css, xpath string, err error) {
	if err := loc.Validate(); err != nil {
		return "", "", err
	}
	prefix := "//"
	if relative {
		prefix = ".//"
	}
	switch loc.Kind {
	case locator.ByCSS:
		return loc.Value, "", nil
	case locator.ByID:
		return `[id=` + locator.CSSString(loc.Value) + `]`, "", nil
	case locator.ByXPath:
		return "", loc.Value, nil
	case locator.ByLinkText:
		return "", prefix + "a[normalize-space(.)=" + locator.XPathLiteral(strings.TrimSpace(loc.Value)) + "]", nil
	case locator.ByPartialLinkText:
		return "", prefix + "a[contains(normalize-space(.), " + locator.XPathLiteral(strings.TrimSpace(loc.Value)) + ")]", nil
	}
	return "", "", fmt.Errorf("browser: unsupported locator kind %s", loc.Kind)
}
