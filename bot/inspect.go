package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/autoinvite/internal/markup"
	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/uidriver"
)

// Inspect prints how many elements of the current page match selector,
// with the text and markup of the first three. The lookup goes through
// the driver, so it matches exactly what the bot would. selector is
// "<by>:<value>" for any locator kind ("xpath://button", "id:main"), or a
// bare CSS selector.
func Inspect(ctx context.Context, drv uidriver.Driver, selector string, w io.Writer) (int, error) {
	loc, err := parseSelector(selector)
	if err != nil {
		return 0, err
	}
	found, err := drv.Find(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("bot: inspect %s: %w", loc, err)
	}
	fmt.Fprintf(w, "Found %d element(s) matching %s\n", len(found), loc)
	for i, el := range found {
		if i == 3 {
			break
		}
		text, err := el.Text(ctx)
		if err != nil {
			text = "<" + err.Error() + ">"
		}
		html, err := el.HTML(ctx)
		if err != nil {
			html = "<" + err.Error() + ">"
		}
		fmt.Fprintf(w, "\nElement %d:\n", i+1)
		fmt.Fprintf(w, "  Text: %s\n", markup.Truncate(strings.TrimSpace(text), 50))
		fmt.Fprintf(w, "  HTML: %s\n", markup.Truncate(html, 200))
	}
	return len(found), nil
}

func parseSelector(s string) (locator.Locator, error) {
	loc := locator.CSS(s, "")
	if by, value, ok := strings.Cut(s, ":"); ok {
		if k, err := locator.ParseKind(by); err == nil {
			loc = locator.Locator{Kind: k, Value: value}
		}
	}
	return loc, loc.Validate()
}

// DumpDOM writes the rendered page markup to path. With a non-empty
// findText it also lists the elements whose text contains it, with their
// parent's markup, to help write locators for a new layout.
func DumpDOM(ctx context.Context, drv uidriver.Driver, path, findText string, w io.Writer) error {
	page, err := drv.PageMarkup(ctx)
	if err != nil {
		return fmt.Errorf("bot: dump dom: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("bot: dump dom: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return fmt.Errorf("bot: dump dom: %w", err)
	}
	fmt.Fprintf(w, "Page markup saved to %s (%d bytes)\n", path, len(page))

	if findText == "" {
		return nil
	}
	doc, err := markup.Parse(page)
	if err != nil {
		return err
	}
	found := doc.FindText(findText)
	fmt.Fprintf(w, "\nFound %d element(s) containing %q\n", len(found), findText)
	for i, n := range found {
		fmt.Fprintf(w, "\nElement %d <%s>:\n", i+1, n.Data)
		fmt.Fprintf(w, "  Text: %s\n", markup.Text(n))
		fmt.Fprintf(w, "  HTML: %s\n", markup.Truncate(markup.OuterHTML(n), 500))
		if n.Parent != nil {
			fmt.Fprintf(w, "  Parent HTML: %s\n", markup.Truncate(markup.OuterHTML(n.Parent), 500))
		}
	}
	return nil
}
