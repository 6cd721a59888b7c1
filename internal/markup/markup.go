// Package markup searches a rendered page snapshot for the inspection
// commands. It works on the string returned by the driver's PageMarkup,
// so it sees the DOM after scripts ran.
package markup

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Document is a parsed page.
type Document struct {
	root *html.Node
}

// Parse parses page markup.
func Parse(s string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("markup: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// FindText returns elements whose own text nodes contain sub, the way
// //*[contains(text(), sub)] does.
func (d *Document) FindText(sub string) []*html.Node {
	var out []*html.Node
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.Contains(c.Data, sub) {
				out = append(out, n)
				return
			}
		}
	})
	return out
}

// Text returns the visible text under n with whitespace collapsed.
func Text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// OuterHTML renders n and its subtree.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
