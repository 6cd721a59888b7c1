package locator

import "strings"

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no
// escape sequence, so a value holding both quote kinds becomes a concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}

// CSSString quotes s as a double-quoted CSS string.
func CSSString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}

// Quote renders s as a literal for the kind's expression language:
// an XPath string literal, a CSS string, or s unchanged for the text
// and id kinds, which take raw values.
func (k Kind) Quote(s string) string {
	switch k {
	case ByXPath:
		return XPathLiteral(s)
	case ByCSS:
		return CSSString(s)
	}
	return s
}
