package locator

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"id":                ByID,
		"XPath":             ByXPath,
		"css":               ByCSS,
		"css_selector":      ByCSS,
		"link_text":         ByLinkText,
		"partial-link-text": ByPartialLinkText,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseKind(%q): got %s, want %s", in, got, want)
		}
	}

	if _, err := ParseKind("class_name"); err == nil {
		t.Error("ParseKind(class_name): expected error")
	}
}

func TestValidate(t *testing.T) {
	if err := XPath("//button", "btn").Validate(); err != nil {
		t.Fatalf("valid xpath: %v", err)
	}
	err := CSS("  ", "blank").Validate()
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("blank css: got %v, want ErrEmpty", err)
	}
	if err := (Locator{Value: "x"}).Validate(); err == nil {
		t.Error("zero kind: expected error")
	}
}

func TestKeyIgnoresDescription(t *testing.T) {
	a := CSS(".next", "next page")
	b := CSS(".next", "другая подпись")
	if a.Key() != b.Key() {
		t.Errorf("Key: got %q and %q, want equal", a.Key(), b.Key())
	}
	if a.Key() == XPath(".next", "").Key() {
		t.Error("Key: different kinds must not collide")
	}
}

func TestLabel(t *testing.T) {
	if got := ID("main", "").Label(); got != "main" {
		t.Errorf("Label without description: got %q, want %q", got, "main")
	}
	if got := ID("main", "main panel").Label(); got != "main panel" {
		t.Errorf("Label: got %q, want %q", got, "main panel")
	}
}

func TestActionString(t *testing.T) {
	a := Click(LinkText("Next", "next"))
	if got, want := a.String(), "click link_text(Next)"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "'plain'"},
		{"", "''"},
		{"it's", `"it's"`},
		{`say "hi"`, `'say "hi"'`},
		{`it's "x"`, `concat('it', "'", 's "x"')`},
		{"下一页", "'下一页'"},
	}
	for _, tt := range tests {
		if got := XPathLiteral(tt.in); got != tt.want {
			t.Errorf("XPathLiteral(%q): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKindQuote(t *testing.T) {
	tests := []struct {
		kind Kind
		in   string
		want string
	}{
		{ByXPath, "O'Neil", `"O'Neil"`},
		{ByCSS, `say "hi"`, `"say \"hi\""`},
		{ByCSS, `a\b`, `"a\\b"`},
		{ByID, "u'7", "u'7"},
		{ByLinkText, `"x"`, `"x"`},
	}
	for _, tt := range tests {
		if got := tt.kind.Quote(tt.in); got != tt.want {
			t.Errorf("%s.Quote(%q): got %s, want %s", tt.kind, tt.in, got, tt.want)
		}
	}
}
