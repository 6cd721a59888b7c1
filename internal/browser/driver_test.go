package browser

import (
	"errors"
	"testing"

	"github.com/hazyhaar/autoinvite/locator"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		loc      locator.Locator
		relative bool
		css      string
		xpath    string
	}{
		{locator.CSS(".talent-item", ""), false, ".talent-item", ""},
		{locator.ID("next", ""), false, `[id="next"]`, ""},
		{locator.ID(`a"b`, ""), false, `[id="a\"b"]`, ""},
		{locator.XPath("//button[text()='OK']", ""), false, "", "//button[text()='OK']"},
		{locator.LinkText("Next page", ""), false, "", "//a[normalize-space(.)='Next page']"},
		{locator.LinkText(" Next ", ""), true, "", ".//a[normalize-space(.)='Next']"},
		{locator.PartialLinkText("Next", ""), false, "", "//a[contains(normalize-space(.), 'Next')]"},
	}
	for _, tt := range tests {
		css, xpath, err := translate(tt.loc, tt.relative)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.loc, err)
			continue
		}
		if css != tt.css || xpath != tt.xpath {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tt.loc, css, xpath, tt.css, tt.xpath)
		}
	}
}

func TestTranslate_Invalid(t *testing.T) {
	if _, _, err := translate(locator.CSS("  ", ""), false); !errors.Is(err, locator.ErrEmpty) {
		t.Errorf("blank css: got %v, want ErrEmpty", err)
	}
	if _, _, err := translate(locator.Locator{Value: "x"}, false); err == nil {
		t.Error("zero kind: got nil error")
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "media": true}
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", true},
		{"Stylesheet", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(set, tt.typ); got != tt.want {
			t.Errorf("shouldBlock(%s): got %v, want %v", tt.typ, got, tt.want)
		}
	}
	if !shouldBlock(map[string]bool{"stylesheet": true}, "Stylesheet") {
		t.Error("raw resource type name: got false, want true")
	}
}

func TestSessionConfigDefaults(t *testing.T) {
	var c SessionConfig
	c.defaults()
	if c.Settle.Seconds() != 2 || c.PageLoadTimeout.Seconds() != 30 || c.ImplicitWait.Seconds() != 10 {
		t.Errorf("defaults: got settle %v, load %v, wait %v", c.Settle, c.PageLoadTimeout, c.ImplicitWait)
	}
	c = SessionConfig{Settle: -1}
	c.defaults()
	if c.Settle != 0 {
		t.Errorf("negative settle: got %v, want 0", c.Settle)
	}
}
