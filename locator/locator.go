// Package locator describes how to find an element on a rendered page.
//
// The set of lookup strategies is closed: a Locator is one of ByID,
// ByLinkText, ByPartialLinkText, ByXPath or ByCSS. Drivers switch on Kind
// and never receive free-form strategy names.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the lookup strategy of a Locator.
type Kind int

const (
	ByID Kind = iota + 1
	ByLinkText
	ByPartialLinkText
	ByXPath
	ByCSS
)

var kindNames = map[Kind]string{
	ByID:              "id",
	ByLinkText:        "link_text",
	ByPartialLinkText: "partial_link_text",
	ByXPath:           "xpath",
	ByCSS:             "css",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration name ("id", "xpath", "css", ...) to a Kind.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "css_selector", "selector":
		return ByCSS, nil
	case "link", "text":
		return ByLinkText, nil
	case "partial", "partial_text":
		return ByPartialLinkText, nil
	}
	for k, name := range kindNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("locator: unknown kind %q", s)
}

// Locator identifies an element. Description is only used in logs.
type Locator struct {
	Kind        Kind
	Value       string
	Description string
}

// ErrEmpty is returned by Validate for a locator without a value.
var ErrEmpty = errors.New("locator: empty value")

func ID(value, desc string) Locator { return Locator{Kind: ByID, Value: value, Description: desc} }
func LinkText(text, desc string) Locator { return Locator{Kind: ByLinkText, Value: text, Description: desc} }
func XPath(expr, desc string) Locator { return Locator{Kind: ByXPath, Value: expr, Description: desc} }
func CSS(selector, desc string) Locator { return Locator{Kind: ByCSS, Value: selector, Description: desc} }
func PartialLinkText(text, desc string) Locator {
	return Locator{Kind: ByPartialLinkText, Value: text, Description: desc}
}

// Validate reports whether the locator can be handed to a driver.
func (l Locator) Validate() error {
	if _, ok := kindNames[l.Kind]; !ok {
		return fmt.Errorf("locator: invalid kind %d", int(l.Kind))
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("%w (%s)", ErrEmpty, l.Kind)
	}
	return nil
}

// Key is a stable identity for the locator, independent of Description.
func (l Locator) Key() string {
	return l.Kind.String() + ":" + l.Value
}

// Label returns the description, falling back to the raw value.
func (l Locator) Label() string {
	if l.Description != "" {
		return l.Description
	}
	return l.Value
}

func (l Locator) String() string {
	return fmt.Sprintf("%s(%s)", l.Kind, l.Value)
}

// Op is the interaction performed by an Action. Only click exists today.
type Op string

const OpClick Op = "click"

// Action is a reusable, stateless interaction against one locator.
type Action struct {
	Locator Locator
	Op      Op
}

// Click builds a click Action.
func Click(l Locator) Action {
	return Action{Locator: l, Op: OpClick}
}

func (a Action) String() string {
	op := a.Op
	if op == "" {
		op = OpClick
	}
	return string(op) + " " + a.Locator.String()
}
