package patch

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// parseArch parses a compiled document arch.
func parseArch(arch string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(arch); err != nil {
		return nil, fmt.Errorf("parse document arch: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("document arch has no root element")
	}
	return doc, nil
}

// resolve finds the single element matching the target identity. Zero or
// multiple matches fail with a TargetError; submitting a patch whose
// target is not provably unique risks the xpath landing somewhere else
// after an unrelated edit.
func resolve(doc *etree.Document, t Target) (*etree.Element, error) {
	var matches []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if matchesTarget(e, t) {
			matches = append(matches, e)
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(doc.Root())

	if len(matches) != 1 {
		return nil, &TargetError{Target: t, Matches: len(matches)}
	}
	return matches[0], nil
}

func matchesTarget(e *etree.Element, t Target) bool {
	if t.Tag != "" && e.Tag != t.Tag {
		return false
	}
	switch {
	case t.Name != "":
		return e.SelectAttrValue("name", "") == t.Name
	case t.TField != "":
		return e.SelectAttrValue("t-field", "") == t.TField
	case t.Class != "":
		return hasClassToken(e.SelectAttrValue("class", ""), t.Class)
	}
	return false
}

func hasClassToken(classAttr, token string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == token {
			return true
		}
	}
	return false
}

// xpathFor renders the target as the xpath expression submitted in the
// inheritance arch. The expression addresses the same identity the
// resolver just proved unique.
func xpathFor(t Target) string {
	tag := t.Tag
	if tag == "" {
		tag = "*"
	}
	switch {
	case t.Name != "":
		return fmt.Sprintf("//%s[@name=%s]", tag, xpathLiteral(t.Name))
	case t.TField != "":
		return fmt.Sprintf("//%s[@t-field=%s]", tag, xpathLiteral(t.TField))
	case t.Class != "":
		// hasclass() is the target's own class-token predicate.
		return fmt.Sprintf("//%s[hasclass(%s)]", tag, xpathLiteral(t.Class))
	}
	return "//" + tag
}

// xpathLiteral quotes s as an XPath string literal. Values holding both
// quote kinds need concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
