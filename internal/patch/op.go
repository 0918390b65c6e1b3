package patch

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the edit-operation vocabulary. Every kind except
// KindSetAttr addresses its target by element identity and is validated
// against the compiled document before submission; KindSetAttr is the
// explicitly-unsafe escape hatch carrying a raw XPath.
type Kind string

const (
	KindHide        Kind = "hide"
	KindShow        Kind = "show"
	KindRename      Kind = "rename"
	KindMove        Kind = "move"
	KindInsertField Kind = "insert_field"
	KindRemove      Kind = "remove"
	KindSetAttr     Kind = "set_attr"

	// Report-only operations.
	KindAddSection  Kind = "add_section"
	KindChangeStyle Kind = "change_style"
)

// Position places inserted or moved content relative to an anchor.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
	Inside Position = "inside"
)

// Target identifies exactly one element of a compiled document by
// attribute identity, never by position, so reordering the source document
// cannot silently retarget an edit. Exactly one of Name, TField or Class
// must be set; Tag optionally narrows the match.
type Target struct {
	// Tag restricts the element tag ("field", "group", "page", "div", ...).
	// Empty matches any tag.
	Tag string `json:"tag,omitempty"`
	// Name matches the name attribute.
	Name string `json:"name,omitempty"`
	// TField matches the t-field attribute (report templates).
	TField string `json:"t_field,omitempty"`
	// Class matches a whole class token within the class attribute.
	Class string `json:"class,omitempty"`
}

func (t Target) isZero() bool {
	return t.Tag == "" && t.Name == "" && t.TField == "" && t.Class == ""
}

func (t Target) validate() error {
	set := 0
	for _, v := range []string{t.Name, t.TField, t.Class} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("target needs exactly one of name, t_field or class: %+v", t)
	}
	return nil
}

func (t Target) String() string {
	switch {
	case t.Name != "":
		return tagOrAny(t.Tag) + "[name=" + t.Name + "]"
	case t.TField != "":
		return tagOrAny(t.Tag) + "[t-field=" + t.TField + "]"
	case t.Class != "":
		return tagOrAny(t.Tag) + "[class~=" + t.Class + "]"
	}
	return tagOrAny(t.Tag)
}

func tagOrAny(tag string) string {
	if tag == "" {
		return "*"
	}
	return tag
}

// FieldRef describes a field element to insert into a view.
type FieldRef struct {
	Name     string `json:"name"`
	Widget   string `json:"widget,omitempty"`
	Label    string `json:"label,omitempty"`
	Readonly bool   `json:"readonly,omitempty"`
	Options  string `json:"options,omitempty"`
}

// Op is one edit operation. Payload fields are interpreted per Kind:
//
//	Hide, Show, Remove        Target only
//	Rename                    Target + Label
//	Move                      Target (element to move) + Anchor + Position
//	InsertField               Anchor + Position + Field
//	SetAttr                   RawXPath + Attr + Value (unsafe, no identity check)
//	AddSection                Anchor + Position + Content (literal fragment)
//	ChangeStyle               Target + Value (style attribute value)
type Op struct {
	Kind     Kind      `json:"kind"`
	Target   Target    `json:"target,omitempty"`
	Anchor   Target    `json:"anchor,omitempty"`
	Position Position  `json:"position,omitempty"`
	Label    string    `json:"label,omitempty"`
	Field    *FieldRef `json:"field,omitempty"`
	Content  string    `json:"content,omitempty"`
	RawXPath string    `json:"raw_xpath,omitempty"`
	Attr     string    `json:"attr,omitempty"`
	Value    string    `json:"value,omitempty"`
}

var errInvalidOp = errors.New("invalid edit operation")

// Validate checks structural consistency of the operation itself; target
// existence in a document is the builder's job.
func (o Op) Validate() error {
	switch o.Kind {
	case KindHide, KindShow, KindRemove:
		return o.Target.validate()
	case KindRename:
		if strings.TrimSpace(o.Label) == "" {
			return fmt.Errorf("%w: rename needs a label", errInvalidOp)
		}
		return o.Target.validate()
	case KindMove:
		if err := o.Target.validate(); err != nil {
			return err
		}
		if err := o.Anchor.validate(); err != nil {
			return err
		}
		return validPosition(o.Position)
	case KindInsertField:
		if o.Field == nil || strings.TrimSpace(o.Field.Name) == "" {
			return fmt.Errorf("%w: insert_field needs a field name", errInvalidOp)
		}
		if err := o.Anchor.validate(); err != nil {
			return err
		}
		return validPosition(o.Position)
	case KindSetAttr:
		if strings.TrimSpace(o.RawXPath) == "" || strings.TrimSpace(o.Attr) == "" {
			return fmt.Errorf("%w: set_attr needs raw_xpath and attr", errInvalidOp)
		}
		return nil
	case KindAddSection:
		if strings.TrimSpace(o.Content) == "" {
			return fmt.Errorf("%w: add_section needs content", errInvalidOp)
		}
		if err := o.Anchor.validate(); err != nil {
			return err
		}
		return validPosition(o.Position)
	case KindChangeStyle:
		if strings.TrimSpace(o.Value) == "" {
			return fmt.Errorf("%w: change_style needs a style value", errInvalidOp)
		}
		return o.Target.validate()
	}
	return fmt.Errorf("%w: unknown kind %q", errInvalidOp, o.Kind)
}

func validPosition(p Position) error {
	switch p {
	case Before, After, Inside:
		return nil
	}
	return fmt.Errorf("%w: invalid position %q", errInvalidOp, p)
}

// IsStructural reports whether applying the operation changes which fields
// the view references, as opposed to attributes only. Structural view edits
// still do not require a registry reload; this distinction feeds the
// verification probe's element checks.
func (o Op) IsStructural() bool {
	switch o.Kind {
	case KindMove, KindInsertField, KindRemove, KindAddSection:
		return true
	}
	return false
}
