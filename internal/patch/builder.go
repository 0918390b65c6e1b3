package patch

import (
	"fmt"

	"github.com/beevik/etree"
)

// Attribute names the patch vocabulary maps onto. "invisible" is the
// suppression attribute, "string" the human label.
const (
	attrInvisible = "invisible"
	attrLabel     = "string"
	attrStyle     = "style"
)

// buildOp translates one validated operation against the compiled document
// into its xpath fragment. Pure: no I/O, the document is only consulted to
// prove the target resolves to exactly one element.
func buildOp(doc *etree.Document, op Op) (*etree.Element, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	switch op.Kind {
	case KindHide:
		return attributeFragment(doc, op.Target, attrInvisible, "1")
	case KindShow:
		// An empty attribute body clears the attribute on the target side.
		return attributeFragment(doc, op.Target, attrInvisible, "")
	case KindRename:
		return attributeFragment(doc, op.Target, attrLabel, op.Label)
	case KindChangeStyle:
		return attributeFragment(doc, op.Target, attrStyle, op.Value)
	case KindRemove:
		if _, err := resolve(doc, op.Target); err != nil {
			return nil, err
		}
		x := newXPath(xpathFor(op.Target), "replace")
		return x, nil
	case KindMove:
		if _, err := resolve(doc, op.Target); err != nil {
			return nil, err
		}
		if _, err := resolve(doc, op.Anchor); err != nil {
			return nil, err
		}
		outer := newXPath(xpathFor(op.Anchor), string(op.Position))
		inner := outer.CreateElement("xpath")
		inner.CreateAttr("expr", xpathFor(op.Target))
		inner.CreateAttr("position", "move")
		return outer, nil
	case KindInsertField:
		if _, err := resolve(doc, op.Anchor); err != nil {
			return nil, err
		}
		x := newXPath(xpathFor(op.Anchor), string(op.Position))
		f := x.CreateElement("field")
		f.CreateAttr("name", op.Field.Name)
		if op.Field.Widget != "" {
			f.CreateAttr("widget", op.Field.Widget)
		}
		if op.Field.Label != "" {
			f.CreateAttr("string", op.Field.Label)
		}
		if op.Field.Readonly {
			f.CreateAttr("readonly", "1")
		}
		if op.Field.Options != "" {
			f.CreateAttr("options", op.Field.Options)
		}
		return x, nil
	case KindAddSection:
		if _, err := resolve(doc, op.Anchor); err != nil {
			return nil, err
		}
		fragment := etree.NewDocument()
		if err := fragment.ReadFromString(op.Content); err != nil {
			return nil, fmt.Errorf("add_section content is not well-formed: %w", err)
		}
		if fragment.Root() == nil {
			return nil, fmt.Errorf("add_section content has no root element")
		}
		x := newXPath(xpathFor(op.Anchor), string(op.Position))
		x.AddChild(fragment.Root().Copy())
		return x, nil
	case KindSetAttr:
		// Escape hatch: the raw expression bypasses identity matching
		// entirely and is submitted as given.
		x := newXPath(op.RawXPath, "attributes")
		a := x.CreateElement("attribute")
		a.CreateAttr("name", op.Attr)
		if op.Value != "" {
			a.SetText(op.Value)
		}
		return x, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", errInvalidOp, op.Kind)
}

func attributeFragment(doc *etree.Document, t Target, name, value string) (*etree.Element, error) {
	if _, err := resolve(doc, t); err != nil {
		return nil, err
	}
	x := newXPath(xpathFor(t), "attributes")
	a := x.CreateElement("attribute")
	a.CreateAttr("name", name)
	if value != "" {
		a.SetText(value)
	}
	return x, nil
}

func newXPath(expr, position string) *etree.Element {
	x := etree.NewElement("xpath")
	x.CreateAttr("expr", expr)
	x.CreateAttr("position", position)
	return x
}

func serialize(root *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(root)
	doc.Indent(2)
	// Canonical escaping keeps literal apostrophes in attribute values,
	// matching Odoo's own arch style.
	doc.WriteSettings.CanonicalAttrVal = true
	doc.WriteSettings.CanonicalText = true
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize patch arch: %w", err)
	}
	return out, nil
}
