package patch

import (
	"fmt"

	"github.com/beevik/etree"
)

// BuildReportArch validates ops against a compiled QWeb template and
// returns the inheritance arch applying them. Unlike form/tree views the
// full vocabulary is allowed, including add_section and change_style, and
// targets usually address t-field or class identity.
func BuildReportArch(compiledArch string, ops []Op) (string, error) {
	if len(ops) == 0 {
		return "", fmt.Errorf("%w: no operations", errInvalidOp)
	}
	doc, err := parseArch(compiledArch)
	if err != nil {
		return "", err
	}

	data := newDataRoot()
	for i, op := range ops {
		frag, err := buildOp(doc, op)
		if err != nil {
			return "", fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
		}
		data.AddChild(frag)
	}
	return serialize(data)
}

func newDataRoot() *etree.Element {
	return etree.NewElement("data")
}
