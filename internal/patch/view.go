package patch

import (
	"fmt"
)

// BuildViewArch validates ops against the compiled view arch and returns
// the inheritance arch that applies them, a <data> element of xpath
// fragments in operation order. Report-only operations are rejected here.
func BuildViewArch(compiledArch string, ops []Op) (string, error) {
	if len(ops) == 0 {
		return "", fmt.Errorf("%w: no operations", errInvalidOp)
	}
	doc, err := parseArch(compiledArch)
	if err != nil {
		return "", err
	}

	data := newDataRoot()
	for i, op := range ops {
		switch op.Kind {
		case KindAddSection, KindChangeStyle:
			return "", fmt.Errorf("%w: %s applies to report templates only", errInvalidOp, op.Kind)
		}
		frag, err := buildOp(doc, op)
		if err != nil {
			return "", fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
		}
		data.AddChild(frag)
	}
	return serialize(data)
}
