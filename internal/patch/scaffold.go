package patch

import (
	"errors"

	"github.com/beevik/etree"
)

// ScaffoldListArch builds a default list view arch showing the given
// fields in order.
func ScaffoldListArch(fields []string) (string, error) {
	if len(fields) == 0 {
		return "", errors.New("scaffold needs at least one field")
	}
	tree := etree.NewElement("tree")
	for _, f := range fields {
		tree.CreateElement("field").CreateAttr("name", f)
	}
	return serialize(tree)
}

// ScaffoldFormArch builds a default form view arch: one sheet, one group,
// all fields.
func ScaffoldFormArch(fields []string) (string, error) {
	if len(fields) == 0 {
		return "", errors.New("scaffold needs at least one field")
	}
	form := etree.NewElement("form")
	group := form.CreateElement("sheet").CreateElement("group")
	for _, f := range fields {
		group.CreateElement("field").CreateAttr("name", f)
	}
	return serialize(form)
}
