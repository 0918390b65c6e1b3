package schema

import (
	"fmt"
	"strings"
)

// CustomPrefix marks externally-declared schema. Odoo only loads manual
// fields and models whose technical name carries it.
const CustomPrefix = "x_"

// FieldType enumerates the declarable field types, using the target's own
// type names.
type FieldType string

const (
	TypeChar      FieldType = "char"
	TypeText      FieldType = "text"
	TypeHTML      FieldType = "html"
	TypeInteger   FieldType = "integer"
	TypeFloat     FieldType = "float"
	TypeMonetary  FieldType = "monetary"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeDatetime  FieldType = "datetime"
	TypeSelection FieldType = "selection"
	TypeBinary    FieldType = "binary"
	TypeMany2one  FieldType = "many2one"
	TypeOne2many  FieldType = "one2many"
	TypeMany2many FieldType = "many2many"
)

var validFieldTypes = map[FieldType]struct{}{
	TypeChar: {}, TypeText: {}, TypeHTML: {}, TypeInteger: {}, TypeFloat: {},
	TypeMonetary: {}, TypeBoolean: {}, TypeDate: {}, TypeDatetime: {},
	TypeSelection: {}, TypeBinary: {}, TypeMany2one: {}, TypeOne2many: {},
	TypeMany2many: {},
}

// IsValidFieldType reports whether t is a declarable type.
func IsValidFieldType(t FieldType) bool {
	_, ok := validFieldTypes[t]
	return ok
}

// IsRelational reports whether t references another model.
func (t FieldType) IsRelational() bool {
	switch t {
	case TypeMany2one, TypeOne2many, TypeMany2many:
		return true
	}
	return false
}

// SelectionOption is one ordered (value, label) pair of a selection field.
type SelectionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor declares a custom field to create on a model.
type FieldDescriptor struct {
	Model    string    `json:"model"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	Help     string    `json:"help,omitempty"`
	Required bool      `json:"required,omitempty"`
	Default  string    `json:"default,omitempty"`
	// Copied controls whether the field value survives record duplication.
	Copied bool `json:"copied,omitempty"`

	// Selection is required for TypeSelection and forbidden otherwise.
	Selection []SelectionOption `json:"selection,omitempty"`
	// Relation is the target model, required for relational types.
	Relation string `json:"relation,omitempty"`
	// InverseName is the many2one field on the child model that points
	// back; required for TypeOne2many.
	InverseName string `json:"inverse_name,omitempty"`
}

// EnsureCustomPrefix returns name with the reserved prefix, adding it when
// absent. The transformation is deterministic so repeated calls agree.
func EnsureCustomPrefix(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, CustomPrefix) {
		return name
	}
	return CustomPrefix + name
}

// Validate checks structural consistency. It does not consult the live
// instance; existence checks belong to the cache.
func (f *FieldDescriptor) Validate() error {
	if err := ValidateModelName(f.Model); err != nil {
		return err
	}
	if !strings.HasPrefix(f.Name, CustomPrefix) {
		return fmt.Errorf("field name %q must start with %q", f.Name, CustomPrefix)
	}
	if err := ValidateFieldName(f.Name); err != nil {
		return err
	}
	if !IsValidFieldType(f.Type) {
		return fmt.Errorf("invalid field type %q", f.Type)
	}
	if f.Label == "" {
		return fmt.Errorf("field %q needs a label", f.Name)
	}
	if f.Type == TypeSelection && len(f.Selection) == 0 {
		return fmt.Errorf("selection field %q needs options", f.Name)
	}
	if f.Type != TypeSelection && len(f.Selection) > 0 {
		return fmt.Errorf("field %q is %s, selection options not allowed", f.Name, f.Type)
	}
	if f.Type.IsRelational() && f.Relation == "" {
		return fmt.Errorf("relational field %q needs a relation model", f.Name)
	}
	if !f.Type.IsRelational() && f.Relation != "" {
		return fmt.Errorf("field %q is %s, relation not allowed", f.Name, f.Type)
	}
	if f.Type == TypeOne2many && f.InverseName == "" {
		return fmt.Errorf("one2many field %q needs an inverse field name", f.Name)
	}
	return nil
}

// ModelDescriptor declares a custom model.
type ModelDescriptor struct {
	Name   string            `json:"name"`
	Label  string            `json:"label"`
	Fields []FieldDescriptor `json:"fields,omitempty"`
	// CreateViews requests generation of default list/form views.
	CreateViews bool `json:"create_views,omitempty"`
	// CreateMenu requests a navigation entry.
	CreateMenu bool `json:"create_menu,omitempty"`
}

func (m *ModelDescriptor) Validate() error {
	if !strings.HasPrefix(m.Name, CustomPrefix) {
		return fmt.Errorf("model name %q must start with %q", m.Name, CustomPrefix)
	}
	if m.Label == "" {
		return fmt.Errorf("model %q needs a label", m.Name)
	}
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Model == "" {
			f.Model = m.Name
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

// ValidateModelName enforces the target's dot-separated convention.
func ValidateModelName(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.Count(model, ".") < 1 && !strings.HasPrefix(model, CustomPrefix) {
		return fmt.Errorf("model name %q looks invalid: expected dot-separated form like res.partner", model)
	}
	for _, r := range model {
		if r == '.' || r == '_' {
			continue
		}
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("model name %q contains invalid character %q", model, r)
		}
	}
	return nil
}

// ValidateFieldName enforces identifier characters.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	for _, r := range name {
		if r == '_' {
			continue
		}
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("field name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// ValidateDBName enforces database-name characters.
func ValidateDBName(name string) error {
	if name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	for _, r := range name {
		if r == '_' || r == '-' {
			continue
		}
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("database name %q contains invalid character %q", name, r)
		}
	}
	return nil
}
