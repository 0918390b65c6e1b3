package odoorpc

// Record is a generic Odoo record as returned by read/search_read.
type Record = map[string]any

// FieldInfo is the subset of fields_get metadata the rest of the system
// consumes. Selection is ordered (value, label) pairs.
type FieldInfo struct {
	Label     string
	Type      string
	Required  bool
	Readonly  bool
	Relation  string
	Selection [][2]string
	Help      string
}

// ParseFieldsGet converts a raw fields_get reply into typed metadata.
func ParseFieldsGet(raw map[string]any) map[string]FieldInfo {
	out := make(map[string]FieldInfo, len(raw))
	for name, v := range raw {
		attrs, ok := v.(map[string]any)
		if !ok {
			continue
		}
		fi := FieldInfo{
			Label:    AsString(attrs["string"]),
			Type:     AsString(attrs["type"]),
			Required: AsBool(attrs["required"]),
			Readonly: AsBool(attrs["readonly"]),
			Relation: AsString(attrs["relation"]),
			Help:     AsString(attrs["help"]),
		}
		if sel, ok := attrs["selection"].([]any); ok {
			for _, pair := range sel {
				p, ok := pair.([]any)
				if !ok || len(p) != 2 {
					continue
				}
				fi.Selection = append(fi.Selection, [2]string{AsString(p[0]), AsString(p[1])})
			}
		}
		out[name] = fi
	}
	return out
}

// Odoo renders absent scalar values as false over XML-RPC, so every decode
// helper tolerates bool where another type is expected.

func AsString(v any) string {
	s, _ := v.(string)
	return s
}

func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func AsRecords(v any) []Record {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// RelationName extracts the display name from an Odoo many2one tuple value
// ([id, "name"]) and reports whether the value was a tuple at all.
func RelationName(v any) (string, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return "", false
	}
	return AsString(pair[1]), true
}

// RelationID extracts the id from an Odoo many2one tuple value.
func RelationID(v any) (int64, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, false
	}
	return AsInt(pair[0])
}
