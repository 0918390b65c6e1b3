package odoorpc

import (
	"strings"
	"testing"
)

func TestParseFieldsGet(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"name": map[string]any{
			"string":   "Name",
			"type":     "char",
			"required": true,
			"readonly": false,
		},
		"x_tier": map[string]any{
			"string": "Loyalty Tier",
			"type":   "selection",
			"selection": []any{
				[]any{"bronze", "Bronze"},
				[]any{"gold", "Gold"},
			},
		},
		"partner_id": map[string]any{
			"string":   "Partner",
			"type":     "many2one",
			"relation": "res.partner",
			// Odoo sends false for absent string attributes.
			"help": false,
		},
		"garbage": "not a map",
	}

	fields := ParseFieldsGet(raw)
	if len(fields) != 3 {
		t.Fatalf("parsed %d fields, want 3", len(fields))
	}

	name := fields["name"]
	if name.Type != "char" || !name.Required {
		t.Fatalf("name = %+v", name)
	}

	tier := fields["x_tier"]
	if len(tier.Selection) != 2 {
		t.Fatalf("selection len=%d, want 2", len(tier.Selection))
	}
	if tier.Selection[1] != [2]string{"gold", "Gold"} {
		t.Fatalf("selection[1] = %v", tier.Selection[1])
	}

	partner := fields["partner_id"]
	if partner.Relation != "res.partner" {
		t.Fatalf("relation = %q", partner.Relation)
	}
	if partner.Help != "" {
		t.Fatalf("help = %q, want empty for false", partner.Help)
	}
}

func TestRelationHelpers(t *testing.T) {
	t.Parallel()

	v := []any{int64(7), "Mitchell Admin"}
	if name, ok := RelationName(v); !ok || name != "Mitchell Admin" {
		t.Fatalf("RelationName = %q, %v", name, ok)
	}
	if id, ok := RelationID(v); !ok || id != 7 {
		t.Fatalf("RelationID = %d, %v", id, ok)
	}
	// Odoo sends false for an unset many2one.
	if _, ok := RelationName(false); ok {
		t.Fatalf("RelationName(false) should not resolve")
	}
}

func TestFaultSuggestions(t *testing.T) {
	t.Parallel()

	err := newFaultError("res.partner", "write", "Traceback ...\nodoo.exceptions.AccessError: not allowed")
	if err.FaultCode != "AccessError" {
		t.Fatalf("FaultCode=%q", err.FaultCode)
	}
	if err.Suggestion == "" {
		t.Fatalf("missing suggestion")
	}
	if !strings.Contains(err.Error(), "res.partner.write") {
		t.Fatalf("error text = %q", err.Error())
	}

	long := newFaultError("", "create", strings.Repeat("x", 2000))
	if len(long.Message) != maxFaultLen {
		t.Fatalf("fault message len=%d, want %d", len(long.Message), maxFaultLen)
	}
}
