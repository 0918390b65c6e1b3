package patch

import (
	"errors"
	"strings"
	"testing"
)

const formArch = `<form>
  <sheet>
    <group name="main">
      <field name="partner_id"/>
      <field name="date_order"/>
    </group>
    <group name="totals">
      <field name="amount_total"/>
    </group>
  </sheet>
</form>`

const reportArch = `<t t-name="account.report_invoice_document">
  <div class="page">
    <h2 class="invoice-title">Invoice</h2>
    <span t-field="o.partner_id"/>
    <span t-field="o.amount_total"/>
  </div>
</t>`

func TestOpValidate(t *testing.T) {
	t.Parallel()

	valid := []Op{
		{Kind: KindHide, Target: Target{Name: "partner_id"}},
		{Kind: KindShow, Target: Target{Tag: "field", Name: "partner_id"}},
		{Kind: KindRename, Target: Target{Name: "partner_id"}, Label: "Customer"},
		{Kind: KindRemove, Target: Target{Class: "invoice-title"}},
		{Kind: KindMove, Target: Target{Name: "date_order"}, Anchor: Target{Name: "totals"}, Position: Inside},
		{Kind: KindInsertField, Anchor: Target{Name: "partner_id"}, Position: After, Field: &FieldRef{Name: "x_priority"}},
		{Kind: KindSetAttr, RawXPath: "//field[@name='partner_id']", Attr: "readonly", Value: "1"},
		{Kind: KindAddSection, Anchor: Target{Class: "page"}, Position: Inside, Content: "<div>note</div>"},
		{Kind: KindChangeStyle, Target: Target{Class: "invoice-title"}, Value: "color: red"},
	}
	for _, op := range valid {
		if err := op.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", op.Kind, err)
		}
	}

	invalid := []Op{
		{Kind: KindHide},
		{Kind: KindHide, Target: Target{Name: "a", Class: "b"}},
		{Kind: KindRename, Target: Target{Name: "partner_id"}},
		{Kind: KindMove, Target: Target{Name: "a"}, Anchor: Target{Name: "b"}, Position: "under"},
		{Kind: KindInsertField, Anchor: Target{Name: "a"}, Position: After},
		{Kind: KindInsertField, Anchor: Target{Name: "a"}, Position: After, Field: &FieldRef{}},
		{Kind: KindSetAttr, Attr: "readonly"},
		{Kind: KindAddSection, Anchor: Target{Name: "a"}, Position: Inside},
		{Kind: KindChangeStyle, Target: Target{Class: "x"}},
		{Kind: "repaint"},
	}
	for _, op := range invalid {
		if err := op.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", op)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	doc, err := parseArch(formArch)
	if err != nil {
		t.Fatalf("parseArch: %v", err)
	}

	el, err := resolve(doc, Target{Name: "partner_id"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Tag != "field" {
		t.Fatalf("resolved tag = %q, want field", el.Tag)
	}

	_, err = resolve(doc, Target{Name: "missing_field"})
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("resolve missing = %v, want ErrTargetNotFound", err)
	}

	_, err = resolve(doc, Target{Tag: "group", Name: "main"})
	if err != nil {
		t.Fatalf("resolve with tag narrowing: %v", err)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	t.Parallel()

	doc, err := parseArch(`<form><field name="a"/><page><field name="a"/></page></form>`)
	if err != nil {
		t.Fatalf("parseArch: %v", err)
	}
	_, err = resolve(doc, Target{Name: "a"})
	if !errors.Is(err, ErrAmbiguousTarget) {
		t.Fatalf("resolve duplicate = %v, want ErrAmbiguousTarget", err)
	}
	var terr *TargetError
	if !errors.As(err, &terr) || terr.Matches != 2 {
		t.Fatalf("TargetError matches = %+v, want 2", terr)
	}
}

func TestResolveClassToken(t *testing.T) {
	t.Parallel()

	doc, err := parseArch(`<div><h2 class="title large">A</h2><h2 class="titles">B</h2></div>`)
	if err != nil {
		t.Fatalf("parseArch: %v", err)
	}
	el, err := resolve(doc, Target{Class: "title"})
	if err != nil {
		t.Fatalf("resolve class token: %v", err)
	}
	if got := el.Text(); got != "A" {
		t.Fatalf("resolved element text = %q, want A", got)
	}
}

func TestXPathLiteral(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"plain", "'plain'"},
		{`with"double`, `'with"double'`},
		{"with'single", `"with'single"`},
		{`both'and"`, `concat('both',"'",'and"')`},
	}
	for _, tc := range cases {
		if got := xpathLiteral(tc.in); got != tc.want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestBuildViewArch(t *testing.T) {
	t.Parallel()

	arch, err := BuildViewArch(formArch, []Op{
		{Kind: KindHide, Target: Target{Name: "date_order"}},
		{Kind: KindRename, Target: Target{Name: "partner_id"}, Label: "Customer"},
		{Kind: KindInsertField, Anchor: Target{Name: "amount_total"}, Position: Before, Field: &FieldRef{Name: "x_discount_note", Widget: "text"}},
	})
	if err != nil {
		t.Fatalf("BuildViewArch: %v", err)
	}

	for _, want := range []string{
		`<data>`,
		`expr="//*[@name='date_order']" position="attributes"`,
		`<attribute name="invisible">1</attribute>`,
		`<attribute name="string">Customer</attribute>`,
		`expr="//*[@name='amount_total']" position="before"`,
		`<field name="x_discount_note" widget="text"/>`,
	} {
		if !strings.Contains(arch, want) {
			t.Errorf("arch missing %q:\n%s", want, arch)
		}
	}
}

func TestBuildViewArchMove(t *testing.T) {
	t.Parallel()

	arch, err := BuildViewArch(formArch, []Op{
		{Kind: KindMove, Target: Target{Name: "date_order"}, Anchor: Target{Tag: "group", Name: "totals"}, Position: Inside},
	})
	if err != nil {
		t.Fatalf("BuildViewArch: %v", err)
	}
	if !strings.Contains(arch, `expr="//group[@name='totals']" position="inside"`) {
		t.Fatalf("outer xpath missing:\n%s", arch)
	}
	if !strings.Contains(arch, `expr="//*[@name='date_order']" position="move"`) {
		t.Fatalf("inner move xpath missing:\n%s", arch)
	}
}

func TestBuildViewArchShowClearsAttribute(t *testing.T) {
	t.Parallel()

	arch, err := BuildViewArch(formArch, []Op{
		{Kind: KindShow, Target: Target{Name: "partner_id"}},
	})
	if err != nil {
		t.Fatalf("BuildViewArch: %v", err)
	}
	if !strings.Contains(arch, `<attribute name="invisible"/>`) {
		t.Fatalf("show must emit an empty attribute body:\n%s", arch)
	}
}

func TestBuildViewArchTargetNotFound(t *testing.T) {
	t.Parallel()

	_, err := BuildViewArch(formArch, []Op{
		{Kind: KindHide, Target: Target{Name: "no_such_field"}},
	})
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("BuildViewArch = %v, want ErrTargetNotFound", err)
	}
}

func TestBuildViewArchRejectsReportOps(t *testing.T) {
	t.Parallel()

	_, err := BuildViewArch(formArch, []Op{
		{Kind: KindChangeStyle, Target: Target{Name: "partner_id"}, Value: "color: red"},
	})
	if err == nil || !strings.Contains(err.Error(), "report templates only") {
		t.Fatalf("BuildViewArch = %v, want report-only rejection", err)
	}
}

func TestBuildViewArchSetAttrSkipsResolution(t *testing.T) {
	t.Parallel()

	// The raw expression targets nothing in the compiled arch; set_attr
	// submits it anyway.
	arch, err := BuildViewArch(formArch, []Op{
		{Kind: KindSetAttr, RawXPath: "//form/sheet/group[2]", Attr: "col", Value: "4"},
	})
	if err != nil {
		t.Fatalf("BuildViewArch: %v", err)
	}
	if !strings.Contains(arch, `expr="//form/sheet/group[2]" position="attributes"`) {
		t.Fatalf("raw xpath not preserved:\n%s", arch)
	}
}

func TestBuildReportArch(t *testing.T) {
	t.Parallel()

	arch, err := BuildReportArch(reportArch, []Op{
		{Kind: KindChangeStyle, Target: Target{Class: "invoice-title"}, Value: "color: #003366"},
		{Kind: KindAddSection, Anchor: Target{TField: "o.amount_total"}, Position: After, Content: `<div class="terms">Net 30</div>`},
		{Kind: KindHide, Target: Target{TField: "o.partner_id"}},
	})
	if err != nil {
		t.Fatalf("BuildReportArch: %v", err)
	}

	for _, want := range []string{
		`expr="//*[hasclass('invoice-title')]" position="attributes"`,
		`<attribute name="style">color: #003366</attribute>`,
		`expr="//*[@t-field='o.amount_total']" position="after"`,
		`<div class="terms">Net 30</div>`,
		`expr="//*[@t-field='o.partner_id']" position="attributes"`,
	} {
		if !strings.Contains(arch, want) {
			t.Errorf("arch missing %q:\n%s", want, arch)
		}
	}
}

func TestBuildReportArchMalformedSection(t *testing.T) {
	t.Parallel()

	_, err := BuildReportArch(reportArch, []Op{
		{Kind: KindAddSection, Anchor: Target{Class: "page"}, Position: Inside, Content: "<div>unclosed"},
	})
	if err == nil || !strings.Contains(err.Error(), "not well-formed") {
		t.Fatalf("BuildReportArch = %v, want well-formedness error", err)
	}
}

func TestBuildViewArchNoOps(t *testing.T) {
	t.Parallel()

	if _, err := BuildViewArch(formArch, nil); err == nil {
		t.Fatal("BuildViewArch with no ops must fail")
	}
}

func TestScaffoldArchs(t *testing.T) {
	t.Parallel()

	fields := []string{"x_name", "x_level"}

	list, err := ScaffoldListArch(fields)
	if err != nil {
		t.Fatalf("ScaffoldListArch: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(list), "<tree>") {
		t.Fatalf("list arch = %q, want tree root", list)
	}
	form, err := ScaffoldFormArch(fields)
	if err != nil {
		t.Fatalf("ScaffoldFormArch: %v", err)
	}
	if !strings.Contains(form, "<sheet>") || !strings.Contains(form, "<group>") {
		t.Fatalf("form arch = %q, want sheet/group layout", form)
	}
	for _, arch := range []string{list, form} {
		for _, f := range fields {
			if !strings.Contains(arch, `<field name="`+f+`"/>`) {
				t.Fatalf("arch missing field %q:\n%s", f, arch)
			}
		}
	}

	if _, err := ScaffoldListArch(nil); err == nil {
		t.Fatal("empty field list must fail")
	}
}
