// Package knowledge carries a static catalog of Odoo domain knowledge:
// what the core modules do in business terms, how everyday business
// vocabulary maps onto technical models, and field blueprints for common
// industries. The catalog is plain data consumed by callers planning a
// customization; nothing in the mutation path reads it.
package knowledge

// Module describes one installable Odoo module in business terms.
type Module struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Depends     []string `json:"depends,omitempty"`
	// Needs are the business needs the module addresses, phrased the way
	// a user would.
	Needs []string `json:"needs,omitempty"`
}

// Term maps a business word to the Odoo model that stores it.
type Term struct {
	Model       string `json:"model"`
	Filter      string `json:"filter,omitempty"`
	Description string `json:"description"`
	Tips        string `json:"tips,omitempty"`
}

// FieldSuggestion is one custom field a blueprint proposes.
type FieldSuggestion struct {
	Model string `json:"model"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// Blueprint bundles the modules and custom fields a given industry
// typically needs.
type Blueprint struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Modules []string          `json:"modules"`
	Fields  []FieldSuggestion `json:"fields,omitempty"`
	Notes   string            `json:"notes,omitempty"`
}

// Catalog is an immutable bundle of all three knowledge sets. Construct
// one with NewCatalog and share it freely; accessors return copies.
type Catalog struct {
	modules    map[string]Module
	dictionary map[string]Term
	blueprints map[string]Blueprint
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		modules:    builtinModules,
		dictionary: builtinDictionary,
		blueprints: builtinBlueprints,
	}
}

// Module looks up one module by technical name.
func (c *Catalog) Module(name string) (Module, bool) {
	m, ok := c.modules[name]
	return m, ok
}

// Modules returns the technical names of every cataloged module.
func (c *Catalog) Modules() []string {
	return sortedKeys(c.modules)
}

// Lookup resolves a business term to its technical mapping.
func (c *Catalog) Lookup(term string) (Term, bool) {
	t, ok := c.dictionary[normalize(term)]
	return t, ok
}

// Blueprint looks up one industry blueprint by id.
func (c *Catalog) Blueprint(id string) (Blueprint, bool) {
	b, ok := c.blueprints[id]
	return b, ok
}

// Blueprints returns the available blueprint ids.
func (c *Catalog) Blueprints() []string {
	return sortedKeys(c.blueprints)
}

var builtinModules = map[string]Module{
	"sale": {
		Name:        "Sales",
		Description: "Manage the full sales cycle from quotations to confirmed sales orders, with pricelists, discounts and automatic invoicing.",
		Category:    "sales",
		Depends:     []string{"contacts", "account"},
		Needs:       []string{"selling products or services", "creating quotations", "managing sales orders", "tracking order fulfillment"},
	},
	"crm": {
		Name:        "CRM",
		Description: "Track leads and opportunities through a visual pipeline, assign salespeople, schedule activities and forecast revenue.",
		Category:    "sales",
		Depends:     []string{"contacts", "mail"},
		Needs:       []string{"lead management", "sales pipeline tracking", "opportunity forecasting", "customer follow-up activities"},
	},
	"account": {
		Name:        "Invoicing",
		Description: "Customer invoices, vendor bills, payments and basic accounting. Every money movement in other modules lands here.",
		Category:    "finance",
		Depends:     []string{"contacts"},
		Needs:       []string{"sending invoices", "recording payments", "tracking receivables", "vendor bills"},
	},
	"stock": {
		Name:        "Inventory",
		Description: "Warehouse management with locations, moves, lots and reordering rules. Tracks every unit from reception to delivery.",
		Category:    "operations",
		Depends:     []string{"product"},
		Needs:       []string{"tracking stock levels", "warehouse transfers", "lot and serial tracking", "reordering rules"},
	},
	"purchase": {
		Name:        "Purchase",
		Description: "Requests for quotation, purchase orders and vendor price agreements, with receipts flowing into inventory.",
		Category:    "operations",
		Depends:     []string{"stock", "account"},
		Needs:       []string{"buying from vendors", "purchase approvals", "vendor price comparison"},
	},
	"mrp": {
		Name:        "Manufacturing",
		Description: "Bills of materials, production orders and work centers for making products from components.",
		Category:    "operations",
		Depends:     []string{"stock"},
		Needs:       []string{"manufacturing products", "bills of materials", "production planning", "work orders"},
	},
	"point_of_sale": {
		Name:        "Point of Sale",
		Description: "Touchscreen register for shops and restaurants, working offline and syncing sales, payments and inventory back.",
		Category:    "sales",
		Depends:     []string{"stock", "account"},
		Needs:       []string{"in-store selling", "cash register", "restaurant orders", "receipt printing"},
	},
	"website_sale": {
		Name:        "eCommerce",
		Description: "Online store on the built-in website with carts, payment acquirers and automatic order creation.",
		Category:    "sales",
		Depends:     []string{"website", "sale"},
		Needs:       []string{"selling online", "product catalog pages", "online payments"},
	},
	"hr": {
		Name:        "Employees",
		Description: "Employee records, departments and job positions; the base every other HR module builds on.",
		Category:    "hr",
		Depends:     []string{"contacts"},
		Needs:       []string{"employee directory", "departments", "job positions"},
	},
	"project": {
		Name:        "Project",
		Description: "Projects and tasks with stages, assignees and deadlines, in kanban or gantt form.",
		Category:    "services",
		Depends:     []string{"mail"},
		Needs:       []string{"task tracking", "project planning", "team workload"},
	},
	"repair": {
		Name:        "Repairs",
		Description: "Repair orders for products under or out of warranty, consuming parts from stock and invoicing labor.",
		Category:    "services",
		Depends:     []string{"stock", "sale"},
		Needs:       []string{"repair orders", "warranty handling", "spare part consumption"},
	},
	"quality": {
		Name:        "Quality",
		Description: "Quality control points and checks on receipts, deliveries and manufacturing orders.",
		Category:    "operations",
		Depends:     []string{"stock"},
		Needs:       []string{"quality checks", "inspection points", "nonconformance tracking"},
	},
}

var builtinDictionary = map[string]Term{
	"customer": {
		Model:       "res.partner",
		Filter:      `[["customer_rank", ">", 0]]`,
		Description: "Customers live in the unified contacts model; customer_rank distinguishes them from other contacts.",
		Tips:        "is_company separates companies from individuals. A contact can be customer and vendor at once.",
	},
	"vendor": {
		Model:       "res.partner",
		Filter:      `[["supplier_rank", ">", 0]]`,
		Description: "Vendors share res.partner with customers; supplier_rank marks a contact as a vendor.",
	},
	"supplier": {
		Model:       "res.partner",
		Filter:      `[["supplier_rank", ">", 0]]`,
		Description: "Alias for vendor; supplier_rank is the technical field even though the UI says vendor.",
	},
	"contact": {
		Model:       "res.partner",
		Description: "A generic person or company record: customer, vendor, employee address, anything you interact with.",
	},
	"product": {
		Model:       "product.template",
		Description: "The sellable/purchasable catalog entry. Variants (size, color) live in product.product under one template.",
		Tips:        "Write shared attributes on the template, variant-specific ones on product.product.",
	},
	"quotation": {
		Model:       "sale.order",
		Filter:      `[["state", "in", ["draft", "sent"]]]`,
		Description: "A quotation is a sale.order in draft or sent state; confirming it turns it into a sales order.",
	},
	"sales order": {
		Model:       "sale.order",
		Filter:      `[["state", "=", "sale"]]`,
		Description: "A confirmed sale.order. Order lines live in sale.order.line.",
	},
	"invoice": {
		Model:       "account.move",
		Filter:      `[["move_type", "=", "out_invoice"]]`,
		Description: "Customer invoices are account.move records with move_type out_invoice; vendor bills use in_invoice.",
	},
	"lead": {
		Model:       "crm.lead",
		Filter:      `[["type", "=", "lead"]]`,
		Description: "Leads and opportunities share crm.lead; the type field separates them.",
	},
	"employee": {
		Model:       "hr.employee",
		Description: "Employee master data; linked to a res.users record when the employee logs in.",
	},
	"delivery": {
		Model:       "stock.picking",
		Filter:      `[["picking_type_code", "=", "outgoing"]]`,
		Description: "Outgoing transfers are stock.picking records of the outgoing picking type.",
	},
	"task": {
		Model:       "project.task",
		Description: "A unit of project work with stage, assignees and deadline.",
	},
}

var builtinBlueprints = map[string]Blueprint{
	"bakery": {
		ID:      "bakery",
		Title:   "Bakery",
		Modules: []string{"point_of_sale", "stock", "mrp", "purchase"},
		Fields: []FieldSuggestion{
			{Model: "product.template", Name: "x_allergens", Type: "char", Label: "Allergens"},
			{Model: "product.template", Name: "x_shelf_life_days", Type: "integer", Label: "Shelf Life (Days)"},
			{Model: "mrp.bom", Name: "x_batch_yield", Type: "integer", Label: "Batch Yield"},
		},
		Notes: "Recipes map to bills of materials; daily production is a manufacturing order per batch.",
	},
	"restaurant": {
		ID:      "restaurant",
		Title:   "Restaurant",
		Modules: []string{"point_of_sale", "stock", "purchase"},
		Fields: []FieldSuggestion{
			{Model: "product.template", Name: "x_spice_level", Type: "selection", Label: "Spice Level"},
			{Model: "res.partner", Name: "x_dietary_notes", Type: "text", Label: "Dietary Notes"},
		},
		Notes: "Floor plans and kitchen printing come with point_of_sale's restaurant features.",
	},
	"retail": {
		ID:      "retail",
		Title:   "Retail Store",
		Modules: []string{"point_of_sale", "stock", "purchase", "crm"},
		Fields: []FieldSuggestion{
			{Model: "res.partner", Name: "x_loyalty_tier", Type: "selection", Label: "Loyalty Tier"},
			{Model: "product.template", Name: "x_season", Type: "selection", Label: "Season"},
		},
		Notes: "Reordering rules on storable products keep shelves stocked without manual purchase orders.",
	},
	"services": {
		ID:      "services",
		Title:   "Professional Services",
		Modules: []string{"project", "sale", "account", "hr"},
		Fields: []FieldSuggestion{
			{Model: "project.task", Name: "x_billable", Type: "boolean", Label: "Billable"},
			{Model: "res.partner", Name: "x_contract_tier", Type: "selection", Label: "Contract Tier"},
		},
		Notes: "Sell service products with delivered-quantity invoicing to bill from logged task time.",
	},
	"manufacturing": {
		ID:      "manufacturing",
		Title:   "Manufacturing",
		Modules: []string{"mrp", "stock", "purchase", "quality", "sale"},
		Fields: []FieldSuggestion{
			{Model: "product.template", Name: "x_drawing_number", Type: "char", Label: "Drawing Number"},
			{Model: "mrp.production", Name: "x_inspection_passed", Type: "boolean", Label: "Inspection Passed"},
		},
		Notes: "Quality control points attach checks to manufacturing and receipt operations.",
	},
}
