package odoorpc

import (
	"context"
	"fmt"
)

// SearchOptions narrows a SearchRead call.
type SearchOptions struct {
	Fields []string
	Limit  int
	Offset int
	Order  string
}

// SearchRead searches and reads in one round trip.
func (c *Client) SearchRead(ctx context.Context, db, model string, domain []any, opts SearchOptions) ([]Record, error) {
	kwargs := map[string]any{
		"limit":  opts.Limit,
		"offset": opts.Offset,
	}
	if kwargs["limit"] == 0 {
		kwargs["limit"] = 20
	}
	if len(opts.Fields) > 0 {
		kwargs["fields"] = opts.Fields
	}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}
	if domain == nil {
		domain = []any{}
	}
	reply, err := c.Execute(ctx, db, model, "search_read", []any{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	return AsRecords(reply), nil
}

// SearchCount counts records matching domain.
func (c *Client) SearchCount(ctx context.Context, db, model string, domain []any) (int64, error) {
	if domain == nil {
		domain = []any{}
	}
	reply, err := c.Execute(ctx, db, model, "search_count", []any{domain}, nil)
	if err != nil {
		return 0, err
	}
	n, ok := AsInt(reply)
	if !ok {
		return 0, fmt.Errorf("search_count on %s: unexpected reply %T", model, reply)
	}
	return n, nil
}

// Create creates a single record and returns its id.
func (c *Client) Create(ctx context.Context, db, model string, values Record) (int64, error) {
	reply, err := c.Execute(ctx, db, model, "create", []any{[]any{values}}, nil)
	if err != nil {
		return 0, err
	}
	// create with a list of values returns a list of ids.
	if ids, ok := reply.([]any); ok && len(ids) == 1 {
		if id, ok := AsInt(ids[0]); ok {
			return id, nil
		}
	}
	if id, ok := AsInt(reply); ok {
		return id, nil
	}
	return 0, fmt.Errorf("create on %s: unexpected reply %T", model, reply)
}

// Read reads specific records by id.
func (c *Client) Read(ctx context.Context, db, model string, ids []int64, fields []string) ([]Record, error) {
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	reply, err := c.Execute(ctx, db, model, "read", []any{ids}, kwargs)
	if err != nil {
		return nil, err
	}
	return AsRecords(reply), nil
}

// Write updates records.
func (c *Client) Write(ctx context.Context, db, model string, ids []int64, values Record) error {
	_, err := c.Execute(ctx, db, model, "write", []any{ids, values}, nil)
	return err
}

// Unlink deletes records.
func (c *Client) Unlink(ctx context.Context, db, model string, ids []int64) error {
	_, err := c.Execute(ctx, db, model, "unlink", []any{ids}, nil)
	return err
}

// FieldsGet introspects a model. This is the core truth source the Live
// Schema Cache is built from.
func (c *Client) FieldsGet(ctx context.Context, db, model string, attributes []string) (map[string]FieldInfo, error) {
	kwargs := map[string]any{}
	if len(attributes) > 0 {
		kwargs["attributes"] = attributes
	}
	reply, err := c.Execute(ctx, db, model, "fields_get", nil, kwargs)
	if err != nil {
		return nil, err
	}
	raw, ok := reply.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fields_get on %s: unexpected reply %T", model, reply)
	}
	return ParseFieldsGet(raw), nil
}

// LoadResult is the outcome of a bulk load: created ids plus per-row
// messages for rows the server rejected.
type LoadResult struct {
	IDs      []int64
	Messages []LoadMessage
}

type LoadMessage struct {
	Type    string
	Record  int64
	Message string
}

// Load bulk-imports rows through Odoo's native load(), which resolves
// relational columns (field/id notation) server-side.
func (c *Client) Load(ctx context.Context, db, model string, fields []string, rows [][]any) (*LoadResult, error) {
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = r
	}
	reply, err := c.Execute(ctx, db, model, "load", []any{fields, anyRows}, nil)
	if err != nil {
		return nil, err
	}
	m, ok := reply.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("load on %s: unexpected reply %T", model, reply)
	}
	res := &LoadResult{}
	if ids, ok := m["ids"].([]any); ok {
		for _, v := range ids {
			if id, ok := AsInt(v); ok {
				res.IDs = append(res.IDs, id)
			}
		}
	}
	if msgs, ok := m["messages"].([]any); ok {
		for _, v := range msgs {
			mm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			rec, _ := AsInt(mm["record"])
			res.Messages = append(res.Messages, LoadMessage{
				Type:    AsString(mm["type"]),
				Record:  rec,
				Message: AsString(mm["message"]),
			})
		}
	}
	return res, nil
}

// CompiledView is a compiled view arch plus its id and model.
type CompiledView struct {
	ViewID int64
	Model  string
	Type   string
	Arch   string
}

// GetView fetches the compiled view arch for a model via get_view. viewID
// zero means the default view of that type.
func (c *Client) GetView(ctx context.Context, db, model, viewType string, viewID int64) (*CompiledView, error) {
	kwargs := map[string]any{"view_type": viewType}
	if viewID > 0 {
		kwargs["view_id"] = viewID
	}
	reply, err := c.Execute(ctx, db, model, "get_view", nil, kwargs)
	if err != nil {
		return nil, err
	}
	m, ok := reply.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get_view on %s: unexpected reply %T", model, reply)
	}
	id, _ := AsInt(m["view_id"])
	return &CompiledView{
		ViewID: id,
		Model:  model,
		Type:   viewType,
		Arch:   AsString(m["arch"]),
	}, nil
}

// CreateInheritingView creates an ir.ui.view record layering arch over the
// parent view. Resetting the customization later is a plain unlink of the
// returned id.
func (c *Client) CreateInheritingView(ctx context.Context, db, model string, parentViewID int64, name, viewType, arch string) (int64, error) {
	values := Record{
		"name":       name,
		"inherit_id": parentViewID,
		"arch":       arch,
		"priority":   99,
	}
	if model != "" {
		values["model"] = model
	}
	if viewType != "" {
		values["type"] = viewType
	}
	return c.Create(ctx, db, "ir.ui.view", values)
}

// RenderReportHTML renders a qweb report for the given records and returns
// the HTML length. Used as the post-mutation verification probe; the content
// itself is not needed, only that rendering completes.
func (c *Client) RenderReportHTML(ctx context.Context, db, reportName string, recordIDs []int64) (int, error) {
	reply, err := c.Execute(ctx, db, "ir.actions.report", "_render_qweb_html", []any{reportName, recordIDs}, nil)
	if err != nil {
		return 0, err
	}
	if parts, ok := reply.([]any); ok && len(parts) > 0 {
		if s, ok := parts[0].(string); ok {
			return len(s), nil
		}
	}
	return 0, nil
}

// ServerVersion reports the Odoo server version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var reply any
	if err := c.call(ctx, c.common, "version", []any{}, &reply); err != nil {
		return "", fmt.Errorf("cannot get server version: %w", err)
	}
	m, ok := reply.(map[string]any)
	if !ok {
		return "", fmt.Errorf("version: unexpected reply %T", reply)
	}
	return AsString(m["server_version"]), nil
}
