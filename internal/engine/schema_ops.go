package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/patch"
	"github.com/hamzatrq/odoo-forge/internal/schema"
)

type CreateFieldRequest struct {
	Descriptor   schema.FieldDescriptor
	SkipSnapshot bool
}

// CreateField declares a new custom field on an existing model. The field
// record is created with state "manual" so the registry loads it without
// any addon code, then the web service is restarted and the field's
// presence is re-introspected before the request reports committed.
func (e *Engine) CreateField(ctx context.Context, req CreateFieldRequest) (*Result, error) {
	desc := req.Descriptor
	desc.Name = schema.EnsureCustomPrefix(desc.Name)
	if err := desc.Validate(); err != nil {
		return rejected(CodeInvalidInput, err.Error()), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	if !e.cache.HasModel(ctx, desc.Model) {
		return rejected(CodeNotFound, fmt.Sprintf("model %q not found", desc.Model)), nil
	}
	if desc.Type.IsRelational() && !e.cache.HasModel(ctx, desc.Relation) {
		return rejected(CodeNotFound, fmt.Sprintf("relation model %q not found", desc.Relation)), nil
	}
	if e.cache.IsFieldValid(ctx, desc.Model, desc.Name) {
		return rejected(CodeConflict, fmt.Sprintf("field %q already exists on %q", desc.Name, desc.Model)), nil
	}

	snapName, r := e.checkpoint(ctx, "create_field", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	modelID, err := e.modelID(ctx, desc.Model)
	if err != nil {
		return nil, err
	}
	if modelID == 0 {
		return rejected(CodeNotFound, fmt.Sprintf("model %q not registered in ir.model", desc.Model)), nil
	}

	values := odoorpc.Record{
		"name":              desc.Name,
		"model_id":          modelID,
		"field_description": desc.Label,
		"ttype":             string(desc.Type),
		"required":          desc.Required,
		"copied":            desc.Copied,
		"state":             "manual",
	}
	if desc.Help != "" {
		values["help"] = desc.Help
	}
	if desc.Relation != "" {
		values["relation"] = desc.Relation
	}
	if desc.InverseName != "" {
		values["relation_field"] = desc.InverseName
	}
	if len(desc.Selection) > 0 {
		values["selection_ids"] = selectionCommands(desc.Selection)
	}

	e.log.Info("creating field", "model", desc.Model, "field", desc.Name, "type", desc.Type)
	fieldID, err := e.rpc.Create(ctx, e.db, "ir.model.fields", values)
	if err != nil {
		return applyFailed(err, snapName), nil
	}
	ids := []int64{fieldID}

	if res := e.structuralReload(ctx, ids, snapName); res != nil {
		return res, nil
	}

	if _, err := e.cache.RefreshModel(ctx, desc.Model); err != nil {
		return e.verifyUnavailable(ids, snapName,
			fmt.Sprintf("could not introspect %q after reload", desc.Model), err), nil
	}
	if !e.cache.IsFieldValid(ctx, desc.Model, desc.Name) {
		return e.revertCreate(ctx, "ir.model.fields", ids, snapName,
			fmt.Sprintf("field %q not visible on %q after reload", desc.Name, desc.Model), nil), nil
	}

	res := committed(fmt.Sprintf("field %q (%s) created on %s", desc.Name, desc.Label, desc.Model), ids...)
	res.SnapshotName = snapName
	return res, nil
}

// FieldUpdates are the mutable properties of an existing custom field.
// Nil pointer fields are left untouched.
type FieldUpdates struct {
	Label    string
	Help     string
	Required *bool
	Copied   *bool
}

func (u FieldUpdates) values() odoorpc.Record {
	values := odoorpc.Record{}
	if strings.TrimSpace(u.Label) != "" {
		values["field_description"] = u.Label
	}
	if strings.TrimSpace(u.Help) != "" {
		values["help"] = u.Help
	}
	if u.Required != nil {
		values["required"] = *u.Required
	}
	if u.Copied != nil {
		values["copied"] = *u.Copied
	}
	return values
}

type UpdateFieldRequest struct {
	Model        string
	Field        string
	Updates      FieldUpdates
	SkipSnapshot bool
}

// UpdateField changes properties of an existing custom field. Only fields
// in state "manual" are touched; module-defined fields are never written.
// Property changes are non-structural, so no restart is needed.
func (e *Engine) UpdateField(ctx context.Context, req UpdateFieldRequest) (*Result, error) {
	field := schema.EnsureCustomPrefix(req.Field)
	values := req.Updates.values()
	if len(values) == 0 {
		return rejected(CodeInvalidInput, "no updates given"), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	fieldID, err := e.manualFieldID(ctx, req.Model, field)
	if err != nil {
		return nil, err
	}
	if fieldID == 0 {
		return rejected(CodeNotFound, fmt.Sprintf("no custom field %q on %q", field, req.Model)), nil
	}

	snapName, r := e.checkpoint(ctx, "update_field", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	if err := e.rpc.Write(ctx, e.db, "ir.model.fields", []int64{fieldID}, values); err != nil {
		return applyFailed(err, snapName), nil
	}
	if _, err := e.cache.RefreshModel(ctx, req.Model); err != nil {
		e.log.Warn("cache refresh after field update failed", "model", req.Model, "error", err)
	}

	res := committed(fmt.Sprintf("field %q on %s updated", field, req.Model), fieldID)
	res.SnapshotName = snapName
	return res, nil
}

type DeleteFieldRequest struct {
	Model        string
	Field        string
	Confirm      bool
	SkipSnapshot bool
}

// DeleteField removes a custom field and all data stored in it. Refuses
// to run without Confirm; the result reports how many records held a
// value so the caller knows what was lost.
func (e *Engine) DeleteField(ctx context.Context, req DeleteFieldRequest) (*Result, error) {
	field := schema.EnsureCustomPrefix(req.Field)
	if !req.Confirm {
		return cancelled(fmt.Sprintf("deleting field %q on %q destroys its data; set confirm to proceed", field, req.Model)), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	fieldID, err := e.manualFieldID(ctx, req.Model, field)
	if err != nil {
		return nil, err
	}
	if fieldID == 0 {
		return rejected(CodeNotFound, fmt.Sprintf("no custom field %q on %q", field, req.Model)), nil
	}

	populated, err := e.rpc.SearchCount(ctx, e.db, req.Model, []any{[]any{field, "!=", false}})
	if err != nil {
		e.log.Warn("data count before delete failed", "model", req.Model, "field", field, "error", err)
		populated = -1
	}

	snapName, r := e.checkpoint(ctx, "delete_field", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	e.log.Warn("deleting field", "model", req.Model, "field", field, "populated_records", populated)
	if err := e.rpc.Unlink(ctx, e.db, "ir.model.fields", []int64{fieldID}); err != nil {
		return applyFailed(err, snapName), nil
	}
	ids := []int64{fieldID}

	if res := e.structuralReload(ctx, ids, snapName); res != nil {
		return res, nil
	}

	if _, err := e.cache.RefreshModel(ctx, req.Model); err == nil && e.cache.IsFieldValid(ctx, req.Model, field) {
		res := rejected(CodeVerifyFailed, fmt.Sprintf("field %q still present on %q after reload", field, req.Model))
		res.AffectedIDs = ids
		res.SnapshotName = snapName
		return res, nil
	}

	detail := fmt.Sprintf("field %q removed from %s", field, req.Model)
	if populated >= 0 {
		detail += fmt.Sprintf(" (%d records held data)", populated)
	}
	res := committed(detail, ids...)
	res.SnapshotName = snapName
	return res, nil
}

type CreateModelRequest struct {
	Descriptor   schema.ModelDescriptor
	SkipSnapshot bool
}

// CreateModel declares a new custom model, optionally with initial custom
// fields. Like custom fields, the model is created with state "manual"
// and survives module upgrades without addon code.
func (e *Engine) CreateModel(ctx context.Context, req CreateModelRequest) (*Result, error) {
	desc := req.Descriptor
	if err := desc.Validate(); err != nil {
		return rejected(CodeInvalidInput, err.Error()), nil
	}
	if !strings.HasPrefix(desc.Name, schema.CustomPrefix) {
		return rejected(CodeInvalidInput, fmt.Sprintf("custom model names must start with %q, got %q", schema.CustomPrefix, desc.Name)), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	if e.cache.HasModel(ctx, desc.Name) {
		return rejected(CodeConflict, fmt.Sprintf("model %q already exists", desc.Name)), nil
	}

	snapName, r := e.checkpoint(ctx, "create_model", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	values := odoorpc.Record{
		"name":  desc.Label,
		"model": desc.Name,
		"state": "manual",
	}
	if len(desc.Fields) > 0 {
		var cmds []any
		for _, f := range desc.Fields {
			name := schema.EnsureCustomPrefix(f.Name)
			cmds = append(cmds, []any{0, 0, odoorpc.Record{
				"name":              name,
				"field_description": f.Label,
				"ttype":             string(f.Type),
				"state":             "manual",
			}})
		}
		values["field_id"] = cmds
	}

	e.log.Info("creating model", "model", desc.Name, "fields", len(desc.Fields))
	modelID, err := e.rpc.Create(ctx, e.db, "ir.model", values)
	if err != nil {
		return applyFailed(err, snapName), nil
	}
	ids := []int64{modelID}

	if res := e.structuralReload(ctx, ids, snapName); res != nil {
		return res, nil
	}

	if err := e.cache.RefreshModels(ctx); err != nil {
		return e.verifyUnavailable(ids, snapName, "could not introspect model list after reload", err), nil
	}
	if !e.cache.HasModel(ctx, desc.Name) {
		return e.revertCreate(ctx, "ir.model", ids, snapName,
			fmt.Sprintf("model %q not present after reload", desc.Name), nil), nil
	}

	if desc.CreateViews || desc.CreateMenu {
		scaffoldIDs, err := e.scaffoldModel(ctx, desc)
		ids = append(ids, scaffoldIDs...)
		if err != nil {
			res := rejected(CodeApplyFailed,
				fmt.Sprintf("model %q created but its default UI failed: %v; records [%s] left in place", desc.Name, err, idStrings(ids)))
			res.AffectedIDs = ids
			res.SnapshotName = snapName
			return res, nil
		}
	}

	res := committed(fmt.Sprintf("model %q (%s) created with %d fields", desc.Name, desc.Label, len(desc.Fields)), ids...)
	res.SnapshotName = snapName
	return res, nil
}

// scaffoldModel creates the default list/form views and the menu entry a
// model descriptor asked for. Plain record creates: none of these touch
// the registry, so no further reload is needed.
func (e *Engine) scaffoldModel(ctx context.Context, desc schema.ModelDescriptor) ([]int64, error) {
	var ids []int64
	fields := scaffoldFields(desc)

	if desc.CreateViews {
		archs := []struct {
			suffix string
			build  func([]string) (string, error)
		}{
			{"tree", patch.ScaffoldListArch},
			{"form", patch.ScaffoldFormArch},
		}
		for _, a := range archs {
			arch, err := a.build(fields)
			if err != nil {
				return ids, err
			}
			id, err := e.rpc.Create(ctx, e.db, "ir.ui.view", odoorpc.Record{
				"name":  desc.Name + ".view." + a.suffix,
				"model": desc.Name,
				"arch":  arch,
			})
			if err != nil {
				return ids, fmt.Errorf("create default %s view: %w", a.suffix, err)
			}
			ids = append(ids, id)
		}
	}

	if desc.CreateMenu {
		actionID, err := e.rpc.Create(ctx, e.db, "ir.actions.act_window", odoorpc.Record{
			"name":      desc.Label,
			"res_model": desc.Name,
			"view_mode": "tree,form",
		})
		if err != nil {
			return ids, fmt.Errorf("create window action: %w", err)
		}
		ids = append(ids, actionID)
		menuID, err := e.rpc.Create(ctx, e.db, "ir.ui.menu", odoorpc.Record{
			"name":   desc.Label,
			"action": fmt.Sprintf("ir.actions.act_window,%d", actionID),
		})
		if err != nil {
			return ids, fmt.Errorf("create menu entry: %w", err)
		}
		ids = append(ids, menuID)
	}
	return ids, nil
}

// scaffoldFields lists the field names the default views show. Manual
// models always carry x_name, so it leads even when undeclared.
func scaffoldFields(desc schema.ModelDescriptor) []string {
	fields := []string{"x_name"}
	for _, f := range desc.Fields {
		if name := schema.EnsureCustomPrefix(f.Name); name != "x_name" {
			fields = append(fields, name)
		}
	}
	return fields
}

// CustomInventory lists everything declared dynamically on the database.
type CustomInventory struct {
	Models []CustomModel `json:"models"`
	Fields []CustomField `json:"fields"`
}

type CustomModel struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type CustomField struct {
	ID    int64  `json:"id"`
	Model string `json:"model"`
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// ListCustom inventories all manual models and fields. Read-only; not
// subject to the mutation lock.
func (e *Engine) ListCustom(ctx context.Context) (*CustomInventory, error) {
	manual := []any{[]any{"state", "=", "manual"}}

	models, err := e.rpc.SearchRead(ctx, e.db, "ir.model", manual, odoorpc.SearchOptions{
		Fields: []string{"name", "model"}, Limit: 500, Order: "model asc",
	})
	if err != nil {
		return nil, err
	}
	fields, err := e.rpc.SearchRead(ctx, e.db, "ir.model.fields", manual, odoorpc.SearchOptions{
		Fields: []string{"name", "field_description", "model", "ttype"}, Limit: 2000, Order: "model asc, name asc",
	})
	if err != nil {
		return nil, err
	}

	inv := &CustomInventory{}
	for _, m := range models {
		id, _ := odoorpc.AsInt(m["id"])
		inv.Models = append(inv.Models, CustomModel{
			ID:    id,
			Name:  odoorpc.AsString(m["model"]),
			Label: odoorpc.AsString(m["name"]),
		})
	}
	for _, f := range fields {
		id, _ := odoorpc.AsInt(f["id"])
		inv.Fields = append(inv.Fields, CustomField{
			ID:    id,
			Model: odoorpc.AsString(f["model"]),
			Name:  odoorpc.AsString(f["name"]),
			Label: odoorpc.AsString(f["field_description"]),
			Type:  odoorpc.AsString(f["ttype"]),
		})
	}
	return inv, nil
}

func (e *Engine) modelID(ctx context.Context, model string) (int64, error) {
	recs, err := e.rpc.SearchRead(ctx, e.db, "ir.model",
		[]any{[]any{"model", "=", model}},
		odoorpc.SearchOptions{Fields: []string{"id"}, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	id, _ := odoorpc.AsInt(recs[0]["id"])
	return id, nil
}

// manualFieldID finds a custom field's record id. Zero means no manual
// field by that name exists, which also shields module-defined fields
// from mutation.
func (e *Engine) manualFieldID(ctx context.Context, model, field string) (int64, error) {
	recs, err := e.rpc.SearchRead(ctx, e.db, "ir.model.fields",
		[]any{
			[]any{"model", "=", model},
			[]any{"name", "=", field},
			[]any{"state", "=", "manual"},
		},
		odoorpc.SearchOptions{Fields: []string{"id"}, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	id, _ := odoorpc.AsInt(recs[0]["id"])
	return id, nil
}

func selectionCommands(options []schema.SelectionOption) []any {
	cmds := make([]any, 0, len(options))
	for i, opt := range options {
		cmds = append(cmds, []any{0, 0, odoorpc.Record{
			"value":    opt.Value,
			"name":     opt.Label,
			"sequence": i * 10,
		}})
	}
	return cmds
}

func applyFailed(err error, snapName string) *Result {
	res := rejected(CodeApplyFailed, "remote write rejected: "+err.Error())
	res.SnapshotName = snapName
	return res
}

// structuralReload runs the restart-and-wait step. On timeout the created
// records are deliberately left in place: the registry state is ambiguous,
// not provably broken, so deleting would be guessing.
func (e *Engine) structuralReload(ctx context.Context, ids []int64, snapName string) *Result {
	err := e.reload(ctx)
	// Cancellation wins over whatever error it caused: the write already
	// happened, so this is a cancelled-but-applied mutation, not a failure.
	if ctx.Err() != nil {
		res := cancelled(fmt.Sprintf("request cancelled after apply; records [%s] left in place, state must be reconciled", idStrings(ids)))
		res.AffectedIDs = ids
		res.SnapshotName = snapName
		return res
	}
	if err != nil {
		code := CodeApplyFailed
		detail := "reload after apply failed: " + err.Error()
		if reloadTimedOut(err) {
			code = CodeReloadTimeout
			detail = fmt.Sprintf("service did not become healthy after restart; records [%s] left in place for manual cleanup", idStrings(ids))
		}
		res := rejected(code, detail)
		res.AffectedIDs = ids
		res.SnapshotName = snapName
		return res
	}
	return nil
}

// verifyUnavailable reports a verification step that could not run at all.
// The created records stay in place: an unreachable introspection surface
// says nothing about whether the change took, so deleting would destroy a
// possibly-good record on a transient failure.
func (e *Engine) verifyUnavailable(ids []int64, snapName, detail string, err error) *Result {
	e.log.Error("verification unavailable, leaving records in place", "ids", ids, "detail", detail, "error", err)
	res := rejected(CodeVerifyFailed,
		fmt.Sprintf("%s: %v; records [%s] left in place pending manual verification", detail, err, idStrings(ids)))
	res.AffectedIDs = ids
	res.SnapshotName = snapName
	return res
}

// revertCreate undoes a create whose verification failed. A failed revert
// is terminal and never retried; the snapshot name gives the manual path.
func (e *Engine) revertCreate(ctx context.Context, model string, ids []int64, snapName, detail string, verifyErr error) *Result {
	if verifyErr != nil {
		detail += ": " + verifyErr.Error()
	}
	e.log.Error("verification failed, reverting", "model", model, "ids", ids, "detail", detail)
	if err := e.rpc.Unlink(ctx, e.db, model, ids); err != nil {
		res := rejected(CodeRevertFailed, fmt.Sprintf("%s; automatic revert failed: %v; records [%s] remain", detail, err, idStrings(ids)))
		res.AffectedIDs = ids
		res.SnapshotName = snapName
		return res
	}
	res := &Result{
		Status:       StatusRolledBack,
		Code:         CodeVerifyFailed,
		Detail:       detail + "; change reverted automatically",
		AffectedIDs:  ids,
		SnapshotName: snapName,
		Reverted:     true,
	}
	return res
}
