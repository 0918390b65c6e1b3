package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/patch"
)

type ModifyViewRequest struct {
	Model    string
	ViewType string
	// ViewID selects the parent view; zero picks the model's default view
	// of that type.
	ViewID int64
	// Name labels the inheriting view. When set and a view with that name
	// already inherits the same parent, its arch is updated in place.
	// Empty generates a unique name.
	Name         string
	Ops          []patch.Op
	SkipSnapshot bool
}

// ModifyView applies edit operations to a view by creating (or updating)
// an inheriting view record. Operations are resolved against the current
// compiled arch first, so a target that is missing or ambiguous rejects
// the request before any remote write. The parent view is never touched.
func (e *Engine) ModifyView(ctx context.Context, req ModifyViewRequest) (*Result, error) {
	if len(req.Ops) == 0 {
		return rejected(CodeInvalidInput, "no operations given"), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	if !e.cache.HasModel(ctx, req.Model) {
		return rejected(CodeNotFound, fmt.Sprintf("model %q not found", req.Model)), nil
	}
	for _, op := range req.Ops {
		if op.Kind == patch.KindInsertField && op.Field != nil {
			if !e.cache.IsFieldValid(ctx, req.Model, op.Field.Name) {
				return rejected(CodeNotFound, fmt.Sprintf("field %q does not exist on %q", op.Field.Name, req.Model)), nil
			}
		}
	}

	compiled, err := e.rpc.GetView(ctx, e.db, req.Model, req.ViewType, req.ViewID)
	if err != nil {
		return rejected(CodeNotFound, fmt.Sprintf("view lookup for %s/%s failed: %v", req.Model, req.ViewType, err)), nil
	}

	arch, err := patch.BuildViewArch(compiled.Arch, req.Ops)
	if err != nil {
		return patchRejected(err), nil
	}

	snapName, r := e.checkpoint(ctx, "modify_view", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	name := strings.TrimSpace(req.Name)
	updated := false
	var viewID int64
	var prevArch string
	if name != "" {
		existing, err := e.rpc.SearchRead(ctx, e.db, "ir.ui.view",
			[]any{
				[]any{"name", "=", name},
				[]any{"inherit_id", "=", compiled.ViewID},
			},
			odoorpc.SearchOptions{Fields: []string{"id", "arch"}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			viewID, _ = odoorpc.AsInt(existing[0]["id"])
			prevArch = odoorpc.AsString(existing[0]["arch"])
			if err := e.rpc.Write(ctx, e.db, "ir.ui.view", []int64{viewID}, odoorpc.Record{"arch": arch}); err != nil {
				return applyFailed(err, snapName), nil
			}
			updated = true
		}
	} else {
		name = fmt.Sprintf("x_forge_%s_%s_%s", strings.ReplaceAll(req.Model, ".", "_"), req.ViewType, shortID())
	}

	if !updated {
		viewID, err = e.rpc.CreateInheritingView(ctx, e.db, req.Model, compiled.ViewID, name, req.ViewType, arch)
		if err != nil {
			return applyFailed(err, snapName), nil
		}
	}
	ids := []int64{viewID}
	e.log.Info("view customization applied", "model", req.Model, "type", req.ViewType, "view_id", viewID, "ops", len(req.Ops), "updated", updated)

	// Verify: the parent must still compile with the inheritance applied.
	if _, err := e.rpc.GetView(ctx, e.db, req.Model, req.ViewType, req.ViewID); err != nil {
		if updated {
			detail := fmt.Sprintf("view no longer compiles after update: %v", err)
			if werr := e.rpc.Write(ctx, e.db, "ir.ui.view", ids, odoorpc.Record{"arch": prevArch}); werr != nil {
				res := rejected(CodeRevertFailed, fmt.Sprintf("%s; restoring previous arch failed: %v; view %d needs manual repair", detail, werr, viewID))
				res.AffectedIDs = ids
				res.SnapshotName = snapName
				return res, nil
			}
			res := &Result{
				Status:       StatusRolledBack,
				Code:         CodeVerifyFailed,
				Detail:       detail + "; previous arch restored",
				AffectedIDs:  ids,
				SnapshotName: snapName,
				Reverted:     true,
			}
			return res, nil
		}
		return e.revertCreate(ctx, "ir.ui.view", ids, snapName, "view no longer compiles with the new inheritance", err), nil
	}

	verb := "created"
	if updated {
		verb = "updated"
	}
	res := committed(fmt.Sprintf("inheriting view %q %s on %s (%s)", name, verb, req.Model, req.ViewType), ids...)
	res.SnapshotName = snapName
	return res, nil
}

type ResetViewRequest struct {
	ViewID       int64
	Confirm      bool
	SkipSnapshot bool
}

// ResetView deletes an inheriting view record, restoring the parent to
// its uninherited form. Base views are refused: reset only ever removes a
// customization layer.
func (e *Engine) ResetView(ctx context.Context, req ResetViewRequest) (*Result, error) {
	if !req.Confirm {
		return cancelled(fmt.Sprintf("resetting view %d removes the customization; set confirm to proceed", req.ViewID)), nil
	}

	if r := e.tryLock(); r != nil {
		return r, nil
	}
	defer e.mu.Unlock()

	views, err := e.rpc.Read(ctx, e.db, "ir.ui.view", []int64{req.ViewID}, []string{"name", "inherit_id"})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return rejected(CodeNotFound, fmt.Sprintf("view %d not found", req.ViewID)), nil
	}
	name := odoorpc.AsString(views[0]["name"])
	if _, isChild := odoorpc.RelationID(views[0]["inherit_id"]); !isChild {
		return rejected(CodeInvalidInput, fmt.Sprintf("view %d (%s) is a base view, not a customization", req.ViewID, name)), nil
	}

	snapName, r := e.checkpoint(ctx, "reset_view", req.SkipSnapshot)
	if r != nil {
		return r, nil
	}

	if err := e.rpc.Unlink(ctx, e.db, "ir.ui.view", []int64{req.ViewID}); err != nil {
		return applyFailed(err, snapName), nil
	}

	res := committed(fmt.Sprintf("view customization %q removed", name), req.ViewID)
	res.SnapshotName = snapName
	return res, nil
}

// ViewInfo is one row of a view listing.
type ViewInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Type     string `json:"type"`
	Parent   string `json:"parent,omitempty"`
	Priority int64  `json:"priority"`
	Active   bool   `json:"active"`
}

// ListViews lists active views, optionally narrowed to one model.
func (e *Engine) ListViews(ctx context.Context, model string) ([]ViewInfo, error) {
	domain := []any{[]any{"active", "=", true}}
	if model != "" {
		domain = append(domain, []any{"model", "=", model})
	}
	return e.viewList(ctx, domain, "model asc, priority asc")
}

// ListCustomizations lists inheriting high-priority views, the records
// customizations create.
func (e *Engine) ListCustomizations(ctx context.Context, model string) ([]ViewInfo, error) {
	domain := []any{
		[]any{"inherit_id", "!=", false},
		[]any{"priority", ">=", 99},
	}
	if model != "" {
		domain = append(domain, []any{"model", "=", model})
	}
	return e.viewList(ctx, domain, "model asc, priority desc")
}

func (e *Engine) viewList(ctx context.Context, domain []any, order string) ([]ViewInfo, error) {
	recs, err := e.rpc.SearchRead(ctx, e.db, "ir.ui.view", domain, odoorpc.SearchOptions{
		Fields: []string{"name", "model", "type", "inherit_id", "priority", "active"},
		Limit:  200,
		Order:  order,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ViewInfo, 0, len(recs))
	for _, rec := range recs {
		id, _ := odoorpc.AsInt(rec["id"])
		priority, _ := odoorpc.AsInt(rec["priority"])
		parent, _ := odoorpc.RelationName(rec["inherit_id"])
		out = append(out, ViewInfo{
			ID:       id,
			Name:     odoorpc.AsString(rec["name"]),
			Model:    odoorpc.AsString(rec["model"]),
			Type:     odoorpc.AsString(rec["type"]),
			Parent:   parent,
			Priority: priority,
			Active:   odoorpc.AsBool(rec["active"]),
		})
	}
	return out, nil
}

func patchRejected(err error) *Result {
	switch {
	case errors.Is(err, patch.ErrAmbiguousTarget):
		return rejected(CodeAmbiguousTarget, err.Error())
	case errors.Is(err, patch.ErrTargetNotFound):
		return rejected(CodeNotFound, err.Error())
	}
	return rejected(CodeInvalidInput, err.Error())
}
