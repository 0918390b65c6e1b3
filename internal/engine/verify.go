package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/stack"
)

// ModuleReport is the result of a post-install verification.
type ModuleReport struct {
	Module   string   `json:"module"`
	Verified bool     `json:"verified"`
	State    string   `json:"state,omitempty"`
	Version  string   `json:"version,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// VerifyModuleInstalled checks that a module install actually landed:
// the module row must be in state "installed" and the service log must be
// free of errors mentioning it. An install can fail silently and still
// report success at the CLI level, so this runs after every install.
func (e *Engine) VerifyModuleInstalled(ctx context.Context, module string) (*ModuleReport, error) {
	report := &ModuleReport{Module: module}

	recs, err := e.rpc.SearchRead(ctx, e.db, "ir.module.module",
		[]any{[]any{"name", "=", module}},
		odoorpc.SearchOptions{Fields: []string{"name", "state", "latest_version"}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("module %q not found; is the technical name correct?", module))
		return report, nil
	}
	report.State = odoorpc.AsString(recs[0]["state"])
	report.Version = odoorpc.AsString(recs[0]["latest_version"])
	if report.State != "installed" {
		report.Issues = append(report.Issues,
			fmt.Sprintf("module state is %q, not \"installed\"; the install may have failed silently", report.State))
	}

	logs, err := e.stack.Logs(ctx, e.stack.WebService(), stack.LogsOptions{Lines: 200, Grep: "ERROR"})
	if err != nil {
		e.log.Warn("log scan during module verification failed", "module", module, "error", err)
	} else if strings.TrimSpace(logs) != "" {
		var related []string
		for _, line := range strings.Split(logs, "\n") {
			if strings.Contains(strings.ToLower(line), strings.ToLower(module)) {
				related = append(related, strings.TrimSpace(line))
			}
		}
		if len(related) > 0 {
			if len(related) > 5 {
				related = related[:5]
			}
			report.Issues = append(report.Issues,
				fmt.Sprintf("%d error log line(s) mention %q:\n%s", len(related), module, strings.Join(related, "\n")))
		}
	}

	report.Verified = len(report.Issues) == 0
	return report, nil
}

// ViewIssue is one defect found while checking view integrity.
type ViewIssue struct {
	ViewID int64  `json:"view_id"`
	Name   string `json:"name"`
	Model  string `json:"model,omitempty"`
	Issue  string `json:"issue"`
}

// IntegrityReport summarizes a view integrity pass.
type IntegrityReport struct {
	Verified     bool        `json:"verified"`
	ViewsChecked int         `json:"views_checked"`
	Issues       []ViewIssue `json:"issues,omitempty"`
}

// VerifyViewIntegrity checks active views for empty or degenerate
// architectures, optionally narrowed to one model. An inheriting view
// whose arch carries neither an xpath nor a field element cannot change
// anything and usually means a customization was mangled.
func (e *Engine) VerifyViewIntegrity(ctx context.Context, model string) (*IntegrityReport, error) {
	domain := []any{[]any{"active", "=", true}}
	if model != "" {
		domain = append(domain, []any{"model", "=", model})
	}
	views, err := e.rpc.SearchRead(ctx, e.db, "ir.ui.view", domain, odoorpc.SearchOptions{
		Fields: []string{"name", "model", "type", "arch", "inherit_id"},
		Limit:  200,
	})
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{ViewsChecked: len(views)}
	for _, v := range views {
		id, _ := odoorpc.AsInt(v["id"])
		name := odoorpc.AsString(v["name"])
		arch := odoorpc.AsString(v["arch"])
		if strings.TrimSpace(arch) == "" {
			report.Issues = append(report.Issues, ViewIssue{
				ViewID: id, Name: name, Model: odoorpc.AsString(v["model"]),
				Issue: "empty architecture",
			})
			continue
		}
		if _, inherits := odoorpc.RelationID(v["inherit_id"]); inherits &&
			!strings.Contains(arch, "<xpath") && !strings.Contains(arch, "<field") {
			report.Issues = append(report.Issues, ViewIssue{
				ViewID: id, Name: name, Model: odoorpc.AsString(v["model"]),
				Issue: "inheriting view without xpath or field elements",
			})
		}
	}
	report.Verified = len(report.Issues) == 0
	return report, nil
}
