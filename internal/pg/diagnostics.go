package pg

import (
	"context"
	"fmt"
)

// ModuleState is an installed-module row from ir_module_module.
type ModuleState struct {
	Name    string
	State   string
	Version string
}

// InstalledModules reads module states straight from the table, which
// answers even when the Odoo registry is broken.
func (c *Client) InstalledModules(ctx context.Context, database string) ([]ModuleState, error) {
	rows, err := c.Query(ctx, database,
		`SELECT name, state, latest_version
		 FROM ir_module_module
		 WHERE state = 'installed'
		 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	out := make([]ModuleState, 0, len(rows))
	for _, r := range rows {
		m := ModuleState{
			Name:  str(r["name"]),
			State: str(r["state"]),
		}
		m.Version = str(r["latest_version"])
		out = append(out, m)
	}
	return out, nil
}

// DatabaseSize returns the pretty-printed size of a database.
func (c *Client) DatabaseSize(ctx context.Context, database string) (string, error) {
	rows, err := c.Query(ctx, "postgres",
		`SELECT pg_size_pretty(pg_database_size($1)) AS size`, database)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("database %q not found", database)
	}
	return str(rows[0]["size"]), nil
}

// TableSize is one row of the largest-tables diagnostic.
type TableSize struct {
	Table     string
	Pretty    string
	SizeBytes int64
}

// TableSizes lists the largest tables of a database.
func (c *Client) TableSizes(ctx context.Context, database string, limit int) ([]TableSize, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.Query(ctx, database,
		`SELECT relname AS table_name,
		        pg_size_pretty(pg_total_relation_size(C.oid)) AS total_size,
		        pg_total_relation_size(C.oid) AS size_bytes
		 FROM pg_class C
		 LEFT JOIN pg_namespace N ON (N.oid = C.relnamespace)
		 WHERE nspname = 'public' AND C.relkind = 'r'
		 ORDER BY pg_total_relation_size(C.oid) DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TableSize, 0, len(rows))
	for _, r := range rows {
		out = append(out, TableSize{
			Table:     str(r["table_name"]),
			Pretty:    str(r["total_size"]),
			SizeBytes: i64(r["size_bytes"]),
		})
	}
	return out, nil
}

// OrphanedView is an inheriting view whose parent no longer exists. Such
// views break rendering for their whole model and are invisible to the RPC
// layer once the parent is gone, so this check goes straight to the table.
type OrphanedView struct {
	ID        int64
	Name      string
	Model     string
	Type      string
	InheritID int64
}

// CheckViewIntegrity finds inheriting views with a dangling inherit_id.
func (c *Client) CheckViewIntegrity(ctx context.Context, database string) ([]OrphanedView, error) {
	rows, err := c.Query(ctx, database,
		`SELECT v.id, v.name, v.model, v.type, v.inherit_id
		 FROM ir_ui_view v
		 LEFT JOIN ir_ui_view p ON v.inherit_id = p.id
		 WHERE v.inherit_id IS NOT NULL AND p.id IS NULL
		 ORDER BY v.model, v.name`)
	if err != nil {
		return nil, err
	}
	out := make([]OrphanedView, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrphanedView{
			ID:        i64(r["id"]),
			Name:      str(r["name"]),
			Model:     str(r["model"]),
			Type:      str(r["type"]),
			InheritID: i64(r["inherit_id"]),
		})
	}
	return out, nil
}

// ListDatabases lists non-template databases excluding the maintenance db.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.Query(ctx, "postgres",
		`SELECT datname FROM pg_database
		 WHERE datistemplate = false AND datname != 'postgres'
		 ORDER BY datname`)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, str(r["datname"]))
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func i64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
