package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
)

// Introspector is the slice of the RPC client the cache needs.
type Introspector interface {
	FieldsGet(ctx context.Context, db, model string, attributes []string) (map[string]odoorpc.FieldInfo, error)
	SearchRead(ctx context.Context, db, model string, domain []any, opts odoorpc.SearchOptions) ([]odoorpc.Record, error)
}

var fieldsGetAttrs = []string{"string", "type", "required", "readonly", "relation", "selection", "help"}

// Cache is the process-lifetime view of which models, fields and modules
// currently exist on one target database. It is the first gate before any
// write: a name missing here and unresolvable by live introspection is
// rejected before any remote mutation is attempted.
//
// Only refresh methods mutate it; readers between a mutation's apply and
// its refresh see the previous state, which is acceptable because every
// writer re-validates against a fresh refresh on its own turn.
type Cache struct {
	rpc Introspector
	db  string
	log *slog.Logger

	mu      sync.RWMutex
	fields  map[string]map[string]odoorpc.FieldInfo
	modules map[string]string // name -> state
	models  map[string]struct{}

	sf singleflight.Group
}

func NewCache(rpc Introspector, db string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		rpc:     rpc,
		db:      db,
		log:     log,
		fields:  make(map[string]map[string]odoorpc.FieldInfo),
		modules: make(map[string]string),
		models:  make(map[string]struct{}),
	}
}

// DB returns the database this cache mirrors.
func (c *Cache) DB() string { return c.db }

// FieldsOf returns field metadata for a model. On miss it falls back to a
// live fields_get and populates the cache; concurrent misses for the same
// model collapse into one introspection call.
func (c *Cache) FieldsOf(ctx context.Context, model string) (map[string]odoorpc.FieldInfo, error) {
	c.mu.RLock()
	cached, ok := c.fields[model]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return c.RefreshModel(ctx, model)
}

// RefreshModel re-introspects one model, replacing its cache entry.
func (c *Cache) RefreshModel(ctx context.Context, model string) (map[string]odoorpc.FieldInfo, error) {
	v, err, _ := c.sf.Do("fields:"+model, func() (any, error) {
		fields, err := c.rpc.FieldsGet(ctx, c.db, model, fieldsGetAttrs)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.fields[model] = fields
		c.models[model] = struct{}{}
		c.mu.Unlock()
		c.log.Debug("schema cache refreshed", "model", model, "fields", len(fields))
		return fields, nil
	})
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", model, err)
	}
	return v.(map[string]odoorpc.FieldInfo), nil
}

// Invalidate drops a model's entry so the next read introspects live.
// Called immediately after any mutation that could have changed the model,
// before the post-reload refresh lands.
func (c *Cache) Invalidate(model string) {
	c.mu.Lock()
	delete(c.fields, model)
	c.mu.Unlock()
}

// IsFieldValid reports whether a field exists on a model, introspecting on
// a cache miss.
func (c *Cache) IsFieldValid(ctx context.Context, model, field string) bool {
	fields, err := c.FieldsOf(ctx, model)
	if err != nil {
		return false
	}
	_, ok := fields[field]
	return ok
}

// HasModel reports whether a model exists, introspecting on a miss.
func (c *Cache) HasModel(ctx context.Context, model string) bool {
	c.mu.RLock()
	_, ok := c.models[model]
	c.mu.RUnlock()
	if ok {
		return true
	}
	_, err := c.RefreshModel(ctx, model)
	return err == nil
}

// ValidateFields returns the subset of names that do not exist on the
// model. "id" is always considered valid.
func (c *Cache) ValidateFields(ctx context.Context, model string, names []string) ([]string, error) {
	fields, err := c.FieldsOf(ctx, model)
	if err != nil {
		return nil, err
	}
	var invalid []string
	for _, n := range names {
		if n == "id" {
			continue
		}
		if _, ok := fields[n]; !ok {
			invalid = append(invalid, n)
		}
	}
	return invalid, nil
}

// RefreshModules re-queries installed modules.
func (c *Cache) RefreshModules(ctx context.Context) error {
	records, err := c.rpc.SearchRead(ctx, c.db, "ir.module.module",
		[]any{[]any{"state", "=", "installed"}},
		odoorpc.SearchOptions{Fields: []string{"name", "state"}, Limit: 500})
	if err != nil {
		return fmt.Errorf("refresh modules: %w", err)
	}
	modules := make(map[string]string, len(records))
	for _, r := range records {
		name, _ := r["name"].(string)
		state, _ := r["state"].(string)
		if name != "" {
			modules[name] = state
		}
	}
	c.mu.Lock()
	c.modules = modules
	c.mu.Unlock()
	c.log.Debug("module cache refreshed", "installed", len(modules))
	return nil
}

// RefreshModels re-queries the list of available models.
func (c *Cache) RefreshModels(ctx context.Context) error {
	records, err := c.rpc.SearchRead(ctx, c.db, "ir.model",
		nil, odoorpc.SearchOptions{Fields: []string{"model"}, Limit: 2000})
	if err != nil {
		return fmt.Errorf("refresh models: %w", err)
	}
	models := make(map[string]struct{}, len(records))
	for _, r := range records {
		if m, ok := r["model"].(string); ok && m != "" {
			models[m] = struct{}{}
		}
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	return nil
}

// RefreshAll refreshes modules, the model list, and every already-cached
// model's fields. Used after restores and module installs.
func (c *Cache) RefreshAll(ctx context.Context) error {
	if err := c.RefreshModules(ctx); err != nil {
		return err
	}
	if err := c.RefreshModels(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	cached := make([]string, 0, len(c.fields))
	for m := range c.fields {
		cached = append(cached, m)
	}
	c.mu.RUnlock()
	for _, m := range cached {
		if _, err := c.RefreshModel(ctx, m); err != nil {
			c.log.Warn("field refresh failed", "model", m, "error", err)
		}
	}
	return nil
}

// IsModuleInstalled consults the module cache, refreshing it when empty.
func (c *Cache) IsModuleInstalled(ctx context.Context, name string) bool {
	c.mu.RLock()
	empty := len(c.modules) == 0
	_, ok := c.modules[name]
	c.mu.RUnlock()
	if ok || !empty {
		return ok
	}
	if err := c.RefreshModules(ctx); err != nil {
		return false
	}
	c.mu.RLock()
	_, ok = c.modules[name]
	c.mu.RUnlock()
	return ok
}

// InstalledModules returns a copy of the module cache.
func (c *Cache) InstalledModules() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.modules))
	for k, v := range c.modules {
		out[k] = v
	}
	return out
}
