package schema

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
)

// fakeIntrospector counts calls so tests can assert cache behavior.
type fakeIntrospector struct {
	mu         sync.Mutex
	fieldsGets int
	fields     map[string]map[string]odoorpc.FieldInfo
	modules    []odoorpc.Record
	models     []odoorpc.Record
}

func (f *fakeIntrospector) FieldsGet(_ context.Context, _, model string, _ []string) (map[string]odoorpc.FieldInfo, error) {
	f.mu.Lock()
	f.fieldsGets++
	f.mu.Unlock()
	fields, ok := f.fields[model]
	if !ok {
		return nil, errors.New("model does not exist")
	}
	// Return a copy so the cache's stored entry does not alias the fake's
	// internal state; a real RPC client decodes a fresh map per call.
	out := make(map[string]odoorpc.FieldInfo, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func (f *fakeIntrospector) SearchRead(_ context.Context, _, model string, _ []any, _ odoorpc.SearchOptions) ([]odoorpc.Record, error) {
	switch model {
	case "ir.module.module":
		return f.modules, nil
	case "ir.model":
		return f.models, nil
	}
	return nil, nil
}

func (f *fakeIntrospector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fieldsGets
}

func newFake() *fakeIntrospector {
	return &fakeIntrospector{
		fields: map[string]map[string]odoorpc.FieldInfo{
			"res.partner": {
				"name":  {Label: "Name", Type: "char", Required: true},
				"email": {Label: "Email", Type: "char"},
			},
		},
		modules: []odoorpc.Record{
			{"name": "sale", "state": "installed"},
			{"name": "crm", "state": "installed"},
		},
		models: []odoorpc.Record{
			{"model": "res.partner"},
			{"model": "sale.order"},
		},
	}
}

func TestCache_MissPopulatesOnce(t *testing.T) {
	t.Parallel()

	fake := newFake()
	c := NewCache(fake, "test", nil)
	ctx := context.Background()

	if !c.IsFieldValid(ctx, "res.partner", "email") {
		t.Fatalf("email should be valid")
	}
	if c.IsFieldValid(ctx, "res.partner", "x_missing") {
		t.Fatalf("x_missing should be invalid")
	}
	// Second lookup must be served from cache.
	if got := fake.calls(); got != 1 {
		t.Fatalf("fields_get calls=%d, want 1", got)
	}
}

func TestCache_UnknownModel(t *testing.T) {
	t.Parallel()

	fake := newFake()
	c := NewCache(fake, "test", nil)
	ctx := context.Background()

	if c.HasModel(ctx, "x_no.such") {
		t.Fatalf("x_no.such should not resolve")
	}
	if _, err := c.FieldsOf(ctx, "x_no.such"); err == nil {
		t.Fatalf("want introspection error")
	}
}

func TestCache_InvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	fake := newFake()
	c := NewCache(fake, "test", nil)
	ctx := context.Background()

	if c.IsFieldValid(ctx, "res.partner", "x_tier") {
		t.Fatalf("x_tier not created yet")
	}

	// Simulate a mutation landing on the target.
	fake.mu.Lock()
	fake.fields["res.partner"]["x_tier"] = odoorpc.FieldInfo{Label: "Tier", Type: "selection"}
	fake.mu.Unlock()

	// Without invalidation the stale entry still answers.
	if c.IsFieldValid(ctx, "res.partner", "x_tier") {
		t.Fatalf("cache should still be stale")
	}

	c.Invalidate("res.partner")
	if !c.IsFieldValid(ctx, "res.partner", "x_tier") {
		t.Fatalf("x_tier should be visible after invalidate")
	}
}

func TestCache_ValidateFields(t *testing.T) {
	t.Parallel()

	c := NewCache(newFake(), "test", nil)
	invalid, err := c.ValidateFields(context.Background(), "res.partner", []string{"id", "name", "x_ghost", "phone"})
	if err != nil {
		t.Fatalf("ValidateFields: %v", err)
	}
	if len(invalid) != 2 || invalid[0] != "x_ghost" || invalid[1] != "phone" {
		t.Fatalf("invalid=%v", invalid)
	}
}

func TestCache_Modules(t *testing.T) {
	t.Parallel()

	c := NewCache(newFake(), "test", nil)
	ctx := context.Background()

	if !c.IsModuleInstalled(ctx, "sale") {
		t.Fatalf("sale should be installed")
	}
	if c.IsModuleInstalled(ctx, "mrp") {
		t.Fatalf("mrp should not be installed")
	}
	mods := c.InstalledModules()
	if mods["crm"] != "installed" {
		t.Fatalf("modules=%v", mods)
	}
}

func TestCache_ConcurrentMissesCollapse(t *testing.T) {
	t.Parallel()

	fake := newFake()
	c := NewCache(fake, "test", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.IsFieldValid(ctx, "res.partner", "name")
		}()
	}
	wg.Wait()

	// Singleflight may admit a couple of rounds, but nowhere near one
	// introspection per goroutine.
	if got := fake.calls(); got > 3 {
		t.Fatalf("fields_get calls=%d, want <= 3", got)
	}
}
