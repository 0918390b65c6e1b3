package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/patch"
	"github.com/hamzatrq/odoo-forge/internal/schema"
	"github.com/hamzatrq/odoo-forge/internal/snapshot"
	"github.com/hamzatrq/odoo-forge/internal/stack"
)

const testDB = "testdb"

// fakeRPC simulates the target instance's registry: creating a manual
// field or model makes it introspectable, unlinking removes it again.
type fakeRPC struct {
	mu sync.Mutex

	fields   map[string]map[string]odoorpc.FieldInfo
	modelIDs map[string]int64
	// manualFields maps "model.field" to the ir.model.fields record id.
	manualFields map[string]int64
	fieldOwner   map[int64]string // id -> "model.field"
	modelOwner   map[int64]string // ir.model id -> model name
	viewRecords  map[int64]odoorpc.Record
	searchResp   map[string][]odoorpc.Record
	compiled     map[string]*odoorpc.CompiledView

	nextID      int64
	searchCount int64

	createCalls     []string
	writeCalls      int
	lastWrite       odoorpc.Record
	lastFieldCreate odoorpc.Record
	unlinkCalls     []string
	getViewCalls    int
	fieldsGetCalls  int
	invalidated     int

	// skipRegistry leaves the introspection state unchanged on create, so
	// verification fails.
	skipRegistry      bool
	unlinkErr         error
	renderErr         error
	createErr         error
	getViewFailFrom   int // fail GetView calls numbered >= this (1-based); 0 never
	fieldsGetFailFrom int // same numbering for FieldsGet
	searchReadErr     map[string]error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		fields: map[string]map[string]odoorpc.FieldInfo{
			"res.partner": {
				"id":   {Type: "integer"},
				"name": {Label: "Name", Type: "char"},
			},
		},
		modelIDs:      map[string]int64{"res.partner": 71},
		manualFields:  map[string]int64{},
		fieldOwner:    map[int64]string{},
		modelOwner:    map[int64]string{},
		viewRecords:   map[int64]odoorpc.Record{},
		searchResp:    map[string][]odoorpc.Record{},
		searchReadErr: map[string]error{},
		compiled: map[string]*odoorpc.CompiledView{
			"res.partner/form": {
				ViewID: 400,
				Model:  "res.partner",
				Type:   "form",
				Arch:   `<form><group name="main"><field name="name"/></group></form>`,
			},
		},
		nextID:      1000,
		searchCount: 0,
	}
}

func (f *fakeRPC) FieldsGet(_ context.Context, _, model string, _ []string) (map[string]odoorpc.FieldInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fieldsGetCalls++
	if f.fieldsGetFailFrom > 0 && f.fieldsGetCalls >= f.fieldsGetFailFrom {
		return nil, errors.New("connection reset during introspection")
	}
	fields, ok := f.fields[model]
	if !ok {
		return nil, fmt.Errorf("model %q does not exist", model)
	}
	out := make(map[string]odoorpc.FieldInfo, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func domainValue(domain []any, field string) (any, bool) {
	for _, term := range domain {
		t, ok := term.([]any)
		if !ok || len(t) != 3 {
			continue
		}
		if name, _ := t[0].(string); name == field {
			return t[2], true
		}
	}
	return nil, false
}

func (f *fakeRPC) SearchRead(_ context.Context, _, model string, domain []any, _ odoorpc.SearchOptions) ([]odoorpc.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.searchReadErr[model]; err != nil {
		return nil, err
	}

	switch model {
	case "ir.model":
		if name, ok := domainValue(domain, "model"); ok {
			if id, exists := f.modelIDs[name.(string)]; exists {
				return []odoorpc.Record{{"id": id, "model": name}}, nil
			}
			return nil, nil
		}
	case "ir.model.fields":
		mName, okM := domainValue(domain, "model")
		fName, okF := domainValue(domain, "name")
		if okM && okF {
			if id, exists := f.manualFields[mName.(string)+"."+fName.(string)]; exists {
				return []odoorpc.Record{{"id": id}}, nil
			}
			return nil, nil
		}
	}
	return f.searchResp[model], nil
}

func (f *fakeRPC) SearchCount(context.Context, string, string, []any) (int64, error) {
	return f.searchCount, nil
}

func (f *fakeRPC) Read(_ context.Context, _, model string, ids []int64, _ []string) ([]odoorpc.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if model != "ir.ui.view" {
		return nil, fmt.Errorf("unexpected read on %q", model)
	}
	var out []odoorpc.Record
	for _, id := range ids {
		if rec, ok := f.viewRecords[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRPC) Create(_ context.Context, _, model string, values odoorpc.Record) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	id := f.nextID
	f.createCalls = append(f.createCalls, model)

	switch model {
	case "ir.model.fields":
		f.lastFieldCreate = values
		name, _ := values["name"].(string)
		modelID, _ := values["model_id"].(int64)
		owner := ""
		for m, mid := range f.modelIDs {
			if mid == modelID {
				owner = m
			}
		}
		f.manualFields[owner+"."+name] = id
		f.fieldOwner[id] = owner + "." + name
		if !f.skipRegistry {
			f.fields[owner][name] = odoorpc.FieldInfo{
				Label: odoorpc.AsString(values["field_description"]),
				Type:  odoorpc.AsString(values["ttype"]),
			}
		}
	case "ir.model":
		name, _ := values["model"].(string)
		f.modelIDs[name] = id
		f.modelOwner[id] = name
		if !f.skipRegistry {
			f.fields[name] = map[string]odoorpc.FieldInfo{"id": {Type: "integer"}}
		}
	case "ir.ui.view":
		values["id"] = id
		f.viewRecords[id] = values
	}
	return id, nil
}

func (f *fakeRPC) Write(_ context.Context, _, _ string, _ []int64, values odoorpc.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	f.lastWrite = values
	return nil
}

func (f *fakeRPC) Unlink(_ context.Context, _, model string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlinkErr != nil {
		return f.unlinkErr
	}
	f.unlinkCalls = append(f.unlinkCalls, fmt.Sprintf("%s%v", model, ids))
	for _, id := range ids {
		switch model {
		case "ir.model.fields":
			if key, ok := f.fieldOwner[id]; ok {
				parts := strings.SplitN(key, ".", 2)
				// key is "<model>.<field>" and model names contain dots, so
				// split from the right.
				if i := strings.LastIndex(key, "."); i > 0 {
					parts = []string{key[:i], key[i+1:]}
				}
				delete(f.fields[parts[0]], parts[1])
				delete(f.manualFields, key)
			}
		case "ir.model":
			if name, ok := f.modelOwner[id]; ok {
				delete(f.fields, name)
				delete(f.modelIDs, name)
			}
		case "ir.ui.view":
			delete(f.viewRecords, id)
		}
	}
	return nil
}

func (f *fakeRPC) GetView(_ context.Context, _, model, viewType string, _ int64) (*odoorpc.CompiledView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getViewCalls++
	if f.getViewFailFrom > 0 && f.getViewCalls >= f.getViewFailFrom {
		return nil, errors.New("view compilation failed")
	}
	v, ok := f.compiled[model+"/"+viewType]
	if !ok {
		return nil, fmt.Errorf("no %s view for %s", viewType, model)
	}
	return v, nil
}

func (f *fakeRPC) CreateInheritingView(ctx context.Context, db, _ string, parentViewID int64, name, viewType, arch string) (int64, error) {
	return f.Create(ctx, db, "ir.ui.view", odoorpc.Record{
		"name":       name,
		"type":       viewType,
		"inherit_id": []any{parentViewID, "parent"},
		"arch":       arch,
		"priority":   int64(99),
	})
}

func (f *fakeRPC) RenderReportHTML(context.Context, string, string, []int64) (int, error) {
	if f.renderErr != nil {
		return 0, f.renderErr
	}
	return 2048, nil
}

func (f *fakeRPC) InvalidateSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeRPC) remoteWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls) + f.writeCalls + len(f.unlinkCalls)
}

type fakeReloader struct {
	mu        sync.Mutex
	restarts  int
	healthErr error
	logsOut   string
	// onWaitHealthy runs at the start of the health wait, before any
	// result is decided. Lets a test cancel mid-reload.
	onWaitHealthy func()
}

func (f *fakeReloader) RestartService(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}
func (f *fakeReloader) WaitHealthy(ctx context.Context, _ time.Duration) error {
	if f.onWaitHealthy != nil {
		f.onWaitHealthy()
	}
	if f.healthErr != nil {
		return f.healthErr
	}
	return ctx.Err()
}
func (f *fakeReloader) Logs(context.Context, string, stack.LogsOptions) (string, error) {
	return f.logsOut, nil
}
func (f *fakeReloader) WebService() string { return "web" }

type fakeSnaps struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeSnaps) Create(_ context.Context, _, name, _ string) (*snapshot.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.names = append(f.names, name)
	return &snapshot.Manifest{Name: name}, nil
}

func newTestEngine(t *testing.T, rpc *fakeRPC) (*Engine, *fakeReloader, *fakeSnaps) {
	t.Helper()
	rel := &fakeReloader{}
	snaps := &fakeSnaps{}
	cache := schema.NewCache(rpc, testDB, slog.Default())
	e, err := New(Options{
		RPC:           rpc,
		Stack:         rel,
		Snapshots:     snaps,
		Cache:         cache,
		Database:      testDB,
		ReloadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, rel, snaps
}

func charField(model, name, label string) schema.FieldDescriptor {
	return schema.FieldDescriptor{Model: model, Name: name, Type: schema.TypeChar, Label: label}
}

func TestCreateFieldCommitted(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, rel, snaps := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_loyalty_tier", "Loyalty Tier"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %s (%s): %s", res.Status, res.Code, res.Detail)
	}
	if len(res.AffectedIDs) != 1 {
		t.Fatalf("AffectedIDs = %v", res.AffectedIDs)
	}
	if res.SnapshotName == "" || len(snaps.names) != 1 {
		t.Fatalf("no snapshot taken: %+v", res)
	}
	if rel.restarts != 1 {
		t.Fatalf("restarts = %d, want 1", rel.restarts)
	}
	if rpc.invalidated == 0 {
		t.Fatal("session not invalidated after restart")
	}
	if !e.cache.IsFieldValid(context.Background(), "res.partner", "x_loyalty_tier") {
		t.Fatal("cache does not report the new field")
	}
}

func TestCreateFieldAutoPrefix(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "loyalty_tier", "Loyalty Tier"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("status = %s: %s", res.Status, res.Detail)
	}
	if _, ok := rpc.manualFields["res.partner.x_loyalty_tier"]; !ok {
		t.Fatalf("field not created under prefixed name: %v", rpc.manualFields)
	}
}

func TestCreateFieldUnknownModel(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("no.such.model", "x_a", "A"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeNotFound {
		t.Fatalf("result = %+v, want rejected/not_found", res)
	}
	if rpc.remoteWrites() != 0 {
		t.Fatalf("remote writes = %d, want 0", rpc.remoteWrites())
	}
}

func TestCreateFieldConflict(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	first, err := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_tier", "Tier"),
	})
	if err != nil || first.Status != StatusCommitted {
		t.Fatalf("first create = %+v, %v", first, err)
	}
	writes := rpc.remoteWrites()

	second, err := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_tier", "Tier"),
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Status != StatusRejected || second.Code != CodeConflict {
		t.Fatalf("second create = %+v, want rejected/conflict", second)
	}
	if rpc.remoteWrites() != writes {
		t.Fatal("duplicate create reached the remote")
	}
}

func TestCreateFieldRelationalValidation(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: schema.FieldDescriptor{
			Model: "res.partner", Name: "x_rel", Type: schema.TypeMany2one,
			Label: "Rel", Relation: "no.such.model",
		},
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeNotFound {
		t.Fatalf("result = %+v, want rejected/not_found for relation", res)
	}
}

func TestCreateFieldVerifyFailureAutoReverts(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.skipRegistry = true
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_ghost", "Ghost"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRolledBack || res.Code != CodeVerifyFailed || !res.Reverted {
		t.Fatalf("result = %+v, want rolled_back/verify_failed reverted", res)
	}
	if len(rpc.unlinkCalls) != 1 {
		t.Fatalf("unlinks = %v, want the created record removed", rpc.unlinkCalls)
	}
	if e.cache.IsFieldValid(context.Background(), "res.partner", "x_ghost") {
		t.Fatal("reverted field still reported by cache")
	}
}

func TestCreateFieldIntrospectionErrorLeavesField(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	// First FieldsGet (pre-check) succeeds, the verify one fails.
	rpc.fieldsGetFailFrom = 2
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_maybe", "Maybe"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeVerifyFailed {
		t.Fatalf("result = %+v, want rejected/verify_failed", res)
	}
	if res.Reverted {
		t.Fatal("an unverifiable create must not count as reverted")
	}
	if len(res.AffectedIDs) != 1 || res.SnapshotName == "" {
		t.Fatalf("ids and snapshot must be reported: %+v", res)
	}
	// Introspection being down says nothing about the field; it stays.
	if len(rpc.unlinkCalls) != 0 {
		t.Fatalf("field deleted on unavailable introspection: %v", rpc.unlinkCalls)
	}
	if _, ok := rpc.manualFields["res.partner.x_maybe"]; !ok {
		t.Fatal("field record gone")
	}
}

func TestCreateFieldSelectionCommands(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: schema.FieldDescriptor{
			Model: "res.partner", Name: "x_tier", Type: schema.TypeSelection, Label: "Tier",
			Selection: []schema.SelectionOption{
				{Value: "bronze", Label: "Bronze"},
				{Value: "silver", Label: "Silver"},
				{Value: "gold", Label: "Gold"},
				{Value: "platinum", Label: "Platinum"},
				{Value: "diamond", Label: "Diamond"},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}

	cmds, ok := rpc.lastFieldCreate["selection_ids"].([]any)
	if !ok || len(cmds) != 5 {
		t.Fatalf("selection_ids = %v, want 5 create commands", rpc.lastFieldCreate["selection_ids"])
	}
	for i, c := range cmds {
		cmd := c.([]any)
		if len(cmd) != 3 || cmd[0] != 0 || cmd[1] != 0 {
			t.Fatalf("command %d = %v, want (0, 0, values)", i, cmd)
		}
		values := cmd[2].(odoorpc.Record)
		if values["sequence"] != i*10 {
			t.Fatalf("command %d sequence = %v, want %d", i, values["sequence"], i*10)
		}
		if odoorpc.AsString(values["value"]) == "" || odoorpc.AsString(values["name"]) == "" {
			t.Fatalf("command %d missing value/name: %v", i, values)
		}
	}
}

func TestCreateFieldRevertFailureIsTerminal(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.skipRegistry = true
	rpc.unlinkErr = errors.New("unlink refused")
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_stuck", "Stuck"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Code != CodeRevertFailed {
		t.Fatalf("code = %s, want revert_failed: %s", res.Code, res.Detail)
	}
	if len(res.AffectedIDs) != 1 || res.SnapshotName == "" {
		t.Fatalf("revert failure must leave a cleanup path: %+v", res)
	}
}

func TestCreateFieldReloadTimeoutLeavesRecords(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, rel, _ := newTestEngine(t, rpc)
	rel.healthErr = &stack.ErrReloadTimeout{Timeout: time.Second}

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_slow", "Slow"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeReloadTimeout {
		t.Fatalf("result = %+v, want rejected/reload_timeout", res)
	}
	if len(res.AffectedIDs) != 1 {
		t.Fatalf("created ids must be reported: %+v", res)
	}
	if len(rpc.unlinkCalls) != 0 {
		t.Fatalf("records must be left in place on reload timeout, got unlinks %v", rpc.unlinkCalls)
	}
}

func TestCreateFieldCancelledDuringReload(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, rel, _ := newTestEngine(t, rpc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rel.onWaitHealthy = cancel

	res, err := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_late", "Late"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	// The write already happened; cancellation mid-reload is a
	// cancelled-but-applied mutation, not an apply failure.
	if res.Status != StatusCancelled {
		t.Fatalf("result = %+v, want cancelled", res)
	}
	if len(res.AffectedIDs) != 1 {
		t.Fatalf("created ids must be reported: %+v", res)
	}
	if len(rpc.unlinkCalls) != 0 {
		t.Fatalf("no revert on cancellation, got unlinks %v", rpc.unlinkCalls)
	}
}

func TestCreateFieldSnapshotFailureAborts(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, snaps := newTestEngine(t, rpc)
	snaps.err = errors.New("disk full")

	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_n", "N"),
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeSnapshotFailed {
		t.Fatalf("result = %+v, want rejected/snapshot_failed", res)
	}
	if rpc.remoteWrites() != 0 {
		t.Fatal("mutation attempted after failed snapshot")
	}
}

func TestBusyWhileLocked(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	e.mu.Lock()
	res, err := e.CreateField(context.Background(), CreateFieldRequest{
		Descriptor: charField("res.partner", "x_b", "B"),
	})
	e.mu.Unlock()
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if res.Status != StatusBusy || res.Code != CodeBusy {
		t.Fatalf("result = %+v, want busy", res)
	}
	if rpc.remoteWrites() != 0 {
		t.Fatal("busy request reached the remote")
	}
}

func TestUpdateField(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, rel, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	if res, _ := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_tier", "Tier"),
	}); res.Status != StatusCommitted {
		t.Fatalf("setup create = %+v", res)
	}
	restarts := rel.restarts

	req := UpdateFieldRequest{Model: "res.partner", Field: "x_tier", Updates: FieldUpdates{Label: "Customer Tier"}}
	res, err := e.UpdateField(ctx, req)
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	if rel.restarts != restarts {
		t.Fatal("property update must not restart the service")
	}

	missing, err := e.UpdateField(ctx, UpdateFieldRequest{
		Model: "res.partner", Field: "x_absent", Updates: FieldUpdates{Label: "X"},
	})
	if err != nil {
		t.Fatalf("UpdateField missing: %v", err)
	}
	if missing.Status != StatusRejected || missing.Code != CodeNotFound {
		t.Fatalf("missing = %+v, want rejected/not_found", missing)
	}

	empty, err := e.UpdateField(ctx, UpdateFieldRequest{Model: "res.partner", Field: "x_tier"})
	if err != nil {
		t.Fatalf("UpdateField empty: %v", err)
	}
	if empty.Code != CodeInvalidInput {
		t.Fatalf("empty updates = %+v, want invalid_input", empty)
	}
}

func TestDeleteField(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.searchCount = 7
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	if res, _ := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_victim", "Victim"),
	}); res.Status != StatusCommitted {
		t.Fatalf("setup create = %+v", res)
	}

	guard, err := e.DeleteField(ctx, DeleteFieldRequest{Model: "res.partner", Field: "x_victim"})
	if err != nil {
		t.Fatalf("DeleteField guard: %v", err)
	}
	if guard.Status != StatusCancelled {
		t.Fatalf("unconfirmed delete = %+v, want cancelled", guard)
	}
	if e.cache.IsFieldValid(ctx, "res.partner", "x_victim") == false {
		t.Fatal("unconfirmed delete touched the field")
	}

	res, err := e.DeleteField(ctx, DeleteFieldRequest{Model: "res.partner", Field: "x_victim", Confirm: true})
	if err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Detail, "7 records held data") {
		t.Fatalf("detail missing data count: %s", res.Detail)
	}
	if e.cache.IsFieldValid(ctx, "res.partner", "x_victim") {
		t.Fatal("deleted field still reported by cache")
	}
}

func TestCreateModel(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	res, err := e.CreateModel(ctx, CreateModelRequest{
		Descriptor: schema.ModelDescriptor{
			Name:  "x_membership",
			Label: "Membership",
			Fields: []schema.FieldDescriptor{
				{Name: "x_level", Type: schema.TypeChar, Label: "Level"},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	if !e.cache.HasModel(ctx, "x_membership") {
		t.Fatal("created model not visible in cache")
	}

	dup, err := e.CreateModel(ctx, CreateModelRequest{
		Descriptor: schema.ModelDescriptor{Name: "x_membership", Label: "Membership"},
	})
	if err != nil {
		t.Fatalf("duplicate CreateModel: %v", err)
	}
	if dup.Code != CodeConflict {
		t.Fatalf("duplicate = %+v, want conflict", dup)
	}

	unprefixed, err := e.CreateModel(ctx, CreateModelRequest{
		Descriptor: schema.ModelDescriptor{Name: "membership.card", Label: "Card"},
	})
	if err != nil {
		t.Fatalf("unprefixed CreateModel: %v", err)
	}
	if unprefixed.Code != CodeInvalidInput {
		t.Fatalf("unprefixed = %+v, want invalid_input", unprefixed)
	}
}

func TestCreateModelIntrospectionErrorLeavesModel(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.searchReadErr["ir.model"] = errors.New("connection refused")
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateModel(context.Background(), CreateModelRequest{
		Descriptor: schema.ModelDescriptor{Name: "x_perhaps", Label: "Perhaps"},
	})
	if err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeVerifyFailed || res.Reverted {
		t.Fatalf("result = %+v, want rejected/verify_failed without revert", res)
	}
	if len(rpc.unlinkCalls) != 0 {
		t.Fatalf("model deleted on unavailable introspection: %v", rpc.unlinkCalls)
	}
	if _, ok := rpc.modelIDs["x_perhaps"]; !ok {
		t.Fatal("model record gone")
	}
}

func TestCreateModelScaffoldsViewsAndMenu(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.CreateModel(context.Background(), CreateModelRequest{
		Descriptor: schema.ModelDescriptor{
			Name:  "x_membership",
			Label: "Membership",
			Fields: []schema.FieldDescriptor{
				{Name: "x_level", Type: schema.TypeChar, Label: "Level"},
			},
			CreateViews: true,
			CreateMenu:  true,
		},
	})
	if err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	// Model, two views, window action, menu.
	if len(res.AffectedIDs) != 5 {
		t.Fatalf("AffectedIDs = %v, want 5 records", res.AffectedIDs)
	}

	counts := map[string]int{}
	for _, m := range rpc.createCalls {
		counts[m]++
	}
	if counts["ir.ui.view"] != 2 || counts["ir.actions.act_window"] != 1 || counts["ir.ui.menu"] != 1 {
		t.Fatalf("creates = %v", rpc.createCalls)
	}

	var treeArch, formArch string
	for _, rec := range rpc.viewRecords {
		switch odoorpc.AsString(rec["name"]) {
		case "x_membership.view.tree":
			treeArch = odoorpc.AsString(rec["arch"])
		case "x_membership.view.form":
			formArch = odoorpc.AsString(rec["arch"])
		}
	}
	for _, arch := range []string{treeArch, formArch} {
		if !strings.Contains(arch, `<field name="x_name"/>`) || !strings.Contains(arch, `<field name="x_level"/>`) {
			t.Fatalf("scaffold arch missing fields: %q", arch)
		}
	}
	if !strings.Contains(formArch, "<sheet>") {
		t.Fatalf("form arch = %q, want sheet/group layout", formArch)
	}
}

func TestModifyViewCommitted(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, rel, _ := newTestEngine(t, rpc)

	res, err := e.ModifyView(context.Background(), ModifyViewRequest{
		Model:    "res.partner",
		ViewType: "form",
		Ops: []patch.Op{
			{Kind: patch.KindHide, Target: patch.Target{Name: "name"}},
		},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	if rel.restarts != 0 {
		t.Fatal("view change must not restart the service")
	}

	created := rpc.viewRecords[res.AffectedIDs[0]]
	arch := odoorpc.AsString(created["arch"])
	if !strings.Contains(arch, `expr="//*[@name='name']" position="attributes"`) {
		t.Fatalf("created arch wrong:\n%s", arch)
	}
}

func TestModifyViewTargetErrors(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.compiled["res.partner/form"].Arch = `<form><field name="a"/><page><field name="a"/></page></form>`
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	writes := rpc.remoteWrites()
	missing, err := e.ModifyView(ctx, ModifyViewRequest{
		Model: "res.partner", ViewType: "form",
		Ops: []patch.Op{{Kind: patch.KindHide, Target: patch.Target{Name: "no_such"}}},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if missing.Status != StatusRejected || missing.Code != CodeNotFound {
		t.Fatalf("missing target = %+v, want rejected/not_found", missing)
	}

	ambiguous, err := e.ModifyView(ctx, ModifyViewRequest{
		Model: "res.partner", ViewType: "form",
		Ops: []patch.Op{{Kind: patch.KindHide, Target: patch.Target{Name: "a"}}},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if ambiguous.Code != CodeAmbiguousTarget {
		t.Fatalf("ambiguous target = %+v, want ambiguous_target", ambiguous)
	}
	if rpc.remoteWrites() != writes {
		t.Fatal("rejected patch reached the remote")
	}
}

func TestModifyViewUnknownInsertField(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyView(context.Background(), ModifyViewRequest{
		Model: "res.partner", ViewType: "form",
		Ops: []patch.Op{{
			Kind:     patch.KindInsertField,
			Anchor:   patch.Target{Name: "name"},
			Position: patch.After,
			Field:    &patch.FieldRef{Name: "x_not_created"},
		}},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if res.Status != StatusRejected || res.Code != CodeNotFound {
		t.Fatalf("result = %+v, want rejected/not_found", res)
	}
}

func TestModifyViewVerifyFailureAutoReverts(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.getViewFailFrom = 2 // first compile for building succeeds, verify fails
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyView(context.Background(), ModifyViewRequest{
		Model: "res.partner", ViewType: "form",
		Ops: []patch.Op{{Kind: patch.KindHide, Target: patch.Target{Name: "name"}}},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if res.Status != StatusRolledBack || !res.Reverted {
		t.Fatalf("result = %+v, want rolled_back reverted", res)
	}
	if len(rpc.viewRecords) != 0 {
		t.Fatalf("inheriting view not removed: %v", rpc.viewRecords)
	}
}

func TestModifyViewUpdateVerifyFailureRestoresArch(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	prevArch := `<data><xpath expr="//field[@name='name']" position="attributes"><attribute name="string">Old</attribute></xpath></data>`
	rpc.searchResp["ir.ui.view"] = []odoorpc.Record{{"id": int64(500), "arch": prevArch}}
	rpc.getViewFailFrom = 2
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyView(context.Background(), ModifyViewRequest{
		Model: "res.partner", ViewType: "form",
		Name: "partner tweaks",
		Ops:  []patch.Op{{Kind: patch.KindHide, Target: patch.Target{Name: "name"}}},
	})
	if err != nil {
		t.Fatalf("ModifyView: %v", err)
	}
	if res.Status != StatusRolledBack || res.Code != CodeVerifyFailed || !res.Reverted {
		t.Fatalf("result = %+v, want rolled_back/verify_failed reverted", res)
	}
	// The second write puts the previous arch back.
	if rpc.writeCalls != 2 {
		t.Fatalf("writes = %d, want arch update plus restore", rpc.writeCalls)
	}
	if odoorpc.AsString(rpc.lastWrite["arch"]) != prevArch {
		t.Fatalf("restored arch = %q, want the pre-update one", rpc.lastWrite["arch"])
	}
}

func TestResetView(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.viewRecords[500] = odoorpc.Record{"id": int64(500), "name": "base form", "inherit_id": false}
	rpc.viewRecords[501] = odoorpc.Record{"id": int64(501), "name": "custom layer", "inherit_id": []any{int64(500), "base form"}}
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	guard, err := e.ResetView(ctx, ResetViewRequest{ViewID: 501})
	if err != nil {
		t.Fatalf("ResetView guard: %v", err)
	}
	if guard.Status != StatusCancelled {
		t.Fatalf("unconfirmed reset = %+v, want cancelled", guard)
	}

	base, err := e.ResetView(ctx, ResetViewRequest{ViewID: 500, Confirm: true})
	if err != nil {
		t.Fatalf("ResetView base: %v", err)
	}
	if base.Status != StatusRejected || base.Code != CodeInvalidInput {
		t.Fatalf("base view reset = %+v, want rejected/invalid_input", base)
	}

	res, err := e.ResetView(ctx, ResetViewRequest{ViewID: 501, Confirm: true})
	if err != nil {
		t.Fatalf("ResetView: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	if _, stillThere := rpc.viewRecords[501]; stillThere {
		t.Fatal("customization view not deleted")
	}
	if _, gone := rpc.viewRecords[500]; !gone {
		t.Fatal("base view must never be deleted")
	}
}

func TestModifyReport(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.viewRecords[600] = odoorpc.Record{
		"id": int64(600), "name": "invoice doc", "key": "account.report_invoice_document",
		"type": "qweb",
		"arch": `<t t-name="account.report_invoice_document"><div class="page"><span t-field="o.amount_total"/></div></t>`,
	}
	rpc.searchResp["ir.actions.report"] = []odoorpc.Record{
		{"id": int64(10), "model": "account.move", "report_name": "account.report_invoice", "name": "Invoice", "report_type": "qweb-pdf"},
	}
	rpc.searchResp["account.move"] = []odoorpc.Record{{"id": int64(42)}}
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyReport(context.Background(), ModifyReportRequest{
		TemplateID: 600,
		ReportName: "account.report_invoice",
		Ops: []patch.Op{{
			Kind: patch.KindChangeStyle, Target: patch.Target{TField: "o.amount_total"}, Value: "font-weight: bold",
		}},
	})
	if err != nil {
		t.Fatalf("ModifyReport: %v", err)
	}
	if res.Status != StatusCommitted {
		t.Fatalf("result = %+v", res)
	}
	created := rpc.viewRecords[res.AffectedIDs[0]]
	if odoorpc.AsString(created["type"]) != "qweb" {
		t.Fatalf("created view = %v, want qweb", created)
	}
}

func TestModifyReportResolvesReportFromTemplateKey(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.viewRecords[600] = odoorpc.Record{
		"id": int64(600), "name": "invoice doc", "key": "account.report_invoice_document",
		"type": "qweb",
		"arch": `<t t-name="account.report_invoice_document"><span t-field="o.amount_total"/></t>`,
	}
	rpc.searchResp["ir.actions.report"] = []odoorpc.Record{
		{"id": int64(10), "model": "account.move", "report_name": "account.report_invoice_document"},
	}
	rpc.renderErr = errors.New("QWebException")
	e, _, _ := newTestEngine(t, rpc)

	// No report name given: the probe still runs, resolved from the
	// template key, and its failure reverts the change.
	res, err := e.ModifyReport(context.Background(), ModifyReportRequest{
		TemplateID:     600,
		SampleRecordID: 1,
		Ops:            []patch.Op{{Kind: patch.KindHide, Target: patch.Target{TField: "o.amount_total"}}},
	})
	if err != nil {
		t.Fatalf("ModifyReport: %v", err)
	}
	if res.Status != StatusRolledBack || !res.Reverted {
		t.Fatalf("result = %+v, want rolled_back reverted", res)
	}
	if len(rpc.viewRecords) != 1 {
		t.Fatalf("inheriting view not removed: %v", rpc.viewRecords)
	}
}

func TestModifyReportRenderFailureAutoReverts(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.viewRecords[600] = odoorpc.Record{
		"id": int64(600), "name": "invoice doc", "key": "account.report_invoice_document",
		"type": "qweb",
		"arch": `<t t-name="x"><span t-field="o.amount_total"/></t>`,
	}
	rpc.renderErr = errors.New("QWebException: unknown field")
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyReport(context.Background(), ModifyReportRequest{
		TemplateID:     600,
		ReportName:     "account.report_invoice",
		SampleRecordID: 1,
		Ops: []patch.Op{{
			Kind: patch.KindHide, Target: patch.Target{TField: "o.amount_total"},
		}},
	})
	if err != nil {
		t.Fatalf("ModifyReport: %v", err)
	}
	if res.Status != StatusRolledBack || !res.Reverted {
		t.Fatalf("result = %+v, want rolled_back reverted", res)
	}
	if len(rpc.viewRecords) != 1 {
		t.Fatalf("inheriting view not removed: %v", rpc.viewRecords)
	}
}

func TestModifyReportRejectsNonQweb(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.viewRecords[601] = odoorpc.Record{"id": int64(601), "name": "form view", "type": "form", "arch": "<form/>"}
	e, _, _ := newTestEngine(t, rpc)

	res, err := e.ModifyReport(context.Background(), ModifyReportRequest{
		TemplateID: 601,
		Ops:        []patch.Op{{Kind: patch.KindHide, Target: patch.Target{TField: "o.x"}}},
	})
	if err != nil {
		t.Fatalf("ModifyReport: %v", err)
	}
	if res.Code != CodeInvalidInput {
		t.Fatalf("result = %+v, want invalid_input", res)
	}
}

func TestPreviewReportPicksSampleRecord(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.searchResp["ir.actions.report"] = []odoorpc.Record{
		{"id": int64(10), "model": "sale.order", "report_name": "sale.report_saleorder", "name": "Quote", "report_type": "qweb-pdf"},
	}
	rpc.searchResp["sale.order"] = []odoorpc.Record{{"id": int64(99)}}
	e, _, _ := newTestEngine(t, rpc)

	prev, err := e.PreviewReport(context.Background(), "sale.report_saleorder", nil)
	if err != nil {
		t.Fatalf("PreviewReport: %v", err)
	}
	if len(prev.RecordIDs) != 1 || prev.RecordIDs[0] != 99 {
		t.Fatalf("RecordIDs = %v, want [99]", prev.RecordIDs)
	}
	if prev.HTMLBytes != 2048 {
		t.Fatalf("HTMLBytes = %d", prev.HTMLBytes)
	}
}

func TestVerifyModuleInstalled(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.searchResp["ir.module.module"] = []odoorpc.Record{
		{"id": int64(5), "name": "stock", "state": "installed", "latest_version": "17.0.1.0"},
	}
	e, rel, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	report, err := e.VerifyModuleInstalled(ctx, "stock")
	if err != nil {
		t.Fatalf("VerifyModuleInstalled: %v", err)
	}
	if !report.Verified || report.State != "installed" {
		t.Fatalf("report = %+v", report)
	}

	rel.logsOut = "2026-08-31 ERROR proddb odoo.modules: stock failed to load"
	report, err = e.VerifyModuleInstalled(ctx, "stock")
	if err != nil {
		t.Fatalf("VerifyModuleInstalled: %v", err)
	}
	if report.Verified || len(report.Issues) == 0 {
		t.Fatalf("log errors must fail verification: %+v", report)
	}

	rpc.searchResp["ir.module.module"] = []odoorpc.Record{
		{"id": int64(5), "name": "stock", "state": "uninstalled"},
	}
	rel.logsOut = ""
	report, err = e.VerifyModuleInstalled(ctx, "stock")
	if err != nil {
		t.Fatalf("VerifyModuleInstalled: %v", err)
	}
	if report.Verified {
		t.Fatalf("uninstalled module must fail verification: %+v", report)
	}
}

func TestVerifyViewIntegrity(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	rpc.searchResp["ir.ui.view"] = []odoorpc.Record{
		{"id": int64(1), "name": "ok", "model": "res.partner", "arch": "<form><field name='a'/></form>", "inherit_id": false},
		{"id": int64(2), "name": "empty", "model": "res.partner", "arch": "  ", "inherit_id": false},
		{"id": int64(3), "name": "degenerate child", "model": "res.partner", "arch": "<data><div/></data>", "inherit_id": []any{int64(1), "ok"}},
	}
	e, _, _ := newTestEngine(t, rpc)

	report, err := e.VerifyViewIntegrity(context.Background(), "res.partner")
	if err != nil {
		t.Fatalf("VerifyViewIntegrity: %v", err)
	}
	if report.Verified || report.ViewsChecked != 3 || len(report.Issues) != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestListCustom(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	if res, _ := e.CreateField(ctx, CreateFieldRequest{
		Descriptor: charField("res.partner", "x_tier", "Tier"),
	}); res.Status != StatusCommitted {
		t.Fatalf("setup = %+v", res)
	}
	rpc.searchResp["ir.model"] = []odoorpc.Record{
		{"id": int64(900), "model": "x_membership", "name": "Membership"},
	}
	rpc.searchResp["ir.model.fields"] = []odoorpc.Record{
		{"id": int64(901), "model": "res.partner", "name": "x_tier", "field_description": "Tier", "ttype": "char"},
	}

	inv, err := e.ListCustom(ctx)
	if err != nil {
		t.Fatalf("ListCustom: %v", err)
	}
	if len(inv.Models) != 1 || inv.Models[0].Name != "x_membership" {
		t.Fatalf("models = %+v", inv.Models)
	}
	if len(inv.Fields) != 1 || inv.Fields[0].Name != "x_tier" {
		t.Fatalf("fields = %+v", inv.Fields)
	}
}

func TestMutationsSerialize(t *testing.T) {
	t.Parallel()
	rpc := newFakeRPC()
	e, _, _ := newTestEngine(t, rpc)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.CreateField(ctx, CreateFieldRequest{
				Descriptor: charField("res.partner", fmt.Sprintf("x_f%d", i), "F"),
			})
			if err != nil {
				t.Errorf("CreateField %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res == nil {
			continue
		}
		switch res.Status {
		case StatusCommitted, StatusBusy:
		default:
			t.Errorf("request %d terminal state = %s (%s)", i, res.Status, res.Detail)
		}
	}
}
