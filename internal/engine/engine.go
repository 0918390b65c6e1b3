package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/schema"
	"github.com/hamzatrq/odoo-forge/internal/snapshot"
	"github.com/hamzatrq/odoo-forge/internal/stack"
)

// modelClient is the slice of the XML-RPC client the engine drives.
type modelClient interface {
	SearchRead(ctx context.Context, db, model string, domain []any, opts odoorpc.SearchOptions) ([]odoorpc.Record, error)
	SearchCount(ctx context.Context, db, model string, domain []any) (int64, error)
	Read(ctx context.Context, db, model string, ids []int64, fields []string) ([]odoorpc.Record, error)
	Create(ctx context.Context, db, model string, values odoorpc.Record) (int64, error)
	Write(ctx context.Context, db, model string, ids []int64, values odoorpc.Record) error
	Unlink(ctx context.Context, db, model string, ids []int64) error
	GetView(ctx context.Context, db, model, viewType string, viewID int64) (*odoorpc.CompiledView, error)
	CreateInheritingView(ctx context.Context, db, model string, parentViewID int64, name, viewType, arch string) (int64, error)
	RenderReportHTML(ctx context.Context, db, reportName string, recordIDs []int64) (int, error)
	InvalidateSession()
}

// reloader restarts the serving process and reports when it is back.
type reloader interface {
	RestartService(ctx context.Context, service string) error
	WaitHealthy(ctx context.Context, timeout time.Duration) error
	Logs(ctx context.Context, service string, opts stack.LogsOptions) (string, error)
	WebService() string
}

// snapshotter records checkpoints before mutations.
type snapshotter interface {
	Create(ctx context.Context, database, name, description string) (*snapshot.Manifest, error)
}

// Engine applies schema, view and report mutations to one database and
// verifies every change before reporting it committed. Mutations are
// serialized per engine; a request that cannot take the lock immediately
// reports Busy instead of interleaving with a restart in flight.
type Engine struct {
	rpc   modelClient
	stack reloader
	snaps snapshotter
	cache *schema.Cache
	db    string
	log   *slog.Logger

	reloadTimeout time.Duration

	mu sync.Mutex
}

type Options struct {
	RPC   modelClient
	Stack reloader
	// Snapshots may be nil; mutations then run without checkpoints.
	Snapshots snapshotter
	Cache     *schema.Cache
	Database  string
	// ReloadTimeout bounds the post-restart health wait. Default 60s.
	ReloadTimeout time.Duration
	Logger        *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.RPC == nil {
		return nil, errors.New("engine: missing rpc client")
	}
	if opts.Stack == nil {
		return nil, errors.New("engine: missing stack controller")
	}
	if opts.Cache == nil {
		return nil, errors.New("engine: missing schema cache")
	}
	db := strings.TrimSpace(opts.Database)
	if db == "" {
		return nil, errors.New("engine: missing database")
	}
	if err := schema.ValidateDBName(db); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.ReloadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Engine{
		rpc:           opts.RPC,
		stack:         opts.Stack,
		snaps:         opts.Snapshots,
		cache:         opts.Cache,
		db:            db,
		log:           log.With("component", "engine", "database", db),
		reloadTimeout: timeout,
	}, nil
}

// Database returns the database this engine mutates.
func (e *Engine) Database() string { return e.db }

// tryLock reports nil when the mutation lock was acquired; otherwise a
// Busy result for the caller to return as-is.
func (e *Engine) tryLock() *Result {
	if !e.mu.TryLock() {
		return busy(e.db)
	}
	return nil
}

// checkpoint takes a pre-mutation snapshot unless skipped or no manager
// is wired. A snapshot failure aborts the request before any side effect.
func (e *Engine) checkpoint(ctx context.Context, op string, skip bool) (string, *Result) {
	if skip || e.snaps == nil {
		return "", nil
	}
	name := fmt.Sprintf("pre_%s_%d", op, time.Now().Unix())
	if _, err := e.snaps.Create(ctx, e.db, name, "automatic checkpoint before "+op); err != nil {
		return "", rejected(CodeSnapshotFailed, "pre-mutation snapshot failed: "+err.Error())
	}
	return name, nil
}

// reload restarts the web service and waits for it to come back. The
// transport session is invalidated either way; after a restart the old
// session id is dead.
func (e *Engine) reload(ctx context.Context) error {
	defer e.rpc.InvalidateSession()
	if err := e.stack.RestartService(ctx, e.stack.WebService()); err != nil {
		return fmt.Errorf("restart %s: %w", e.stack.WebService(), err)
	}
	return e.stack.WaitHealthy(ctx, e.reloadTimeout)
}

// reloadTimedOut distinguishes the bounded-health-poll timeout from other
// reload failures.
func reloadTimedOut(err error) bool {
	var t *stack.ErrReloadTimeout
	return errors.As(err, &t)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func idStrings(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
