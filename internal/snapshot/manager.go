package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hamzatrq/odoo-forge/internal/schema"
)

var (
	// ErrConflict: a snapshot with that name already exists for the database.
	ErrConflict = errors.New("snapshot already exists")
	// ErrNotFound: no such snapshot recorded.
	ErrNotFound = errors.New("snapshot not found")
	// ErrNotConfirmed: a destructive operation was invoked without confirm.
	ErrNotConfirmed = errors.New("operation not confirmed")
)

var snapshotNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

const (
	dumpTimeout    = 5 * time.Minute
	restoreTimeout = 5 * time.Minute
	cleanupTimeout = 30 * time.Second
	healthTimeout  = 3 * time.Minute
)

// composeRunner is the slice of the compose controller the manager needs.
type composeRunner interface {
	Exec(ctx context.Context, service, command string, timeout time.Duration) (string, error)
	CopyFrom(ctx context.Context, service, containerPath, hostPath string) error
	CopyTo(ctx context.Context, hostPath, service, containerPath string) error
	RestartService(ctx context.Context, service string) error
	WaitHealthy(ctx context.Context, timeout time.Duration) error
	WebService() string
	DBService() string
}

// Manager records, restores and deletes database snapshots. Dumps are
// taken with pg_dump inside the database container and copied to the host
// state directory; the manifest keeps the authoritative list.
type Manager struct {
	store  *Store
	stack  composeRunner
	log    *slog.Logger
	dir    string
	pgUser string
}

type Options struct {
	Store *Store
	Stack composeRunner
	// Dir is the artifacts directory (dump files).
	Dir string
	// PGUser is the role pg_dump/pg_restore run as inside the container.
	PGUser string
	Logger *slog.Logger
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("snapshot: missing store")
	}
	if opts.Stack == nil {
		return nil, errors.New("snapshot: missing stack controller")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("snapshot: missing artifacts dir")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	user := strings.TrimSpace(opts.PGUser)
	if user == "" {
		user = "odoo"
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: create artifacts dir: %w", err)
	}
	return &Manager{
		store:  opts.Store,
		stack:  opts.Stack,
		log:    log.With("component", "snapshot"),
		dir:    opts.Dir,
		pgUser: user,
	}, nil
}

func validateName(name string) error {
	if !snapshotNameRe.MatchString(name) {
		return fmt.Errorf("invalid snapshot name %q: letters, digits, dot, dash, underscore only", name)
	}
	return nil
}

// Create takes a new snapshot of database. Names are unique per database.
func (m *Manager) Create(ctx context.Context, database, name, description string) (*Manifest, error) {
	if err := schema.ValidateDBName(database); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if existing, err := m.store.get(ctx, database, name); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: snapshot %q already exists for database %q", ErrConflict, name, database)
	}

	dumpFile := artifactFile(database, name)
	containerPath := "/tmp/" + dumpFile
	localPath := filepath.Join(m.dir, dumpFile)

	m.log.Info("creating snapshot", "database", database, "name", name)
	dump := fmt.Sprintf("pg_dump -U %s -Fc %s -f %s", m.pgUser, database, containerPath)
	if _, err := m.stack.Exec(ctx, m.stack.DBService(), dump, dumpTimeout); err != nil {
		return nil, fmt.Errorf("pg_dump failed: %w", err)
	}
	if err := m.stack.CopyFrom(ctx, m.stack.DBService(), containerPath, localPath); err != nil {
		return nil, fmt.Errorf("copy snapshot out of container: %w", err)
	}
	m.cleanupContainerFile(ctx, containerPath)

	var size int64
	if fi, err := os.Stat(localPath); err == nil {
		size = fi.Size()
	}

	manifest := Manifest{
		Name:            name,
		Database:        database,
		Description:     description,
		DumpFile:        dumpFile,
		SizeBytes:       size,
		CreatedAtUnixMs: time.Now().UnixMilli(),
	}
	if err := m.store.insert(ctx, manifest); err != nil {
		return nil, err
	}
	m.log.Info("snapshot recorded", "database", database, "name", name, "size_bytes", size)
	return &manifest, nil
}

// List returns recorded snapshots, newest first. Empty database lists all.
func (m *Manager) List(ctx context.Context, database string) ([]Manifest, error) {
	return m.store.list(ctx, database)
}

// Get fetches one manifest.
func (m *Manager) Get(ctx context.Context, database, name string) (*Manifest, error) {
	return m.store.get(ctx, database, name)
}

// Restore replaces database with the snapshot's contents, then restarts
// the web service and waits for it to come back. A pre-restore snapshot
// is always taken first so the restore itself is reversible. Refuses to
// run without confirm.
func (m *Manager) Restore(ctx context.Context, database, name string, confirm bool) (*Manifest, error) {
	if !confirm {
		return nil, fmt.Errorf("%w: restoring %q over database %q is destructive", ErrNotConfirmed, name, database)
	}
	if err := schema.ValidateDBName(database); err != nil {
		return nil, err
	}
	manifest, err := m.store.get(ctx, database, name)
	if err != nil {
		return nil, err
	}
	localPath := filepath.Join(m.dir, manifest.DumpFile)
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("%w: manifest exists but artifact %s is missing", ErrNotFound, localPath)
	}

	preName := fmt.Sprintf("pre_restore_%s_%d", name, time.Now().Unix())
	if _, err := m.Create(ctx, database, preName, "automatic snapshot before restoring "+name); err != nil {
		return nil, fmt.Errorf("pre-restore snapshot failed, aborting restore: %w", err)
	}

	containerPath := "/tmp/" + manifest.DumpFile
	if err := m.stack.CopyTo(ctx, localPath, m.stack.DBService(), containerPath); err != nil {
		return nil, fmt.Errorf("copy snapshot into container: %w", err)
	}
	defer m.cleanupContainerFile(context.WithoutCancel(ctx), containerPath)

	m.log.Warn("restoring snapshot", "database", database, "name", name)
	steps := []string{
		fmt.Sprintf(`psql -U %s -d postgres -c "SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname='%s' AND pid <> pg_backend_pid();"`, m.pgUser, database),
		fmt.Sprintf("dropdb -U %s --if-exists %s", m.pgUser, database),
		fmt.Sprintf("createdb -U %s %s", m.pgUser, database),
		fmt.Sprintf("pg_restore -U %s -d %s --no-owner %s", m.pgUser, database, containerPath),
	}
	for _, cmd := range steps {
		if _, err := m.stack.Exec(ctx, m.stack.DBService(), cmd, restoreTimeout); err != nil {
			return nil, fmt.Errorf("restore step failed (%s): %w", firstWord(cmd), err)
		}
	}

	if err := m.stack.RestartService(ctx, m.stack.WebService()); err != nil {
		return nil, fmt.Errorf("restart after restore: %w", err)
	}
	if err := m.stack.WaitHealthy(ctx, healthTimeout); err != nil {
		return nil, fmt.Errorf("service did not come back after restore: %w", err)
	}
	m.log.Info("snapshot restored", "database", database, "name", name)
	return manifest, nil
}

// Delete removes a snapshot's manifest row and dump artifact. Refuses to
// run without confirm.
func (m *Manager) Delete(ctx context.Context, database, name string, confirm bool) error {
	if !confirm {
		return fmt.Errorf("%w: deleting snapshot %q is destructive", ErrNotConfirmed, name)
	}
	manifest, err := m.store.get(ctx, database, name)
	if err != nil {
		return err
	}
	if err := m.store.delete(ctx, database, name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(m.dir, manifest.DumpFile)); err != nil && !os.IsNotExist(err) {
		m.log.Warn("manifest removed but artifact deletion failed", "name", name, "error", err)
	}
	return nil
}

// Issue is one manifest/artifact mismatch found by Check.
type Issue struct {
	Kind     string `json:"kind"` // "missing_artifact" or "orphan_artifact"
	Name     string `json:"name"`
	Database string `json:"database,omitempty"`
	Path     string `json:"path"`
}

// Check reconciles the manifest against the artifacts directory and
// reports mismatches: rows whose dump file is gone, and dump files no
// row references.
func (m *Manager) Check(ctx context.Context) ([]Issue, error) {
	manifests, err := m.store.list(ctx, "")
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(manifests))
	var issues []Issue
	for _, man := range manifests {
		known[man.DumpFile] = true
		p := filepath.Join(m.dir, man.DumpFile)
		if _, err := os.Stat(p); err != nil {
			issues = append(issues, Issue{Kind: "missing_artifact", Name: man.Name, Database: man.Database, Path: p})
		}
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return issues, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".dump") {
			continue
		}
		if !known[e.Name()] {
			db, nm := parseArtifact(e.Name())
			issues = append(issues, Issue{
				Kind:     "orphan_artifact",
				Name:     nm,
				Database: db,
				Path:     filepath.Join(m.dir, e.Name()),
			})
		}
	}
	return issues, nil
}

// Repair runs Check and drops manifest rows whose artifact is gone.
// Orphaned artifacts are reported but never deleted.
func (m *Manager) Repair(ctx context.Context) ([]Issue, error) {
	issues, err := m.Check(ctx)
	if err != nil {
		return issues, err
	}
	for _, issue := range issues {
		if issue.Kind != "missing_artifact" {
			continue
		}
		if err := m.store.delete(ctx, issue.Database, issue.Name); err != nil && !errors.Is(err, ErrNotFound) {
			return issues, fmt.Errorf("drop dangling manifest row %q: %w", issue.Name, err)
		}
		m.log.Warn("dropped manifest row with missing artifact", "name", issue.Name, "database", issue.Database)
	}
	return issues, nil
}

func (m *Manager) cleanupContainerFile(ctx context.Context, path string) {
	if _, err := m.stack.Exec(ctx, m.stack.DBService(), "rm -f "+path, cleanupTimeout); err != nil {
		m.log.Debug("temp file cleanup failed", "path", path, "error", err)
	}
}

// artifactFile names the dump for one (database, name) pair. Names are
// only unique per database, so the database must be part of the filename
// or same-named snapshots of two databases would share one artifact.
func artifactFile(database, name string) string {
	return database + "__" + name + ".dump"
}

func parseArtifact(filename string) (database, name string) {
	base := strings.TrimSuffix(filename, ".dump")
	if db, nm, ok := strings.Cut(base, "__"); ok {
		return db, nm
	}
	return "", base
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
