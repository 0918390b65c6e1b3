package pg

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Client is direct PostgreSQL access to the target's backing store,
// bypassing the Odoo ORM. It is reserved for read-only diagnostics and the
// queries the RPC layer cannot answer (sizes, integrity checks, database
// lists); dump/restore themselves run inside the db container via the
// stack controller.
type Client struct {
	host     string
	port     int
	user     string
	password string
	log      *slog.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Logger   *slog.Logger
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 5432
	}
	return &Client{
		host:     host,
		port:     port,
		user:     opts.User,
		password: opts.Password,
		log:      logger,
		pools:    make(map[string]*pgxpool.Pool),
	}
}

func (c *Client) dsn(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=5",
		url.QueryEscape(c.user), url.QueryEscape(c.password), c.host, c.port, database)
}

func (c *Client) pool(ctx context.Context, database string) (*pgxpool.Pool, error) {
	db := strings.TrimSpace(database)
	if db == "" {
		db = "postgres"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[db]; ok {
		return p, nil
	}
	p, err := pgxpool.Connect(ctx, c.dsn(db))
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", db, err)
	}
	c.pools[db] = p
	return p, nil
}

// Close releases every pool.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for db, p := range c.pools {
		p.Close()
		delete(c.pools, db)
	}
}

// Query runs a SELECT and returns rows as column-name maps.
func (c *Client) Query(ctx context.Context, database, sql string, args ...any) ([]map[string]any, error) {
	p, err := c.pool(ctx, database)
	if err != nil {
		return nil, err
	}
	rows, err := p.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return out, nil
}

// Exec runs a statement and returns the number of affected rows.
func (c *Client) Exec(ctx context.Context, database, sql string, args ...any) (int64, error) {
	p, err := c.pool(ctx, database)
	if err != nil {
		return 0, err
	}
	tag, err := p.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
