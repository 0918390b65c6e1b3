package odoorpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

const (
	defaultCallTimeout = 60 * time.Second
	executeMaxRetries  = 3
)

// Options configures a Client.
type Options struct {
	// URL is the Odoo base URL, without the /xmlrpc suffix.
	URL string
	// DB is the default database. Calls may override it per call.
	DB       string
	Username string
	Password string
	// CallTimeout bounds every individual RPC round trip. Zero means the
	// default of 60s.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Client is a session-caching wrapper over Odoo's XML-RPC surface
// (/xmlrpc/2/common, /xmlrpc/2/object, /xmlrpc/2/db).
//
// All high-level data operations of the system go through this client.
// It re-authenticates transparently when the database changes or when the
// server restarts underneath an in-flight retry loop.
type Client struct {
	url      string
	username string
	password string
	timeout  time.Duration
	log      *slog.Logger

	common *xmlrpc.Client
	object *xmlrpc.Client
	dbsvc  *xmlrpc.Client

	mu  sync.Mutex
	db  string
	uid int64
}

func NewClient(opts Options) (*Client, error) {
	u := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if u == "" {
		return nil, fmt.Errorf("missing odoo url")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}

	common, err := xmlrpc.NewClient(u+"/xmlrpc/2/common", transport)
	if err != nil {
		return nil, fmt.Errorf("common endpoint: %w", err)
	}
	object, err := xmlrpc.NewClient(u+"/xmlrpc/2/object", transport)
	if err != nil {
		return nil, fmt.Errorf("object endpoint: %w", err)
	}
	dbsvc, err := xmlrpc.NewClient(u+"/xmlrpc/2/db", transport)
	if err != nil {
		return nil, fmt.Errorf("db endpoint: %w", err)
	}

	return &Client{
		url:      u,
		username: opts.Username,
		password: opts.Password,
		timeout:  timeout,
		log:      logger,
		common:   common,
		object:   object,
		dbsvc:    dbsvc,
		db:       strings.TrimSpace(opts.DB),
	}, nil
}

// URL returns the configured base URL.
func (c *Client) URL() string { return c.url }

// call runs an XML-RPC call honoring ctx. The underlying client has no
// context support, so the call runs in a goroutine; on cancellation the
// goroutine is abandoned and its eventual result discarded.
func (c *Client) call(ctx context.Context, endpoint *xmlrpc.Client, method string, args []any, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- endpoint.Call(method, args, reply)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Authenticate logs in against the given database (or the default), caches
// the uid and makes db the new default.
func (c *Client) Authenticate(ctx context.Context, db string) (int64, error) {
	c.mu.Lock()
	target := strings.TrimSpace(db)
	if target == "" {
		target = c.db
	}
	c.mu.Unlock()
	if target == "" {
		return 0, ErrNoDatabase
	}

	var reply any
	err := c.call(ctx, c.common, "authenticate", []any{target, c.username, c.password, map[string]any{}}, &reply)
	if err != nil {
		if fault, ok := asFault(err); ok {
			return 0, newFaultError("", "authenticate", fault)
		}
		return 0, fmt.Errorf("cannot connect to odoo at %s: %w", c.url, err)
	}

	uid, ok := AsInt(reply)
	if !ok || uid <= 0 {
		return 0, fmt.Errorf("%w for user %q on database %q", ErrAuthFailed, c.username, target)
	}

	c.mu.Lock()
	c.uid = uid
	c.db = target
	c.mu.Unlock()
	return uid, nil
}

// InvalidateSession drops the cached uid, forcing re-authentication on the
// next call. Used after service restarts and database restores.
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	c.uid = 0
	c.mu.Unlock()
}

func (c *Client) ensureAuth(ctx context.Context, db string) (string, int64, error) {
	c.mu.Lock()
	target := strings.TrimSpace(db)
	if target == "" {
		target = c.db
	}
	uid := c.uid
	current := c.db
	c.mu.Unlock()

	if target == "" {
		return "", 0, ErrNoDatabase
	}
	if uid > 0 && target == current {
		return target, uid, nil
	}
	uid, err := c.Authenticate(ctx, target)
	if err != nil {
		return "", 0, err
	}
	return target, uid, nil
}

// Execute is the generic execute_kw wrapper with bounded retry. Server
// faults are terminal; transport errors are retried with backoff and a
// forced re-authentication, since the usual cause is a service restart.
func (c *Client) Execute(ctx context.Context, db, model, method string, args []any, kwargs map[string]any) (any, error) {
	target, uid, err := c.ensureAuth(ctx, db)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	var lastErr error
	for attempt := 0; attempt < executeMaxRetries; attempt++ {
		var reply any
		err := c.call(ctx, c.object, "execute_kw",
			[]any{target, uid, c.password, model, method, args, kwargs}, &reply)
		if err == nil {
			return reply, nil
		}
		if fault, ok := asFault(err); ok {
			return nil, newFaultError(model, method, fault)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt < executeMaxRetries-1 {
			wait := time.Duration(1<<attempt) * time.Second
			c.log.Warn("rpc transport error, retrying",
				"model", model, "method", method,
				"attempt", attempt+1, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			// Re-authenticate in case the server restarted.
			c.InvalidateSession()
			if _, uid, err = c.ensureAuth(ctx, target); err != nil {
				lastErr = err
			}
		}
	}
	return nil, fmt.Errorf("execute %s.%s failed after %d attempts: %w", model, method, executeMaxRetries, lastErr)
}

func asFault(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return fault.String, true
	}
	return "", false
}
