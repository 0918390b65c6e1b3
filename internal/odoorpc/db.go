package odoorpc

import (
	"context"
	"fmt"
)

// Database management operations over /xmlrpc/2/db. These require the
// master password, not a user session.

func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var reply any
	if err := c.call(ctx, c.dbsvc, "list", []any{}, &reply); err != nil {
		return nil, fmt.Errorf("cannot list databases: %w", err)
	}
	raw, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("db list: unexpected reply %T", reply)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	dbs, err := c.ListDatabases(ctx)
	if err != nil {
		return false, err
	}
	for _, db := range dbs {
		if db == name {
			return true, nil
		}
	}
	return false, nil
}

type CreateDatabaseOptions struct {
	Demo         bool
	Lang         string
	Login        string
	UserPassword string
	CountryCode  string
}

func (c *Client) CreateDatabase(ctx context.Context, masterPassword, name string, opts CreateDatabaseOptions) error {
	lang := opts.Lang
	if lang == "" {
		lang = "en_US"
	}
	login := opts.Login
	if login == "" {
		login = "admin"
	}
	userPassword := opts.UserPassword
	if userPassword == "" {
		userPassword = "admin"
	}
	var country any = false
	if opts.CountryCode != "" {
		country = opts.CountryCode
	}

	var reply any
	err := c.call(ctx, c.dbsvc, "create_database",
		[]any{masterPassword, name, opts.Demo, lang, userPassword, login, country}, &reply)
	if err != nil {
		if fault, ok := asFault(err); ok {
			return newFaultError("", "create_database", fault)
		}
		return fmt.Errorf("database creation failed: %w", err)
	}
	return nil
}

func (c *Client) DropDatabase(ctx context.Context, masterPassword, name string) error {
	var reply any
	err := c.call(ctx, c.dbsvc, "drop", []any{masterPassword, name}, &reply)
	if err != nil {
		if fault, ok := asFault(err); ok {
			return newFaultError("", "drop", fault)
		}
		return fmt.Errorf("database drop failed: %w", err)
	}
	return nil
}
