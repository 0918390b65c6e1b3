package stack

import (
	"context"
	"fmt"
	"strings"
)

// InstallModules installs Odoo modules via the in-container CLI with
// --stop-after-init. This is more reliable than RPC installs for large
// modules: the CLI run fails loudly instead of timing out a session.
func (c *Controller) InstallModules(ctx context.Context, db string, modules []string) (string, error) {
	return c.moduleCLI(ctx, db, "-i", modules)
}

// UpgradeModules upgrades modules via the in-container CLI.
func (c *Controller) UpgradeModules(ctx context.Context, db string, modules []string) (string, error) {
	return c.moduleCLI(ctx, db, "-u", modules)
}

func (c *Controller) moduleCLI(ctx context.Context, db, flag string, modules []string) (string, error) {
	if db == "" {
		return "", fmt.Errorf("missing database")
	}
	if len(modules) == 0 {
		return "", fmt.Errorf("no modules given")
	}
	list := strings.Join(modules, ",")
	args := c.composeCmd("exec", "-T", c.webService,
		"odoo", "-d", db, flag, list, "--stop-after-init")

	stdout, stderr, err := c.run(ctx, moduleCmdTimeout, args)
	output := firstNonEmpty(stderr, stdout) // odoo logs to stderr
	if err != nil {
		return "", fmt.Errorf("module %s failed for [%s] on %q: %w\n%s",
			cliVerb(flag), list, db, err, tail(output, 2000))
	}
	return output, nil
}

func cliVerb(flag string) string {
	if flag == "-u" {
		return "upgrade"
	}
	return "install"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
