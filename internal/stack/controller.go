package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	defaultCmdTimeout = 2 * time.Minute
	moduleCmdTimeout  = 5 * time.Minute
)

// ErrComposeFileMissing indicates the configured compose path has no
// docker-compose.yml.
var ErrComposeFileMissing = errors.New("docker-compose.yml not found")

// Options configures a Controller.
type Options struct {
	// ComposePath is the directory containing docker-compose.yml.
	ComposePath string
	// WebService / DBService are the compose service names for the Odoo
	// process and its Postgres database.
	WebService string
	DBService  string
	// HealthURL is polled by WaitHealthy. Defaults to
	// http://localhost:8069/web/health.
	HealthURL string
	Logger    *slog.Logger
}

// Controller drives the target's docker compose stack: lifecycle, logs,
// in-container exec, health polling and module install via the Odoo CLI.
type Controller struct {
	composeDir  string
	composeFile string
	webService  string
	dbService   string
	healthURL   string
	log         *slog.Logger
}

func NewController(opts Options) (*Controller, error) {
	dir := strings.TrimSpace(opts.ComposePath)
	if dir == "" {
		return nil, errors.New("missing compose path")
	}
	file := filepath.Join(dir, "docker-compose.yml")

	web := opts.WebService
	if web == "" {
		web = "web"
	}
	db := opts.DBService
	if db == "" {
		db = "db"
	}
	health := opts.HealthURL
	if health == "" {
		health = "http://localhost:8069/web/health"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		composeDir:  dir,
		composeFile: file,
		webService:  web,
		dbService:   db,
		healthURL:   health,
		log:         logger,
	}
	if err := c.validateComposeFile(); err != nil {
		return nil, err
	}
	return c, nil
}

// WebService returns the configured Odoo service name.
func (c *Controller) WebService() string { return c.webService }

// DBService returns the configured database service name.
func (c *Controller) DBService() string { return c.dbService }

func (c *Controller) composeCmd(args ...string) []string {
	return append([]string{"docker", "compose", "-f", c.composeFile}, args...)
}

// run executes a command with a hard timeout layered on the caller context.
func (c *Controller) run(ctx context.Context, timeout time.Duration, argv []string) (string, string, error) {
	if timeout <= 0 {
		timeout = defaultCmdTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = c.composeDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(),
			fmt.Errorf("command timed out after %s: %s", timeout, strings.Join(argv, " "))
	}
	return stdout.String(), stderr.String(), err
}

// Up starts the stack and waits for compose-level readiness.
func (c *Controller) Up(ctx context.Context) error {
	_, stderr, err := c.run(ctx, 3*time.Minute, c.composeCmd("up", "-d", "--wait"))
	if err != nil {
		return fmt.Errorf("docker compose up failed: %w\n%s", err, stderr)
	}
	c.log.Info("stack started", "compose", c.composeFile)
	return nil
}

// Down stops the stack. removeVolumes also discards the data volumes.
func (c *Controller) Down(ctx context.Context, removeVolumes bool) error {
	args := c.composeCmd("down")
	if removeVolumes {
		args = append(args, "-v")
	}
	_, stderr, err := c.run(ctx, 0, args)
	if err != nil {
		return fmt.Errorf("docker compose down failed: %w\n%s", err, stderr)
	}
	c.log.Info("stack stopped", "volumes_removed", removeVolumes)
	return nil
}

// RestartService restarts one compose service. This is the registry-reload
// primitive: a structural schema change is not visible until the Odoo
// process restarts and WaitHealthy confirms it came back.
func (c *Controller) RestartService(ctx context.Context, service string) error {
	if service == "" {
		service = c.webService
	}
	_, stderr, err := c.run(ctx, 0, c.composeCmd("restart", service))
	if err != nil {
		return fmt.Errorf("restart of %q failed: %w\n%s", service, err, stderr)
	}
	c.log.Info("service restarted", "service", service)
	return nil
}

// ContainerState is one row of compose ps output.
type ContainerState struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Status  string `json:"Status"`
}

// Status reports the container states of the stack.
func (c *Controller) Status(ctx context.Context) ([]ContainerState, error) {
	stdout, stderr, err := c.run(ctx, 0, c.composeCmd("ps", "--format", "json"))
	if err != nil {
		return nil, fmt.Errorf("docker compose ps failed: %w\n%s", err, stderr)
	}
	return parseComposePS(stdout), nil
}

// parseComposePS decodes compose ps line-delimited json, skipping noise.
func parseComposePS(out string) []ContainerState {
	var states []ContainerState
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var st ContainerState
		if err := json.Unmarshal([]byte(line), &st); err != nil {
			continue
		}
		states = append(states, st)
	}
	return states
}

// LogsOptions narrows a Logs call.
type LogsOptions struct {
	Lines int
	Since string
	// Grep filters lines by a case-insensitive regexp after retrieval.
	Grep string
}

// Logs returns recent log output for a service.
func (c *Controller) Logs(ctx context.Context, service string, opts LogsOptions) (string, error) {
	if service == "" {
		service = c.webService
	}
	lines := opts.Lines
	if lines <= 0 {
		lines = 100
	}
	args := c.composeCmd("logs", service, fmt.Sprintf("--tail=%d", lines), "--no-color")
	if opts.Since != "" {
		args = append(args, "--since", opts.Since)
	}
	stdout, stderr, err := c.run(ctx, 0, args)
	if err != nil {
		return "", fmt.Errorf("logs for %q failed: %w\n%s", service, err, stderr)
	}
	out := stdout
	if out == "" {
		out = stderr // compose historically wrote logs to stderr
	}
	if opts.Grep != "" {
		filtered, err := filterLines(out, opts.Grep)
		if err != nil {
			return "", err
		}
		out = filtered
	}
	return out, nil
}

func filterLines(text, pattern string) (string, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return "", fmt.Errorf("invalid log filter %q: %w", pattern, err)
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// Exec runs a shell command inside a running service container.
func (c *Controller) Exec(ctx context.Context, service, command string, timeout time.Duration) (string, error) {
	if service == "" {
		return "", errors.New("missing service")
	}
	args := c.composeCmd("exec", "-T", service, "bash", "-c", command)
	stdout, stderr, err := c.run(ctx, timeout, args)
	if err != nil {
		return "", fmt.Errorf("exec in %q failed: %w\n%s", service, err, firstNonEmpty(stderr, stdout))
	}
	return stdout, nil
}

// CopyFrom copies a path out of a service container to the host.
func (c *Controller) CopyFrom(ctx context.Context, service, containerPath, hostPath string) error {
	_, stderr, err := c.run(ctx, 0, c.composeCmd("cp", service+":"+containerPath, hostPath))
	if err != nil {
		return fmt.Errorf("copy from %q failed: %w\n%s", service, err, stderr)
	}
	return nil
}

// CopyTo copies a host path into a service container.
func (c *Controller) CopyTo(ctx context.Context, hostPath, service, containerPath string) error {
	_, stderr, err := c.run(ctx, 0, c.composeCmd("cp", hostPath, service+":"+containerPath))
	if err != nil {
		return fmt.Errorf("copy to %q failed: %w\n%s", service, err, stderr)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
