package stack

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	healthPollInterval = 2 * time.Second
	healthProbeTimeout = 5 * time.Second
)

// ErrReloadTimeout is returned by WaitHealthy when the service did not come
// back within the deadline. Callers must treat the target state as
// ambiguous, not broken: the process may still come up seconds later.
type ErrReloadTimeout struct {
	Timeout time.Duration
}

func (e *ErrReloadTimeout) Error() string {
	return fmt.Sprintf("service did not become healthy within %s", e.Timeout)
}

// Healthy makes a single probe of the health endpoint.
func (c *Controller) Healthy(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitHealthy polls the health endpoint at a fixed interval until it
// answers 200 or the timeout elapses. It is the only variably-blocking
// operation in a mutation sequence and honors ctx cancellation at every
// interval boundary.
func (c *Controller) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		if c.Healthy(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return &ErrReloadTimeout{Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
}
