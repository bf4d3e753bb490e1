package sdk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/session"
)

const defaultRenewalTimeout = 10 * time.Second

// CoordinatorState is the renewal state of a RefreshCoordinator.
type CoordinatorState int

const (
	StateIdle CoordinatorState = iota
	StateRefreshing
)

func (s CoordinatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Refresher exchanges a refresh token for a new token pair. *auth.Client
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, req auth.RefreshRequest) (auth.TokenResponse, error)
}

// CoordinatorConfig configures a RefreshCoordinator.
type CoordinatorConfig struct {
	Session   *session.Store
	Refresher Refresher
	// Timeout bounds one renewal call. Zero means 10s; negative disables it.
	Timeout   time.Duration
	Telemetry TelemetryHooks
}

type renewalResult struct {
	token string
	err   error
}

// RefreshCoordinator serializes token renewal for every request that shares a
// session. Concurrent 401s are collapsed into one refresh call; every caller
// is released with the same outcome, in the order it arrived.
//
// Exactly one coordinator must exist per session store. Clients that share a
// store should share the coordinator through Config.Coordinator.
type RefreshCoordinator struct {
	mu    sync.Mutex
	state CoordinatorState
	queue []chan renewalResult
	// queueGen counts queue changes; guarded by mu.
	queueGen uint64

	// Waiter gauge updates are reported outside mu, newest generation wins.
	gaugeMu     sync.Mutex
	reportedGen uint64

	store     *session.Store
	refresher Refresher
	timeout   time.Duration
	telemetry TelemetryHooks
}

// NewRefreshCoordinator validates cfg and returns an idle coordinator.
func NewRefreshCoordinator(cfg CoordinatorConfig) (*RefreshCoordinator, error) {
	if cfg.Session == nil {
		return nil, ConfigError{Reason: "coordinator session store is required"}
	}
	if cfg.Refresher == nil {
		return nil, ConfigError{Reason: "coordinator refresher is required"}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultRenewalTimeout
	}
	return &RefreshCoordinator{
		store:     cfg.Session,
		refresher: cfg.Refresher,
		timeout:   timeout,
		telemetry: cfg.Telemetry,
	}, nil
}

// State returns the current coordinator state.
func (c *RefreshCoordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of callers suspended behind the current renewal.
func (c *RefreshCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Renew returns an access token that is newer than staleAccessToken, the
// token a request was rejected with.
//
// With no renewal in flight the first caller starts one; later callers join
// its queue. When the session already holds a different access token, it is
// returned without a network call. Waiters are never removed from the queue:
// a caller whose ctx ends stops waiting, but its slot is still settled.
func (c *RefreshCoordinator) Renew(ctx context.Context, staleAccessToken string) (string, error) {
	wait, token, err := c.admit(staleAccessToken)
	switch {
	case errors.Is(err, errRenewalInProgress):
	case err != nil:
		return "", err
	default:
		return token, nil
	}
	select {
	case res := <-wait:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// admit decides, in one critical section, whether the caller can proceed
// immediately or must wait. It starts the renewal when the coordinator is idle.
func (c *RefreshCoordinator) admit(stale string) (chan renewalResult, string, error) {
	c.mu.Lock()
	snap := c.store.Snapshot()
	if snap.RefreshToken == "" {
		c.mu.Unlock()
		return nil, "", ErrNoRefreshToken
	}
	if c.state == StateIdle && snap.AccessToken != "" && snap.AccessToken != stale {
		c.mu.Unlock()
		return nil, snap.AccessToken, nil
	}

	wait := make(chan renewalResult, 1)
	c.queue = append(c.queue, wait)
	c.queueGen++
	gen, waiters := c.queueGen, len(c.queue)
	initiate := c.state == StateIdle
	c.state = StateRefreshing
	c.mu.Unlock()

	c.reportWaiters(context.Background(), gen, waiters)
	if initiate {
		go c.run(snap.RefreshToken)
	}
	return wait, "", errRenewalInProgress
}

// reportWaiters emits the waiter gauge unless a newer value was already
// reported. Hooks run without mu held, so they may call State or Pending.
func (c *RefreshCoordinator) reportWaiters(ctx context.Context, gen uint64, waiters int) {
	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()
	if gen <= c.reportedGen {
		return
	}
	c.reportedGen = gen
	c.telemetry.metric(ctx, "sdk_session_renewal_waiters", float64(waiters), nil)
}

func (c *RefreshCoordinator) run(refreshToken string) {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.telemetry.log(ctx, LogLevelInfo, "session_renewal_started", nil)
	start := time.Now()
	resp, err := c.refresher.Refresh(ctx, auth.RefreshRequest{RefreshToken: refreshToken})
	c.telemetry.metric(ctx, "sdk_session_renewal_latency_ms", float64(time.Since(start).Milliseconds()), nil)

	// The session is committed while the coordinator is still Refreshing, so a
	// 401 arriving in between joins the queue and is settled below.
	result := c.settle(ctx, refreshToken, resp, err)

	outcome := "success"
	if result.err != nil {
		outcome = "failure"
	}
	c.telemetry.metric(ctx, "sdk_session_renewals_total", 1, map[string]string{"outcome": outcome})

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.queueGen++
	gen := c.queueGen
	for _, w := range queue {
		w <- result
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.reportWaiters(ctx, gen, 0)
}

func (c *RefreshCoordinator) settle(ctx context.Context, refreshToken string, resp auth.TokenResponse, err error) renewalResult {
	// Persisting the outcome must not be cut short by the renewal deadline.
	commitCtx := context.WithoutCancel(ctx)
	if err == nil {
		access := stripBearerPrefix(resp.AccessToken)
		err = c.store.ApplyRenewal(commitCtx, refreshToken, access, stripBearerPrefix(resp.RefreshToken), resp.User)
		if err == nil {
			c.telemetry.log(ctx, LogLevelInfo, "session_renewal_succeeded", nil)
			return renewalResult{token: access}
		}
		if errors.Is(err, session.ErrSessionChanged) {
			// Logged out or logged in again while the refresh was in flight;
			// whatever the session holds now wins.
			if snap := c.store.Snapshot(); snap.IsAuthenticated {
				c.telemetry.log(ctx, LogLevelInfo, "session_renewal_superseded", nil)
				return renewalResult{token: snap.AccessToken}
			}
			return renewalResult{err: &RenewalFailedError{Cause: err}}
		}
	}

	c.telemetry.log(ctx, LogLevelError, "session_renewal_failed", map[string]any{"error": err.Error()})
	if logoutErr := c.store.Logout(commitCtx); logoutErr != nil {
		c.telemetry.log(ctx, LogLevelError, "session_logout_failed", map[string]any{"error": logoutErr.Error()})
	}
	return renewalResult{err: &RenewalFailedError{Cause: err}}
}
