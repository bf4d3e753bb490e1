package sdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/session"
)

// stubRefresher answers refresh calls from a function and counts them.
type stubRefresher struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req auth.RefreshRequest) (auth.TokenResponse, error)
}

func (s *stubRefresher) Refresh(ctx context.Context, req auth.RefreshRequest) (auth.TokenResponse, error) {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

func newCoordinatorTest(t *testing.T, timeout time.Duration, fn func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error)) (*RefreshCoordinator, *session.Store, *stubRefresher) {
	t.Helper()
	store := newTestStore(t)
	if err := store.SetAuth(context.Background(), &auth.User{ID: "u-1"}, "access-1", "refresh-1"); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	refresher := &stubRefresher{fn: fn}
	coord, err := NewRefreshCoordinator(CoordinatorConfig{Session: store, Refresher: refresher, Timeout: timeout})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coord, store, refresher
}

func TestNewRefreshCoordinatorValidatesConfig(t *testing.T) {
	if _, err := NewRefreshCoordinator(CoordinatorConfig{Refresher: &stubRefresher{}}); err == nil {
		t.Fatalf("expected error without session")
	}
	if _, err := NewRefreshCoordinator(CoordinatorConfig{Session: newTestStore(t)}); err == nil {
		t.Fatalf("expected error without refresher")
	}
}

func TestRenewCollapsesConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	coord, store, refresher := newCoordinatorTest(t, 0, func(ctx context.Context, req auth.RefreshRequest) (auth.TokenResponse, error) {
		if req.RefreshToken != "refresh-1" {
			t.Errorf("unexpected refresh token %q", req.RefreshToken)
		}
		<-release
		return auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = coord.Renew(context.Background(), "access-1")
		}(i)
	}
	waitFor(t, "all callers queued", func() bool { return coord.Pending() == callers })
	if coord.State() != StateRefreshing {
		t.Fatalf("expected refreshing state, got %s", coord.State())
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil || tokens[i] != "access-2" {
			t.Fatalf("caller %d: token=%q err=%v", i, tokens[i], errs[i])
		}
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	snap := store.Snapshot()
	if snap.AccessToken != "access-2" || snap.RefreshToken != "refresh-2" {
		t.Fatalf("session not updated: %+v", snap)
	}
	if coord.State() != StateIdle || coord.Pending() != 0 {
		t.Fatalf("expected idle coordinator with empty queue")
	}
}

func TestRenewSkipsRefreshForSupersededToken(t *testing.T) {
	coord, _, refresher := newCoordinatorTest(t, 0, func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		return auth.TokenResponse{}, errors.New("unexpected refresh")
	})
	token, err := coord.Renew(context.Background(), "access-0")
	if err != nil || token != "access-1" {
		t.Fatalf("expected current token, got %q (%v)", token, err)
	}
	if refresher.calls.Load() != 0 {
		t.Fatalf("expected no refresh call for a superseded token")
	}
}

func TestRenewWithoutRefreshToken(t *testing.T) {
	refresher := &stubRefresher{}
	coord, err := NewRefreshCoordinator(CoordinatorConfig{Session: newTestStore(t), Refresher: refresher})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if _, err := coord.Renew(context.Background(), ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if coord.State() != StateIdle {
		t.Fatalf("expected coordinator to stay idle")
	}
}

func TestRenewFailureLogsOutAndRejectsEveryWaiter(t *testing.T) {
	release := make(chan struct{})
	refreshErr := auth.Error{Status: 401, Body: `{"detail":"Invalid refresh token"}`}
	coord, store, _ := newCoordinatorTest(t, 0, func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		<-release
		return auth.TokenResponse{}, refreshErr
	})

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := coord.Renew(context.Background(), "access-1")
			errs <- err
		}()
	}
	waitFor(t, "callers queued", func() bool { return coord.Pending() == 3 })
	close(release)

	for i := 0; i < 3; i++ {
		err := <-errs
		var renewalErr *RenewalFailedError
		if !errors.As(err, &renewalErr) {
			t.Fatalf("expected RenewalFailedError, got %v", err)
		}
		var authErr auth.Error
		if !errors.As(err, &authErr) || authErr.Status != 401 {
			t.Fatalf("expected cause to be the refresh error, got %v", renewalErr.Cause)
		}
	}
	if !store.Snapshot().IsEmpty() {
		t.Fatalf("expected session to be logged out")
	}
}

func TestRenewTimeoutDrainsQueueWithError(t *testing.T) {
	coord, store, _ := newCoordinatorTest(t, 200*time.Millisecond, func(ctx context.Context, _ auth.RefreshRequest) (auth.TokenResponse, error) {
		<-ctx.Done()
		return auth.TokenResponse{}, ctx.Err()
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := coord.Renew(context.Background(), "access-1")
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		err := <-errs
		if !IsRenewalFailed(err) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected renewal timeout, got %v", err)
		}
	}
	if coord.State() != StateIdle {
		t.Fatalf("expected idle coordinator after timeout")
	}
	if !store.Snapshot().IsEmpty() {
		t.Fatalf("expected session to be logged out after timeout")
	}
}

func TestRenewWaiterCancellationKeepsQueueSettled(t *testing.T) {
	release := make(chan struct{})
	coord, _, _ := newCoordinatorTest(t, 0, func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		<-release
		return auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	first := make(chan error, 1)
	go func() {
		_, err := coord.Renew(context.Background(), "access-1")
		first <- err
	}()
	waitFor(t, "renewal started", func() bool { return coord.Pending() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := coord.Renew(ctx, "access-1")
		cancelled <- err
	}()
	waitFor(t, "second caller queued", func() bool { return coord.Pending() == 2 })
	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled waiter, got %v", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first caller: %v", err)
	}
	waitFor(t, "coordinator idle", func() bool { return coord.State() == StateIdle })
	if coord.Pending() != 0 {
		t.Fatalf("expected queue to be drained")
	}
}

func TestRenewSupersededByNewLogin(t *testing.T) {
	release := make(chan struct{})
	coord, store, _ := newCoordinatorTest(t, 0, func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		<-release
		return auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	result := make(chan string, 1)
	go func() {
		token, err := coord.Renew(context.Background(), "access-1")
		if err != nil {
			t.Errorf("renew: %v", err)
		}
		result <- token
	}()
	waitFor(t, "renewal started", func() bool { return coord.Pending() == 1 })

	if err := store.SetAuth(context.Background(), &auth.User{ID: "u-2"}, "access-login", "refresh-login"); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	close(release)

	if token := <-result; token != "access-login" {
		t.Fatalf("expected waiter to receive the newer login token, got %q", token)
	}
	if snap := store.Snapshot(); snap.User.ID != "u-2" || snap.RefreshToken != "refresh-login" {
		t.Fatalf("renewal must not overwrite a newer login: %+v", snap)
	}
}

func TestRenewAfterLogoutDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	coord, store, _ := newCoordinatorTest(t, 0, func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		<-release
		return auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	errs := make(chan error, 1)
	go func() {
		_, err := coord.Renew(context.Background(), "access-1")
		errs <- err
	}()
	waitFor(t, "renewal started", func() bool { return coord.Pending() == 1 })
	if err := store.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)

	if err := <-errs; !errors.Is(err, session.ErrSessionChanged) {
		t.Fatalf("expected renewal to be rejected after logout, got %v", err)
	}
	if !store.Snapshot().IsEmpty() {
		t.Fatalf("renewal must not resurrect a logged-out session")
	}
}

func TestCoordinatorStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateRefreshing.String() != "refreshing" {
		t.Fatalf("unexpected state names")
	}
}

func TestMetricHooksMayInspectCoordinator(t *testing.T) {
	release := make(chan struct{})
	var coord *RefreshCoordinator
	var inspected atomic.Int64
	store := newTestStore(t)
	if err := store.SetAuth(context.Background(), &auth.User{ID: "u-1"}, "access-1", "refresh-1"); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	refresher := &stubRefresher{fn: func(context.Context, auth.RefreshRequest) (auth.TokenResponse, error) {
		<-release
		return auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	}}
	coord, err := NewRefreshCoordinator(CoordinatorConfig{
		Session:   store,
		Refresher: refresher,
		Telemetry: TelemetryHooks{
			OnMetric: func(context.Context, Metric) {
				_ = coord.Pending()
				_ = coord.State()
				inspected.Add(1)
			},
		},
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := coord.Renew(context.Background(), "access-1")
			done <- err
		}()
	}
	waitFor(t, "callers queued", func() bool { return coord.Pending() == 2 })
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("renew: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("renewal deadlocked while a metric hook inspected the coordinator")
		}
	}
	if inspected.Load() == 0 {
		t.Fatalf("expected metric hooks to run")
	}
}
