package sdk

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/session"
	"github.com/mixlab/mixlab/sdk/go/testutil"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(context.Background(), session.Options{})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return store
}

func newTestClient(t *testing.T, baseURL string, httpClient *http.Client, store *session.Store) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Session:    store,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

// loggedInClient returns a client whose session holds a valid pair issued by srv.
func loggedInClient(t *testing.T, srv *testutil.AuthServer) (*Client, auth.User) {
	t.Helper()
	user := srv.AddUser("analyst@example.com", "hunter2")
	access, refresh := srv.IssuePair(user)
	store := newTestStore(t)
	if err := store.SetAuth(context.Background(), &user, access, refresh); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	return newTestClient(t, srv.BaseURL(), srv.Client(), store), user
}

func newAuthServer(t *testing.T) *testutil.AuthServer {
	t.Helper()
	srv := testutil.NewAuthServer(testutil.AuthServerConfig{})
	t.Cleanup(srv.Close)
	return srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
