package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mixlab/mixlab/sdk/go/testutil"
)

func setupCLI(t *testing.T) *testutil.AuthServer {
	t.Helper()
	srv := testutil.NewAuthServer(testutil.AuthServerConfig{})
	t.Cleanup(srv.Close)
	srv.AddUser("analyst@example.com", "hunter2")

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("MIXLAB_CONFIG", "")
	t.Setenv("MIXLAB_BASE_URL", srv.BaseURL())
	t.Setenv("MIXLAB_STATE_DIR", t.TempDir())
	t.Setenv("MIXLAB_PASSWORD", "")
	return srv
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLISessionSurvivesAcrossInvocations(t *testing.T) {
	srv := setupCLI(t)

	code, out, errOut := runCLI(t, "login", "-email", "analyst@example.com", "-password", "hunter2")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "logged in as analyst@example.com")

	code, out, errOut = runCLI(t, "status")
	require.Equal(t, 0, code, errOut)
	var status statusView
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.True(t, status.Authenticated)
	require.Equal(t, "analyst@example.com", status.Email)
	require.NotNil(t, status.RefreshExpires)

	srv.ExpireAccessTokens()
	code, out, errOut = runCLI(t, "get", "/datasets")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "dataset-1")
	require.EqualValues(t, 1, srv.RefreshCalls())

	code, out, errOut = runCLI(t, "whoami")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, `"email": "analyst@example.com"`)
	require.EqualValues(t, 1, srv.RefreshCalls(), "renewed token must have been persisted")

	code, _, errOut = runCLI(t, "logout")
	require.Equal(t, 0, code, errOut)

	code, _, errOut = runCLI(t, "get", "/datasets")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "not logged in")
}

func TestCLIReportsExpiredSession(t *testing.T) {
	srv := setupCLI(t)
	code, _, errOut := runCLI(t, "login", "-email", "analyst@example.com", "-password", "hunter2")
	require.Equal(t, 0, code, errOut)

	srv.ExpireAccessTokens()
	srv.ExpireRefreshTokens()
	code, _, errOut = runCLI(t, "get", "/models")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "session expired")

	code, out, _ := runCLI(t, "status")
	require.Equal(t, 0, code)
	require.Contains(t, out, `"authenticated": false`)
}

func TestCLIUsageErrors(t *testing.T) {
	setupCLI(t)

	code, _, errOut := runCLI(t)
	require.Equal(t, 2, code)
	require.True(t, strings.HasPrefix(errOut, "usage:"))

	code, _, errOut = runCLI(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "unknown command")

	code, _, errOut = runCLI(t, "login", "-email", "analyst@example.com")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "password")
}
