package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/routes"
	"github.com/mixlab/mixlab/sdk/go/session"
)

// AuthClient wraps the authentication endpoints and keeps the session in step
// with them.
type AuthClient struct {
	client *Client
}

func (a *AuthClient) ensureInitialized() error {
	if a == nil || a.client == nil {
		return fmt.Errorf("sdk: auth client not initialized")
	}
	return nil
}

// Login exchanges credentials for a token pair and stores the new session.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*auth.User, error) {
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	resp, err := a.client.authAPI.Login(ctx, auth.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return a.establish(ctx, resp)
}

// Register creates an account and stores the new session.
func (a *AuthClient) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	resp, err := a.client.authAPI.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.establish(ctx, resp)
}

// Me fetches the current user and updates the stored profile.
func (a *AuthClient) Me(ctx context.Context) (*auth.User, error) {
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	var user auth.User
	if err := a.client.DoJSON(ctx, Request{Method: http.MethodGet, Path: routes.AuthMe}, &user); err != nil {
		return nil, err
	}
	if err := a.client.session.SetUser(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Renew forces a token renewal through the client's coordinator and returns
// the new access token. Concurrent renewals share one refresh call.
func (a *AuthClient) Renew(ctx context.Context) (string, error) {
	if err := a.ensureInitialized(); err != nil {
		return "", err
	}
	return a.client.coordinator.Renew(ctx, a.client.session.AccessToken())
}

// Logout clears the local session. Tokens are not revoked server-side.
func (a *AuthClient) Logout(ctx context.Context) error {
	if err := a.ensureInitialized(); err != nil {
		return err
	}
	return a.client.session.Logout(ctx)
}

func (a *AuthClient) establish(ctx context.Context, resp auth.TokenResponse) (*auth.User, error) {
	if resp.User == nil {
		return nil, fmt.Errorf("sdk: auth response missing user")
	}
	access := stripBearerPrefix(resp.AccessToken)
	refresh := stripBearerPrefix(resp.RefreshToken)
	if err := a.client.session.SetAuth(ctx, resp.User, access, refresh); err != nil {
		if errors.Is(err, session.ErrIncompleteAuth) {
			return nil, fmt.Errorf("sdk: auth response incomplete: %w", err)
		}
		return nil, err
	}
	user := *resp.User
	return &user, nil
}
