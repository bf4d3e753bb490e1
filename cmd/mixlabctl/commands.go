package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	sdk "github.com/mixlab/mixlab/sdk/go"
	"github.com/mixlab/mixlab/sdk/go/auth"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":    cmdLogin,
	"register": cmdRegister,
	"logout":   cmdLogout,
	"whoami":   cmdWhoami,
	"status":   cmdStatus,
	"get":      cmdGet,
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw := passwordOrEnv(*password)
	if *email == "" || pw == "" {
		return errors.New("-email and a password are required")
	}
	user, err := a.client.Auth.Login(ctx, *email, pw)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "logged in as %s\n", user.Email)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "full name")
	workspace := fs.String("workspace", "", "name of a new workspace")
	invite := fs.String("invite", "", "invite token for an existing workspace")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := auth.RegisterRequest{
		Email:         *email,
		Password:      passwordOrEnv(*password),
		FullName:      *name,
		WorkspaceName: *workspace,
		InviteToken:   *invite,
	}
	user, err := a.client.Auth.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "registered %s\n", user.Email)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.client.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	user, err := a.client.Auth.Me(ctx)
	if err != nil {
		return explain(err)
	}
	return writeJSON(a.stdout, user)
}

type statusView struct {
	Authenticated   bool       `json:"authenticated"`
	Email           string     `json:"email,omitempty"`
	AccessExpires   *time.Time `json:"access_expires,omitempty"`
	AccessExpired   bool       `json:"access_expired"`
	RefreshExpires  *time.Time `json:"refresh_expires,omitempty"`
	RenewalRequired bool       `json:"renewal_required"`
}

func cmdStatus(_ context.Context, a *app, _ []string) error {
	snap := a.store.Snapshot()
	view := statusView{Authenticated: snap.IsAuthenticated}
	if snap.User != nil {
		view.Email = snap.User.Email
	}
	if snap.IsAuthenticated {
		view.AccessExpires = expiry(snap.AccessToken)
		view.RefreshExpires = expiry(snap.RefreshToken)
		view.AccessExpired = auth.IsExpired(snap.AccessToken)
		view.RenewalRequired = view.AccessExpired
	}
	return writeJSON(a.stdout, view)
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one path")
	}
	resp, err := a.client.Do(ctx, sdk.Request{Method: http.MethodGet, Path: args[0]})
	if err != nil {
		return explain(err)
	}
	defer resp.Body.Close()
	_, err = io.Copy(a.stdout, resp.Body)
	return err
}

func expiry(token string) *time.Time {
	claims, err := auth.ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	t := claims.ExpiresAt.Time.UTC()
	return &t
}

// explain turns session errors into something a CLI user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, sdk.ErrNoRefreshToken):
		return fmt.Errorf("not logged in (run mixlabctl login): %w", err)
	case sdk.IsRenewalFailed(err):
		return fmt.Errorf("session expired, log in again: %w", err)
	}
	return err
}

func passwordOrEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("MIXLAB_PASSWORD")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
