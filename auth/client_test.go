package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientLogin(t *testing.T) {
	var captured struct {
		Path string
		Body map[string]string
		Ua   string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Ua = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		resp := TokenResponse{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresIn:    900,
			User:         &User{ID: "u-1", Email: "me@example.com"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	tokens, err := client.Login(context.Background(), Credentials{
		Email:    "me@example.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tokens.AccessToken != "access" || tokens.RefreshToken != "refresh" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if tokens.User == nil || tokens.User.ID != "u-1" {
		t.Fatalf("expected user in response, got %+v", tokens.User)
	}
	if captured.Path != "/auth/login" {
		t.Fatalf("expected /auth/login, got %s", captured.Path)
	}
	if captured.Body["email"] != "me@example.com" || captured.Body["password"] != "secret" {
		t.Fatalf("unexpected payload: %+v", captured.Body)
	}
	if !strings.Contains(captured.Ua, "MixlabSDK") {
		t.Fatalf("expected default user agent, got %s", captured.Ua)
	}
}

func TestClientRegisterSendsWorkspaceFields(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "a", RefreshToken: "r", User: &User{ID: "u-2"}})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Register(context.Background(), RegisterRequest{
		Email:         "new@example.com",
		Password:      "pw",
		FullName:      "New User",
		WorkspaceName: "Acme",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if body["full_name"] != "New User" || body["workspace_name"] != "Acme" {
		t.Fatalf("unexpected payload: %+v", body)
	}
	if _, ok := body["invite_token"]; ok {
		t.Fatalf("expected empty invite_token to be omitted")
	}
}

func TestRefreshErrorPropagation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid refresh token"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Refresh(context.Background(), RefreshRequest{RefreshToken: "bad"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr Error
	if !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
		t.Fatalf("expected Error, got %v", err)
	}
}

func TestClientValidatesInputsWithoutNetwork(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Refresh(context.Background(), RefreshRequest{RefreshToken: "  "}); err == nil {
		t.Fatalf("expected refresh token required error")
	}
	if _, err := client.Login(context.Background(), Credentials{Email: "x@example.com"}); err == nil {
		t.Fatalf("expected password required error")
	}
	if _, err := client.Register(context.Background(), RegisterRequest{Email: "x@example.com", Password: "pw"}); err == nil {
		t.Fatalf("expected full name required error")
	}
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected base url required error")
	}
}

func TestRefreshRejectsResponseWithoutAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"refresh_token":"r"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Refresh(context.Background(), RefreshRequest{RefreshToken: "r"}); err == nil {
		t.Fatalf("expected missing access_token error")
	}
}
