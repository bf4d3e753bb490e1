package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/session"
)

const defaultBaseURL = "http://localhost:8000/api"
const defaultUserAgent = "mixlab-sdk/" + Version

// Config wires the session, base URL, and telemetry for the API client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Session is required. Open it with session.Open before building the client.
	Session *session.Store
	// Coordinator is optional. Pass the coordinator of another client to share
	// one renewal queue between clients of the same session.
	Coordinator *RefreshCoordinator
	// RenewalTimeout bounds one refresh call. Zero means 10s; negative disables it.
	RenewalTimeout time.Duration
	Telemetry      TelemetryHooks
	UserAgent      string
}

// Client provides high-level helpers for interacting with the mixlab API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	session     *session.Store
	coordinator *RefreshCoordinator
	authAPI     *auth.Client
	telemetry   TelemetryHooks
	userAgent   string

	// Grouped service clients.
	Auth      *AuthClient
	Datasets  *DatasetsClient
	Models    *ModelsClient
	Workspace *WorkspaceClient
}

// NewClient validates the configuration and returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Session == nil {
		return nil, ConfigError{Reason: "session store is required"}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	authAPI, err := auth.NewClient(auth.Config{BaseURL: normalized, HTTPClient: httpClient, UserAgent: ua})
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}

	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator, err = NewRefreshCoordinator(CoordinatorConfig{
			Session:   cfg.Session,
			Refresher: authAPI,
			Timeout:   cfg.RenewalTimeout,
			Telemetry: cfg.Telemetry,
		})
		if err != nil {
			return nil, err
		}
	} else if coordinator.store != cfg.Session {
		return nil, ConfigError{Reason: "coordinator belongs to a different session store"}
	}

	client := &Client{
		baseURL:     normalized,
		httpClient:  httpClient,
		session:     cfg.Session,
		coordinator: coordinator,
		authAPI:     authAPI,
		telemetry:   cfg.Telemetry,
		userAgent:   ua,
	}
	client.Auth = &AuthClient{client: client}
	client.Datasets = &DatasetsClient{client: client}
	client.Models = &ModelsClient{client: client}
	client.Workspace = &WorkspaceClient{client: client}
	return client, nil
}

// Open builds a Client and runs the bootstrap expiry check: a session whose
// refresh token is missing or expired is logged out before any request is sent.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	loggedOut, err := cfg.Session.CheckExpiry(ctx)
	if err != nil {
		return nil, fmt.Errorf("sdk: bootstrap expiry check: %w", err)
	}
	if loggedOut {
		client.telemetry.log(ctx, LogLevelDebug, "session_not_resumed", nil)
	}
	return client, nil
}

// Session returns the store backing this client.
func (c *Client) Session() *session.Store { return c.session }

// Coordinator returns the renewal coordinator used by this client.
func (c *Client) Coordinator() *RefreshCoordinator { return c.coordinator }

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" {
		return "", errors.New("base URL missing scheme (http/https)")
	}
	if u.Host == "" {
		return "", errors.New("base URL missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.TrimSuffix(u.String(), "/"), nil
}
