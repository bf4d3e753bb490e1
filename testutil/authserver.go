// Package testutil provides an in-process fake of the mixlab API for SDK tests.
package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mixlab/mixlab/sdk/go/auth"
	"github.com/mixlab/mixlab/sdk/go/routes"
)

// APIPrefix is the path the fake API is mounted under, as in production.
const APIPrefix = "/api"

// AuthServerConfig configures the fake API.
type AuthServerConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

type account struct {
	password string
	user     auth.User
}

// AuthServer issues HS256 tokens and serves a few protected resources.
//
// Unlike the SDK, it verifies every token it receives: signature, expiry,
// token type and whether the token was revoked.
type AuthServer struct {
	*httptest.Server

	cfg AuthServerConfig

	mu            sync.Mutex
	accounts      map[string]*account
	accessTokens  map[string]string
	refreshTokens map[string]string
	refreshHold   chan struct{}
	refreshStatus int
	rotateRefresh bool

	refreshCalls atomic.Int64
	hitsMu       sync.Mutex
	hits         map[string]int
	uploads      [][]byte
}

// NewAuthServer starts a fake API. Close it when done.
func NewAuthServer(cfg AuthServerConfig) *AuthServer {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte("testutil-secret")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = auth.AccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = auth.RefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &AuthServer{
		cfg:           cfg,
		accounts:      make(map[string]*account),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		rotateRefresh: true,
		hits:          make(map[string]int),
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

// BaseURL is the URL SDK clients should be configured with.
func (s *AuthServer) BaseURL() string { return s.URL + APIPrefix }

// AddUser registers an account and returns its user record.
func (s *AuthServer) AddUser(email, password string) auth.User {
	u := auth.User{
		ID:          uuid.NewString(),
		Email:       email,
		FullName:    strings.Split(email, "@")[0],
		Role:        "admin",
		WorkspaceID: uuid.NewString(),
		CreatedAt:   s.cfg.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Lock()
	s.accounts[email] = &account{password: password, user: u}
	s.mu.Unlock()
	return u
}

// IssuePair issues a valid token pair for an existing user.
func (s *AuthServer) IssuePair(user auth.User) (access, refresh string) {
	access = s.issue(user, auth.TokenTypeAccess, s.cfg.AccessTTL)
	refresh = s.issue(user, auth.TokenTypeRefresh, s.cfg.RefreshTTL)
	return access, refresh
}

// ExpireAccessTokens revokes every access token issued so far.
func (s *AuthServer) ExpireAccessTokens() {
	s.mu.Lock()
	s.accessTokens = make(map[string]string)
	s.mu.Unlock()
}

// ExpireRefreshTokens revokes every refresh token issued so far.
func (s *AuthServer) ExpireRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]string)
	s.mu.Unlock()
}

// HoldRefresh blocks /auth/refresh responses until release is called.
func (s *AuthServer) HoldRefresh() (release func()) {
	hold := make(chan struct{})
	s.mu.Lock()
	s.refreshHold = hold
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.refreshHold = nil
			s.mu.Unlock()
			close(hold)
		})
	}
}

// FailRefreshWith makes /auth/refresh answer with status. Zero restores normal behavior.
func (s *AuthServer) FailRefreshWith(status int) {
	s.mu.Lock()
	s.refreshStatus = status
	s.mu.Unlock()
}

// KeepRefreshToken makes /auth/refresh omit refresh_token so clients keep theirs.
func (s *AuthServer) KeepRefreshToken() {
	s.mu.Lock()
	s.rotateRefresh = false
	s.mu.Unlock()
}

// RefreshCalls returns how many /auth/refresh requests were received.
func (s *AuthServer) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Hits returns how many requests reached path (relative to APIPrefix),
// including rejected ones.
func (s *AuthServer) Hits(path string) int {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	return s.hits[path]
}

// Uploads returns the raw file contents received by /datasets/upload.
func (s *AuthServer) Uploads() [][]byte {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	return append([][]byte(nil), s.uploads...)
}

func (s *AuthServer) router() http.Handler {
	r := chi.NewRouter()
	r.Route(APIPrefix, func(api chi.Router) {
		api.Use(s.countHits)
		api.Post(routes.AuthLogin, s.handleLogin)
		api.Post(routes.AuthRegister, s.handleRegister)
		api.Post(routes.AuthRefresh, s.handleRefresh)
		api.Group(func(protected chi.Router) {
			protected.Use(s.requireAccess)
			protected.Get(routes.AuthMe, s.handleMe)
			protected.Get(routes.Datasets, s.handleList("dataset"))
			protected.Get(routes.Datasets+"/{id}", s.handleDataset)
			protected.Post(routes.DatasetsUpload, s.handleUpload)
			protected.Get(routes.Models, s.handleList("model"))
			protected.Get(routes.Workspace, s.handleWorkspace)
			protected.Get(routes.WorkspaceMembers, s.handleMembers)
		})
	})
	return r
}

func (s *AuthServer) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, APIPrefix)
		s.hitsMu.Lock()
		s.hits[path]++
		s.hitsMu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (s *AuthServer) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		email, err := s.verify(raw, auth.TokenTypeAccess)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithEmail(r.Context(), email)))
	})
}

func (s *AuthServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[creds.Email]
	s.mu.Unlock()
	if !ok || acct.password != creds.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.writePair(w, http.StatusOK, acct.user, true)
}

func (s *AuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	_, exists := s.accounts[req.Email]
	s.mu.Unlock()
	if exists {
		writeDetail(w, http.StatusConflict, "Email already registered")
		return
	}
	u := s.AddUser(req.Email, req.Password)
	u.FullName = req.FullName
	s.mu.Lock()
	s.accounts[req.Email].user = u
	s.mu.Unlock()
	s.writePair(w, http.StatusCreated, u, true)
}

func (s *AuthServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	s.mu.Lock()
	hold := s.refreshHold
	status := s.refreshStatus
	rotate := s.rotateRefresh
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeDetail(w, status, "Invalid refresh token")
		return
	}

	var req auth.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	email, err := s.verify(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	s.mu.Lock()
	acct := s.accounts[email]
	s.mu.Unlock()
	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}
	s.writePair(w, http.StatusOK, acct.user, false, withRotation(rotate))
}

func (s *AuthServer) handleMe(w http.ResponseWriter, r *http.Request) {
	acct := s.account(r)
	if acct == nil {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *AuthServer) handleList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct := s.account(r)
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":           kind + "-1",
			"workspace_id": acct.user.WorkspaceID,
			"status":       "ready",
			"created_at":   s.cfg.Now().UTC().Format(time.RFC3339),
		}})
	}
}

func (s *AuthServer) handleDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != "dataset-1" {
		writeDetail(w, http.StatusNotFound, "Dataset not found")
		return
	}
	acct := s.account(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           id,
		"workspace_id": acct.user.WorkspaceID,
		"filename":     "spend.csv",
		"frequency":    "weekly",
		"status":       "ready",
		"created_at":   s.cfg.Now().UTC().Format(time.RFC3339),
	})
}

func (s *AuthServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable file")
		return
	}
	s.hitsMu.Lock()
	s.uploads = append(s.uploads, data)
	s.hitsMu.Unlock()
	rows := strings.Count(strings.TrimSpace(string(data)), "\n")
	writeJSON(w, http.StatusCreated, map[string]any{
		"dataset_id":   uuid.NewString(),
		"filename":     header.Filename,
		"row_count":    rows,
		"columns":      []any{},
		"preview_rows": []any{},
	})
}

func (s *AuthServer) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	acct := s.account(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         acct.user.WorkspaceID,
		"name":       acct.user.FullName + "'s Workspace",
		"created_at": acct.user.CreatedAt,
	})
}

func (s *AuthServer) handleMembers(w http.ResponseWriter, r *http.Request) {
	acct := s.account(r)
	writeJSON(w, http.StatusOK, []auth.User{acct.user})
}

type pairOptions struct {
	rotate bool
}

type pairOption func(*pairOptions)

func withRotation(rotate bool) pairOption {
	return func(o *pairOptions) { o.rotate = rotate }
}

func (s *AuthServer) writePair(w http.ResponseWriter, status int, u auth.User, includeUser bool, opts ...pairOption) {
	o := pairOptions{rotate: true}
	for _, opt := range opts {
		opt(&o)
	}
	resp := auth.TokenResponse{
		AccessToken: s.issue(u, auth.TokenTypeAccess, s.cfg.AccessTTL),
		TokenType:   "bearer",
		ExpiresIn:   int(s.cfg.AccessTTL.Seconds()),
	}
	if o.rotate {
		resp.RefreshToken = s.issue(u, auth.TokenTypeRefresh, s.cfg.RefreshTTL)
	}
	if includeUser {
		user := u
		resp.User = &user
	}
	writeJSON(w, status, resp)
}

func (s *AuthServer) issue(u auth.User, typ auth.TokenType, ttl time.Duration) string {
	now := s.cfg.Now()
	claims := auth.Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if typ == auth.TokenTypeAccess {
		claims.WorkspaceID = u.WorkspaceID
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	if typ == auth.TokenTypeAccess {
		s.accessTokens[tok] = u.Email
	} else {
		s.refreshTokens[tok] = u.Email
	}
	s.mu.Unlock()
	return tok
}

var errRevoked = errors.New("token revoked")

func (s *AuthServer) verify(raw string, typ auth.TokenType) (string, error) {
	var claims auth.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.cfg.Now))
	if err != nil {
		return "", err
	}
	if claims.Type != typ {
		return "", errors.New("wrong token type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.accessTokens
	if typ == auth.TokenTypeRefresh {
		set = s.refreshTokens
	}
	email, ok := set[raw]
	if !ok {
		return "", errRevoked
	}
	return email, nil
}

func (s *AuthServer) account(r *http.Request) *account {
	email := emailFromContext(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[email]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
