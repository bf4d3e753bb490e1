package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mixlab/mixlab/sdk/go/auth"
)

var (
	// ErrIncompleteAuth is returned when SetAuth is missing the user or a token.
	ErrIncompleteAuth = errors.New("session: user, access token and refresh token are required")

	// ErrSessionChanged is returned by ApplyRenewal when the session no longer
	// holds the refresh token the renewal was started with.
	ErrSessionChanged = errors.New("session: session changed during renewal")

	// ErrNotAuthenticated is returned by operations that need a logged-in session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// Options configures a Store.
type Options struct {
	// Persister defaults to a fresh MemoryPersister.
	Persister Persister
	// Key defaults to DefaultKey.
	Key string
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// Now overrides the clock used by CheckExpiry.
	Now func() time.Time
}

// Store is the process-wide holder of the authentication Session.
//
// Every mutation is persisted before it becomes visible to readers, and all
// fields are swapped together under one lock.
type Store struct {
	mu        sync.RWMutex
	cur       Session
	persister Persister
	key       string
	log       zerolog.Logger
	now       func() time.Time

	// notifyMu is taken before mu is released so subscribers see commits in
	// commit order.
	notifyMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(Session)
	nextSub int
}

// Open builds a Store and rehydrates it from the persister.
//
// A record with a newer layout version, or one that breaks the
// IsAuthenticated invariant, is discarded and the store starts empty.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		persister: opts.Persister,
		key:       opts.Key,
		now:       opts.Now,
		subs:      make(map[int]func(Session)),
	}
	if s.persister == nil {
		s.persister = NewMemoryPersister()
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "session").Logger()
	} else {
		s.log = zerolog.Nop()
	}

	rec, ok, err := s.persister.Load(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("session: rehydrate: %w", err)
	}
	if !ok {
		return s, nil
	}
	switch {
	case rec.Version > RecordVersion:
		s.log.Warn().Int("version", rec.Version).Msg("session_record_version_unknown")
	case !rec.State.valid():
		s.log.Warn().Msg("session_record_inconsistent")
	default:
		s.cur = rec.State.clone()
		s.log.Debug().Bool("authenticated", s.cur.IsAuthenticated).Msg("session_rehydrated")
	}
	return s, nil
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// AccessToken returns the current access token, or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.RefreshToken
}

// SetAuth replaces the whole session with a logged-in state.
// Token shape is not validated here.
func (s *Store) SetAuth(ctx context.Context, user *User, accessToken, refreshToken string) error {
	if user == nil || accessToken == "" || refreshToken == "" {
		return ErrIncompleteAuth
	}
	next := newSession(user, accessToken, refreshToken)
	if err := s.commit(ctx, func(Session) (Session, error) { return next, nil }); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("session_established")
	return nil
}

// ApplyRenewal commits the result of a token refresh that was started with
// prevRefresh. An empty refreshToken keeps the current one, and a nil user
// keeps the current user.
func (s *Store) ApplyRenewal(ctx context.Context, prevRefresh, accessToken, refreshToken string, user *User) error {
	if accessToken == "" {
		return ErrIncompleteAuth
	}
	return s.commit(ctx, func(cur Session) (Session, error) {
		if !cur.IsAuthenticated || cur.RefreshToken != prevRefresh {
			return cur, ErrSessionChanged
		}
		if refreshToken == "" {
			refreshToken = cur.RefreshToken
		}
		if user == nil {
			user = cur.User
		}
		return newSession(user, accessToken, refreshToken), nil
	})
}

// SetUser replaces the user of an authenticated session.
func (s *Store) SetUser(ctx context.Context, user *User) error {
	if user == nil {
		return ErrIncompleteAuth
	}
	return s.commit(ctx, func(cur Session) (Session, error) {
		if !cur.IsAuthenticated {
			return cur, ErrNotAuthenticated
		}
		return newSession(user, cur.AccessToken, cur.RefreshToken), nil
	})
}

// Logout resets the session to empty. Calling it on an empty session is a no-op
// apart from rewriting the empty record.
//
// The in-memory session is cleared even when persisting fails; the error is
// still returned so callers can surface it.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	wasEmpty := s.cur.IsEmpty()
	err := s.persist(ctx, Session{})
	s.cur = Session{}
	if wasEmpty {
		s.mu.Unlock()
	} else {
		s.notifyMu.Lock()
		s.mu.Unlock()
		s.notify(Session{})
		s.notifyMu.Unlock()
	}

	if err != nil {
		s.log.Error().Err(err).Msg("session_logout_persist_failed")
	}
	if !wasEmpty {
		s.log.Info().Msg("session_cleared")
	}
	return err
}

// CheckExpiry logs out when the refresh token is missing or expired and
// reports whether it did. The access token is not inspected: a stale access
// token is repaired by renewal on the next request.
func (s *Store) CheckExpiry(ctx context.Context) (bool, error) {
	refresh := s.RefreshToken()
	if refresh != "" && !auth.IsExpiredAt(refresh, s.now()) {
		return false, nil
	}
	s.log.Debug().Bool("missing", refresh == "").Msg("session_refresh_token_unusable")
	return true, s.Logout(ctx)
}

// Subscribe registers fn to be called with every committed session change.
// fn runs on the mutating goroutine after the store lock is released, and
// calls are serialized in commit order. fn may read the store but must not
// mutate it synchronously.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) commit(ctx context.Context, next func(cur Session) (Session, error)) error {
	s.mu.Lock()
	updated, err := next(s.cur)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persist(ctx, updated); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("session_persist_failed")
		return err
	}
	s.cur = updated
	s.notifyMu.Lock()
	s.mu.Unlock()

	s.notify(updated.clone())
	s.notifyMu.Unlock()
	return nil
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context, state Session) error {
	if err := s.persister.Save(ctx, s.key, Record{State: state, Version: RecordVersion}); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}

func (s *Store) notify(state Session) {
	s.subMu.Lock()
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(state.clone())
	}
}
