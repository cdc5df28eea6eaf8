package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/models"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrNoSession      = errors.New("no stored session")
)

// Session holds the signed-in user and keeps the token in one of two storages:
// local (kept across restarts, "remember me") or tab (this process only).
type Session struct {
	api   *API
	local Storage
	tab   Storage
	log   logrus.FieldLogger
	now   func() time.Time

	mu       sync.Mutex
	token    string
	user     models.User
	expires  time.Time
	timer    *time.Timer
	gen      uint64
	onLogout []func()
}

type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption { return func(s *Session) { s.now = now } }

func WithLogger(l logrus.FieldLogger) SessionOption { return func(s *Session) { s.log = l } }

func NewSession(api *API, local, tab Storage, opts ...SessionOption) *Session {
	s := &Session{api: api, local: local, tab: tab, now: time.Now, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// tokenExpiry reads exp from the JWT payload. The signature is not checked here;
// the service validates every request on its own.
func tokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("read token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token carries no exp")
	}
	return claims.ExpiresAt.Time, nil
}

func clearTokens(st Storage) {
	_ = st.Delete(KeyToken)
	_ = st.Delete(KeyTokenExp)
}

// ===== sign in =====

func (s *Session) Login(ctx context.Context, email, password string, remember bool) (models.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	return s.adopt(res, remember)
}

func (s *Session) Register(ctx context.Context, email, password, name string, remember bool) (models.User, error) {
	res, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return models.User{}, err
	}
	return s.adopt(res, remember)
}

func (s *Session) SocialLogin(ctx context.Context, provider, idToken string, remember bool) (models.User, error) {
	res, err := s.api.SocialLogin(ctx, provider, idToken)
	if err != nil {
		return models.User{}, err
	}
	return s.adopt(res, remember)
}

func (s *Session) adopt(res AuthResponse, remember bool) (models.User, error) {
	exp, err := tokenExpiry(res.AccessToken)
	if err != nil {
		return models.User{}, err
	}
	if !exp.After(s.now()) {
		s.Logout()
		return models.User{}, ErrSessionExpired
	}
	keep, drop := s.tab, s.local
	if remember {
		keep, drop = s.local, s.tab
	}
	clearTokens(drop)
	if err := keep.Set(KeyToken, res.AccessToken); err != nil {
		return models.User{}, fmt.Errorf("store token: %w", err)
	}
	if err := keep.Set(KeyTokenExp, strconv.FormatInt(exp.UnixMilli(), 10)); err != nil {
		return models.User{}, fmt.Errorf("store token expiry: %w", err)
	}
	s.start(res.AccessToken, res.User, exp)
	return res.User, nil
}

// storedExpiry prefers the saved token_exp and falls back to the token itself.
func storedExpiry(st Storage, token string) (time.Time, bool) {
	if v, ok := st.Get(KeyTokenExp); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	}
	exp, err := tokenExpiry(token)
	return exp, err == nil
}

// Restore resumes a stored session, tab storage first. Expired entries are removed
// without calling the service.
func (s *Session) Restore(ctx context.Context) (models.User, error) {
	for _, st := range []Storage{s.tab, s.local} {
		token, ok := st.Get(KeyToken)
		if !ok || token == "" {
			continue
		}
		exp, ok := storedExpiry(st, token)
		if !ok || !exp.After(s.now()) {
			s.log.Info("dropping expired stored session")
			clearTokens(st)
			continue
		}
		s.start(token, models.User{}, exp)
		u, err := s.api.Me(ctx)
		if err != nil {
			if StatusOf(err) == http.StatusUnauthorized {
				s.Logout()
				return models.User{}, ErrSessionExpired
			}
			return models.User{}, err
		}
		s.mu.Lock()
		s.user = u
		s.mu.Unlock()
		return u, nil
	}
	return models.User{}, ErrNoSession
}

func (s *Session) start(token string, u models.User, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.token, s.user, s.expires = token, u, exp
	s.api.SetToken(token)
	s.timer = time.AfterFunc(exp.Sub(s.now()), func() { s.expire(gen) })
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	current := gen == s.gen && s.token != ""
	s.mu.Unlock()
	if !current {
		return
	}
	s.log.Info("session token expired, signing out")
	s.Logout()
}

// ===== sign out =====

// OnLogout registers fn to run after every logout, such as closing the realtime channel.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

// Logout clears both storages and the in-memory session. It does not call the service.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.token, s.user, s.expires = "", models.User{}, time.Time{}
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	s.api.SetToken("")
	clearTokens(s.local)
	clearTokens(s.tab)
	for _, fn := range hooks {
		fn()
	}
}

// SignOut unregisters fcmToken with the service, then logs out locally either way.
func (s *Session) SignOut(ctx context.Context, fcmToken string) error {
	var err error
	if s.IsAuthenticated() {
		err = s.api.Logout(ctx, fcmToken)
	}
	s.Logout()
	return err
}

// ===== state =====

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}
