package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/alsseok01/babsang/internal/auth"
	"github.com/alsseok01/babsang/internal/chat"
	"github.com/alsseok01/babsang/internal/config"
	"github.com/alsseok01/babsang/internal/media"
	"github.com/alsseok01/babsang/internal/metrics"
	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/reviewcode"
	"github.com/alsseok01/babsang/internal/store"
)

type ctxKey string

const uidKey ctxKey = "uid"

// Notifier delivers a notification to its user.
type Notifier interface {
	Notify(n models.Notification) models.Notification
}

type AppCtx struct {
	Store    *store.Store
	Tokens   *auth.Tokens
	Social   auth.SocialVerifier // nil when Firebase is not configured
	Codes    *reviewcode.Codes
	Media    media.Uploader
	Notifier Notifier
	Chat     *chat.Service
	Realtime http.Handler // STOMP endpoint served at /ws
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
	Paths    config.Paths

	sanitizer *bluemonday.Policy
}

// sanitize strips unsafe markup from user HTML; NewRouter installs the policy.
func (app *AppCtx) sanitize(html string) string {
	return app.sanitizer.Sanitize(html)
}

func (app *AppCtx) notify(n models.Notification) {
	if app.Notifier != nil && n.UserID != "" {
		app.Notifier.Notify(n)
	}
}

func currentUID(r *http.Request) string {
	if v := r.Context().Value(uidKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithAuth requires a valid access token for an existing user.
func WithAuth(app *AppCtx, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := auth.BearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		claims, err := app.Tokens.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
			return
		}
		if _, ok := app.Store.GetUser(claims.Subject); !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unknown user"})
			return
		}
		ctx := context.WithValue(r.Context(), uidKey, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}

// TokenUser resolves a token to a user id for the STOMP handshake.
func TokenUser(app *AppCtx) func(token string) (string, error) {
	return func(token string) (string, error) {
		claims, err := app.Tokens.Parse(token)
		if err != nil {
			return "", err
		}
		if _, ok := app.Store.GetUser(claims.Subject); !ok {
			return "", store.ErrNotFound
		}
		return claims.Subject, nil
	}
}

// ===== responses =====

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, app *AppCtx, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, reviewcode.ErrUnknownCode):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalid), errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, media.ErrUnsupportedType):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrSocialDisabled):
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		app.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a JSON body into v and answers 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return false
	}
	return true
}

// ===== access log =====

func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
			next.ServeHTTP(rec, r)
			entry := log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.Status,
				"duration": time.Since(start).String(),
				"remote":   remoteHost(r),
			})
			switch {
			case rec.Status >= 500:
				entry.Warn("request")
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				entry.Debug("request")
			default:
				entry.Info("request")
			}
		})
	}
}

// ===== rate limiting =====

// RateLimiter keeps one token bucket per client IP. The client IP is the
// connection peer unless that peer is a trusted proxy, in which case the
// nearest untrusted hop of X-Forwarded-For is used.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	trusted  []netip.Prefix
	now      func() time.Time
	swept    time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdle = 10 * time.Minute

func NewRateLimiter(perSecond float64, burst int, trustedProxies ...netip.Prefix) *RateLimiter {
	return &RateLimiter{
		limiters: map[string]*visitor{},
		rate:     rate.Limit(perSecond),
		burst:    burst,
		trusted:  trustedProxies,
		now:      time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now
	if now.Sub(rl.swept) > visitorIdle {
		for k, other := range rl.limiters {
			if now.Sub(other.lastSeen) > visitorIdle {
				delete(rl.limiters, k)
			}
		}
		rl.swept = now
	}
	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many attempts, try again shortly"})
			return
		}
		next(w, r)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	host := remoteHost(r)
	peer, err := netip.ParseAddr(host)
	if err != nil || !rl.isTrusted(peer) {
		return host
	}
	// walk right to left: every hop we trust appended the one before it
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !rl.isTrusted(hop) {
			return hop.Unmap().String()
		}
		peer = hop
	}
	return peer.Unmap().String()
}

func (rl *RateLimiter) isTrusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
