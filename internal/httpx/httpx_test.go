package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alsseok01/babsang/internal/auth"
	"github.com/alsseok01/babsang/internal/chat"
	"github.com/alsseok01/babsang/internal/config"
	"github.com/alsseok01/babsang/internal/logging"
	"github.com/alsseok01/babsang/internal/media"
	"github.com/alsseok01/babsang/internal/metrics"
	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/reviewcode"
	"github.com/alsseok01/babsang/internal/store"
)

type sink struct {
	mu   sync.Mutex
	list []models.Notification
}

func (s *sink) Notify(n models.Notification) models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, n)
	return n
}

func (s *sink) types(uid string) []models.NotificationType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationType
	for _, n := range s.list {
		if n.UserID == uid {
			out = append(out, n.Type)
		}
	}
	return out
}

type fakeVerifier struct{ id auth.Identity }

func (f fakeVerifier) Verify(_ context.Context, tok string) (auth.Identity, error) {
	if tok != "good" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return f.id, nil
}

type harness struct {
	t      *testing.T
	app    *AppCtx
	h      http.Handler
	notifs *sink
}

func newHarness(t *testing.T, opts RouterOptions) *harness {
	t.Helper()
	st := store.NewStore(
		store.WithClock(func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }),
		store.WithLocation(time.UTC),
		store.WithRandom(func(int) int { return 0 }),
	)
	uploads := t.TempDir()
	notifs := &sink{}
	log := logging.Discard()
	app := &AppCtx{
		Store:    st,
		Tokens:   auth.NewTokens("test-secret", time.Hour),
		Codes:    reviewcode.New(reviewcode.NewMemory(), reviewcode.DefaultTTL),
		Media:    media.NewLocal(uploads),
		Notifier: notifs,
		Chat:     chat.NewService(st, notifs, log),
		Metrics:  metrics.New(),
		Log:      log,
		Paths:    config.Paths{UploadsDir: uploads},
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{"*"}
	}
	return &harness{t: t, app: app, h: NewRouter(app, opts), notifs: notifs}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// register returns an access token and the user id.
func (h *harness) register(email, name string) (string, string) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "password1", "name": name})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[authResponse](h.t, rec)
	return res.AccessToken, res.User.ID
}

func TestRegisterLoginAndMe(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	token, uid := h.register("Min@Babsang.dev", "민")

	rec := h.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, uid, me["id"])
	assert.Equal(t, "min@babsang.dev", me["email"])
	assert.Equal(t, true, me["isNewUser"])
	assert.NotContains(t, me, "passwordHash")

	rec = h.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": "min@babsang.dev", "password": "password1", "name": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": "b@babsang.dev", "password": "short", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/api/auth/register", "", map[string]string{"email": "b@babsang.dev", "password": strings.Repeat("비밀번호", 7), "name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "MIN@babsang.dev", "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[authResponse](t, rec).AccessToken)

	rec = h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "min@babsang.dev", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", decode[errorBody](t, rec).Error)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	for _, path := range []string{"/api/schedules", "/api/matches/received", "/api/board", "/api/notifications", "/api/auth/me"} {
		assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, path, "", nil).Code, path)
		assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, path, "garbage", nil).Code, path)
	}

	expired, _, err := auth.NewTokens("test-secret", -time.Minute).Issue("someone", "x@babsang.dev")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/schedules", expired, nil).Code)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/ai/featured-reviews", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/nope", "", nil).Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newHarness(t, RouterOptions{LoginLimiter: NewRateLimiter(0.001, 2)})
	body := map[string]string{"email": "a@babsang.dev", "password": "password1"}
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/api/auth/login", "", body).Code)
	rec := h.do(http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLoginLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := newHarness(t, RouterOptions{LoginLimiter: NewRateLimiter(0.001, 2)})
	body, _ := json.Marshal(map[string]string{"email": "a@babsang.dev", "password": "password1"})
	login := func(remote, fwd string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.RemoteAddr = remote
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.h.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, login("203.0.113.7:4000", fmt.Sprintf("198.51.100.%d", i)))
	}
	assert.Equal(t, http.StatusTooManyRequests, login("203.0.113.7:4000", "198.51.100.99"))
	assert.Equal(t, http.StatusUnauthorized, login("203.0.113.8:4000", ""))
}

func TestLoginLimitTrustsConfiguredProxy(t *testing.T) {
	proxy := netip.MustParsePrefix("10.0.0.0/8")
	h := newHarness(t, RouterOptions{LoginLimiter: NewRateLimiter(0.001, 1, proxy)})
	body, _ := json.Marshal(map[string]string{"email": "a@babsang.dev", "password": "password1"})
	login := func(fwd string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.2"), "each client behind the proxy has its own bucket")
	// a spoofed left-most entry does not help: the proxy appended the real peer
	assert.Equal(t, http.StatusTooManyRequests, login("1.2.3.4, 198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.2, 10.0.0.9"))
}

func TestSocialLogin(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	rec := h.do(http.MethodPost, "/api/auth/social", "", map[string]string{"provider": "kakao", "idToken": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/api/auth/social", "", map[string]string{"provider": "google", "idToken": "good"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.app.Social = fakeVerifier{id: auth.Identity{Email: "g@gmail.com", Name: "구글", Picture: "https://img/p.png"}}
	rec = h.do(http.MethodPost, "/api/auth/social", "", map[string]string{"provider": "google", "idToken": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/api/auth/social", "", map[string]string{"provider": "google", "idToken": "good"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[authResponse](t, rec)
	assert.Equal(t, "구글", first.User.Name)
	assert.Equal(t, "https://img/p.png", first.User.ProfileImage)

	rec = h.do(http.MethodPost, "/api/auth/social", "", map[string]string{"provider": "google", "idToken": "good"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.User.ID, decode[authResponse](t, rec).User.ID)
}

func TestProfileSetupAndPublicView(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	token, uid := h.register("a@babsang.dev", "에이")
	other, _ := h.register("b@babsang.dev", "비")

	rec := h.do(http.MethodPut, "/api/user/profile", token, map[string]any{"age": 29, "preferences": map[string]bool{"맵짱이": true}})
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[models.User](t, rec)
	assert.False(t, u.IsNewUser)
	assert.Equal(t, 29, u.Age)

	rec = h.do(http.MethodPut, "/api/user/profile", token, map[string]any{"preferences": map[string]bool{"피자": true}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/users/"+uid, other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pub := decode[map[string]any](t, rec)
	assert.Equal(t, "에이", pub["name"])
	assert.NotContains(t, pub, "email")
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/users/missing", other, nil).Code)
}

func TestMatchingFlow(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	ownerTok, ownerID := h.register("owner@babsang.dev", "주인")
	guestTok, guestID := h.register("guest@babsang.dev", "손님")
	strangerTok, _ := h.register("s@babsang.dev", "남")

	rec := h.do(http.MethodPost, "/api/schedules", ownerTok, store.ScheduleInput{
		Date: "2026-03-05", Hour: 12, PlaceName: "을지면옥", PlaceCategory: "한식", MaxParticipants: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sc := decode[models.Schedule](t, rec)
	assert.Equal(t, models.MinParticipants, sc.MaxParticipants)

	rec = h.do(http.MethodGet, "/api/schedules?category="+url.QueryEscape("한식,카페"), guestTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Schedule](t, rec), 1)
	rec = h.do(http.MethodGet, "/api/schedules?category="+url.QueryEscape("카페"), guestTok, nil)
	assert.Empty(t, decode[[]models.Schedule](t, rec))
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/schedules?days=x", guestTok, nil).Code)

	rec = h.do(http.MethodGet, "/api/schedules/random", guestTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sc.ID, decode[models.Schedule](t, rec).ID)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/schedules/random", ownerTok, nil).Code)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/matches", ownerTok, map[string]string{"scheduleId": sc.ID}).Code)
	rec = h.do(http.MethodPost, "/api/matches", guestTok, map[string]string{"scheduleId": sc.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	m := decode[models.Match](t, rec)
	assert.Equal(t, models.MatchPending, m.Status)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/matches", guestTok, map[string]string{"scheduleId": sc.ID}).Code)
	assert.Equal(t, []models.NotificationType{models.NotifyMatchRequest}, h.notifs.types(ownerID))

	rec = h.do(http.MethodGet, "/api/matches/received", ownerTok, nil)
	assert.Len(t, decode[[]models.Match](t, rec), 1)
	rec = h.do(http.MethodGet, "/api/matches/sent", guestTok, nil)
	assert.Len(t, decode[[]models.Match](t, rec), 1)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/api/matches/"+m.ID+"/accept", guestTok, nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPut, "/api/matches/"+m.ID+"/confirm", guestTok, nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/api/matches/"+m.ID+"/accept", ownerTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/api/matches/"+m.ID+"/cancel", ownerTok, nil).Code)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/chat/"+m.ID+"/history", guestTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/chat/"+m.ID+"/history", strangerTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/matches/"+m.ID, strangerTok, nil).Code)

	rec = h.do(http.MethodPut, "/api/matches/"+m.ID+"/confirm", guestTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.MatchConfirmed, decode[models.Match](t, rec).Status)
	assert.Equal(t, []models.NotificationType{models.NotifyMatchAccepted}, h.notifs.types(guestID))
	assert.Equal(t, []models.NotificationType{models.NotifyMatchRequest, models.NotifyMatchConfirmed}, h.notifs.types(ownerID))

	rec = h.do(http.MethodGet, "/api/schedules/"+sc.ID, ownerTok, nil)
	assert.Equal(t, 2, decode[models.Schedule](t, rec).CurrentParticipants)

	rec = h.do(http.MethodGet, "/api/schedules/calendar?month=2026-03", guestTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.Schedule](t, rec)["2026-03-05"], 1)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/schedules/calendar?month=march", guestTok, nil).Code)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/matches/"+m.ID, guestTok, nil).Code)
}

func TestDeleteScheduleTellsWaitingRequesters(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	ownerTok, _ := h.register("owner@babsang.dev", "주인")
	guestTok, guestID := h.register("guest@babsang.dev", "손님")
	sc := decode[models.Schedule](t, h.do(http.MethodPost, "/api/schedules", ownerTok, store.ScheduleInput{
		Date: "2026-03-05", Hour: 12, PlaceName: "을지면옥", PlaceCategory: "한식",
	}))
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/matches", guestTok, map[string]string{"scheduleId": sc.ID}).Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, "/api/schedules/"+sc.ID, guestTok, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/schedules/"+sc.ID, ownerTok, nil).Code)
	assert.Equal(t, []models.NotificationType{models.NotifyMatchRejected}, h.notifs.types(guestID))
	assert.Empty(t, decode[[]models.Match](t, h.do(http.MethodGet, "/api/matches/sent", guestTok, nil)))
}

func TestReviewFlow(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	ownerTok, ownerID := h.register("owner@babsang.dev", "주인")
	guestTok, _ := h.register("guest@babsang.dev", "손님")
	sc := decode[models.Schedule](t, h.do(http.MethodPost, "/api/schedules", ownerTok, store.ScheduleInput{
		Date: "2026-03-05", Hour: 12, PlaceName: "을지면옥", PlaceCategory: "한식",
	}))
	m := decode[models.Match](t, h.do(http.MethodPost, "/api/matches", guestTok, map[string]string{"scheduleId": sc.ID}))

	// not confirmed yet
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/reviews/code", ownerTok, map[string]string{"matchId": m.ID}).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/api/matches/"+m.ID+"/accept", ownerTok, nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/api/matches/"+m.ID+"/confirm", ownerTok, nil).Code)

	rec := h.do(http.MethodPost, "/api/reviews/code", ownerTok, map[string]string{"matchId": m.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	code := decode[map[string]string](t, rec)
	assert.Len(t, code["code"], 6)
	assert.Equal(t, code["code"], code["qrPayload"])

	review := map[string]any{"matchId": m.ID, "revieweeId": ownerID, "rating": 5, "comment": "맛있었어요<script>x</script>"}
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/reviews", guestTok, review).Code)

	rec = h.do(http.MethodPost, "/api/reviews/verify", guestTok, map[string]string{"code": code["code"]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	target := decode[models.ReviewTarget](t, rec)
	assert.Equal(t, ownerID, target.OpponentID)
	assert.Equal(t, "주인", target.OpponentName)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/reviews/verify", guestTok, map[string]string{"code": code["code"]}).Code)

	bad := map[string]any{"matchId": m.ID, "revieweeId": ownerID, "rating": 6}
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/reviews", guestTok, bad).Code)

	rec = h.do(http.MethodPost, "/api/reviews", guestTok, review)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "맛있었어요", decode[models.Review](t, rec).Comment)
	assert.Contains(t, h.notifs.types(ownerID), models.NotifyReviewReceived)

	mine := decode[[]models.Review](t, h.do(http.MethodGet, "/api/reviews/my", ownerTok, nil))
	require.Len(t, mine, 1)
	assert.Equal(t, "손님", mine[0].Reviewer.Name)
	assert.Len(t, decode[[]models.Review](t, h.do(http.MethodGet, "/api/reviews/written", guestTok, nil)), 1)
	assert.Len(t, decode[[]models.Review](t, h.do(http.MethodGet, "/api/reviews/user/"+ownerID, guestTok, nil)), 1)

	me := decode[models.User](t, h.do(http.MethodGet, "/api/auth/me", ownerTok, nil))
	assert.Equal(t, 1, me.ReviewCount)
	assert.InDelta(t, 5.0, me.AverageRating, 0.001)

	featured := decode[[]models.FeaturedReview](t, h.do(http.MethodGet, "/api/ai/featured-reviews", "", nil))
	require.Len(t, featured, 1)
	assert.Equal(t, 5, featured[0].Rating)
}

func TestBoardFlow(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	aTok, _ := h.register("a@babsang.dev", "에이")
	bTok, _ := h.register("b@babsang.dev", "비")

	rec := h.do(http.MethodPost, "/api/board", aTok, store.PostInput{
		Title: "을지로 냉면", Content: `<p onclick="x()">최고</p><script>alert(1)</script>`, Tags: []string{"#냉면"}, Address: "서울 중구",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[models.Post](t, rec)
	assert.Equal(t, "<p>최고</p>", p.Content)
	assert.Equal(t, []string{"냉면"}, p.Tags)

	assert.Len(t, decode[[]models.Post](t, h.do(http.MethodGet, "/api/board?tag="+url.QueryEscape("냉면"), bTok, nil)), 1)
	assert.Empty(t, decode[[]models.Post](t, h.do(http.MethodGet, "/api/board?tag="+url.QueryEscape("피자"), bTok, nil)))

	like := decode[map[string]any](t, h.do(http.MethodPost, "/api/board/"+p.ID+"/like", bTok, nil))
	assert.Equal(t, true, like["liked"])
	assert.Equal(t, float64(1), like["likes"])
	like = decode[map[string]any](t, h.do(http.MethodPost, "/api/board/"+p.ID+"/like", bTok, nil))
	assert.Equal(t, false, like["liked"])

	views := decode[map[string]int](t, h.do(http.MethodPost, "/api/board/"+p.ID+"/view", bTok, nil))
	assert.Equal(t, 1, views["views"])

	rec = h.do(http.MethodPost, "/api/board/"+p.ID+"/comments", bTok, map[string]string{"content": "가보고 싶네요"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[models.Comment](t, rec)
	rec = h.do(http.MethodPost, "/api/board/"+p.ID+"/comments", aTok, map[string]string{"content": "꼭 가보세요", "parentId": c.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/api/board/"+p.ID+"/comments/"+c.ID, aTok, map[string]string{"content": "수정"}).Code)
	rec = h.do(http.MethodPut, "/api/board/"+p.ID+"/comments/"+c.ID, bTok, map[string]string{"content": " 꼭 갈게요 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "꼭 갈게요", decode[models.Comment](t, rec).Content)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, "/api/board/"+p.ID+"/comments/"+c.ID, aTok, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/board/"+p.ID+"/comments/"+c.ID, bTok, nil).Code)
	got := decode[models.Post](t, h.do(http.MethodGet, "/api/board/"+p.ID, bTok, nil))
	assert.Empty(t, got.Comments, "replies go with their parent")

	recs := decode[[]models.Recommendation](t, h.do(http.MethodGet, "/api/recommendations", bTok, nil))
	require.Len(t, recs, 1)
	assert.Equal(t, p.ID, recs[0].ID)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/api/board/"+p.ID, bTok, store.PostInput{Title: "x", Content: "y"}).Code)
	rec = h.do(http.MethodPut, "/api/board/"+p.ID, aTok, store.PostInput{Title: "을지로 평양냉면", Content: "최고", Tags: []string{"#평양냉면"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[models.Post](t, rec)
	assert.Equal(t, "을지로 평양냉면", edited.Title)
	assert.Equal(t, []string{"평양냉면"}, edited.Tags)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/board/"+p.ID, aTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/board/"+p.ID, aTok, nil).Code)
}

func TestNotificationsAndDevices(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	token, uid := h.register("a@babsang.dev", "에이")
	h.app.Store.AddNotification(models.Notification{UserID: uid, Type: models.NotifyMatchRequest, Message: "x"})
	h.app.Store.AddNotification(models.Notification{UserID: uid, Type: models.NotifyChatMessage, Message: "y"})

	assert.Equal(t, 2, decode[map[string]int](t, h.do(http.MethodGet, "/api/notifications/unread-count", token, nil))["count"])
	list := decode[[]models.Notification](t, h.do(http.MethodGet, "/api/notifications", token, nil))
	require.Len(t, list, 2)
	assert.Equal(t, models.NotifyChatMessage, list[0].Type)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/notifications/read", token, nil).Code)
	assert.Equal(t, 0, decode[map[string]int](t, h.do(http.MethodGet, "/api/notifications/unread-count", token, nil))["count"])

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/fcm/token", token, map[string]string{"token": "fcm-1"}).Code)
	assert.Equal(t, []string{"fcm-1"}, h.app.Store.DeviceTokens(uid))
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/fcm/token", token, map[string]string{"token": " "}).Code)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/auth/logout", token, map[string]string{"fcmToken": "fcm-1"}).Code)
	assert.Empty(t, h.app.Store.DeviceTokens(uid))
}

func TestLogoutOnlyDropsOwnDevice(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	aTok, _ := h.register("a@babsang.dev", "에이")
	bTok, bID := h.register("b@babsang.dev", "비")
	require.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/fcm/token", bTok, map[string]string{"token": "fcm-b"}).Code)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/auth/logout", aTok, map[string]string{"fcmToken": "fcm-b"}).Code)
	assert.Equal(t, []string{"fcm-b"}, h.app.Store.DeviceTokens(bID))
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/fcm/token", aTok, map[string]string{"token": "fcm-b"}).Code)
	assert.Equal(t, []string{"fcm-b"}, h.app.Store.DeviceTokens(bID))

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/auth/logout", bTok, map[string]string{"fcmToken": "fcm-b"}).Code)
	assert.Empty(t, h.app.Store.DeviceTokens(bID))
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	h := newHarness(t, RouterOptions{})
	token, _ := h.register("a@babsang.dev", "에이")
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	body, ctype := multipartBody(t, "냉면 사진.png", png)
	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := decode[map[string]string](t, rec)["url"]
	assert.Regexp(t, `^/uploads/\d{8}T\d{6}\.\d{3}_[-\w]+\.png$`, loc)

	get := httptest.NewRecorder()
	h.h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, loc, nil))
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, png, get.Body.Bytes())

	body, ctype = multipartBody(t, "notes.txt", []byte("just text"))
	req = httptest.NewRequest(http.MethodPost, "/api/images/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	app := &AppCtx{Log: logging.Discard()}
	cases := map[error]int{
		fmt.Errorf("x: %w", store.ErrNotFound):  http.StatusNotFound,
		fmt.Errorf("x: %w", store.ErrForbidden): http.StatusForbidden,
		fmt.Errorf("x: %w", store.ErrConflict):  http.StatusConflict,
		fmt.Errorf("x: %w", store.ErrInvalid):   http.StatusBadRequest,
		reviewcode.ErrUnknownCode:               http.StatusNotFound,
		media.ErrUnsupportedType:                http.StatusBadRequest,
		auth.ErrSocialDisabled:                  http.StatusServiceUnavailable,
		auth.ErrPasswordTooLong:                 http.StatusBadRequest,
		errors.New("disk on fire"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), app, err)
		assert.Equal(t, want, rec.Code, err.Error())
	}
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), app, errors.New("disk on fire"))
	assert.Equal(t, "internal error", decode[errorBody](t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, RouterOptions{AllowedOrigins: []string{"https://babsang.app"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/schedules", nil)
	req.Header.Set("Origin", "https://babsang.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	// browsers send the requested header names lowercased
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "https://babsang.app", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization,content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}
