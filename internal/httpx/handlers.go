package httpx

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	LoginLimiter   *RateLimiter // nil disables login throttling
}

// NewRouter wires every route. Everything under /api needs a bearer token except
// register, login, social login and featured reviews.
func NewRouter(app *AppCtx, opts RouterOptions) http.Handler {
	if app.sanitizer == nil {
		app.sanitizer = bluemonday.UGCPolicy()
	}
	r := mux.NewRouter()
	if app.Metrics != nil {
		r.Use(app.Metrics.Middleware)
		r.Handle("/metrics", app.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.Use(RequestLogger(app.Log))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if app.Paths.UploadsDir != "" {
		r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.Paths.UploadsDir))))
	}
	if app.Realtime != nil {
		r.Handle("/ws", app.Realtime)
	}

	api := r.PathPrefix("/api").Subrouter()
	authed := func(h http.HandlerFunc) http.HandlerFunc { return WithAuth(app, h) }

	// ---- Auth ----
	login := HandleLogin(app)
	if opts.LoginLimiter != nil {
		login = opts.LoginLimiter.Wrap(login)
	}
	api.HandleFunc("/auth/register", HandleRegister(app)).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", login).Methods(http.MethodPost)
	api.HandleFunc("/auth/social", HandleSocialLogin(app)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", authed(HandleMe(app))).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", authed(HandleLogout(app))).Methods(http.MethodPost)

	// ---- Users ----
	api.HandleFunc("/user/profile", authed(HandleProfile(app))).Methods(http.MethodGet, http.MethodPut)
	api.HandleFunc("/users/{id}", authed(HandleUserPublic(app))).Methods(http.MethodGet)

	// ---- Schedules ----
	api.HandleFunc("/schedules", authed(HandleSchedules(app))).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/schedules/random", authed(HandleRandomSchedule(app))).Methods(http.MethodGet)
	api.HandleFunc("/schedules/my", authed(HandleMySchedules(app))).Methods(http.MethodGet)
	api.HandleFunc("/schedules/calendar", authed(HandleCalendar(app))).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", authed(HandleScheduleDetail(app))).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)

	// ---- Matches ----
	api.HandleFunc("/matches", authed(HandleRequestMatch(app))).Methods(http.MethodPost)
	api.HandleFunc("/matches/received", authed(HandleMatchesReceived(app))).Methods(http.MethodGet)
	api.HandleFunc("/matches/sent", authed(HandleMatchesSent(app))).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}", authed(HandleMatchDetail(app))).Methods(http.MethodGet, http.MethodDelete)
	api.HandleFunc("/matches/{id}/{action:accept|reject|confirm}", authed(HandleMatchAction(app))).Methods(http.MethodPut)

	// ---- Chat ----
	api.HandleFunc("/chat/{matchId}/history", authed(HandleChatHistory(app))).Methods(http.MethodGet)

	// ---- Board ----
	api.HandleFunc("/board", authed(HandleBoard(app))).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/board/{id}", authed(HandleBoardDetail(app))).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	api.HandleFunc("/board/{id}/view", authed(HandleBoardView(app))).Methods(http.MethodPost)
	api.HandleFunc("/board/{id}/like", authed(HandleBoardLike(app))).Methods(http.MethodPost)
	api.HandleFunc("/board/{id}/comments", authed(HandleComments(app))).Methods(http.MethodPost)
	api.HandleFunc("/board/{id}/comments/{commentId}", authed(HandleCommentDetail(app))).Methods(http.MethodPut, http.MethodDelete)

	// ---- Reviews / recommendations ----
	api.HandleFunc("/reviews", authed(HandleCreateReview(app))).Methods(http.MethodPost)
	api.HandleFunc("/reviews/code", authed(HandleReviewCode(app))).Methods(http.MethodPost)
	api.HandleFunc("/reviews/verify", authed(HandleReviewVerify(app))).Methods(http.MethodPost)
	api.HandleFunc("/reviews/my", authed(HandleMyReviews(app))).Methods(http.MethodGet)
	api.HandleFunc("/reviews/written", authed(HandleWrittenReviews(app))).Methods(http.MethodGet)
	api.HandleFunc("/reviews/user/{id}", authed(HandleUserReviews(app))).Methods(http.MethodGet)
	api.HandleFunc("/ai/featured-reviews", HandleFeaturedReviews(app)).Methods(http.MethodGet)
	api.HandleFunc("/recommendations", authed(HandleRecommendations(app))).Methods(http.MethodGet)

	// ---- Notifications ----
	api.HandleFunc("/notifications", authed(HandleNotifications(app))).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", authed(HandleUnreadCount(app))).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read", authed(HandleMarkRead(app))).Methods(http.MethodPost)
	api.HandleFunc("/fcm/token", authed(HandleFCMToken(app))).Methods(http.MethodPost, http.MethodDelete)

	// ---- Upload ----
	api.HandleFunc("/images/upload", authed(HandleUpload(app))).Methods(http.MethodPost)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)
}
