// Package client is a Go SDK for the 밥상친구 service: REST calls, the STOMP realtime
// channel, and the session rules a front end builds on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alsseok01/babsang/internal/models"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status behind err, or 0 if err did not come from the service.
func StatusOf(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// API calls the REST endpoints under /api.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}
}

// BaseURL is the service root the API was built with.
func (a *API) BaseURL() string { return a.baseURL }

// SetToken sets the bearer token sent with every call; "" sends none.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *API) bearer() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, out)
}

func (a *API) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if t := a.bearer(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// ===== auth =====

type AuthResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	User        models.User `json:"user"`
}

func (a *API) Register(ctx context.Context, email, password, name string) (AuthResponse, error) {
	var out AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{"email": email, "password": password, "name": name}, &out)
	return out, err
}

func (a *API) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	var out AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, &out)
	return out, err
}

// SocialLogin exchanges a provider ID token for a session.
func (a *API) SocialLogin(ctx context.Context, provider, idToken string) (AuthResponse, error) {
	var out AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/social", map[string]string{"provider": provider, "idToken": idToken}, &out)
	return out, err
}

func (a *API) Me(ctx context.Context) (models.User, error) {
	var out models.User
	err := a.do(ctx, http.MethodGet, "/api/auth/me", nil, &out)
	return out, err
}

// Logout tells the service to forget fcmToken for this device.
func (a *API) Logout(ctx context.Context, fcmToken string) error {
	return a.do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{"fcmToken": fcmToken}, nil)
}

// ===== profile =====

// ProfileUpdate sends only the non-nil fields.
type ProfileUpdate struct {
	Name         *string         `json:"name,omitempty"`
	Age          *int            `json:"age,omitempty"`
	ProfileImage *string         `json:"profileImage,omitempty"`
	Bio          *string         `json:"bio,omitempty"`
	Preferences  map[string]bool `json:"preferences,omitempty"`
}

func (a *API) UpdateProfile(ctx context.Context, p ProfileUpdate) (models.User, error) {
	var out models.User
	err := a.do(ctx, http.MethodPut, "/api/user/profile", p, &out)
	return out, err
}

func (a *API) PublicProfile(ctx context.Context, uid string) (models.User, error) {
	var out models.User
	err := a.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(uid), nil, &out)
	return out, err
}

// ===== schedules =====

type ScheduleInput struct {
	Date            string  `json:"date"`
	Hour            int     `json:"hour"`
	PlaceName       string  `json:"placeName"`
	PlaceCategory   string  `json:"placeCategory"`
	PlaceAddress    string  `json:"placeAddress,omitempty"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	MaxParticipants int     `json:"maxParticipants"`
}

// Schedules lists open schedules; empty categories and zero days use the service defaults.
func (a *API) Schedules(ctx context.Context, categories []string, days int) ([]models.Schedule, error) {
	q := url.Values{}
	if len(categories) > 0 {
		q.Set("category", strings.Join(categories, ","))
	}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	path := "/api/schedules"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Schedule
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *API) RandomSchedule(ctx context.Context) (models.Schedule, error) {
	var out models.Schedule
	err := a.do(ctx, http.MethodGet, "/api/schedules/random", nil, &out)
	return out, err
}

func (a *API) MySchedules(ctx context.Context) ([]models.Schedule, error) {
	var out []models.Schedule
	err := a.do(ctx, http.MethodGet, "/api/schedules/my", nil, &out)
	return out, err
}

// Calendar returns the caller's schedules in month (yyyy-MM) keyed by date.
func (a *API) Calendar(ctx context.Context, month string) (map[string][]models.Schedule, error) {
	var out map[string][]models.Schedule
	err := a.do(ctx, http.MethodGet, "/api/schedules/calendar?month="+url.QueryEscape(month), nil, &out)
	return out, err
}

func (a *API) CreateSchedule(ctx context.Context, in ScheduleInput) (models.Schedule, error) {
	var out models.Schedule
	err := a.do(ctx, http.MethodPost, "/api/schedules", in, &out)
	return out, err
}

func (a *API) UpdateSchedule(ctx context.Context, id string, in ScheduleInput) (models.Schedule, error) {
	var out models.Schedule
	err := a.do(ctx, http.MethodPut, "/api/schedules/"+url.PathEscape(id), in, &out)
	return out, err
}

func (a *API) DeleteSchedule(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/schedules/"+url.PathEscape(id), nil, nil)
}

// ===== matches =====

func (a *API) RequestMatch(ctx context.Context, scheduleID string) (models.Match, error) {
	var out models.Match
	err := a.do(ctx, http.MethodPost, "/api/matches", map[string]string{"scheduleId": scheduleID}, &out)
	return out, err
}

func (a *API) MatchesReceived(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := a.do(ctx, http.MethodGet, "/api/matches/received", nil, &out)
	return out, err
}

func (a *API) MatchesSent(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := a.do(ctx, http.MethodGet, "/api/matches/sent", nil, &out)
	return out, err
}

func (a *API) matchAction(ctx context.Context, id, action string) (models.Match, error) {
	var out models.Match
	err := a.do(ctx, http.MethodPut, "/api/matches/"+url.PathEscape(id)+"/"+action, nil, &out)
	return out, err
}

func (a *API) AcceptMatch(ctx context.Context, id string) (models.Match, error) {
	return a.matchAction(ctx, id, "accept")
}

func (a *API) RejectMatch(ctx context.Context, id string) (models.Match, error) {
	return a.matchAction(ctx, id, "reject")
}

func (a *API) ConfirmMatch(ctx context.Context, id string) (models.Match, error) {
	return a.matchAction(ctx, id, "confirm")
}

func (a *API) DeleteMatch(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/matches/"+url.PathEscape(id), nil, nil)
}

func (a *API) ChatHistory(ctx context.Context, matchID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := a.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(matchID)+"/history", nil, &out)
	return out, err
}

// ===== board =====

type PostInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	Address   string   `json:"address,omitempty"`
	Latitude  float64  `json:"latitude,omitempty"`
	Longitude float64  `json:"longitude,omitempty"`
}

// Posts lists board posts; sort is "latest" or "popular".
func (a *API) Posts(ctx context.Context, tag, sort string) ([]models.Post, error) {
	q := url.Values{}
	if tag != "" {
		q.Set("tag", tag)
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	path := "/api/board"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Post
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *API) Post(ctx context.Context, id string) (models.Post, error) {
	var out models.Post
	err := a.do(ctx, http.MethodGet, "/api/board/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (a *API) CreatePost(ctx context.Context, in PostInput) (models.Post, error) {
	var out models.Post
	err := a.do(ctx, http.MethodPost, "/api/board", in, &out)
	return out, err
}

// UpdatePost edits the caller's own post.
func (a *API) UpdatePost(ctx context.Context, id string, in PostInput) (models.Post, error) {
	var out models.Post
	err := a.do(ctx, http.MethodPut, "/api/board/"+url.PathEscape(id), in, &out)
	return out, err
}

func (a *API) DeletePost(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/board/"+url.PathEscape(id), nil, nil)
}

// ViewPost bumps the view counter and returns the new count.
func (a *API) ViewPost(ctx context.Context, id string) (int, error) {
	var out struct {
		Views int `json:"views"`
	}
	err := a.do(ctx, http.MethodPost, "/api/board/"+url.PathEscape(id)+"/view", nil, &out)
	return out.Views, err
}

// LikePost toggles the caller's like.
func (a *API) LikePost(ctx context.Context, id string) (liked bool, likes int, err error) {
	var out struct {
		Liked bool `json:"liked"`
		Likes int  `json:"likes"`
	}
	err = a.do(ctx, http.MethodPost, "/api/board/"+url.PathEscape(id)+"/like", nil, &out)
	return out.Liked, out.Likes, err
}

// AddComment posts a comment, or a reply when parentID is set.
func (a *API) AddComment(ctx context.Context, postID, content, parentID string) (models.Comment, error) {
	var out models.Comment
	in := map[string]string{"content": content}
	if parentID != "" {
		in["parentId"] = parentID
	}
	err := a.do(ctx, http.MethodPost, "/api/board/"+url.PathEscape(postID)+"/comments", in, &out)
	return out, err
}

func (a *API) UpdateComment(ctx context.Context, postID, commentID, content string) (models.Comment, error) {
	var out models.Comment
	path := "/api/board/" + url.PathEscape(postID) + "/comments/" + url.PathEscape(commentID)
	err := a.do(ctx, http.MethodPut, path, map[string]string{"content": content}, &out)
	return out, err
}

func (a *API) DeleteComment(ctx context.Context, postID, commentID string) error {
	return a.do(ctx, http.MethodDelete, "/api/board/"+url.PathEscape(postID)+"/comments/"+url.PathEscape(commentID), nil, nil)
}

// ===== reviews =====

type IssuedCode struct {
	Code      string `json:"code"`
	QRPayload string `json:"qrPayload"`
	ExpiresAt string `json:"expiresAt"`
}

type ReviewInput struct {
	MatchID    string `json:"matchId"`
	RevieweeID string `json:"revieweeId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (a *API) IssueReviewCode(ctx context.Context, matchID string) (IssuedCode, error) {
	var out IssuedCode
	err := a.do(ctx, http.MethodPost, "/api/reviews/code", map[string]string{"matchId": matchID}, &out)
	return out, err
}

// VerifyReviewCode redeems a scanned or typed code and returns who may be reviewed.
func (a *API) VerifyReviewCode(ctx context.Context, code string) (models.ReviewTarget, error) {
	var out models.ReviewTarget
	err := a.do(ctx, http.MethodPost, "/api/reviews/verify", map[string]string{"code": code}, &out)
	return out, err
}

func (a *API) CreateReview(ctx context.Context, in ReviewInput) (models.Review, error) {
	var out models.Review
	err := a.do(ctx, http.MethodPost, "/api/reviews", in, &out)
	return out, err
}

func (a *API) MyReviews(ctx context.Context) ([]models.Review, error) {
	var out []models.Review
	err := a.do(ctx, http.MethodGet, "/api/reviews/my", nil, &out)
	return out, err
}

// WrittenReviews lists the reviews the caller wrote.
func (a *API) WrittenReviews(ctx context.Context) ([]models.Review, error) {
	var out []models.Review
	err := a.do(ctx, http.MethodGet, "/api/reviews/written", nil, &out)
	return out, err
}

// UserReviews lists the reviews another user received.
func (a *API) UserReviews(ctx context.Context, uid string) ([]models.Review, error) {
	var out []models.Review
	err := a.do(ctx, http.MethodGet, "/api/reviews/user/"+url.PathEscape(uid), nil, &out)
	return out, err
}

func (a *API) FeaturedReviews(ctx context.Context) ([]models.FeaturedReview, error) {
	var out []models.FeaturedReview
	err := a.do(ctx, http.MethodGet, "/api/ai/featured-reviews", nil, &out)
	return out, err
}

func (a *API) Recommendations(ctx context.Context) ([]models.Recommendation, error) {
	var out []models.Recommendation
	err := a.do(ctx, http.MethodGet, "/api/recommendations", nil, &out)
	return out, err
}

// ===== notifications =====

func (a *API) Notifications(ctx context.Context) ([]models.Notification, error) {
	var out []models.Notification
	err := a.do(ctx, http.MethodGet, "/api/notifications", nil, &out)
	return out, err
}

func (a *API) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := a.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &out)
	return out.Count, err
}

func (a *API) MarkNotificationsRead(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/api/notifications/read", nil, nil)
}

func (a *API) RegisterDevice(ctx context.Context, fcmToken string) error {
	return a.do(ctx, http.MethodPost, "/api/fcm/token", map[string]string{"token": fcmToken}, nil)
}

func (a *API) UnregisterDevice(ctx context.Context, fcmToken string) error {
	return a.do(ctx, http.MethodDelete, "/api/fcm/token", map[string]string{"token": fcmToken}, nil)
}

// ===== media =====

// UploadImage sends r as the multipart "file" field and returns the stored image URL.
func (a *API) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/images/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		URL string `json:"url"`
	}
	if err := a.send(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
