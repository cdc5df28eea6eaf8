package httpx

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alsseok01/babsang/internal/auth"
	"github.com/alsseok01/babsang/internal/models"
)

type authResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	User        models.User `json:"user"`
}

func issueSession(app *AppCtx, w http.ResponseWriter, r *http.Request, status int, u models.User) {
	token, exp, err := app.Tokens.Issue(u.ID, u.Email)
	if err != nil {
		writeError(w, r, app, err)
		return
	}
	writeJSON(w, status, authResponse{AccessToken: token, ExpiresAt: exp, User: u})
}

// POST /api/auth/register
func HandleRegister(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		u, err := app.Store.CreateUser(in.Email, in.Name, hash, "local")
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		app.Log.WithField("user_id", u.ID).Info("user registered")
		issueSession(app, w, r, http.StatusCreated, u)
	}
}

// POST /api/auth/login
func HandleLogin(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		u, ok := app.Store.UserByEmail(in.Email)
		if !ok || !auth.CheckPassword(u.PasswordHash, in.Password) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid email or password"})
			return
		}
		issueSession(app, w, r, http.StatusOK, u)
	}
}

// POST /api/auth/social
func HandleSocialLogin(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Provider string `json:"provider"`
			IDToken  string `json:"idToken"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		if strings.ToLower(in.Provider) != "google" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported provider: " + in.Provider})
			return
		}
		if app.Social == nil {
			writeError(w, r, app, auth.ErrSocialDisabled)
			return
		}
		id, err := app.Social.Verify(r.Context(), in.IDToken)
		if errors.Is(err, auth.ErrSocialDisabled) {
			writeError(w, r, app, err)
			return
		}
		if err != nil {
			app.Log.WithError(err).Info("social token rejected")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid id token"})
			return
		}
		u, err := app.Store.UpsertSocialUser(id.Email, id.Name, id.Picture, "google")
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		issueSession(app, w, r, http.StatusOK, u)
	}
}

// GET /api/auth/me
func HandleMe(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := app.Store.GetUser(currentUID(r))
		writeJSON(w, http.StatusOK, u)
	}
}

// POST /api/auth/logout {fcmToken?}
func HandleLogout(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			FCMToken string `json:"fcmToken"`
		}
		if r.ContentLength != 0 && !decodeJSON(w, r, &in) {
			return
		}
		if in.FCMToken != "" {
			app.Store.RemoveUserDevice(currentUID(r), in.FCMToken)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
