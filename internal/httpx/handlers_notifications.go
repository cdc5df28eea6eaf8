package httpx

import (
	"net/http"
	"strings"
)

// GET /api/notifications
func HandleNotifications(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.Notifications(currentUID(r)))
	}
}

// GET /api/notifications/unread-count
func HandleUnreadCount(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"count": app.Store.UnreadCount(currentUID(r))})
	}
}

// POST /api/notifications/read
func HandleMarkRead(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := app.Store.MarkAllRead(currentUID(r))
		writeJSON(w, http.StatusOK, map[string]int{"updated": n, "count": 0})
	}
}

// POST|DELETE /api/fcm/token {token}
func HandleFCMToken(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Token string `json:"token"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		token := strings.TrimSpace(in.Token)
		if token == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "token is required"})
			return
		}
		switch r.Method {
		case http.MethodPost:
			app.Store.RegisterDevice(currentUID(r), token)
		case http.MethodDelete:
			app.Store.RemoveUserDevice(currentUID(r), token)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
