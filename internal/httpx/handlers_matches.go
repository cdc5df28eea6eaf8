package httpx

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/notify"
)

// POST /api/matches {scheduleId}
func HandleRequestMatch(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			ScheduleID string `json:"scheduleId"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		m, err := app.Store.RequestMatch(currentUID(r), in.ScheduleID)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		app.notify(notify.MatchRequested(m))
		writeJSON(w, http.StatusCreated, m)
	}
}

// GET /api/matches/received
func HandleMatchesReceived(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.MatchesReceived(currentUID(r)))
	}
}

// GET /api/matches/sent
func HandleMatchesSent(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.MatchesSent(currentUID(r)))
	}
}

// GET|DELETE /api/matches/{id}
func HandleMatchDetail(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		id := mux.Vars(r)["id"]
		switch r.Method {
		case http.MethodGet:
			m, ok := app.Store.GetMatch(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "match not found"})
				return
			}
			if !m.Participant(uid) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "not a participant"})
				return
			}
			writeJSON(w, http.StatusOK, m)

		case http.MethodDelete:
			if err := app.Store.DeleteMatch(uid, id); err != nil {
				writeError(w, r, app, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// PUT /api/matches/{id}/accept|reject|confirm
func HandleMatchAction(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		vars := mux.Vars(r)
		var (
			m   models.Match
			err error
		)
		switch vars["action"] {
		case "accept":
			if m, err = app.Store.AcceptMatch(uid, vars["id"]); err == nil {
				app.notify(notify.MatchAccepted(m))
			}
		case "reject":
			if m, err = app.Store.RejectMatch(uid, vars["id"]); err == nil {
				app.notify(notify.MatchRejected(m))
			}
		case "confirm":
			if m, err = app.Store.ConfirmMatch(uid, vars["id"]); err == nil {
				app.notify(notify.MatchConfirmed(m, uid))
			}
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// GET /api/chat/{matchId}/history
func HandleChatHistory(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := app.Chat.History(currentUID(r), mux.Vars(r)["matchId"])
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
