package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/notify"
	"github.com/alsseok01/babsang/internal/store"
)

// GET /api/schedules?category=한식,카페&days=21; POST /api/schedules
func HandleSchedules(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		switch r.Method {
		case http.MethodGet:
			q := store.ScheduleQuery{}
			if c := r.URL.Query().Get("category"); c != "" {
				q.Categories = strings.Split(c, ",")
			}
			if d := r.URL.Query().Get("days"); d != "" {
				n, err := strconv.Atoi(d)
				if err != nil || n < 0 {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "days must be a positive number"})
					return
				}
				q.Days = n
			}
			writeJSON(w, http.StatusOK, app.Store.ListOpenSchedules(uid, q))

		case http.MethodPost:
			var in store.ScheduleInput
			if !decodeJSON(w, r, &in) {
				return
			}
			sc, err := app.Store.CreateSchedule(uid, in)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusCreated, sc)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// GET /api/schedules/random
func HandleRandomSchedule(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := app.Store.RandomSchedule(currentUID(r))
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

// GET /api/schedules/my
func HandleMySchedules(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.UserSchedules(currentUID(r)))
	}
}

// GET /api/schedules/calendar?month=2026-03
func HandleCalendar(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := r.URL.Query().Get("month")
		if month == "" {
			month = app.Store.Today().Format("2006-01")
		}
		cal, err := app.Store.Calendar(currentUID(r), month)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, cal)
	}
}

// GET|PUT|DELETE /api/schedules/{id}
func HandleScheduleDetail(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		id := mux.Vars(r)["id"]
		switch r.Method {
		case http.MethodGet:
			sc, ok := app.Store.GetSchedule(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "schedule not found"})
				return
			}
			writeJSON(w, http.StatusOK, sc)

		case http.MethodPut:
			var in store.ScheduleInput
			if !decodeJSON(w, r, &in) {
				return
			}
			sc, err := app.Store.UpdateSchedule(uid, id, in)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusOK, sc)

		case http.MethodDelete:
			dropped, err := app.Store.DeleteSchedule(uid, id)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			// requesters still waiting on the schedule hear that it is gone
			for _, m := range dropped {
				if m.Status == models.MatchPending || m.Status == models.MatchAccepted {
					app.notify(notify.MatchRejected(m))
				}
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
