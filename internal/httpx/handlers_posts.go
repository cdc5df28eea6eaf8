package httpx

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alsseok01/babsang/internal/store"
)

// GET /api/board?tag=&sort=latest|popular; POST /api/board
func HandleBoard(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			writeJSON(w, http.StatusOK, app.Store.ListPosts(q.Get("tag"), q.Get("sort")))

		case http.MethodPost:
			var in store.PostInput
			if !decodeJSON(w, r, &in) {
				return
			}
			in.Content = app.sanitize(in.Content)
			p, err := app.Store.CreatePost(currentUID(r), in)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusCreated, p)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// GET|PUT|DELETE /api/board/{id}
func HandleBoardDetail(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		switch r.Method {
		case http.MethodGet:
			p, ok := app.Store.GetPost(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "post not found"})
				return
			}
			writeJSON(w, http.StatusOK, p)

		case http.MethodPut:
			var in store.PostInput
			if !decodeJSON(w, r, &in) {
				return
			}
			in.Content = app.sanitize(in.Content)
			p, err := app.Store.UpdatePost(currentUID(r), id, in)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusOK, p)

		case http.MethodDelete:
			if err := app.Store.DeletePost(currentUID(r), id); err != nil {
				writeError(w, r, app, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// POST /api/board/{id}/view
func HandleBoardView(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := app.Store.IncrementViews(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"views": p.Views})
	}
}

// POST /api/board/{id}/like toggles the caller's like.
func HandleBoardLike(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, liked, err := app.Store.ToggleLike(currentUID(r), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"liked": liked, "likes": p.Likes})
	}
}

type commentInput struct {
	Content  string `json:"content"`
	ParentID string `json:"parentId"`
}

// POST /api/board/{id}/comments
func HandleComments(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in commentInput
		if !decodeJSON(w, r, &in) {
			return
		}
		c, err := app.Store.AddComment(currentUID(r), mux.Vars(r)["id"], app.sanitize(in.Content), in.ParentID)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

// PUT|DELETE /api/board/{id}/comments/{commentId}
func HandleCommentDetail(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		vars := mux.Vars(r)
		switch r.Method {
		case http.MethodPut:
			var in commentInput
			if !decodeJSON(w, r, &in) {
				return
			}
			c, err := app.Store.UpdateComment(uid, vars["id"], vars["commentId"], app.sanitize(in.Content))
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusOK, c)

		case http.MethodDelete:
			if err := app.Store.DeleteComment(uid, vars["id"], vars["commentId"]); err != nil {
				writeError(w, r, app, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
