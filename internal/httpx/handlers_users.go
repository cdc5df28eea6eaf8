package httpx

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/store"
)

// publicProfile is what other users see; it never includes the email.
type publicProfile struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Age           int             `json:"age,omitempty"`
	ProfileImage  string          `json:"profileImage,omitempty"`
	Bio           string          `json:"bio,omitempty"`
	Preferences   map[string]bool `json:"preferences"`
	AverageRating float64         `json:"averageRating"`
	ReviewCount   int             `json:"reviewCount"`
}

func toPublic(u models.User) publicProfile {
	return publicProfile{
		ID: u.ID, Name: u.Name, Age: u.Age, ProfileImage: u.ProfileImage, Bio: u.Bio,
		Preferences: u.Preferences, AverageRating: u.AverageRating, ReviewCount: u.ReviewCount,
	}
}

// GET|PUT /api/user/profile
func HandleProfile(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := currentUID(r)
		switch r.Method {
		case http.MethodGet:
			u, _ := app.Store.GetUser(uid)
			writeJSON(w, http.StatusOK, u)
		case http.MethodPut:
			var in store.ProfileUpdate
			if !decodeJSON(w, r, &in) {
				return
			}
			u, err := app.Store.UpdateProfile(uid, in, true)
			if err != nil {
				writeError(w, r, app, err)
				return
			}
			writeJSON(w, http.StatusOK, u)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// GET /api/users/{id}
func HandleUserPublic(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := app.Store.GetUser(mux.Vars(r)["id"])
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "user not found"})
			return
		}
		writeJSON(w, http.StatusOK, toPublic(u))
	}
}
