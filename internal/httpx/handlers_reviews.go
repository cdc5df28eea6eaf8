package httpx

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/alsseok01/babsang/internal/notify"
	"github.com/alsseok01/babsang/internal/store"
)

const (
	featuredLimit       = 10
	recommendationLimit = 10
)

// POST /api/reviews/code {matchId}
func HandleReviewCode(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			MatchID string `json:"matchId"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		uid := currentUID(r)
		if err := app.Store.CheckReviewCodeIssuer(uid, in.MatchID); err != nil {
			writeError(w, r, app, err)
			return
		}
		rc, err := app.Codes.Issue(r.Context(), in.MatchID, uid)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		// the QR code encodes the digits so scanning and typing take the same path
		writeJSON(w, http.StatusCreated, map[string]string{
			"code":      rc.Code,
			"qrPayload": rc.Code,
			"expiresAt": rc.ExpiresAt,
		})
	}
}

// POST /api/reviews/verify {code}
func HandleReviewVerify(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Code string `json:"code"`
		}
		if !decodeJSON(w, r, &in) {
			return
		}
		rc, err := app.Codes.Redeem(r.Context(), strings.TrimSpace(in.Code))
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		target, err := app.Store.RedeemReviewCode(currentUID(r), rc.MatchID, rc.IssuerID)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, target)
	}
}

// POST /api/reviews
func HandleCreateReview(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in store.ReviewInput
		if !decodeJSON(w, r, &in) {
			return
		}
		in.Comment = app.sanitize(in.Comment)
		rv, err := app.Store.CreateReview(currentUID(r), in)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		app.notify(notify.ReviewReceived(rv))
		writeJSON(w, http.StatusCreated, rv)
	}
}

// GET /api/reviews/my
func HandleMyReviews(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.ReviewsReceived(currentUID(r)))
	}
}

// GET /api/reviews/written
func HandleWrittenReviews(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.ReviewsWritten(currentUID(r)))
	}
}

// GET /api/reviews/user/{id}
func HandleUserReviews(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, ok := app.Store.GetUser(id); !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "user not found"})
			return
		}
		writeJSON(w, http.StatusOK, app.Store.ReviewsReceived(id))
	}
}

// GET /api/ai/featured-reviews
func HandleFeaturedReviews(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.FeaturedReviews(featuredLimit))
	}
}

// GET /api/recommendations
func HandleRecommendations(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Store.Recommendations(currentUID(r), recommendationLimit))
	}
}
