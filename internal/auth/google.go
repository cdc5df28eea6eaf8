package auth

import (
	"context"
	"errors"
	"fmt"

	fbauth "firebase.google.com/go/v4/auth"
)

// Identity is what a verified social ID token says about its holder.
type Identity struct {
	UID      string
	Email    string
	Name     string
	Picture  string
	Provider string
}

// SocialVerifier turns a provider ID token into an Identity.
type SocialVerifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

var ErrSocialDisabled = errors.New("social login is not configured")

// IDTokenVerifier is the part of *fbauth.Client that FirebaseVerifier uses.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier checks Google ID tokens minted by Firebase Auth. Only
// tokens from the google.com provider with a verified email are accepted.
type FirebaseVerifier struct {
	Client IDTokenVerifier
}

func (v FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if v.Client == nil {
		return Identity{}, ErrSocialDisabled
	}
	tok, err := v.Client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	str := func(k string) string {
		if s, ok := tok.Claims[k].(string); ok {
			return s
		}
		return ""
	}
	if p := tok.Firebase.SignInProvider; p != "google.com" {
		return Identity{}, fmt.Errorf("%w: sign-in provider %q", ErrInvalidToken, p)
	}
	if verified, _ := tok.Claims["email_verified"].(bool); !verified {
		return Identity{}, fmt.Errorf("%w: email not verified", ErrInvalidToken)
	}
	id := Identity{UID: tok.UID, Email: str("email"), Name: str("name"), Picture: str("picture"), Provider: "google"}
	if id.Email == "" {
		return Identity{}, fmt.Errorf("%w: token carries no email", ErrInvalidToken)
	}
	return id, nil
}
