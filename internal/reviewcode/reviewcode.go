// Package reviewcode hands out short-lived six digit codes that prove two people met.
package reviewcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/alsseok01/babsang/internal/models"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrUnknownCode = errors.New("review code is invalid or expired")
	errTaken       = errors.New("code already in use")
)

// Backend keeps issued codes until they expire or are redeemed.
type Backend interface {
	// Put must fail with errTaken when the code is already live.
	Put(ctx context.Context, c models.ReviewCode, ttl time.Duration) error
	// Take returns and removes the code.
	Take(ctx context.Context, code string) (models.ReviewCode, error)
}

type Codes struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	gen     func() (string, error)
}

func New(b Backend, ttl time.Duration) *Codes {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codes{backend: b, ttl: ttl, now: time.Now, gen: sixDigits}
}

func sixDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue creates a fresh code for issuerID on matchID.
func (c *Codes) Issue(ctx context.Context, matchID, issuerID string) (models.ReviewCode, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := c.gen()
		if err != nil {
			return models.ReviewCode{}, err
		}
		rc := models.ReviewCode{
			Code:      code,
			MatchID:   matchID,
			IssuerID:  issuerID,
			ExpiresAt: c.now().Add(c.ttl).UTC().Format(time.RFC3339),
		}
		err = c.backend.Put(ctx, rc, c.ttl)
		if errors.Is(err, errTaken) {
			continue
		}
		if err != nil {
			return models.ReviewCode{}, fmt.Errorf("store review code: %w", err)
		}
		return rc, nil
	}
	return models.ReviewCode{}, errors.New("could not allocate a review code")
}

// Redeem consumes code; a code works once.
func (c *Codes) Redeem(ctx context.Context, code string) (models.ReviewCode, error) {
	if len(code) != 6 {
		return models.ReviewCode{}, ErrUnknownCode
	}
	return c.backend.Take(ctx, code)
}
