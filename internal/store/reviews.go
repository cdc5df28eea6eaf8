package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alsseok01/babsang/internal/models"
)

type ReviewInput struct {
	MatchID    string `json:"matchId"`
	RevieweeID string `json:"revieweeId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func grantKey(reviewerID, matchID string) string { return reviewerID + "|" + matchID }

// reviewableLocked returns the match if uid took part in it and it was confirmed.
func (s *Store) reviewableLocked(uid, matchID string) (models.Match, error) {
	m, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if !m.Participant(uid) {
		return models.Match{}, fmt.Errorf("match %s: %w", matchID, ErrForbidden)
	}
	if m.Status != models.MatchConfirmed {
		return models.Match{}, fmt.Errorf("match %s is %s: %w", matchID, m.Status, ErrConflict)
	}
	return m, nil
}

// CheckReviewCodeIssuer verifies uid may hand out a review code for matchID.
func (s *Store) CheckReviewCodeIssuer(uid, matchID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.reviewableLocked(uid, matchID)
	return err
}

// RedeemReviewCode resolves a code issued by issuerID for matchID on behalf of uid and
// grants uid the right to review the issuer.
func (s *Store) RedeemReviewCode(uid, matchID, issuerID string) (models.ReviewTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.reviewableLocked(uid, matchID)
	if err != nil {
		return models.ReviewTarget{}, err
	}
	if issuerID == uid || !m.Participant(issuerID) {
		return models.ReviewTarget{}, fmt.Errorf("code was not issued by the other participant: %w", ErrForbidden)
	}
	s.grants[grantKey(uid, matchID)] = struct{}{}
	s.dirty = true
	op := s.summaryLocked(issuerID)
	return models.ReviewTarget{
		MatchID:              matchID,
		OpponentID:           op.ID,
		OpponentName:         op.Name,
		OpponentProfileImage: op.ProfileImage,
	}, nil
}

func (s *Store) CreateReview(uid string, in ReviewInput) (models.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return models.Review{}, fmt.Errorf("rating %d: %w", in.Rating, ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.reviewableLocked(uid, in.MatchID)
	if err != nil {
		return models.Review{}, err
	}
	if _, ok := s.grants[grantKey(uid, in.MatchID)]; !ok {
		return models.Review{}, fmt.Errorf("review code not verified: %w", ErrForbidden)
	}
	if in.RevieweeID != m.Opponent(uid).ID {
		return models.Review{}, fmt.Errorf("reviewee %s is not the opponent: %w", in.RevieweeID, ErrInvalid)
	}
	for _, r := range s.reviews {
		if r.MatchID == in.MatchID && r.Reviewer.ID == uid {
			return models.Review{}, fmt.Errorf("already reviewed match %s: %w", in.MatchID, ErrConflict)
		}
	}
	r := models.Review{
		ID:        s.newID(),
		Reviewer:  models.UserSummary{ID: uid},
		Reviewee:  models.UserSummary{ID: in.RevieweeID},
		MatchID:   in.MatchID,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: s.nowISO(),
	}
	s.reviews = append(s.reviews, r)
	delete(s.grants, grantKey(uid, in.MatchID))

	if uid == m.Requester.ID {
		m.RequesterReviewed = true
	} else {
		m.OwnerReviewed = true
	}
	m.UpdatedAt = r.CreatedAt
	s.matches[m.ID] = m

	if u, ok := s.users[in.RevieweeID]; ok {
		total := u.AverageRating*float64(u.ReviewCount) + float64(in.Rating)
		u.ReviewCount++
		u.AverageRating = total / float64(u.ReviewCount)
		s.users[u.ID] = u
	}
	s.dirty = true
	return s.decorateReviewLocked(r), nil
}

func (s *Store) listReviews(keep func(r models.Review) bool) []models.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Review, 0)
	for _, r := range s.reviews {
		if keep(r) {
			out = append(out, s.decorateReviewLocked(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt) })
	return out
}

func (s *Store) ReviewsReceived(uid string) []models.Review {
	return s.listReviews(func(r models.Review) bool { return r.Reviewee.ID == uid })
}

func (s *Store) ReviewsWritten(uid string) []models.Review {
	return s.listReviews(func(r models.Review) bool { return r.Reviewer.ID == uid })
}

// FeaturedReviews picks recent well-rated reviews that carry a comment.
func (s *Store) FeaturedReviews(limit int) []models.FeaturedReview {
	list := s.listReviews(func(r models.Review) bool { return r.Rating >= 4 && r.Comment != "" })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.FeaturedReview, 0, len(list))
	for _, r := range list {
		out = append(out, models.FeaturedReview{
			Name:    r.Reviewer.Name,
			Image:   r.Reviewer.ProfileImage,
			Rating:  r.Rating,
			Comment: r.Comment,
		})
	}
	return out
}
