package store

import (
	"fmt"
	"sort"

	"github.com/alsseok01/babsang/internal/models"
)

func (s *Store) RequestMatch(uid, scheduleID string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		return models.Match{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return models.Match{}, fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}
	if sc.User.ID == uid {
		return models.Match{}, fmt.Errorf("cannot request own schedule: %w", ErrInvalid)
	}
	if d, ok := models.ParseDate(sc.Date, s.loc); !ok || d.Before(s.today()) {
		return models.Match{}, fmt.Errorf("schedule %s already passed: %w", scheduleID, ErrInvalid)
	}
	if sc.Full() {
		return models.Match{}, fmt.Errorf("schedule %s is full: %w", scheduleID, ErrConflict)
	}
	for _, m := range s.matches {
		if m.Schedule.ID == scheduleID && m.Requester.ID == uid && m.Status.Active() {
			return models.Match{}, fmt.Errorf("already requested schedule %s: %w", scheduleID, ErrConflict)
		}
	}
	now := s.nowISO()
	m := models.Match{
		ID:        s.newID(),
		Requester: models.UserSummary{ID: uid},
		Schedule:  models.Schedule{ID: sc.ID, User: sc.User},
		Status:    models.MatchPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.matches[m.ID] = m
	s.dirty = true
	return s.decorateMatchLocked(m), nil
}

func (s *Store) GetMatch(id string) (models.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return models.Match{}, false
	}
	return s.decorateMatchLocked(m), true
}

func (s *Store) listMatches(keep func(m models.Match) bool) []models.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Match, 0)
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, s.decorateMatchLocked(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt) })
	return out
}

// MatchesReceived lists requests made against schedules uid owns.
func (s *Store) MatchesReceived(uid string) []models.Match {
	return s.listMatches(func(m models.Match) bool { return m.OwnerID() == uid })
}

func (s *Store) MatchesSent(uid string) []models.Match {
	return s.listMatches(func(m models.Match) bool { return m.Requester.ID == uid })
}

func (s *Store) transitionLocked(id string, to models.MatchStatus, allowed func(m models.Match) bool) (models.Match, error) {
	m, ok := s.matches[id]
	if !ok {
		return models.Match{}, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if !allowed(m) {
		return models.Match{}, fmt.Errorf("match %s: %w", id, ErrForbidden)
	}
	if !models.CanTransition(m.Status, to) {
		return models.Match{}, fmt.Errorf("match %s %s -> %s: %w", id, m.Status, to, ErrConflict)
	}
	m.Status = to
	m.UpdatedAt = s.nowISO()
	s.matches[id] = m
	s.dirty = true
	return m, nil
}

func (s *Store) AcceptMatch(uid, id string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matches[id]; ok && m.OwnerID() == uid {
		if sc, ok := s.schedules[m.Schedule.ID]; ok && sc.Full() {
			return models.Match{}, fmt.Errorf("schedule %s is full: %w", sc.ID, ErrConflict)
		}
	}
	m, err := s.transitionLocked(id, models.MatchAccepted, func(m models.Match) bool { return m.OwnerID() == uid })
	if err != nil {
		return m, err
	}
	return s.decorateMatchLocked(m), nil
}

func (s *Store) RejectMatch(uid, id string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.transitionLocked(id, models.MatchRejected, func(m models.Match) bool { return m.OwnerID() == uid })
	if err != nil {
		return m, err
	}
	return s.decorateMatchLocked(m), nil
}

// ConfirmMatch seals an accepted match and takes a seat on the schedule.
func (s *Store) ConfirmMatch(uid, id string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return models.Match{}, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	sc, ok := s.schedules[m.Schedule.ID]
	if !ok {
		return models.Match{}, fmt.Errorf("schedule %s: %w", m.Schedule.ID, ErrNotFound)
	}
	if m.Participant(uid) && m.Status == models.MatchAccepted && sc.Full() {
		return models.Match{}, fmt.Errorf("schedule %s is full: %w", sc.ID, ErrConflict)
	}
	m, err := s.transitionLocked(id, models.MatchConfirmed, func(m models.Match) bool { return m.Participant(uid) })
	if err != nil {
		return m, err
	}
	sc.CurrentParticipants++
	s.schedules[sc.ID] = sc
	return s.decorateMatchLocked(m), nil
}

// DeleteMatch withdraws a pending request or clears a rejected one.
func (s *Store) DeleteMatch(uid, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if m.Requester.ID != uid {
		return fmt.Errorf("match %s: %w", id, ErrForbidden)
	}
	if m.Status != models.MatchPending && m.Status != models.MatchRejected {
		return fmt.Errorf("match %s is %s: %w", id, m.Status, ErrConflict)
	}
	delete(s.matches, id)
	delete(s.messages, id)
	s.dirty = true
	return nil
}

// ExpireStaleMatches rejects pending requests whose schedule date has passed.
func (s *Store) ExpireStaleMatches() []models.Match {
	today := s.today()

	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []models.Match
	for id, m := range s.matches {
		if m.Status != models.MatchPending {
			continue
		}
		sc, ok := s.schedules[m.Schedule.ID]
		if !ok {
			continue
		}
		if d, ok := models.ParseDate(sc.Date, s.loc); ok && d.Before(today) {
			m.Status = models.MatchRejected
			m.UpdatedAt = s.nowISO()
			s.matches[id] = m
			expired = append(expired, s.decorateMatchLocked(m))
		}
	}
	if len(expired) > 0 {
		s.dirty = true
	}
	return expired
}
