package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/alsseok01/babsang/internal/models"
)

type ScheduleInput struct {
	Date            string  `json:"date"`
	Hour            int     `json:"hour"`
	PlaceName       string  `json:"placeName"`
	PlaceCategory   string  `json:"placeCategory"`
	PlaceAddress    string  `json:"placeAddress"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	MaxParticipants int     `json:"maxParticipants"`
}

// ScheduleQuery narrows the open-schedule listing.
type ScheduleQuery struct {
	Categories []string
	Days       int // window from today; 0 means DefaultWindowDays
}

const DefaultWindowDays = 21

func (s *Store) validateSchedule(in ScheduleInput) (ScheduleInput, error) {
	in.PlaceName = strings.TrimSpace(in.PlaceName)
	in.PlaceAddress = strings.TrimSpace(in.PlaceAddress)
	if _, ok := models.ParseDate(in.Date, s.loc); !ok {
		return in, fmt.Errorf("date %q: %w", in.Date, ErrInvalid)
	}
	if in.Hour < 0 || in.Hour > 23 {
		return in, fmt.Errorf("hour %d: %w", in.Hour, ErrInvalid)
	}
	if in.PlaceName == "" {
		return in, fmt.Errorf("placeName is required: %w", ErrInvalid)
	}
	if !models.ValidCategory(in.PlaceCategory) {
		return in, fmt.Errorf("placeCategory %q: %w", in.PlaceCategory, ErrInvalid)
	}
	in.MaxParticipants = models.ClampParticipants(in.MaxParticipants)
	return in, nil
}

func (s *Store) inPast(date string) bool {
	d, _ := models.ParseDate(date, s.loc)
	return d.Before(s.today())
}

func (s *Store) CreateSchedule(uid string, in ScheduleInput) (models.Schedule, error) {
	in, err := s.validateSchedule(in)
	if err != nil {
		return models.Schedule{}, err
	}
	if s.inPast(in.Date) {
		return models.Schedule{}, fmt.Errorf("date %s is in the past: %w", in.Date, ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		return models.Schedule{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	sc := models.Schedule{
		ID:                  s.newID(),
		User:                models.UserSummary{ID: uid},
		Date:                in.Date,
		Hour:                in.Hour,
		PlaceName:           in.PlaceName,
		PlaceCategory:       in.PlaceCategory,
		PlaceAddress:        in.PlaceAddress,
		Latitude:            in.Latitude,
		Longitude:           in.Longitude,
		MaxParticipants:     in.MaxParticipants,
		CurrentParticipants: 1,
		CreatedAt:           s.nowISO(),
	}
	s.schedules[sc.ID] = sc
	s.dirty = true
	return s.decorateScheduleLocked(sc), nil
}

func (s *Store) UpdateSchedule(uid, id string, in ScheduleInput) (models.Schedule, error) {
	in, err := s.validateSchedule(in)
	if err != nil {
		return models.Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if sc.User.ID != uid {
		return models.Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrForbidden)
	}
	// a schedule can keep its own (possibly past) date but never move into the past
	if in.Date != sc.Date && s.inPast(in.Date) {
		return models.Schedule{}, fmt.Errorf("date %s is in the past: %w", in.Date, ErrInvalid)
	}
	if in.MaxParticipants < sc.CurrentParticipants {
		return models.Schedule{}, fmt.Errorf("capacity %d below %d joined: %w", in.MaxParticipants, sc.CurrentParticipants, ErrConflict)
	}
	sc.Date, sc.Hour = in.Date, in.Hour
	sc.PlaceName, sc.PlaceCategory, sc.PlaceAddress = in.PlaceName, in.PlaceCategory, in.PlaceAddress
	sc.Latitude, sc.Longitude = in.Latitude, in.Longitude
	sc.MaxParticipants = in.MaxParticipants
	s.schedules[id] = sc
	s.dirty = true
	return s.decorateScheduleLocked(sc), nil
}

// DeleteSchedule removes the schedule and every match made against it.
func (s *Store) DeleteSchedule(uid, id string) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if sc.User.ID != uid {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrForbidden)
	}
	var dropped []models.Match
	for mid, m := range s.matches {
		if m.Schedule.ID == id {
			dropped = append(dropped, s.decorateMatchLocked(m))
			delete(s.matches, mid)
			delete(s.messages, mid)
		}
	}
	delete(s.schedules, id)
	s.dirty = true
	return dropped, nil
}

func (s *Store) GetSchedule(id string) (models.Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, false
	}
	return s.decorateScheduleLocked(sc), true
}

// openLocked reports whether viewer could still request sc.
func (s *Store) openLocked(sc models.Schedule, viewer string, from, until time.Time) bool {
	if sc.User.ID == viewer || sc.Full() {
		return false
	}
	d, ok := models.ParseDate(sc.Date, s.loc)
	if !ok || d.Before(from) || d.After(until) {
		return false
	}
	return true
}

// ListOpenSchedules lists other users' joinable schedules inside the query window.
func (s *Store) ListOpenSchedules(viewer string, q ScheduleQuery) []models.Schedule {
	days := q.Days
	if days <= 0 {
		days = DefaultWindowDays
	}
	from := s.today()
	until := from.AddDate(0, 0, days)

	cats := map[string]struct{}{}
	for _, c := range q.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats[c] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Schedule, 0)
	for _, sc := range s.schedules {
		if !s.openLocked(sc, viewer, from, until) {
			continue
		}
		if len(cats) > 0 {
			if _, ok := cats[sc.PlaceCategory]; !ok {
				continue
			}
		}
		out = append(out, s.decorateScheduleLocked(sc))
	}
	models.SortSchedules(out)
	return out
}

// RandomSchedule picks one open schedule the viewer has not requested yet.
func (s *Store) RandomSchedule(viewer string) (models.Schedule, error) {
	from := s.today()
	until := from.AddDate(0, 0, DefaultWindowDays)

	s.mu.RLock()
	defer s.mu.RUnlock()
	requested := map[string]struct{}{}
	for _, m := range s.matches {
		if m.Requester.ID == viewer && m.Status.Active() {
			requested[m.Schedule.ID] = struct{}{}
		}
	}
	candidates := make([]models.Schedule, 0)
	for _, sc := range s.schedules {
		if _, done := requested[sc.ID]; done {
			continue
		}
		if s.openLocked(sc, viewer, from, until) {
			candidates = append(candidates, sc)
		}
	}
	if len(candidates) == 0 {
		return models.Schedule{}, fmt.Errorf("no open schedule: %w", ErrNotFound)
	}
	// map iteration order is random; sort so the picker alone decides
	models.SortSchedules(candidates)
	return s.decorateScheduleLocked(candidates[s.intn(len(candidates))]), nil
}

func (s *Store) UserSchedules(uid string) []models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Schedule, 0)
	for _, sc := range s.schedules {
		if sc.User.ID == uid {
			out = append(out, s.decorateScheduleLocked(sc))
		}
	}
	models.SortSchedules(out)
	return out
}

// Calendar groups the schedules uid owns or has joined in month (yyyy-MM) by date.
func (s *Store) Calendar(uid, month string) (map[string][]models.Schedule, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, fmt.Errorf("month %q: %w", month, ErrInvalid)
	}
	prefix := month + "-"

	s.mu.RLock()
	defer s.mu.RUnlock()
	joined := map[string]struct{}{}
	for _, m := range s.matches {
		if m.Requester.ID == uid && (m.Status == models.MatchAccepted || m.Status == models.MatchConfirmed) {
			joined[m.Schedule.ID] = struct{}{}
		}
	}
	var list []models.Schedule
	for _, sc := range s.schedules {
		if !strings.HasPrefix(sc.Date, prefix) {
			continue
		}
		if _, ok := joined[sc.ID]; ok || sc.User.ID == uid {
			list = append(list, s.decorateScheduleLocked(sc))
		}
	}
	return models.GroupByDate(list), nil
}
