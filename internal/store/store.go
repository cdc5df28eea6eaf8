package store

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alsseok01/babsang/internal/models"
)

type Store struct {
	mu sync.RWMutex

	users         map[string]models.User  // userId -> user
	emails        map[string]string       // lowercased email -> userId
	schedules     map[string]models.Schedule
	matches       map[string]models.Match
	posts         []models.Post // newest first
	reviews       []models.Review
	grants        map[string]struct{}                // reviewerId|matchId
	messages      map[string][]models.ChatMessage    // matchId -> messages (oldest first)
	notifications map[string][]models.Notification   // userId -> notifications (oldest first)
	devices       map[string][]models.DeviceToken    // userId -> FCM tokens

	dirty bool

	now   func() time.Time
	loc   *time.Location
	intn  func(n int) int
	newID func() string
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLocation sets the zone schedule dates are interpreted in.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

// WithRandom replaces the picker used by RandomSchedule.
func WithRandom(intn func(n int) int) Option { return func(s *Store) { s.intn = intn } }

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:         map[string]models.User{},
		emails:        map[string]string{},
		schedules:     map[string]models.Schedule{},
		matches:       map[string]models.Match{},
		grants:        map[string]struct{}{},
		messages:      map[string][]models.ChatMessage{},
		notifications: map[string][]models.Notification{},
		devices:       map[string][]models.DeviceToken{},

		now:   time.Now,
		loc:   time.Local,
		intn:  rand.IntN,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) nowISO() string { return s.now().UTC().Format(time.RFC3339Nano) }

// today is midnight of the current day in the store's zone.
func (s *Store) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Store) Today() time.Time { return s.today() }

func parseISO(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// newer orders ISO timestamps newest first.
func newer(a, b string) bool { return parseISO(a).After(parseISO(b)) }

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func normalizeTag(t string) string { return strings.TrimSpace(strings.ToLower(t)) }

func normalizeEmail(e string) string { return strings.TrimSpace(strings.ToLower(e)) }

// takeDirty reports whether anything changed since the last snapshot and clears the flag.
func (s *Store) takeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// ===== display decoration =====

// summaryLocked resolves the current public face of uid. Caller holds s.mu.
func (s *Store) summaryLocked(uid string) models.UserSummary {
	if u, ok := s.users[uid]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: uid, Name: uid}
}

func (s *Store) decorateScheduleLocked(sc models.Schedule) models.Schedule {
	sc.User = s.summaryLocked(sc.User.ID)
	return sc
}

func (s *Store) decorateMatchLocked(m models.Match) models.Match {
	m.Requester = s.summaryLocked(m.Requester.ID)
	if sc, ok := s.schedules[m.Schedule.ID]; ok {
		m.Schedule = sc
	}
	m.Schedule = s.decorateScheduleLocked(m.Schedule)
	return m
}

func (s *Store) decoratePostLocked(p models.Post) models.Post {
	cp := p
	cp.Author = s.summaryLocked(p.Author.ID)
	cp.Tags = append([]string{}, p.Tags...)
	cp.LikedMemberIDs = append([]string{}, p.LikedMemberIDs...)
	cp.Comments = make([]models.Comment, len(p.Comments))
	for i, c := range p.Comments {
		c.Author = s.summaryLocked(c.Author.ID)
		cp.Comments[i] = c
	}
	cp.Likes = len(cp.LikedMemberIDs)
	return cp
}

func (s *Store) decorateReviewLocked(r models.Review) models.Review {
	r.Reviewer = s.summaryLocked(r.Reviewer.ID)
	r.Reviewee = s.summaryLocked(r.Reviewee.ID)
	return r
}
