package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/alsseok01/babsang/internal/models"
)

// ===== category filter =====

// CategoryFilter narrows a schedule list to the toggled food categories. With nothing
// toggled every schedule passes.
type CategoryFilter struct {
	mu       sync.Mutex
	selected []string
}

// Toggle flips category and reports whether it is now selected.
func (f *CategoryFilter) Toggle(category string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.selected {
		if c == category {
			f.selected = append(f.selected[:i], f.selected[i+1:]...)
			return false
		}
	}
	f.selected = append(f.selected, category)
	return true
}

func (f *CategoryFilter) Selected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selected...)
}

// Apply returns the schedules whose category is selected, keeping their order.
func (f *CategoryFilter) Apply(list []models.Schedule) []models.Schedule {
	sel := f.Selected()
	if len(sel) == 0 {
		return list
	}
	out := make([]models.Schedule, 0, len(list))
	for _, s := range list {
		for _, c := range sel {
			if s.PlaceCategory == c {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// ===== planner =====

var ErrNoDateSelected = errors.New("pick a date first")

// ClampParticipants keeps a capacity input inside the allowed range.
func ClampParticipants(n int) int { return models.ClampParticipants(n) }

// Planner adds calendar entries for the day picked in the calendar grid.
type Planner struct {
	api *API
}

func NewPlanner(api *API) *Planner { return &Planner{api: api} }

// Add creates a schedule on selectedDate. No request is made without a date.
func (p *Planner) Add(ctx context.Context, selectedDate string, in ScheduleInput) (models.Schedule, error) {
	if strings.TrimSpace(selectedDate) == "" {
		return models.Schedule{}, ErrNoDateSelected
	}
	in.Date = selectedDate
	in.MaxParticipants = ClampParticipants(in.MaxParticipants)
	return p.api.CreateSchedule(ctx, in)
}

// ===== route guard =====

const AuthRoute = "/auth"

var protectedRoutes = []string{"/matching", "/schedule", "/board", "/profile", "/match-requests", "/chat"}

// Guard keeps signed-out users away from member pages.
type Guard struct {
	Auth interface{ IsAuthenticated() bool }
}

// Protected reports whether path needs a signed-in user.
func Protected(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, p := range protectedRoutes {
		if p == "/chat" {
			// only individual rooms: /chat/:id
			if rest, ok := strings.CutPrefix(path, "/chat/"); ok && rest != "" {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Resolve returns where navigation to path should land.
func (g Guard) Resolve(path string) string {
	if Protected(path) && (g.Auth == nil || !g.Auth.IsAuthenticated()) {
		return AuthRoute
	}
	return path
}
