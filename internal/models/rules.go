package models

import (
	"sort"
	"time"
)

const (
	MinParticipants = 2
	MaxParticipants = 8

	DateLayout = "2006-01-02"
)

// FoodCategories are the place categories a schedule can carry.
var FoodCategories = []string{"한식", "중식", "일식", "양식", "분식", "카페"}

// PreferenceTags are the taste tags a profile can toggle.
var PreferenceTags = []string{"한식", "중식", "일식", "양식", "분식", "맵짱이", "맵찔이", "채식주의", "육식주의"}

func ValidCategory(c string) bool {
	for _, x := range FoodCategories {
		if x == c {
			return true
		}
	}
	return false
}

func ValidPreference(p string) bool {
	for _, x := range PreferenceTags {
		if x == p {
			return true
		}
	}
	return false
}

func ClampParticipants(n int) int {
	if n < MinParticipants {
		return MinParticipants
	}
	if n > MaxParticipants {
		return MaxParticipants
	}
	return n
}

// ParseDate parses a schedule date (yyyy-MM-dd) in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CanTransition reports whether a match may move from one status to another.
func CanTransition(from, to MatchStatus) bool {
	switch from {
	case MatchPending:
		return to == MatchAccepted || to == MatchRejected
	case MatchAccepted:
		return to == MatchConfirmed
	}
	return false
}

// Active requests block a second request for the same schedule.
func (s MatchStatus) Active() bool {
	return s == MatchPending || s == MatchAccepted || s == MatchConfirmed
}

// GroupByDate buckets schedules per date, each bucket ordered by hour.
func GroupByDate(schedules []Schedule) map[string][]Schedule {
	out := make(map[string][]Schedule)
	for _, s := range schedules {
		out[s.Date] = append(out[s.Date], s)
	}
	for d := range out {
		day := out[d]
		sort.SliceStable(day, func(i, j int) bool { return day[i].Hour < day[j].Hour })
	}
	return out
}

// SortSchedules orders by date then hour.
func SortSchedules(list []Schedule) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].Hour < list[j].Hour
	})
}
