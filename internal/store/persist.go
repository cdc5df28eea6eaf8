package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/alsseok01/babsang/internal/models"
)

// Snapshot is the whole store in a serialisable form. Password hashes travel in
// Credentials because User never marshals them.
type Snapshot struct {
	Users         []models.User
	Credentials   map[string]string
	Schedules     []models.Schedule
	Matches       []models.Match
	Posts         []models.Post
	Reviews       []models.Review
	Grants        []string
	Messages      map[string][]models.ChatMessage
	Notifications map[string][]models.Notification
	Devices       map[string][]models.DeviceToken
}

// Part is one named collection of a snapshot.
type Part struct {
	Name  string
	Value any // pointer into the snapshot
}

// Parts lists the collections in a fixed order; persisters store one blob per part.
func (sn *Snapshot) Parts() []Part {
	return []Part{
		{"users", &sn.Users},
		{"credentials", &sn.Credentials},
		{"schedules", &sn.Schedules},
		{"matches", &sn.Matches},
		{"posts", &sn.Posts},
		{"reviews", &sn.Reviews},
		{"review_grants", &sn.Grants},
		{"messages", &sn.Messages},
		{"notifications", &sn.Notifications},
		{"devices", &sn.Devices},
	}
}

// Persister saves and restores snapshots.
type Persister interface {
	Save(ctx context.Context, sn Snapshot) error
	// Load returns an empty snapshot when nothing was saved yet.
	Load(ctx context.Context) (Snapshot, error)
}

func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn := Snapshot{
		Users:         make([]models.User, 0, len(s.users)),
		Credentials:   map[string]string{},
		Schedules:     make([]models.Schedule, 0, len(s.schedules)),
		Matches:       make([]models.Match, 0, len(s.matches)),
		Posts:         make([]models.Post, 0, len(s.posts)),
		Reviews:       append([]models.Review{}, s.reviews...),
		Grants:        make([]string, 0, len(s.grants)),
		Messages:      make(map[string][]models.ChatMessage, len(s.messages)),
		Notifications: make(map[string][]models.Notification, len(s.notifications)),
		Devices:       make(map[string][]models.DeviceToken, len(s.devices)),
	}
	// slices and maps are copied so the snapshot can be encoded without the lock
	for _, u := range s.users {
		u.Preferences = maps.Clone(u.Preferences)
		sn.Users = append(sn.Users, u)
		if u.PasswordHash != "" {
			sn.Credentials[u.ID] = u.PasswordHash
		}
	}
	for _, p := range s.posts {
		p.Tags = slices.Clone(p.Tags)
		p.LikedMemberIDs = slices.Clone(p.LikedMemberIDs)
		p.Comments = slices.Clone(p.Comments)
		sn.Posts = append(sn.Posts, p)
	}
	for _, sc := range s.schedules {
		sn.Schedules = append(sn.Schedules, sc)
	}
	for _, m := range s.matches {
		sn.Matches = append(sn.Matches, m)
	}
	for k := range s.grants {
		sn.Grants = append(sn.Grants, k)
	}
	for k, v := range s.messages {
		sn.Messages[k] = append([]models.ChatMessage{}, v...)
	}
	for k, v := range s.notifications {
		sn.Notifications[k] = append([]models.Notification{}, v...)
	}
	for k, v := range s.devices {
		sn.Devices[k] = append([]models.DeviceToken{}, v...)
	}
	// sorted so snapshots are stable
	sort.Slice(sn.Users, func(i, j int) bool { return sn.Users[i].ID < sn.Users[j].ID })
	sort.Slice(sn.Schedules, func(i, j int) bool { return sn.Schedules[i].ID < sn.Schedules[j].ID })
	sort.Slice(sn.Matches, func(i, j int) bool { return sn.Matches[i].ID < sn.Matches[j].ID })
	sort.Strings(sn.Grants)
	return sn
}

// Import replaces the store's contents with sn.
func (s *Store) Import(sn Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]models.User, len(sn.Users))
	s.emails = make(map[string]string, len(sn.Users))
	for _, u := range sn.Users {
		u.PasswordHash = sn.Credentials[u.ID]
		if u.Preferences == nil {
			u.Preferences = map[string]bool{}
		}
		s.users[u.ID] = u
		s.emails[normalizeEmail(u.Email)] = u.ID
	}
	s.schedules = make(map[string]models.Schedule, len(sn.Schedules))
	for _, sc := range sn.Schedules {
		s.schedules[sc.ID] = sc
	}
	s.matches = make(map[string]models.Match, len(sn.Matches))
	for _, m := range sn.Matches {
		s.matches[m.ID] = m
	}
	s.posts = append([]models.Post{}, sn.Posts...)
	sort.SliceStable(s.posts, func(i, j int) bool {
		return parseISO(s.posts[i].CreatedAt).After(parseISO(s.posts[j].CreatedAt))
	})
	s.reviews = append([]models.Review{}, sn.Reviews...)
	s.grants = make(map[string]struct{}, len(sn.Grants))
	for _, g := range sn.Grants {
		s.grants[g] = struct{}{}
	}
	s.messages = orEmpty(sn.Messages)
	s.notifications = orEmpty(sn.Notifications)
	s.devices = orEmpty(sn.Devices)
	s.dirty = false
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// Flush saves a snapshot if anything changed since the last successful one.
func (s *Store) Flush(ctx context.Context, p Persister) (bool, error) {
	if !s.takeDirty() {
		return false, nil
	}
	if err := p.Save(ctx, s.Export()); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return false, err
	}
	return true, nil
}

// ===== JSON files =====

// FilePersister keeps one JSON file per collection under Dir.
type FilePersister struct {
	Dir string
}

func NewFilePersister(dir string) *FilePersister { return &FilePersister{Dir: dir} }

func (f *FilePersister) path(name string) string { return filepath.Join(f.Dir, name+".json") }

func (f *FilePersister) Save(_ context.Context, sn Snapshot) error {
	for _, p := range sn.Parts() {
		if err := writeJSONFile(f.path(p.Name), p.Value); err != nil {
			return fmt.Errorf("save %s: %w", p.Name, err)
		}
	}
	return nil
}

func (f *FilePersister) Load(_ context.Context) (Snapshot, error) {
	var sn Snapshot
	for _, p := range sn.Parts() {
		err := readJSONFile(f.path(p.Name), p.Value)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("load %s: %w", p.Name, err)
		}
	}
	return sn, nil
}

func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// writeJSONFile replaces path atomically.
func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
