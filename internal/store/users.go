package store

import (
	"fmt"
	"strings"

	"github.com/alsseok01/babsang/internal/models"
)

// ProfileUpdate carries only the fields the caller wants to overwrite.
type ProfileUpdate struct {
	Name         *string         `json:"name"`
	Age          *int            `json:"age"`
	ProfileImage *string         `json:"profileImage"`
	Bio          *string         `json:"bio"`
	Preferences  map[string]bool `json:"preferences"`
}

func (s *Store) CreateUser(email, name, passwordHash, provider string) (models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, fmt.Errorf("email %q: %w", email, ErrInvalid)
	}
	if name == "" {
		return models.User{}, fmt.Errorf("name is required: %w", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[email]; ok {
		return models.User{}, fmt.Errorf("email %s already registered: %w", email, ErrConflict)
	}
	u := models.User{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		Preferences:  map[string]bool{},
		IsNewUser:    true,
		Provider:     provider,
		PasswordHash: passwordHash,
		CreatedAt:    s.nowISO(),
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	s.dirty = true
	return u, nil
}

func (s *Store) GetUser(uid string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	return u, ok
}

func (s *Store) UserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.emails[normalizeEmail(email)]
	if !ok {
		return models.User{}, false
	}
	u, ok := s.users[uid]
	return u, ok
}

// UpsertSocialUser returns the account bound to email, creating it on first social login.
func (s *Store) UpsertSocialUser(email, name, picture, provider string) (models.User, error) {
	if u, ok := s.UserByEmail(email); ok {
		return u, nil
	}
	if strings.TrimSpace(name) == "" {
		name = strings.SplitN(normalizeEmail(email), "@", 2)[0]
	}
	u, err := s.CreateUser(email, name, "", provider)
	if err != nil {
		return u, err
	}
	if picture == "" {
		return u, nil
	}
	return s.UpdateProfile(u.ID, ProfileUpdate{ProfileImage: &picture}, false)
}

// UpdateProfile overwrites only the provided fields. finishSetup clears the new-user flag.
func (s *Store) UpdateProfile(uid string, p ProfileUpdate, finishSetup bool) (models.User, error) {
	if p.Age != nil && (*p.Age < 0 || *p.Age > 120) {
		return models.User{}, fmt.Errorf("age %d: %w", *p.Age, ErrInvalid)
	}
	for k := range p.Preferences {
		if !models.ValidPreference(k) {
			return models.User{}, fmt.Errorf("preference %q: %w", k, ErrInvalid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return models.User{}, fmt.Errorf("name is required: %w", ErrInvalid)
		}
		u.Name = name
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.ProfileImage != nil {
		u.ProfileImage = *p.ProfileImage
	}
	if p.Bio != nil {
		u.Bio = strings.TrimSpace(*p.Bio)
	}
	if p.Preferences != nil {
		prefs := make(map[string]bool, len(p.Preferences))
		for k, v := range p.Preferences {
			prefs[k] = v
		}
		u.Preferences = prefs
	}
	if finishSetup {
		u.IsNewUser = false
	}
	s.users[uid] = u
	s.dirty = true
	return u, nil
}
