package store

import (
	"strings"

	"github.com/alsseok01/babsang/internal/models"
)

const maxNotificationsPerUser = 200

func (s *Store) AddNotification(n models.Notification) models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = s.newID()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = s.nowISO()
	}
	list := append(s.notifications[n.UserID], n)
	if len(list) > maxNotificationsPerUser {
		list = list[len(list)-maxNotificationsPerUser:]
	}
	s.notifications[n.UserID] = list
	s.dirty = true
	return n
}

// Notifications lists uid's notifications newest first.
func (s *Store) Notifications(uid string) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.notifications[uid]
	out := make([]models.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out
}

func (s *Store) UnreadCount(uid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, x := range s.notifications[uid] {
		if !x.Read {
			n++
		}
	}
	return n
}

// MarkAllRead flags every notification read and returns how many changed.
func (s *Store) MarkAllRead(uid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notifications[uid]
	changed := 0
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			changed++
		}
	}
	if changed > 0 {
		s.dirty = true
	}
	return changed
}

// ===== FCM device tokens =====

func (s *Store) RegisterDevice(uid, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a device belongs to whoever logged in on it last
	s.removeTokenLocked(token)
	s.devices[uid] = append(s.devices[uid], models.DeviceToken{UserID: uid, Token: token, CreatedAt: s.nowISO()})
	s.dirty = true
}

func (s *Store) RemoveDevice(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeTokenLocked(token) {
		s.dirty = true
	}
}

// RemoveUserDevice drops token only if it is registered to uid.
func (s *Store) RemoveUserDevice(uid, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.devices[uid]
	for i, d := range list {
		if d.Token != token {
			continue
		}
		kept := append(append([]models.DeviceToken{}, list[:i]...), list[i+1:]...)
		if len(kept) == 0 {
			delete(s.devices, uid)
		} else {
			s.devices[uid] = kept
		}
		s.dirty = true
		return true
	}
	return false
}

func (s *Store) removeTokenLocked(token string) bool {
	removed := false
	for uid, list := range s.devices {
		kept := list[:0]
		for _, d := range list {
			if d.Token == token {
				removed = true
				continue
			}
			kept = append(kept, d)
		}
		if len(kept) == 0 {
			delete(s.devices, uid)
		} else {
			s.devices[uid] = kept
		}
	}
	return removed
}

func (s *Store) DeviceTokens(uid string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices[uid]))
	for _, d := range s.devices[uid] {
		out = append(out, d.Token)
	}
	return out
}
