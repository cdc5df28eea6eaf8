package store

import (
	"fmt"
	"strings"

	"github.com/alsseok01/babsang/internal/models"
)

const maxMessageLen = 1000

// chatMatchLocked returns the match if uid may talk in it.
func (s *Store) chatMatchLocked(uid, matchID string) (models.Match, error) {
	m, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if !m.Participant(uid) {
		return models.Match{}, fmt.Errorf("match %s: %w", matchID, ErrForbidden)
	}
	if m.Status != models.MatchAccepted && m.Status != models.MatchConfirmed {
		return models.Match{}, fmt.Errorf("match %s is %s: %w", matchID, m.Status, ErrConflict)
	}
	return m, nil
}

// ChatMatch returns the decorated match when uid may chat in it.
func (s *Store) ChatMatch(uid, matchID string) (models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.chatMatchLocked(uid, matchID)
	if err != nil {
		return m, err
	}
	return s.decorateMatchLocked(m), nil
}

// AppendMessage stores a chat line; the sender is always the authenticated uid.
func (s *Store) AppendMessage(uid, matchID, content string) (models.ChatMessage, models.Match, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, models.Match{}, fmt.Errorf("empty message: %w", ErrInvalid)
	}
	if len([]rune(content)) > maxMessageLen {
		return models.ChatMessage{}, models.Match{}, fmt.Errorf("message longer than %d: %w", maxMessageLen, ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.chatMatchLocked(uid, matchID)
	if err != nil {
		return models.ChatMessage{}, models.Match{}, err
	}
	msg := models.ChatMessage{
		ID:         s.newID(),
		MatchID:    matchID,
		SenderID:   uid,
		SenderName: s.summaryLocked(uid).Name,
		Content:    content,
		CreatedAt:  s.nowISO(),
	}
	s.messages[matchID] = append(s.messages[matchID], msg)
	s.dirty = true
	return msg, s.decorateMatchLocked(m), nil
}

// ChatHistory returns the last limit messages (all when limit <= 0), oldest first.
func (s *Store) ChatHistory(uid, matchID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.chatMatchLocked(uid, matchID); err != nil {
		return nil, err
	}
	msgs := s.messages[matchID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	for i := range out {
		out[i].SenderName = s.summaryLocked(out[i].SenderID).Name
	}
	return out, nil
}
