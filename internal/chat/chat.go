// Package chat connects the STOMP broker to match chat rooms.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/notify"
	"github.com/alsseok01/babsang/internal/realtime"
	"github.com/alsseok01/babsang/internal/store"
)

const HistoryLimit = 200

var ErrBadPayload = errors.New(`chat payload must be {"content": "..."}`)

type Notifier interface {
	Notify(n models.Notification) models.Notification
}

// Service implements realtime.Handler for /topic/chat and /app/chat destinations.
type Service struct {
	store    *store.Store
	pub      notify.Publisher
	notifier Notifier
	log      logrus.FieldLogger
}

func NewService(st *store.Store, n Notifier, log logrus.FieldLogger) *Service {
	return &Service{store: st, notifier: n, log: log}
}

// Attach sets the publisher; the broker is built after the service it routes to.
func (s *Service) Attach(pub notify.Publisher) { s.pub = pub }

// SetNotifier sets the notifier when it is built on top of the broker. Call before serving.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) CanSubscribe(uid, destination string) error {
	matchID, ok := realtime.ChatMatchID(destination)
	if !ok {
		return realtime.ErrForbidden
	}
	if _, err := s.store.ChatMatch(uid, matchID); err != nil {
		return fmt.Errorf("%w: %v", realtime.ErrForbidden, err)
	}
	return nil
}

func (s *Service) Receive(_ context.Context, uid, destination string, body []byte) error {
	matchID, ok := realtime.ChatMatchID(destination)
	if !ok {
		return realtime.ErrForbidden
	}
	if !gjson.ValidBytes(body) {
		return ErrBadPayload
	}
	content := gjson.GetBytes(body, "content")
	if content.Type != gjson.String {
		return ErrBadPayload
	}
	_, err := s.Post(uid, matchID, content.String())
	return err
}

// Post stores a message, broadcasts it to the room and notifies the other participant.
func (s *Service) Post(uid, matchID, content string) (models.ChatMessage, error) {
	msg, m, err := s.store.AppendMessage(uid, matchID, content)
	if err != nil {
		return msg, err
	}
	if s.pub != nil {
		if err := s.pub.PublishJSON(realtime.ChatTopic(matchID), msg); err != nil {
			s.log.WithError(err).WithField("match_id", matchID).Warn("broadcast chat message")
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(notify.ChatMessage(m, msg))
	}
	return msg, nil
}

func (s *Service) History(uid, matchID string) ([]models.ChatMessage, error) {
	return s.store.ChatHistory(uid, matchID, HistoryLimit)
}
