// Package notify fans a notification out to the store, the user's STOMP topic and
// FCM devices.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/metrics"
	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/push"
	"github.com/alsseok01/babsang/internal/realtime"
	"github.com/alsseok01/babsang/internal/store"
)

const pushTimeout = 15 * time.Second

// Publisher is the part of the broker the dispatcher needs.
type Publisher interface {
	PublishJSON(destination string, v any) error
}

type Dispatcher struct {
	store   *store.Store
	pub     Publisher
	push    push.Sender
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

func New(st *store.Store, pub Publisher, sender push.Sender, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if sender == nil {
		sender = push.Nop{}
	}
	return &Dispatcher{store: st, pub: pub, push: sender, log: log, metrics: m}
}

// Notify stores n, publishes it on the user's topic and pushes it in the background.
func (d *Dispatcher) Notify(n models.Notification) models.Notification {
	n = d.store.AddNotification(n)
	d.metrics.Notification(string(n.Type))
	logger := d.log.WithFields(logrus.Fields{"user_id": n.UserID, "type": n.Type})

	if d.pub != nil {
		if err := d.pub.PublishJSON(realtime.UserTopic(n.UserID), n); err != nil {
			logger.WithError(err).Warn("publish notification")
		}
	}

	tokens := d.store.DeviceTokens(n.UserID)
	if len(tokens) == 0 {
		return n
	}
	msg := push.Message{
		Title: "밥상친구",
		Body:  n.Message,
		Data:  map[string]string{"type": string(n.Type), "matchId": n.MatchID, "notificationId": n.ID},
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		stale, err := d.push.Send(ctx, tokens, msg)
		d.metrics.PushResult(err == nil)
		if err != nil {
			logger.WithError(err).Warn("push notification")
		}
		for _, t := range stale {
			d.store.RemoveDevice(t)
		}
		if len(stale) > 0 {
			logger.WithField("count", len(stale)).Info("removed unregistered device tokens")
		}
	}()
	return n
}

// Wait blocks until pending pushes finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// ===== builders =====

func MatchRequested(m models.Match) models.Notification {
	return models.Notification{
		UserID:  m.OwnerID(),
		Type:    models.NotifyMatchRequest,
		MatchID: m.ID,
		Message: fmt.Sprintf("%s님이 %s %d시 %s 일정에 매칭을 요청했어요.", m.Requester.Name, m.Schedule.Date, m.Schedule.Hour, m.Schedule.PlaceName),
	}
}

func MatchAccepted(m models.Match) models.Notification {
	return models.Notification{
		UserID:  m.Requester.ID,
		Type:    models.NotifyMatchAccepted,
		MatchID: m.ID,
		Message: fmt.Sprintf("%s님이 매칭 요청을 수락했어요. 채팅을 시작해 보세요!", m.Schedule.User.Name),
	}
}

func MatchRejected(m models.Match) models.Notification {
	return models.Notification{
		UserID:  m.Requester.ID,
		Type:    models.NotifyMatchRejected,
		MatchID: m.ID,
		Message: fmt.Sprintf("%s %s 일정의 매칭 요청이 거절되었어요.", m.Schedule.Date, m.Schedule.PlaceName),
	}
}

// MatchConfirmed goes to the participant who did not confirm.
func MatchConfirmed(m models.Match, by string) models.Notification {
	return models.Notification{
		UserID:  m.Opponent(by).ID,
		Type:    models.NotifyMatchConfirmed,
		MatchID: m.ID,
		Message: fmt.Sprintf("%s %s 밥약속이 확정되었어요.", m.Schedule.Date, m.Schedule.PlaceName),
	}
}

func ReviewReceived(r models.Review) models.Notification {
	return models.Notification{
		UserID:  r.Reviewee.ID,
		Type:    models.NotifyReviewReceived,
		MatchID: r.MatchID,
		Message: fmt.Sprintf("%s님이 후기를 남겼어요. (%d점)", r.Reviewer.Name, r.Rating),
	}
}

func ChatMessage(m models.Match, msg models.ChatMessage) models.Notification {
	preview := []rune(msg.Content)
	if len(preview) > 40 {
		preview = append(preview[:40], '…')
	}
	return models.Notification{
		UserID:  m.Opponent(msg.SenderID).ID,
		Type:    models.NotifyChatMessage,
		MatchID: m.ID,
		Message: fmt.Sprintf("%s: %s", msg.SenderName, string(preview)),
	}
}
