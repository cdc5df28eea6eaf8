package client

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/realtime"
)

// Notifications keeps the unread badge and reacts to inbound notification frames.
type Notifications struct {
	api *API

	mu          sync.Mutex
	unread      int
	unreadChats map[string]bool
	onMatch     func(models.NotificationType, string)
	onChat      func(string)
}

func NewNotifications(api *API) *Notifications {
	return &Notifications{api: api, unreadChats: map[string]bool{}}
}

// OnMatchChange is called for every MATCH_* notification with its type and match id,
// typically to refresh the match request lists.
func (n *Notifications) OnMatchChange(fn func(t models.NotificationType, matchID string)) {
	n.mu.Lock()
	n.onMatch = fn
	n.mu.Unlock()
}

// OnChatMessage is called with the match id of every CHAT_MESSAGE notification.
func (n *Notifications) OnChatMessage(fn func(matchID string)) {
	n.mu.Lock()
	n.onChat = fn
	n.mu.Unlock()
}

// Listen subscribes to uid's notification topic on rt.
func (n *Notifications) Listen(rt *Realtime, uid string) (unsubscribe func()) {
	return rt.Subscribe(realtime.UserTopic(uid), func(m Message) { n.Handle(m.Body) })
}

// Sync loads the unread count from the service.
func (n *Notifications) Sync(ctx context.Context) error {
	c, err := n.api.UnreadCount(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.unread = c
	n.mu.Unlock()
	return nil
}

// Handle applies one notification body.
func (n *Notifications) Handle(body []byte) {
	typ := models.NotificationType(gjson.GetBytes(body, "type").String())
	matchID := gjson.GetBytes(body, "matchId").String()

	n.mu.Lock()
	n.unread++
	onMatch, onChat := n.onMatch, n.onChat
	isChat := typ == models.NotifyChatMessage && matchID != ""
	if isChat {
		n.unreadChats[matchID] = true
	}
	n.mu.Unlock()

	switch {
	case strings.HasPrefix(string(typ), "MATCH_"):
		if onMatch != nil {
			onMatch(typ, matchID)
		}
	case isChat:
		if onChat != nil {
			onChat(matchID)
		}
	}
}

func (n *Notifications) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

// Badge returns the label to show and whether to show it at all.
func (n *Notifications) Badge() (string, bool) {
	c := n.Unread()
	switch {
	case c <= 0:
		return "", false
	case c > 99:
		return "99+", true
	default:
		return strconv.Itoa(c), true
	}
}

// VisitActivity resets the counter and marks everything read on the service.
func (n *Notifications) VisitActivity(ctx context.Context) error {
	n.mu.Lock()
	n.unread = 0
	n.mu.Unlock()
	return n.api.MarkNotificationsRead(ctx)
}

func (n *Notifications) ChatUnread(matchID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unreadChats[matchID]
}

// OpenChat clears the unread flag of a match thread.
func (n *Notifications) OpenChat(matchID string) {
	n.mu.Lock()
	delete(n.unreadChats, matchID)
	n.mu.Unlock()
}
