package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alsseok01/babsang/internal/logging"
	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/realtime"
)

func TestRealtimeURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", RealtimeURL("http://localhost:8080"))
	assert.Equal(t, "wss://babsang.dev/ws", RealtimeURL("https://babsang.dev/"))
}

func TestNextBackoffDoublesUpToLimit(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		seen = append(seen, d)
		d = nextBackoff(d, 30*time.Second)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}

func TestDedupForgetsOldestKey(t *testing.T) {
	d := newDedup(2)
	assert.False(t, d.seen("a"))
	assert.True(t, d.seen("a"))
	assert.False(t, d.seen("b"))
	assert.False(t, d.seen("c")) // evicts a
	assert.False(t, d.seen("a"))
	assert.True(t, d.seen("c"))
}

func TestSendWhileOfflineFails(t *testing.T) {
	rt := NewRealtime("ws://127.0.0.1:1/ws", func() string { return "" })
	assert.ErrorIs(t, rt.SendChat("m1", "hi"), ErrNotConnected)
}

// inbox collects messages delivered to a handler.
type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *inbox) add(m Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func (b *inbox) last() Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs[len(b.msgs)-1]
}

func connect(t *testing.T, s *stack, sess *Session, opts ...RealtimeOption) *Realtime {
	t.Helper()
	opts = append([]RealtimeOption{WithRealtimeLogger(logging.Discard()), WithClientHeartbeat(0)}, opts...)
	rt := NewRealtime(RealtimeURL(s.srv.URL), sess.Token, opts...)
	rt.Start(context.Background())
	t.Cleanup(rt.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, rt.WaitConnected(ctx))
	return rt
}

func TestMatchAndChatOverRealtime(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	owner, _, _ := s.session(t)
	ownerUser, err := owner.Register(ctx, "owner@babsang.dev", "password1", "호스트", false)
	require.NoError(t, err)
	guest, _, _ := s.session(t)
	_, err = guest.Register(ctx, "guest@babsang.dev", "password1", "게스트", false)
	require.NoError(t, err)

	sched, err := owner.api.CreateSchedule(ctx, ScheduleInput{
		Date:            time.Now().AddDate(0, 0, 3).Format(models.DateLayout),
		Hour:            19,
		PlaceName:       "을지면옥",
		PlaceCategory:   "한식",
		MaxParticipants: 2,
	})
	require.NoError(t, err)

	ownerRT := connect(t, s, owner)
	notes := NewNotifications(owner.api)
	var (
		mu      sync.Mutex
		changes []models.NotificationType
		chats   []string
	)
	notes.OnMatchChange(func(typ models.NotificationType, _ string) {
		mu.Lock()
		changes = append(changes, typ)
		mu.Unlock()
	})
	notes.OnChatMessage(func(matchID string) {
		mu.Lock()
		chats = append(chats, matchID)
		mu.Unlock()
	})
	notes.Listen(ownerRT, ownerUser.ID)

	// give the SUBSCRIBE a moment to land before anything is published
	require.Eventually(t, func() bool { return s.broker.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	m, err := guest.api.RequestMatch(ctx, sched.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, models.NotifyMatchRequest, changes[0])
	mu.Unlock()

	_, err = owner.api.AcceptMatch(ctx, m.ID)
	require.NoError(t, err)

	room := &inbox{}
	ownerRT.Subscribe(realtime.ChatTopic(m.ID), room.add)
	guestRT := connect(t, s, guest)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, guestRT.SendChat(m.ID, "7시에 봐요"))
	require.Eventually(t, func() bool { return room.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(room.last().Body, &msg))
	assert.Equal(t, "7시에 봐요", msg.Content)
	assert.Equal(t, "게스트", msg.SenderName)

	require.Eventually(t, func() bool { return notes.ChatUnread(m.ID) }, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{m.ID}, chats)
	mu.Unlock()
	notes.OpenChat(m.ID)
	assert.False(t, notes.ChatUnread(m.ID))

	history, err := owner.api.ChatHistory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestRealtimeResubscribesAfterDrop(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()
	sess, _, _ := s.session(t)
	u, err := sess.Register(ctx, "drop@babsang.dev", "password1", "드롭", false)
	require.NoError(t, err)

	rt := connect(t, s, sess, WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	got := &inbox{}
	rt.Subscribe(realtime.UserTopic(u.ID), got.add)
	topic := realtime.UserTopic(u.ID)
	require.Eventually(t, func() bool { return s.broker.Publish(topic, []byte(`{"n":1}`)) > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return got.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	s.broker.Close()

	// the client reconnects on its own and subscribes again
	require.Eventually(t, func() bool {
		s.broker.Publish(topic, []byte(`{"n":2}`))
		return string(got.last().Body) == `{"n":2}`
	}, 3*time.Second, 20*time.Millisecond)
}
