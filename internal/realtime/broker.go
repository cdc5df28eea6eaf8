// Package realtime is a small STOMP 1.2 broker over WebSocket. Clients subscribe to
// topics, the server publishes to them, and SENDs to /app destinations are handed to a
// Handler.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/auth"
	"github.com/alsseok01/babsang/internal/metrics"
)

var ErrForbidden = errors.New("destination not allowed")

// TokenFunc resolves the user id behind an access token.
type TokenFunc func(token string) (string, error)

// Handler decides on subscriptions outside a user's own notification topic and
// handles application SENDs.
type Handler interface {
	CanSubscribe(uid, destination string) error
	Receive(ctx context.Context, uid, destination string, body []byte) error
}

type Broker struct {
	auth      TokenFunc
	handler   Handler
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	heartbeat time.Duration

	mu       sync.RWMutex
	subs     map[string]map[*session]map[string]struct{} // destination -> session -> subscription ids
	sessions map[*session]struct{}
	instance string // message-id prefix, unique per broker run
	seq      atomic.Uint64
}

type Option func(*Broker)

func WithMetrics(m *metrics.Metrics) Option { return func(b *Broker) { b.metrics = m } }

// WithHeartbeat sets the interval the broker offers in CONNECTED; 0 disables heart-beats.
func WithHeartbeat(d time.Duration) Option { return func(b *Broker) { b.heartbeat = d } }

func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(b *Broker) { b.upgrader.CheckOrigin = check }
}

func NewBroker(tokens TokenFunc, h Handler, log logrus.FieldLogger, opts ...Option) *Broker {
	b := &Broker{
		auth:      tokens,
		handler:   h,
		log:       log,
		heartbeat: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs:     map[string]map[*session]map[string]struct{}{},
		sessions: map[*session]struct{}{},
		instance: uuid.NewString()[:8],
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s := newSession(b, ws, auth.RequestToken(r))

	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	b.metrics.ConnectionOpened()

	s.run(r.Context())
	b.drop(s)
	s.flush()
	s.close()
	b.metrics.ConnectionClosed()
}

// Close ends every session.
func (b *Broker) Close() {
	b.mu.RLock()
	all := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		all = append(all, s)
	}
	b.mu.RUnlock()
	for _, s := range all {
		s.close()
	}
}

// Sessions reports the number of connected sessions.
func (b *Broker) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *Broker) authorize(uid, destination string) error {
	if strings.HasPrefix(destination, userTopicPrefix) {
		if destination != UserTopic(uid) {
			return ErrForbidden
		}
		return nil
	}
	if !strings.HasPrefix(destination, "/topic/") || b.handler == nil {
		return ErrForbidden
	}
	return b.handler.CanSubscribe(uid, destination)
}

func (b *Broker) subscribe(s *session, id, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySession, ok := b.subs[destination]
	if !ok {
		bySession = map[*session]map[string]struct{}{}
		b.subs[destination] = bySession
	}
	ids, ok := bySession[s]
	if !ok {
		ids = map[string]struct{}{}
		bySession[s] = ids
	}
	ids[id] = struct{}{}
}

func (b *Broker) unsubscribe(s *session, id, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySession := b.subs[destination]
	if bySession == nil {
		return
	}
	if ids := bySession[s]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(bySession, s)
		}
	}
	if len(bySession) == 0 {
		delete(b.subs, destination)
	}
}

func (b *Broker) drop(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
	for dest, bySession := range b.subs {
		delete(bySession, s)
		if len(bySession) == 0 {
			delete(b.subs, dest)
		}
	}
}

// Publish delivers body as a MESSAGE to every subscriber of destination and returns
// how many subscriptions received it. Every copy carries the same message-id.
func (b *Broker) Publish(destination string, body []byte) int {
	type target struct {
		s   *session
		ids []string
	}
	b.mu.RLock()
	targets := make([]target, 0, len(b.subs[destination]))
	for s, ids := range b.subs[destination] {
		t := target{s: s}
		for id := range ids {
			t.ids = append(t.ids, id)
		}
		targets = append(targets, t)
	}
	b.mu.RUnlock()

	msgID := b.instance + "-" + strconv.FormatUint(b.seq.Add(1), 10)
	n := 0
	for _, t := range targets {
		for _, id := range t.ids {
			f := frame.New(frame.MESSAGE,
				frame.Destination, destination,
				frame.Subscription, id,
				frame.MessageId, msgID,
				frame.ContentType, "application/json;charset=UTF-8",
				frame.ContentLength, strconv.Itoa(len(body)),
			)
			f.Body = body
			if t.s.enqueue(outbound{data: EncodeFrame(f), command: frame.MESSAGE}) {
				n++
			}
		}
	}
	return n
}

func (b *Broker) PublishJSON(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Publish(destination, body)
	return nil
}
