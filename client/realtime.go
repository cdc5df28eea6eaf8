package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/realtime"
)

var ErrNotConnected = errors.New("realtime channel is not connected")

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	defaultHeartbeat  = 10 * time.Second
	dedupWindow       = 512
)

// Message is one MESSAGE frame delivered to a subscription.
type Message struct {
	Destination string
	ID          string
	Body        []byte
}

type MessageHandler func(Message)

type subscription struct {
	id   string
	dest string
	fn   MessageHandler
}

// Realtime is a STOMP-over-WebSocket connection that reconnects on its own and
// re-subscribes after every reconnect.
type Realtime struct {
	url        string
	token      func() string
	log        logrus.FieldLogger
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	heartbeat  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{} // closed while connected
	subs    map[string]*subscription
	nextSub int
	seen    *dedup
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

type RealtimeOption func(*Realtime)

// WithBackoff bounds the reconnect delay, which doubles from first up to limit.
func WithBackoff(first, limit time.Duration) RealtimeOption {
	return func(r *Realtime) { r.minBackoff, r.maxBackoff = first, limit }
}

func WithRealtimeLogger(l logrus.FieldLogger) RealtimeOption {
	return func(r *Realtime) { r.log = l }
}

// WithClientHeartbeat sets how often the client wants heart-beats from the server; 0 disables.
func WithClientHeartbeat(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.heartbeat = d }
}

// RealtimeURL turns the service base URL into its /ws endpoint.
func RealtimeURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// NewRealtime prepares a connection to wsURL. token is read on every (re)connect.
func NewRealtime(wsURL string, token func() string, opts ...RealtimeOption) *Realtime {
	r := &Realtime{
		url:        wsURL,
		token:      token,
		log:        logrus.StandardLogger(),
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Subprotocols: []string{"v12.stomp"}},
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		heartbeat:  defaultHeartbeat,
		ready:      make(chan struct{}),
		subs:       map[string]*subscription{},
		seen:       newDedup(dedupWindow),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start runs the connect loop until ctx ends or Close is called.
func (r *Realtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.run(ctx, done)
}

// Close stops the connect loop and waits for it to exit. Subscriptions are kept, so a
// later Start picks them up again.
func (r *Realtime) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// WaitConnected blocks until the channel is connected or ctx ends.
func (r *Realtime) WaitConnected(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(d, limit time.Duration) time.Duration {
	return min(d*2, limit)
}

func (r *Realtime) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := r.minBackoff
	for {
		connected, err := r.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = r.minBackoff
		}
		r.log.WithError(err).WithField("retry_in", backoff.String()).Warn("realtime disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, r.maxBackoff)
	}
}

func (r *Realtime) write(ws *websocket.Conn, f *frame.Frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, realtime.EncodeFrame(f))
}

// serve runs one connection and reports whether the STOMP handshake completed.
func (r *Realtime) serve(ctx context.Context) (bool, error) {
	ws, _, err := r.dialer.DialContext(ctx, r.url, http.Header{})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	hb := strconv.FormatInt(r.heartbeat.Milliseconds(), 10)
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.HeartBeat, "0,"+hb,
		"Authorization", "Bearer "+r.token(),
	)
	if err := r.write(ws, connect); err != nil {
		return false, fmt.Errorf("send connect: %w", err)
	}
	serverBeat, err := r.awaitConnected(ws)
	if err != nil {
		return false, err
	}
	// expect something at least every 3 beats when the server agreed to send them
	var readWait time.Duration
	if serverBeat > 0 && r.heartbeat > 0 {
		readWait = 3 * max(serverBeat, r.heartbeat)
	}

	r.mu.Lock()
	r.conn = ws
	close(r.ready)
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.ready = make(chan struct{})
		r.mu.Unlock()
	}()
	r.log.Debug("realtime connected")

	for _, s := range subs {
		if err := r.write(ws, subscribeFrame(s)); err != nil {
			return true, fmt.Errorf("resubscribe %s: %w", s.dest, err)
		}
	}

	for {
		if readWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(readWait))
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		frames, err := realtime.DecodeFrames(data)
		if err != nil {
			return true, fmt.Errorf("decode frame: %w", err)
		}
		for _, f := range frames {
			r.dispatch(f)
		}
	}
}

// awaitConnected reads until CONNECTED and returns the server's heart-beat interval.
func (r *Realtime) awaitConnected(ws *websocket.Conn) (time.Duration, error) {
	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("await connected: %w", err)
		}
		frames, err := realtime.DecodeFrames(data)
		if err != nil {
			return 0, fmt.Errorf("decode frame: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				var sx time.Duration
				if v := f.Header.Get(frame.HeartBeat); v != "" {
					sx, _, _ = frame.ParseHeartBeat(v)
				}
				return sx, nil
			case frame.ERROR:
				return 0, fmt.Errorf("connect refused: %s", f.Header.Get(frame.Message))
			}
		}
	}
}

func (r *Realtime) dispatch(f *frame.Frame) {
	switch f.Command {
	case frame.MESSAGE:
		id := f.Header.Get(frame.MessageId)
		subID := f.Header.Get(frame.Subscription)
		r.mu.Lock()
		s, ok := r.subs[subID]
		dup := ok && id != "" && r.seen.seen(subID+"|"+id)
		r.mu.Unlock()
		if !ok || dup {
			return
		}
		s.fn(Message{Destination: f.Header.Get(frame.Destination), ID: id, Body: f.Body})
	case frame.ERROR:
		r.log.WithFields(logrus.Fields{
			"message":    f.Header.Get(frame.Message),
			"receipt_id": f.Header.Get(frame.ReceiptId),
		}).Warn("realtime error frame")
	}
}

func subscribeFrame(s *subscription) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, s.id,
		frame.Destination, s.dest,
		frame.Ack, "auto",
		frame.Receipt, "sub-"+s.id,
	)
}

// Subscribe registers fn for destination and returns a function that removes it.
// The subscription survives reconnects.
func (r *Realtime) Subscribe(destination string, fn MessageHandler) func() {
	r.mu.Lock()
	r.nextSub++
	s := &subscription{id: strconv.Itoa(r.nextSub), dest: destination, fn: fn}
	r.subs[s.id] = s
	ws := r.conn
	r.mu.Unlock()

	if ws != nil {
		if err := r.write(ws, subscribeFrame(s)); err != nil {
			r.log.WithError(err).WithField("destination", destination).Warn("subscribe failed; will retry on reconnect")
		}
	}
	return func() { r.unsubscribe(s.id) }
}

func (r *Realtime) unsubscribe(id string) {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	ws := r.conn
	r.mu.Unlock()
	if ok && ws != nil {
		_ = r.write(ws, frame.New(frame.UNSUBSCRIBE, frame.Id, id))
	}
}

// Send publishes v as JSON to destination, e.g. "/app/chat/{matchId}".
func (r *Realtime) Send(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	ws := r.conn
	r.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return r.write(ws, f)
}

// SendChat posts one chat line to a match room.
func (r *Realtime) SendChat(matchID, content string) error {
	return r.Send(realtime.ChatSendPrefix+matchID, map[string]string{"content": content})
}

// ===== de-duplication =====

// dedup remembers the last n keys.
type dedup struct {
	keys map[string]struct{}
	ring []string
	next int
}

func newDedup(n int) *dedup {
	return &dedup{keys: make(map[string]struct{}, n), ring: make([]string, n)}
}

// seen records key and reports whether it was already present.
func (d *dedup) seen(key string) bool {
	if _, ok := d.keys[key]; ok {
		return true
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.keys, old)
	}
	d.ring[d.next] = key
	d.keys[key] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return false
}
