package realtime

import (
	"context"
	"fmt"
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
)

const (
	connectTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
	maxFrameBytes  = 64 << 10
	sendBuffer     = 64
)

type outbound struct {
	data       []byte
	command    string
	closeAfter bool
}

type session struct {
	b        *Broker
	ws       *websocket.Conn
	id       string
	preToken string
	log      logrus.FieldLogger

	// set once during CONNECT, before the write loop starts
	uid          string
	heartbeatOut time.Duration
	heartbeatIn  time.Duration

	subs map[string]string // subscription id -> destination; read loop only

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool // a closeAfter frame is queued
}

func newSession(b *Broker, ws *websocket.Conn, preToken string) *session {
	id := uuid.NewString()
	return &session{
		b:        b,
		ws:       ws,
		id:       id,
		preToken: preToken,
		log:      b.log.WithField("session", id),
		subs:     map[string]string{},
		send:     make(chan outbound, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

// enqueue hands a frame to the write loop. A full buffer means the client cannot keep
// up; it is disconnected instead of blocking the publisher.
func (s *session) enqueue(o outbound) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- o:
		return true
	default:
		s.log.WithField("user_id", s.uid).Warn("dropping slow stomp consumer")
		s.close()
		return false
	}
}

// writeDirect is only used before the write loop runs.
func (s *session) writeDirect(f *frame.Frame) error {
	s.b.metrics.FrameOut(f.Command)
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, EncodeFrame(f))
}

func (s *session) run(ctx context.Context) {
	s.ws.SetReadLimit(maxFrameBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(connectTimeout))

	if !s.handshake() {
		return
	}
	go s.writeLoop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("stomp read failed")
			}
			return
		}
		s.extendReadDeadline()
		frames, err := DecodeFrames(data)
		if err != nil {
			s.fail("malformed frame", err.Error())
			return
		}
		for _, f := range frames {
			if !s.handle(ctx, f) {
				return
			}
		}
	}
}

func (s *session) extendReadDeadline() {
	if s.heartbeatIn > 0 {
		_ = s.ws.SetReadDeadline(time.Now().Add(3 * s.heartbeatIn))
	} else {
		_ = s.ws.SetReadDeadline(time.Time{})
	}
}

// handshake waits for CONNECT, authenticates, and answers CONNECTED.
func (s *session) handshake() bool {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return false
		}
		frames, err := DecodeFrames(data)
		if err != nil {
			_ = s.writeDirect(errorFrame("malformed frame", "", err.Error()))
			return false
		}
		if len(frames) == 0 {
			continue
		}
		f := frames[0]
		s.b.metrics.FrameIn(f.Command)
		if f.Command != frame.CONNECT && f.Command != frame.STOMP {
			_ = s.writeDirect(errorFrame("expected CONNECT", "", "got "+f.Command))
			return false
		}
		if v := f.Header.Get(frame.AcceptVersion); v != "" && !strings.Contains(v, "1.2") && !strings.Contains(v, "1.1") {
			_ = s.writeDirect(errorFrame("unsupported version", "", "supported versions are 1.1 and 1.2"))
			return false
		}

		token := auth.BearerToken(f.Header.Get("Authorization"))
		if token == "" {
			token = f.Header.Get(frame.Passcode)
		}
		if token == "" {
			token = s.preToken
		}
		uid, err := s.b.auth(token)
		if err != nil || uid == "" {
			s.log.WithError(err).Info("stomp authentication failed")
			_ = s.writeDirect(errorFrame("authentication failed", "", ""))
			return false
		}
		s.uid = uid
		s.log = s.log.WithField("user_id", uid)

		cx, cy := time.Duration(0), time.Duration(0)
		if hb := f.Header.Get(frame.HeartBeat); hb != "" {
			if cx, cy, err = frame.ParseHeartBeat(hb); err != nil {
				_ = s.writeDirect(errorFrame("invalid heart-beat", "", hb))
				return false
			}
		}
		s.heartbeatOut = negotiate(s.b.heartbeat, cy)
		s.heartbeatIn = negotiate(cx, s.b.heartbeat)
		s.extendReadDeadline()

		ms := strconv.FormatInt(s.b.heartbeat.Milliseconds(), 10)
		connected := frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, ms+","+ms,
			frame.Server, "babsang/1.0",
			frame.Session, s.id,
			"user-name", uid,
		)
		if err := s.writeDirect(connected); err != nil {
			return false
		}
		s.log.Debug("stomp session connected")
		return true
	}
}

// negotiate applies the STOMP rule: zero on either side disables, otherwise the larger wins.
func negotiate(mine, theirs time.Duration) time.Duration {
	if mine <= 0 || theirs <= 0 {
		return 0
	}
	return max(mine, theirs)
}

func (s *session) writeLoop() {
	var tick <-chan time.Time
	if s.heartbeatOut > 0 {
		t := time.NewTicker(s.heartbeatOut)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-s.done:
			return
		case o := <-s.send:
			if o.command != "" {
				s.b.metrics.FrameOut(o.command)
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, o.data); err != nil || o.closeAfter {
				s.close()
				return
			}
		case <-tick:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, heartbeatFrame()); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) reply(f *frame.Frame) {
	s.enqueue(outbound{data: EncodeFrame(f), command: f.Command})
}

// fail sends an ERROR frame and closes once it is written.
func (s *session) fail(message, detail string) {
	s.finish(errorFrame(message, "", detail))
}

func (s *session) finish(f *frame.Frame) {
	s.closing.Store(true)
	s.enqueue(outbound{data: EncodeFrame(f), command: f.Command, closeAfter: true})
}

// flush waits for a queued final frame to go out.
func (s *session) flush() {
	if !s.closing.Load() {
		return
	}
	select {
	case <-s.done:
	case <-time.After(writeWait):
	}
}

// handle processes one frame and reports whether the session should keep reading.
func (s *session) handle(ctx context.Context, f *frame.Frame) bool {
	s.b.metrics.FrameIn(f.Command)
	receipt := f.Header.Get(frame.Receipt)

	switch f.Command {
	case frame.SUBSCRIBE:
		id, dest := f.Header.Get(frame.Id), f.Header.Get(frame.Destination)
		if id == "" || dest == "" {
			s.reply(errorFrame("SUBSCRIBE needs id and destination", receipt, ""))
			return true
		}
		if err := s.b.authorize(s.uid, dest); err != nil {
			s.log.WithField("destination", dest).WithError(err).Info("subscription refused")
			s.reply(errorFrame("subscription refused", receipt, dest))
			return true
		}
		if old, ok := s.subs[id]; ok {
			s.b.unsubscribe(s, id, old)
		}
		s.subs[id] = dest
		s.b.subscribe(s, id, dest)

	case frame.UNSUBSCRIBE:
		id := f.Header.Get(frame.Id)
		if dest, ok := s.subs[id]; ok {
			delete(s.subs, id)
			s.b.unsubscribe(s, id, dest)
		}

	case frame.SEND:
		dest := f.Header.Get(frame.Destination)
		if !strings.HasPrefix(dest, "/app/") || s.b.handler == nil {
			s.reply(errorFrame("unknown destination", receipt, dest))
			return true
		}
		if err := s.b.handler.Receive(ctx, s.uid, dest, f.Body); err != nil {
			s.log.WithField("destination", dest).WithError(err).Info("send rejected")
			s.reply(errorFrame("send rejected", receipt, err.Error()))
			return true
		}

	case frame.DISCONNECT:
		if receipt != "" {
			s.finish(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false

	case frame.ACK, frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT:
		// subscriptions are auto-ack and there are no transactions

	case frame.CONNECT, frame.STOMP:
		s.fail("already connected", "")
		return false

	default:
		s.fail("unknown command", fmt.Sprintf("%q", f.Command))
		return false
	}

	if receipt != "" {
		s.reply(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
	}
	return true
}
