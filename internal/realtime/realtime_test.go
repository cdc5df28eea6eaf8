package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alsseok01/babsang/internal/logging"
)

type fakeHandler struct {
	mu   sync.Mutex
	sent []string
	got  chan string
}

func newFakeHandler() *fakeHandler { return &fakeHandler{got: make(chan string, 8)} }

func (h *fakeHandler) CanSubscribe(uid, dest string) error {
	if id, ok := ChatMatchID(dest); ok && id == "m1" {
		return nil
	}
	return ErrForbidden
}

func (h *fakeHandler) Receive(_ context.Context, uid, dest string, body []byte) error {
	if string(body) == "boom" {
		return errors.New("rejected")
	}
	h.mu.Lock()
	h.sent = append(h.sent, uid+" "+dest+" "+string(body))
	h.mu.Unlock()
	h.got <- string(body)
	return nil
}

func tokens(token string) (string, error) {
	if uid, ok := strings.CutPrefix(token, "tok-"); ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

func startBroker(t *testing.T, h Handler) (*Broker, string) {
	t.Helper()
	b := NewBroker(tokens, h, logging.Discard(), WithHeartbeat(0))
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(f *frame.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, EncodeFrame(f)))
}

func (c *client) read() *frame.Frame {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err)
		frames, err := DecodeFrames(data)
		require.NoError(c.t, err)
		if len(frames) > 0 {
			return frames[0]
		}
	}
}

func (c *client) connect(token string) *frame.Frame {
	c.t.Helper()
	c.send(frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, "localhost",
		frame.HeartBeat, "0,0",
		"Authorization", "Bearer "+token,
	))
	return c.read()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestConnectAuthenticates(t *testing.T) {
	_, url := startBroker(t, newFakeHandler())

	c := dial(t, url)
	f := c.connect("tok-alice")
	require.Equal(t, frame.CONNECTED, f.Command)
	assert.Equal(t, "1.2", f.Header.Get(frame.Version))
	assert.Equal(t, "alice", f.Header.Get("user-name"))
	assert.NotEmpty(t, f.Header.Get(frame.Session))

	bad := dial(t, url)
	f = bad.connect("nope")
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Equal(t, "authentication failed", f.Header.Get(frame.Message))
}

func TestConnectUsesQueryToken(t *testing.T) {
	_, url := startBroker(t, newFakeHandler())
	c := dial(t, url+"?token=tok-bob")
	c.send(frame.New(frame.CONNECT, frame.AcceptVersion, "1.2"))
	f := c.read()
	require.Equal(t, frame.CONNECTED, f.Command)
	assert.Equal(t, "bob", f.Header.Get("user-name"))
}

func TestFirstFrameMustBeConnect(t *testing.T) {
	_, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, "/topic/chat/m1"))
	f := c.read()
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Equal(t, "expected CONNECT", f.Header.Get(frame.Message))
}

func TestUserTopicIsPrivate(t *testing.T) {
	b, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	require.Equal(t, frame.CONNECTED, c.connect("tok-alice").Command)

	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, UserTopic("bob"), frame.Receipt, "r0"))
	f := c.read()
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Equal(t, "r0", f.Header.Get(frame.ReceiptId))

	// the session survives a refused subscription
	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "1", frame.Destination, UserTopic("alice"), frame.Receipt, "r1"))
	f = c.read()
	require.Equal(t, frame.RECEIPT, f.Command)
	assert.Equal(t, "r1", f.Header.Get(frame.ReceiptId))

	assert.Zero(t, b.Publish(UserTopic("bob"), []byte(`{}`)))
	require.NoError(t, b.PublishJSON(UserTopic("alice"), map[string]string{"type": "MATCH_REQUEST"}))
	f = c.read()
	require.Equal(t, frame.MESSAGE, f.Command)
	assert.Equal(t, "1", f.Header.Get(frame.Subscription))
	assert.Equal(t, UserTopic("alice"), f.Header.Get(frame.Destination))
	assert.NotEmpty(t, f.Header.Get(frame.MessageId))
	assert.JSONEq(t, `{"type":"MATCH_REQUEST"}`, string(f.Body))
}

func TestChatTopicDelegatesToHandler(t *testing.T) {
	_, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	c.connect("tok-alice")

	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, ChatTopic("m2"), frame.Receipt, "r0"))
	assert.Equal(t, frame.ERROR, c.read().Command)
	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "1", frame.Destination, ChatTopic("m1"), frame.Receipt, "r1"))
	assert.Equal(t, frame.RECEIPT, c.read().Command)
}

func TestSendReachesHandler(t *testing.T) {
	h := newFakeHandler()
	_, url := startBroker(t, h)
	c := dial(t, url)
	c.connect("tok-alice")

	send := frame.New(frame.SEND, frame.Destination, ChatSendPrefix+"m1", frame.Receipt, "s1")
	send.Body = []byte(`{"content":"hi"}`)
	c.send(send)
	assert.Equal(t, frame.RECEIPT, c.read().Command)
	select {
	case body := <-h.got:
		assert.Equal(t, `{"content":"hi"}`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	h.mu.Lock()
	assert.Equal(t, []string{`alice /app/chat/m1 {"content":"hi"}`}, h.sent)
	h.mu.Unlock()

	bad := frame.New(frame.SEND, frame.Destination, ChatSendPrefix+"m1", frame.Receipt, "s2")
	bad.Body = []byte("boom")
	c.send(bad)
	f := c.read()
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Equal(t, "s2", f.Header.Get(frame.ReceiptId))

	c.send(frame.New(frame.SEND, frame.Destination, "/topic/chat/m1"))
	assert.Equal(t, frame.ERROR, c.read().Command)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	c.connect("tok-alice")
	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, ChatTopic("m1"), frame.Receipt, "r0"))
	c.read()
	assert.Equal(t, 1, b.Publish(ChatTopic("m1"), []byte(`{}`)))
	c.read()

	c.send(frame.New(frame.UNSUBSCRIBE, frame.Id, "0", frame.Receipt, "r1"))
	assert.Equal(t, frame.RECEIPT, c.read().Command)
	assert.Zero(t, b.Publish(ChatTopic("m1"), []byte(`{}`)))
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	b, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	c.connect("tok-alice")
	c.send(frame.New(frame.SUBSCRIBE, frame.Id, "0", frame.Destination, ChatTopic("m1"), frame.Receipt, "r0"))
	c.read()
	waitFor(t, func() bool { return b.Sessions() == 1 })

	// the client stops reading: socket buffers fill, then the send queue, then the broker gives up
	body := []byte(`"` + strings.Repeat("x", 256<<10) + `"`)
	require.Eventually(t, func() bool {
		for i := 0; i < sendBuffer; i++ {
			b.Publish(ChatTopic("m1"), body)
		}
		return b.Sessions() == 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.Zero(t, b.Publish(ChatTopic("m1"), []byte(`{}`)))
}

func TestDisconnectSendsReceiptAndDrops(t *testing.T) {
	b, url := startBroker(t, newFakeHandler())
	c := dial(t, url)
	c.connect("tok-alice")
	waitFor(t, func() bool { return b.Sessions() == 1 })

	c.send(frame.New(frame.DISCONNECT, frame.Receipt, "bye"))
	f := c.read()
	assert.Equal(t, frame.RECEIPT, f.Command)
	assert.Equal(t, "bye", f.Header.Get(frame.ReceiptId))
	waitFor(t, func() bool { return b.Sessions() == 0 })
}

func TestChatMatchID(t *testing.T) {
	id, ok := ChatMatchID("/topic/chat/abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	id, ok = ChatMatchID("/app/chat/xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", id)
	for _, d := range []string{"/topic/chat/", "/topic/chat/a/b", "/topic/user/u/notifications"} {
		_, ok := ChatMatchID(d)
		assert.False(t, ok, d)
	}
}

func TestNegotiate(t *testing.T) {
	assert.Zero(t, negotiate(0, time.Second))
	assert.Zero(t, negotiate(time.Second, 0))
	assert.Equal(t, 3*time.Second, negotiate(time.Second, 3*time.Second))
}

func TestDecodeFramesSkipsHeartbeats(t *testing.T) {
	data := append([]byte("\n"), EncodeFrame(frame.New(frame.SEND, frame.Destination, "/app/x"))...)
	frames, err := DecodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, frame.SEND, frames[0].Command)

	frames, err = DecodeFrames(heartbeatFrame())
	require.NoError(t, err)
	assert.Empty(t, frames)
}
