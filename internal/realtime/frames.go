package realtime

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	userTopicPrefix = "/topic/user/"
	chatTopicPrefix = "/topic/chat/"
	ChatSendPrefix  = "/app/chat/"
)

// UserTopic is where a user's notifications are published.
func UserTopic(uid string) string { return userTopicPrefix + uid + "/notifications" }

func ChatTopic(matchID string) string { return chatTopicPrefix + matchID }

// ChatMatchID extracts the match id from a chat topic or chat send destination.
func ChatMatchID(destination string) (string, bool) {
	for _, p := range []string{chatTopicPrefix, ChatSendPrefix} {
		if id, ok := strings.CutPrefix(destination, p); ok && id != "" && !strings.Contains(id, "/") {
			return id, true
		}
	}
	return "", false
}

// DecodeFrames parses every frame in one WebSocket message. Heart-beats are skipped.
func DecodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

// EncodeFrame renders one frame for a WebSocket text message.
func EncodeFrame(f *frame.Frame) []byte {
	var buf bytes.Buffer
	// writes into a bytes.Buffer cannot fail
	_ = frame.NewWriter(&buf).Write(f)
	return buf.Bytes()
}

func heartbeatFrame() []byte { return []byte("\n") }

func errorFrame(message, receipt, detail string) *frame.Frame {
	f := frame.New(frame.ERROR, frame.Message, message, frame.ContentType, "text/plain")
	if receipt != "" {
		f.Header.Add(frame.ReceiptId, receipt)
	}
	if detail != "" {
		f.Body = []byte(detail)
		f.Header.Add(frame.ContentLength, strconv.Itoa(len(f.Body)))
	}
	return f
}
