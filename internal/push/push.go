// Package push delivers notifications to phones through Firebase Cloud Messaging.
package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender returns the tokens the provider reported as no longer registered.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) (stale []string, err error)
}

// Nop drops everything; used when Firebase is not configured.
type Nop struct{}

func (Nop) Send(context.Context, []string, Message) ([]string, error) { return nil, nil }

type multicaster interface {
	SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type FCM struct {
	client multicaster
}

func NewFCM(c *messaging.Client) *FCM { return &FCM{client: c} }

// FCM caps a multicast at 500 tokens.
const maxBatch = 500

func (f *FCM) Send(ctx context.Context, tokens []string, msg Message) ([]string, error) {
	var stale []string
	for start := 0; start < len(tokens); start += maxBatch {
		end := min(start+maxBatch, len(tokens))
		batch := tokens[start:end]
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
			Android:      &messaging.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			return stale, fmt.Errorf("fcm multicast: %w", err)
		}
		for i, r := range resp.Responses {
			if r != nil && r.Error != nil && messaging.IsUnregistered(r.Error) {
				stale = append(stale, batch[i])
			}
		}
	}
	return stale, nil
}
