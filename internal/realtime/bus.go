package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

type busMessage struct {
	Origin string          `json:"origin"`
	Sender string          `json:"sender"`
	PoemID string          `json:"poemId"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisBus fans room events out across API instances over Redis pub/sub.
// Messages published by this instance are ignored on receipt; local members
// were already served by the hub.
type RedisBus struct {
	client     *redis.Client
	instanceID string
	prefix     string

	mu  sync.Mutex
	sub *redis.PubSub
}

func NewRedisBus(client *redis.Client, instanceID string) *RedisBus {
	return &RedisBus{
		client:     client,
		instanceID: instanceID,
		prefix:     "poetate:room:",
	}
}

func (b *RedisBus) Publish(ctx context.Context, poemID, senderID string, frame []byte) error {
	payload, err := json.Marshal(busMessage{
		Origin: b.instanceID,
		Sender: senderID,
		PoemID: poemID,
		Frame:  frame,
	})
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+poemID, payload).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Start subscribes to every room channel and forwards foreign messages to hub
// until ctx ends or Close is called. It returns once the subscription is live.
func (b *RedisBus) Start(ctx context.Context, hub *Hub) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe room bus: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.forward(hub, msg.Channel, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBus) forward(hub *Hub, channel, payload string) int {
	var msg busMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Printf(`{"event":"bus_message_dropped","channel":"%s","reason":"malformed"}`, channel)
		return 0
	}
	if msg.Origin == b.instanceID {
		return 0
	}
	poemID := msg.PoemID
	if poemID == "" {
		poemID = strings.TrimPrefix(channel, b.prefix)
	}
	return hub.DeliverRemote(poemID, msg.Sender, msg.Frame)
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}
