package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"poetate/api/pkg/domain"
)

const channelWriteWait = 10 * time.Second

// ErrChannelClosed is returned by Emit after the channel has closed.
var ErrChannelClosed = errors.New("channel closed")

// Channel is a websocket connection to the realtime endpoint. Frames from
// other clients in the joined room arrive on Events in the order received.
type Channel struct {
	ws     *websocket.Conn
	events chan domain.Envelope

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial opens a channel to wsURL.
func Dial(ctx context.Context, wsURL string, header http.Header) (*Channel, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	ch := &Channel{
		ws:     ws,
		events: make(chan domain.Envelope, 64),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

// Channel dials the realtime endpoint of the client's server.
func (c *Client) Channel(ctx context.Context) (*Channel, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	if c.shareID != "" {
		header.Set("X-Share-Id", c.shareID)
	}
	return Dial(ctx, WebsocketURL(c.baseURL), header)
}

// WebsocketURL maps an http(s) base URL to the server's /ws endpoint.
func WebsocketURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// Join enters the room for poemID, leaving any previous room.
func (ch *Channel) Join(ctx context.Context, poemID string) error {
	return ch.Emit(ctx, domain.EventJoinRoom, domain.JoinRoom{PoemID: poemID})
}

// Emit sends one event. The server relays it to every other member of the
// room; it is never echoed back.
func (ch *Channel) Emit(ctx context.Context, event string, payload any) error {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-ch.done:
		return ErrChannelClosed
	default:
	}

	deadline := time.Now().Add(channelWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.ws.SetWriteDeadline(deadline)
	if err := ch.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Events is closed when the connection ends; Err then reports why.
func (ch *Channel) Events() <-chan domain.Envelope {
	return ch.events
}

func (ch *Channel) Err() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	return ch.err
}

func (ch *Channel) readLoop() {
	defer close(ch.events)
	for {
		var env domain.Envelope
		if err := ch.ws.ReadJSON(&env); err != nil {
			select {
			case <-ch.done:
			default:
				ch.errMu.Lock()
				ch.err = err
				ch.errMu.Unlock()
			}
			return
		}
		select {
		case ch.events <- env:
		case <-ch.done:
			return
		}
	}
}

func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.writeMu.Lock()
		_ = ch.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ch.writeMu.Unlock()
		err = ch.ws.Close()
	})
	return err
}
