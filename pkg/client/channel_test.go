package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"poetate/api/internal/realtime"
	"poetate/api/pkg/domain"
)

func TestChannelRelaysBetweenClients(t *testing.T) {
	hub := realtime.NewHub()
	srv := httptest.NewServer(realtime.NewHandler(hub, 8, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(srv.URL, "")
	alice, err := Dial(ctx, WebsocketURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer alice.Close() //nolint:errcheck
	bob, err := c.Channel(ctx)
	if err != nil {
		t.Fatalf("Channel() error: %v", err)
	}
	defer bob.Close() //nolint:errcheck

	if err := alice.Join(ctx, "poem_1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if err := bob.Join(ctx, "poem_1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	for hub.Members("poem_1") != 2 {
		select {
		case <-ctx.Done():
			t.Fatal("clients never joined")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := alice.Emit(ctx, domain.EventUpdateText, domain.UpdateTextEvent{ID: "ann_1", PoemID: "poem_1", NewText: "revised"}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	select {
	case env := <-bob.Events():
		if env.Event != domain.EventUpdateText {
			t.Fatalf("Event = %q, want %q", env.Event, domain.EventUpdateText)
		}
		var payload domain.UpdateTextEvent
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.NewText != "revised" {
			t.Fatalf("payload = %+v, %v", payload, err)
		}
	case <-ctx.Done():
		t.Fatal("bob never received the event")
	}

	select {
	case env := <-alice.Events():
		t.Fatalf("sender received its own event %+v", env)
	case <-time.After(150 * time.Millisecond):
	}

	if err := alice.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := alice.Emit(ctx, domain.EventDeleteAnnotation, domain.DeleteAnnotationEvent{ID: "x", PoemID: "poem_1"}); err != ErrChannelClosed {
		t.Fatalf("Emit() after Close = %v, want ErrChannelClosed", err)
	}
}

func TestChannelSendsCredentials(t *testing.T) {
	hub := realtime.NewHub()
	ws := realtime.NewHandler(hub, 8, nil)
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		ws.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := New(srv.URL, "tok").WithShare("share-1").Channel(ctx)
	if err != nil {
		t.Fatalf("Channel() error: %v", err)
	}
	defer ch.Close() //nolint:errcheck

	got := <-headers
	if got.Get("Authorization") != "Bearer tok" || got.Get("X-Share-Id") != "share-1" {
		t.Fatalf("handshake headers = %v", got)
	}
}
