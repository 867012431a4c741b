package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetate/api/pkg/domain"
)

func startInstance(t *testing.T, ctx context.Context, addr, instanceID string) *Hub {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub()
	bus := NewRedisBus(client, instanceID)
	require.NoError(t, bus.Start(ctx, hub))
	t.Cleanup(func() { _ = bus.Close() })
	hub.SetPublisher(bus)
	return hub
}

func TestRedisBusFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA := startInstance(t, ctx, mr.Addr(), "instance-a")
	hubB := startInstance(t, ctx, mr.Addr(), "instance-b")

	sender, localPeer := newFakePeer("sender"), newFakePeer("local")
	remotePeer, otherRoom := newFakePeer("remote"), newFakePeer("other")
	require.NoError(t, hubA.Join(sender, "poem-a", AccessWrite))
	require.NoError(t, hubA.Join(localPeer, "poem-a", AccessWrite))
	require.NoError(t, hubB.Join(remotePeer, "poem-a", AccessWrite))
	require.NoError(t, hubB.Join(otherRoom, "poem-b", AccessWrite))

	_, err := hubA.Broadcast(ctx, sender, mustEnvelope(t, domain.EventUpdatePosition, domain.UpdatePositionEvent{
		ID: "ann_1", PoemID: "poem-a", Offset: domain.Offset{DX: 10, DY: -5},
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(remotePeer.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	var got domain.UpdatePositionEvent
	require.NoError(t, json.Unmarshal(remotePeer.received()[0].Data, &got))
	assert.Equal(t, domain.Offset{DX: 10, DY: -5}, got.Offset)

	// The origin instance ignores its own echo, so the local peer sees it once.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, localPeer.received(), 1)
	assert.Empty(t, sender.received())
	assert.Empty(t, otherRoom.received())
}

func TestRedisBusDropsMalformedMessages(t *testing.T) {
	bus := NewRedisBus(nil, "instance-a")
	hub := NewHub()
	assert.Equal(t, 0, bus.forward(hub, "poetate:room:poem-a", "not json"))
	assert.Equal(t, 0, bus.forward(hub, "poetate:room:poem-a", `{"origin":"instance-a","sender":"x","frame":{}}`))

	peer := newFakePeer("p")
	require.NoError(t, hub.Join(peer, "poem-a", AccessWrite))
	assert.Equal(t, 1, bus.forward(hub, "poetate:room:poem-a", `{"origin":"instance-b","sender":"x","frame":{"event":"delete-annotation"}}`))
}
