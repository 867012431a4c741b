// Package realtime relays annotation mutation events between the websocket
// connections viewing the same poem.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"poetate/api/pkg/domain"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrUndeliverable  = errors.New("event has no poem id")
	ErrNotJoined      = errors.New("connection has not joined a room")
	ErrRoomMismatch   = errors.New("event poem does not match joined room")
	ErrForbidden      = errors.New("room access denied")
	ErrReadOnly       = errors.New("connection may not mutate this room")
)

// Access is what a peer may do in the room it joined.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
)

// Authorizer resolves the caller's access to the room for poemID.
type Authorizer func(ctx context.Context, poemID string) (Access, error)

type authorizerKey struct{}

// WithAuthorizer attaches the connection's authorizer to ctx. Join frames
// handled under ctx are checked against it.
func WithAuthorizer(ctx context.Context, authz Authorizer) context.Context {
	return context.WithValue(ctx, authorizerKey{}, authz)
}

// authorize returns AccessWrite when ctx carries no authorizer.
func authorize(ctx context.Context, poemID string) (Access, error) {
	authz, _ := ctx.Value(authorizerKey{}).(Authorizer)
	if authz == nil {
		return AccessWrite, nil
	}
	return authz(ctx, poemID)
}

// Peer is one connected client as the hub sees it.
type Peer interface {
	ID() string
	// Send queues frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
	Close()
}

// Publisher forwards accepted frames to other API instances.
type Publisher interface {
	Publish(ctx context.Context, poemID, senderID string, frame []byte) error
}

// Hub tracks room membership. A peer belongs to at most one room; membership
// is dropped when the peer leaves or disconnects.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Peer
	joined map[string]string
	access map[string]Access
	bus    Publisher
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Peer),
		joined: make(map[string]string),
		access: make(map[string]Access),
	}
}

func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bus = p
}

// Join puts p in the room for poemID with the given access, moving it out of
// any previous room. A peer without access stays where it was.
func (h *Hub) Join(p Peer, poemID string, level Access) error {
	poemID = strings.TrimSpace(poemID)
	if poemID == "" {
		return ErrUndeliverable
	}
	if level <= AccessNone {
		log.Printf(`{"event":"room_join_denied","conn":"%s","poem":"%s"}`, p.ID(), poemID)
		return ErrForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.joined[p.ID()]; ok {
		if current == poemID {
			h.access[p.ID()] = level
			return nil
		}
		h.removeLocked(p.ID(), current)
	}
	room := h.rooms[poemID]
	if room == nil {
		room = make(map[string]Peer)
		h.rooms[poemID] = room
	}
	room[p.ID()] = p
	h.joined[p.ID()] = poemID
	h.access[p.ID()] = level
	log.Printf(`{"event":"room_join","conn":"%s","poem":"%s","members":%d}`, p.ID(), poemID, len(room))
	return nil
}

func (h *Hub) Leave(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if poemID, ok := h.joined[p.ID()]; ok {
		h.removeLocked(p.ID(), poemID)
		log.Printf(`{"event":"room_leave","conn":"%s","poem":"%s"}`, p.ID(), poemID)
	}
}

func (h *Hub) removeLocked(peerID, poemID string) {
	delete(h.joined, peerID)
	delete(h.access, peerID)
	room := h.rooms[poemID]
	delete(room, peerID)
	if len(room) == 0 {
		delete(h.rooms, poemID)
	}
}

// RoomOf returns the poem the peer has joined.
func (h *Hub) RoomOf(peerID string) (string, bool) {
	poemID, _, ok := h.membership(peerID)
	return poemID, ok
}

func (h *Hub) membership(peerID string) (string, Access, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	poemID, ok := h.joined[peerID]
	return poemID, h.access[peerID], ok
}

func (h *Hub) Members(poemID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[poemID])
}

// Handle processes one inbound frame from p.
func (h *Hub) Handle(ctx context.Context, p Peer, frame []byte) error {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"malformed"}`, p.ID())
		return ErrMalformedFrame
	}
	if env.Event == domain.EventJoinRoom {
		poemID := strings.TrimSpace(joinTarget(env.Data))
		if poemID == "" {
			return ErrUndeliverable
		}
		level, err := authorize(ctx, poemID)
		if err != nil {
			log.Printf(`{"event":"room_join_failed","conn":"%s","poem":"%s","error":%q}`, p.ID(), poemID, err.Error())
			return err
		}
		return h.Join(p, poemID, level)
	}
	_, err := h.Broadcast(ctx, p, env)
	return err
}

// Broadcast relays env to every other member of the room named by the
// payload's poemId and returns the number of local peers reached. The sender
// never receives its own event and must have joined that room with write
// access.
func (h *Hub) Broadcast(ctx context.Context, from Peer, env domain.Envelope) (int, error) {
	if !domain.IsAnnotationEvent(env.Event) {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"unknown event %q"}`, from.ID(), env.Event)
		return 0, ErrUnknownEvent
	}
	poemID := payloadPoemID(env.Data)
	if poemID == "" {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"undeliverable %s"}`, from.ID(), env.Event)
		return 0, ErrUndeliverable
	}
	joined, level, ok := h.membership(from.ID())
	if !ok {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"not joined"}`, from.ID())
		return 0, ErrNotJoined
	}
	if joined != poemID {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"room mismatch","joined":"%s","poem":"%s"}`, from.ID(), joined, poemID)
		return 0, ErrRoomMismatch
	}
	if level < AccessWrite {
		log.Printf(`{"event":"frame_dropped","conn":"%s","reason":"read only","poem":"%s"}`, from.ID(), poemID)
		return 0, ErrReadOnly
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	delivered := h.deliver(poemID, from.ID(), frame)

	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()
	if bus != nil {
		if err := bus.Publish(ctx, poemID, from.ID(), frame); err != nil {
			log.Printf(`{"event":"bus_publish_failed","poem":"%s","error":%q}`, poemID, err.Error())
		}
	}
	return delivered, nil
}

// DeliverRemote hands a frame received from another instance to local room
// members, still excluding the original sender.
func (h *Hub) DeliverRemote(poemID, senderID string, frame []byte) int {
	return h.deliver(poemID, senderID, frame)
}

func (h *Hub) deliver(poemID, exclude string, frame []byte) int {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.rooms[poemID]))
	for id, peer := range h.rooms[poemID] {
		if id != exclude {
			targets = append(targets, peer)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, peer := range targets {
		if peer.Send(frame) {
			delivered++
			continue
		}
		// A full queue means the peer fell behind; it resyncs on reload.
		log.Printf(`{"event":"peer_dropped","conn":"%s","poem":"%s","reason":"send queue full"}`, peer.ID(), poemID)
		h.Leave(peer)
		peer.Close()
	}
	return delivered
}

// joinTarget accepts both a bare poem id string and {"poemId": "..."}.
func joinTarget(data json.RawMessage) string {
	var poemID string
	if err := json.Unmarshal(data, &poemID); err == nil {
		return poemID
	}
	var join domain.JoinRoom
	if err := json.Unmarshal(data, &join); err == nil {
		return join.PoemID
	}
	return ""
}

func payloadPoemID(data json.RawMessage) string {
	var target struct {
		PoemID string `json:"poemId"`
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return ""
	}
	return strings.TrimSpace(target.PoemID)
}
