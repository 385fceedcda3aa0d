// Package realtime relays log messages between connections joined to the
// same record's room and persists them on the way through.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"patientchat/internal/messagelog"
	"patientchat/internal/models"
	"patientchat/internal/storage"
	"patientchat/internal/worker"
)

// Subscriber is one connection that can sit in a room.
// Deliver must not block.
type Subscriber interface {
	ID() string
	Deliver(event string, payload any)
}

// Hub owns the room table. A room is keyed by a record's opaque id and a
// subscriber is in at most one room.
type Hub struct {
	store  storage.Store
	engine *messagelog.Engine
	exec   worker.Executor
	log    *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]map[Subscriber]struct{}
	members map[Subscriber]string
}

// NewHub builds a hub. Record operations run through exec, keyed by room.
func NewHub(store storage.Store, engine *messagelog.Engine, exec worker.Executor, log *zap.Logger) *Hub {
	if exec == nil {
		exec = worker.Inline{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		store:   store,
		engine:  engine,
		exec:    exec,
		log:     log,
		rooms:   make(map[string]map[Subscriber]struct{}),
		members: make(map[Subscriber]string),
	}
}

// Join moves sub into roomID and sends it the record's current messages.
// Subscribing and reading the snapshot run on the record's writer, so the
// snapshot plus later receiveMessage events cover the log exactly once.
// A missing record yields an empty snapshot.
func (h *Hub) Join(ctx context.Context, sub Subscriber, roomID string) error {
	log := h.log.With(zap.String("conn", sub.ID()), zap.String("room", roomID))
	err := h.exec.Do(ctx, roomID, func(ctx context.Context) {
		h.subscribe(sub, roomID)
		// the caller may already have given up and disconnected sub
		if ctx.Err() != nil {
			h.Disconnect(sub)
			return
		}
		log.Info("joined room")
		sub.Deliver(EventJoined, h.snapshot(ctx, log, roomID))
	})
	if err != nil {
		log.Error("join failed", zap.Error(err))
		sub.Deliver(EventJoined, []models.Message{})
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

func (h *Hub) snapshot(ctx context.Context, log *zap.Logger, roomID string) []models.Message {
	user, err := h.store.FindByOpaqueID(ctx, roomID)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidID):
		log.Warn("join for unknown record", zap.Error(err))
		return []models.Message{}
	case err != nil:
		log.Error("load record for join", zap.Error(err))
		return []models.Message{}
	}
	if user.Messages == nil {
		return []models.Message{}
	}
	return user.Messages
}

// Send appends the request's message to the record, saves it and broadcasts
// it to the room, the sender included. Nothing is broadcast unless the save
// succeeded.
func (h *Hub) Send(ctx context.Context, req SendRequest) error {
	log := h.log.With(zap.String("room", req.UserID))
	entry, err := req.Entry()
	if err != nil {
		log.Warn("rejected message", zap.Error(err))
		return err
	}
	var opErr error
	err = h.exec.Do(ctx, req.UserID, func(ctx context.Context) {
		opErr = h.appendAndBroadcast(ctx, req.UserID, entry)
	})
	if err != nil {
		log.Error("send not executed", zap.Error(err))
		return fmt.Errorf("send to %s: %w", req.UserID, err)
	}
	if opErr != nil {
		log.Warn("send dropped", zap.Error(opErr))
	}
	return opErr
}

func (h *Hub) appendAndBroadcast(ctx context.Context, roomID string, entry messagelog.Entry) error {
	user, err := h.store.FindByOpaqueID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	msg, err := h.engine.Append(user, entry)
	if err != nil {
		return err
	}
	if err := h.store.Save(ctx, user); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	h.Broadcast(roomID, EventReceiveMessage, msg)
	return nil
}

// Broadcast delivers payload to every subscriber of roomID.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[roomID]))
	for sub := range h.rooms[roomID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(event, payload)
	}
}

// Disconnect drops sub from its room.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub)
}

// RoomOf reports the room sub is in.
func (h *Hub) RoomOf(sub Subscriber) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.members[sub]
	return room, ok
}

// RoomSize reports how many subscribers are in roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) subscribe(sub Subscriber, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.members[sub]; ok && prev == roomID {
		return
	}
	h.leaveLocked(sub)
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.rooms[roomID] = set
	}
	set[sub] = struct{}{}
	h.members[sub] = roomID
}

func (h *Hub) leaveLocked(sub Subscriber) {
	room, ok := h.members[sub]
	if !ok {
		return
	}
	delete(h.members, sub)
	if set := h.rooms[room]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}
