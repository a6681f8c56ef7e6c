package chatproto

import "sync"

// RoomSnapshot is a copy of a joined room's known state.
type RoomSnapshot struct {
	ID       string
	Name     string
	Timeline []RawEvent
}

type roomState struct {
	name     string
	timeline []RawEvent
}

// RoomStore keeps the joined rooms and their timelines as seen by the sync loop.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
	order []string
}

// NewRoomStore creates an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*roomState)}
}

// Snapshot copies every joined room, in the order they were first seen.
func (s *RoomStore) Snapshot() []RoomSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoomSnapshot, 0, len(s.order))
	for _, id := range s.order {
		room := s.rooms[id]
		timeline := make([]RawEvent, len(room.timeline))
		copy(timeline, room.timeline)
		out = append(out, RoomSnapshot{ID: id, Name: room.name, Timeline: timeline})
	}
	return out
}

// Has reports whether the room is joined.
func (s *RoomStore) Has(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Ensure registers a joined room without events.
func (s *RoomStore) Ensure(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(roomID)
}

func (s *RoomStore) ensureLocked(roomID string) *roomState {
	room, ok := s.rooms[roomID]
	if !ok {
		room = &roomState{name: roomID}
		s.rooms[roomID] = room
		s.order = append(s.order, roomID)
	}
	return room
}

func (s *RoomStore) apply(roomID string, state, timeline []RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.ensureLocked(roomID)
	for _, evt := range state {
		if evt.Type == EventTypeName {
			if name := evt.roomName(); name != "" {
				room.name = name
			}
		}
	}
	for _, evt := range timeline {
		if evt.Type == EventTypeName {
			if name := evt.roomName(); name != "" {
				room.name = name
			}
		}
		room.timeline = append(room.timeline, evt)
	}
}

func (s *RoomStore) remove(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return
	}
	delete(s.rooms, roomID)
	for i, id := range s.order {
		if id == roomID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
