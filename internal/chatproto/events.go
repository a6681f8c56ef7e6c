package chatproto

import (
	"encoding/json"

	"discussion-service/internal/models"
)

// RawEvent is a timeline or state event as delivered by /sync.
type RawEvent struct {
	Type           string          `json:"type"`
	EventID        string          `json:"event_id"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content"`
}

// AsMessage maps a message event to its cached form. ok is false for any other event type.
func (e RawEvent) AsMessage() (models.RoomMessage, bool) {
	if e.Type != EventTypeMessage {
		return models.RoomMessage{}, false
	}
	var content struct {
		Body string `json:"body"`
	}
	_ = json.Unmarshal(e.Content, &content)
	return models.RoomMessage{
		ID:        e.EventID,
		Sender:    e.Sender,
		Body:      content.Body,
		Timestamp: e.OriginServerTS,
	}, true
}

func (e RawEvent) membership() string {
	var content struct {
		Membership string `json:"membership"`
	}
	_ = json.Unmarshal(e.Content, &content)
	return content.Membership
}

func (e RawEvent) roomName() string {
	var content struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(e.Content, &content)
	return content.Name
}

// SyncResponse is the subset of the /sync payload this client understands.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]JoinedRoom      `json:"join"`
		Invite map[string]InvitedRoom     `json:"invite"`
		Leave  map[string]json.RawMessage `json:"leave"`
	} `json:"rooms"`
}

// JoinedRoom carries the state and timeline delta of a joined room.
type JoinedRoom struct {
	State struct {
		Events []RawEvent `json:"events"`
	} `json:"state"`
	Timeline struct {
		Events    []RawEvent `json:"events"`
		Limited   bool       `json:"limited"`
		PrevBatch string     `json:"prev_batch"`
	} `json:"timeline"`
}

// InvitedRoom carries the stripped state of a pending invite.
type InvitedRoom struct {
	InviteState struct {
		Events []RawEvent `json:"events"`
	} `json:"invite_state"`
}

// SyncState is the lifecycle state of the sync loop.
type SyncState string

const (
	SyncPrepared SyncState = "prepared"
	SyncSyncing  SyncState = "syncing"
	SyncError    SyncState = "error"
	SyncStopped  SyncState = "stopped"
)

// Event is the union of notifications a Syncer publishes:
// MessageReceived, Invited or SyncStateChanged.
type Event interface {
	isEvent()
}

// MessageReceived is a message event on a joined room's timeline. Historical is set for events
// that arrived with the initial snapshot rather than live.
type MessageReceived struct {
	RoomID     string
	Message    models.RoomMessage
	Historical bool
}

// Invited reports that the session's own membership in a room became "invite".
type Invited struct {
	RoomID  string
	Inviter string
}

// SyncStateChanged reports sync loop transitions. Err is set for SyncError.
type SyncStateChanged struct {
	State SyncState
	Err   error
}

func (MessageReceived) isEvent()  {}
func (Invited) isEvent()          {}
func (SyncStateChanged) isEvent() {}
