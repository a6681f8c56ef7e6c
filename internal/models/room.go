package models

// RoomMessage is a cached text message of a chat room.
type RoomMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Room is the client-side cache entry for a joined chat room.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Messages     []RoomMessage `json:"messages"`
	LastActivity int64         `json:"last_activity"`
}
