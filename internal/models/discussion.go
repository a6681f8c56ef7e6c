package models

import "time"

// Discussion binds one deal, one buyer and one seller to exactly one chat room.
type Discussion struct {
	ID        int       `db:"id" json:"id"`
	DealID    int       `db:"deal_id" json:"deal_id"`
	BuyerID   int       `db:"buyer_id" json:"buyer_id"`
	SellerID  int       `db:"seller_id" json:"seller_id"`
	RoomID    string    `db:"room_id" json:"room_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CounterpartOf returns the other participant of the discussion, or 0 if userID takes no part in it.
func (d Discussion) CounterpartOf(userID int) int {
	switch userID {
	case d.BuyerID:
		return d.SellerID
	case d.SellerID:
		return d.BuyerID
	default:
		return 0
	}
}

// DiscussionStatus is the per-user unread flag of a discussion.
type DiscussionStatus struct {
	ID           int       `db:"id" json:"id"`
	DiscussionID int       `db:"discussion_id" json:"discussion_id"`
	UserID       int       `db:"user_id" json:"user_id"`
	NewMessage   bool      `db:"new_message" json:"new_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DiscussionSummary is the listing view of a discussion for one user.
type DiscussionSummary struct {
	Discussion
	DealTitle      string  `json:"deal_title"`
	DealPrice      float64 `json:"deal_price"`
	BuyerUsername  string  `json:"buyer_username,omitempty"`
	SellerUsername string  `json:"seller_username,omitempty"`
	CounterpartID  int     `json:"counterpart_id"`
	NewMessage     bool    `json:"new_message"`
}

// DiscussionEvent is published on the event bus and pushed to notification sockets.
type DiscussionEvent struct {
	Type         string    `json:"type"`
	DiscussionID int       `json:"discussion_id"`
	DealID       int       `json:"deal_id,omitempty"`
	UserID       int       `json:"user_id,omitempty"`
	RoomID       string    `json:"room_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
