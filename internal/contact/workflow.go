// Package contact opens the discussion between a buyer and the seller of a deal.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log"

	"discussion-service/internal/models"
	"discussion-service/internal/repositories"
)

var (
	ErrDealNotFound       = errors.New("deal not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrSelfContact        = errors.New("buyer is the seller of the deal")
	ErrChatAccountMissing = errors.New("participant has no chat account")
	ErrRoomNotCreated     = errors.New("chat room could not be created")
)

// RoomCreator creates the chat room backing a new discussion. It returns "" on failure.
type RoomCreator interface {
	CreateRoom(ctx context.Context, name, buyerHandle, sellerHandle string) string
}

// Discussions is the part of the registry the workflow needs.
type Discussions interface {
	GetDiscussion(ctx context.Context, dealID, buyerID, sellerID int) (*models.Discussion, error)
	CreateDiscussion(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (*models.Discussion, error)
}

// Result is the discussion the buyer should open. Created is false when it already existed.
type Result struct {
	Discussion models.Discussion `json:"discussion"`
	Created    bool              `json:"created"`
}

type Workflow struct {
	deals       repositories.DealLookup
	users       repositories.UserLookup
	rooms       RoomCreator
	discussions Discussions
}

func NewWorkflow(deals repositories.DealLookup, users repositories.UserLookup, rooms RoomCreator, discussions Discussions) *Workflow {
	return &Workflow{deals: deals, users: users, rooms: rooms, discussions: discussions}
}

// ContactSeller returns the discussion between buyerID and the seller of dealID, creating the
// room and the discussion on first contact. No discussion is stored when the room cannot be created.
func (w *Workflow) ContactSeller(ctx context.Context, dealID, buyerID int) (Result, error) {
	deal, err := w.deals.GetDeal(ctx, dealID)
	if errors.Is(err, repositories.ErrDealNotFound) {
		return Result{}, ErrDealNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load deal: %w", err)
	}
	if deal.SellerID == buyerID {
		return Result{}, ErrSelfContact
	}

	existing, err := w.discussions.GetDiscussion(ctx, deal.ID, buyerID, deal.SellerID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{Discussion: *existing}, nil
	}

	buyer, err := w.participant(ctx, buyerID)
	if err != nil {
		return Result{}, err
	}
	seller, err := w.participant(ctx, deal.SellerID)
	if err != nil {
		return Result{}, err
	}

	roomID := w.rooms.CreateRoom(ctx, deal.Title, buyer.ChatHandle, seller.ChatHandle)
	if roomID == "" {
		return Result{}, ErrRoomNotCreated
	}

	discussion, err := w.discussions.CreateDiscussion(ctx, deal.ID, buyerID, deal.SellerID, roomID)
	if err != nil {
		log.Printf("discussion not stored for created room deal_id=%d buyer_id=%d room_id=%s: %v", deal.ID, buyerID, roomID, err)
		return Result{}, err
	}
	return Result{Discussion: *discussion, Created: discussion.RoomID == roomID}, nil
}

func (w *Workflow) participant(ctx context.Context, userID int) (models.User, error) {
	user, err := w.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.ChatHandle == "" {
		return models.User{}, fmt.Errorf("%w: id=%d", ErrChatAccountMissing, userID)
	}
	return user, nil
}
