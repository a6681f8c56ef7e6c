// Package registry maps deals and their participants to chat rooms and tracks per-user unread flags.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"discussion-service/internal/chatproto"
	"discussion-service/internal/models"
	"discussion-service/internal/observability"
	"discussion-service/internal/repositories"
)

// ErrEmptyRoom rejects discussions without a bound chat room.
var ErrEmptyRoom = errors.New("discussion requires a room id")

const (
	EventCreated    = "created"
	EventNewMessage = "new_message"
	EventRead       = "read"

	routingKeyPrefix = "discussion_events."
)

// Notifier pushes discussion events to a connected user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int, event models.DiscussionEvent)
}

// Registry implements discussion lookup, creation and unread tracking.
type Registry struct {
	discussions repositories.DiscussionRepository
	statuses    repositories.DiscussionStatusRepository
	deals       repositories.DealLookup
	users       repositories.UserLookup
	notifier    Notifier
	now         func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithNotifier delivers unread notifications to connected users.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// New builds a Registry.
func New(discussions repositories.DiscussionRepository, statuses repositories.DiscussionStatusRepository, deals repositories.DealLookup, users repositories.UserLookup, opts ...Option) *Registry {
	r := &Registry{
		discussions: discussions,
		statuses:    statuses,
		deals:       deals,
		users:       users,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetDiscussion returns the discussion of the exact triple, or nil when there is none.
func (r *Registry) GetDiscussion(ctx context.Context, dealID, buyerID, sellerID int) (*models.Discussion, error) {
	discussion, err := r.discussions.FindByParticipants(ctx, dealID, buyerID, sellerID)
	if errors.Is(err, repositories.ErrDiscussionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find discussion: %w", err)
	}
	return &discussion, nil
}

// CreateDiscussion binds the triple to roomID. When the triple already exists the stored
// discussion is returned unchanged, whatever roomID is passed.
func (r *Registry) CreateDiscussion(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (*models.Discussion, error) {
	if roomID == "" {
		return nil, ErrEmptyRoom
	}

	discussion, created, err := r.discussions.CreateIfAbsent(ctx, dealID, buyerID, sellerID, roomID)
	if err != nil {
		return nil, fmt.Errorf("create discussion: %w", err)
	}

	if !created {
		if discussion.RoomID != roomID {
			observability.IncRoomDrift()
			log.Printf("discussion room drift: discussion_id=%d bound_room=%s offered_room=%s", discussion.ID, discussion.RoomID, roomID)
		}
		return &discussion, nil
	}

	observability.IncDiscussionCreated()
	r.publish(ctx, EventCreated, models.DiscussionEvent{
		Type:         EventCreated,
		DiscussionID: discussion.ID,
		DealID:       discussion.DealID,
		RoomID:       discussion.RoomID,
	})
	return &discussion, nil
}

// GetDiscussionsByUser lists the user's discussions with deal and participant context.
func (r *Registry) GetDiscussionsByUser(ctx context.Context, userID int) ([]models.DiscussionSummary, error) {
	discussions, err := r.discussions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	if len(discussions) == 0 {
		return []models.DiscussionSummary{}, nil
	}

	dealIDs := make([]int, 0, len(discussions))
	userIDs := make([]int, 0, len(discussions)*2)
	seenDeal := map[int]struct{}{}
	seenUser := map[int]struct{}{}
	for _, d := range discussions {
		if _, ok := seenDeal[d.DealID]; !ok {
			seenDeal[d.DealID] = struct{}{}
			dealIDs = append(dealIDs, d.DealID)
		}
		for _, id := range []int{d.BuyerID, d.SellerID} {
			if _, ok := seenUser[id]; !ok {
				seenUser[id] = struct{}{}
				userIDs = append(userIDs, id)
			}
		}
	}

	deals, err := r.deals.GetDeals(ctx, dealIDs)
	if err != nil {
		return nil, fmt.Errorf("load deals: %w", err)
	}
	users, err := r.users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	statuses, err := r.statuses.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}

	dealByID := make(map[int]models.Deal, len(deals))
	for _, deal := range deals {
		dealByID[deal.ID] = deal
	}
	nameByID := make(map[int]string, len(users))
	for _, u := range users {
		nameByID[u.ID] = u.Username
	}
	unread := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		unread[s.DiscussionID] = s.NewMessage
	}

	summaries := make([]models.DiscussionSummary, 0, len(discussions))
	for _, d := range discussions {
		deal := dealByID[d.DealID]
		summaries = append(summaries, models.DiscussionSummary{
			Discussion:     d,
			DealTitle:      deal.Title,
			DealPrice:      deal.Price,
			BuyerUsername:  nameByID[d.BuyerID],
			SellerUsername: nameByID[d.SellerID],
			CounterpartID:  d.CounterpartOf(userID),
			NewMessage:     unread[d.ID],
		})
	}
	return summaries, nil
}

// SetNewMessage flags the discussion bound to roomID as unread for the party that did not send
// the message. Rooms that are not bound to a discussion, and senders that are neither buyer nor
// seller, yield nil without side effects.
func (r *Registry) SetNewMessage(ctx context.Context, roomID, senderHandle string) (*models.DiscussionStatus, error) {
	discussion, err := r.discussions.FindByRoomID(ctx, roomID)
	if errors.Is(err, repositories.ErrDiscussionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find discussion by room: %w", err)
	}

	target, err := r.recipient(ctx, discussion, senderHandle)
	if err != nil {
		return nil, err
	}
	if target == 0 {
		return nil, nil
	}

	status, err := r.statuses.MarkUnread(ctx, discussion.ID, target)
	if err != nil {
		return nil, fmt.Errorf("mark unread: %w", err)
	}

	observability.IncUnreadFlag("unread")
	event := models.DiscussionEvent{
		Type:         EventNewMessage,
		DiscussionID: discussion.ID,
		DealID:       discussion.DealID,
		UserID:       target,
		RoomID:       roomID,
	}
	r.publish(ctx, EventNewMessage, event)
	if r.notifier != nil {
		r.notifier.NotifyUser(ctx, target, r.stamp(event))
	}
	return &status, nil
}

// recipient returns the participant who should be notified, or 0 when the sender is not a party.
func (r *Registry) recipient(ctx context.Context, discussion models.Discussion, senderHandle string) (int, error) {
	users, err := r.users.GetUsers(ctx, []int{discussion.BuyerID, discussion.SellerID})
	if err != nil {
		return 0, fmt.Errorf("load participants: %w", err)
	}

	sender := chatproto.Localpart(senderHandle)
	for _, u := range users {
		if u.ChatHandle == "" || chatproto.Localpart(u.ChatHandle) != sender {
			continue
		}
		return discussion.CounterpartOf(u.ID), nil
	}
	return 0, nil
}

// CountNewMessages counts the user's unread discussions.
func (r *Registry) CountNewMessages(ctx context.Context, userID int) (int, error) {
	count, err := r.statuses.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkAsRead clears the user's unread flag. It returns nil when there was no flag to clear.
func (r *Registry) MarkAsRead(ctx context.Context, userID, discussionID int) (*models.DiscussionStatus, error) {
	status, err := r.statuses.MarkRead(ctx, discussionID, userID)
	if errors.Is(err, repositories.ErrStatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	observability.IncUnreadFlag("read")
	r.publish(ctx, EventRead, models.DiscussionEvent{
		Type:         EventRead,
		DiscussionID: discussionID,
		UserID:       userID,
	})
	return &status, nil
}

func (r *Registry) stamp(event models.DiscussionEvent) models.DiscussionEvent {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	return event
}

func (r *Registry) publish(ctx context.Context, name string, event models.DiscussionEvent) {
	err := observability.PublishEvent(ctx, routingKeyPrefix+name, observability.EventEnvelope{
		EventType: "discussion_events",
		EventName: name,
		Payload:   r.stamp(event),
	})
	if err != nil {
		log.Printf("discussion event publish failed event=%s discussion_id=%d: %v", name, event.DiscussionID, err)
	}
}
