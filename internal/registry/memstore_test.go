package registry

import (
	"context"
	"sync"
	"time"

	"discussion-service/internal/models"
	"discussion-service/internal/repositories"
)

// memStore mirrors the SQL repositories' constraints: a unique triple per discussion and a
// unique (discussion, user) pair per status row.
type memStore struct {
	mu          sync.Mutex
	discussions []models.Discussion
	statuses    []models.DiscussionStatus
	deals       map[int]models.Deal
	users       map[int]models.User
	writes      int
}

func newMemStore() *memStore {
	return &memStore{deals: map[int]models.Deal{}, users: map[int]models.User{}}
}

func (s *memStore) CreateIfAbsent(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (models.Discussion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.discussions {
		if d.DealID == dealID && d.BuyerID == buyerID && d.SellerID == sellerID {
			return d, false, nil
		}
	}
	s.writes++
	now := time.Now()
	d := models.Discussion{ID: len(s.discussions) + 1, DealID: dealID, BuyerID: buyerID, SellerID: sellerID, RoomID: roomID, CreatedAt: now, UpdatedAt: now}
	s.discussions = append(s.discussions, d)
	return d, true, nil
}

func (s *memStore) FindByParticipants(ctx context.Context, dealID, buyerID, sellerID int) (models.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.discussions {
		if d.DealID == dealID && d.BuyerID == buyerID && d.SellerID == sellerID {
			return d, nil
		}
	}
	return models.Discussion{}, repositories.ErrDiscussionNotFound
}

func (s *memStore) FindByRoomID(ctx context.Context, roomID string) (models.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.discussions {
		if d.RoomID == roomID {
			return d, nil
		}
	}
	return models.Discussion{}, repositories.ErrDiscussionNotFound
}

func (s *memStore) GetDiscussion(ctx context.Context, discussionID int) (models.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.discussions {
		if d.ID == discussionID {
			return d, nil
		}
	}
	return models.Discussion{}, repositories.ErrDiscussionNotFound
}

func (s *memStore) ListForUser(ctx context.Context, userID int) ([]models.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Discussion
	for _, d := range s.discussions {
		if d.BuyerID == userID || d.SellerID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memStatuses struct{ *memStore }

func (s memStatuses) MarkUnread(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for i, st := range s.statuses {
		if st.DiscussionID == discussionID && st.UserID == userID {
			s.statuses[i].NewMessage = true
			return s.statuses[i], nil
		}
	}
	st := models.DiscussionStatus{ID: len(s.statuses) + 1, DiscussionID: discussionID, UserID: userID, NewMessage: true}
	s.statuses = append(s.statuses, st)
	return st, nil
}

func (s memStatuses) MarkRead(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.statuses {
		if st.DiscussionID == discussionID && st.UserID == userID && st.NewMessage {
			s.writes++
			s.statuses[i].NewMessage = false
			return s.statuses[i], nil
		}
	}
	return models.DiscussionStatus{}, repositories.ErrStatusNotFound
}

func (s memStatuses) CountUnread(ctx context.Context, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, st := range s.statuses {
		if st.UserID == userID && st.NewMessage {
			count++
		}
	}
	return count, nil
}

func (s memStatuses) ListForUser(ctx context.Context, userID int) ([]models.DiscussionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DiscussionStatus
	for _, st := range s.statuses {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

type memLookups struct{ *memStore }

func (s memLookups) GetDeal(ctx context.Context, dealID int) (models.Deal, error) {
	if d, ok := s.deals[dealID]; ok {
		return d, nil
	}
	return models.Deal{}, repositories.ErrDealNotFound
}

func (s memLookups) GetDeals(ctx context.Context, dealIDs []int) ([]models.Deal, error) {
	var out []models.Deal
	for _, id := range dealIDs {
		if d, ok := s.deals[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s memLookups) GetUser(ctx context.Context, userID int) (models.User, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (s memLookups) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	var out []models.User
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
