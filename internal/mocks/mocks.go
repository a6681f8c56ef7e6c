package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"discussion-service/internal/contact"
	"discussion-service/internal/models"
)

type DealLookupMock struct {
	mock.Mock
}

func (m *DealLookupMock) GetDeal(ctx context.Context, dealID int) (models.Deal, error) {
	args := m.Called(ctx, dealID)
	var deal models.Deal
	if val := args.Get(0); val != nil {
		deal = val.(models.Deal)
	}
	return deal, args.Error(1)
}

func (m *DealLookupMock) GetDeals(ctx context.Context, dealIDs []int) ([]models.Deal, error) {
	args := m.Called(ctx, dealIDs)
	var deals []models.Deal
	if val := args.Get(0); val != nil {
		deals = val.([]models.Deal)
	}
	return deals, args.Error(1)
}

type UserLookupMock struct {
	mock.Mock
}

func (m *UserLookupMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserLookupMock) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

// ChatGatewayMock stands in for the homeserver gateway.
type ChatGatewayMock struct {
	mock.Mock
}

func (m *ChatGatewayMock) CreateRoom(ctx context.Context, name, buyerHandle, sellerHandle string) string {
	args := m.Called(ctx, name, buyerHandle, sellerHandle)
	return args.String(0)
}

func (m *ChatGatewayMock) CreateUser(ctx context.Context) *models.ShadowAccount {
	args := m.Called(ctx)
	if val := args.Get(0); val != nil {
		return val.(*models.ShadowAccount)
	}
	return nil
}

// DiscussionRegistryMock stands in for the discussion registry.
type DiscussionRegistryMock struct {
	mock.Mock
}

func (m *DiscussionRegistryMock) GetDiscussion(ctx context.Context, dealID, buyerID, sellerID int) (*models.Discussion, error) {
	args := m.Called(ctx, dealID, buyerID, sellerID)
	var d *models.Discussion
	if val := args.Get(0); val != nil {
		d = val.(*models.Discussion)
	}
	return d, args.Error(1)
}

func (m *DiscussionRegistryMock) CreateDiscussion(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (*models.Discussion, error) {
	args := m.Called(ctx, dealID, buyerID, sellerID, roomID)
	var d *models.Discussion
	if val := args.Get(0); val != nil {
		d = val.(*models.Discussion)
	}
	return d, args.Error(1)
}

func (m *DiscussionRegistryMock) GetDiscussionsByUser(ctx context.Context, userID int) ([]models.DiscussionSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.DiscussionSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.DiscussionSummary)
	}
	return list, args.Error(1)
}

func (m *DiscussionRegistryMock) SetNewMessage(ctx context.Context, roomID, senderHandle string) (*models.DiscussionStatus, error) {
	args := m.Called(ctx, roomID, senderHandle)
	var status *models.DiscussionStatus
	if val := args.Get(0); val != nil {
		status = val.(*models.DiscussionStatus)
	}
	return status, args.Error(1)
}

func (m *DiscussionRegistryMock) CountNewMessages(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *DiscussionRegistryMock) MarkAsRead(ctx context.Context, userID, discussionID int) (*models.DiscussionStatus, error) {
	args := m.Called(ctx, userID, discussionID)
	var status *models.DiscussionStatus
	if val := args.Get(0); val != nil {
		status = val.(*models.DiscussionStatus)
	}
	return status, args.Error(1)
}

type ContactWorkflowMock struct {
	mock.Mock
}

func (m *ContactWorkflowMock) ContactSeller(ctx context.Context, dealID, buyerID int) (contact.Result, error) {
	args := m.Called(ctx, dealID, buyerID)
	var res contact.Result
	if val := args.Get(0); val != nil {
		res = val.(contact.Result)
	}
	return res, args.Error(1)
}
