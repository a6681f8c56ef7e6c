package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"discussion-service/internal/models"
)

var ErrDiscussionNotFound = errors.New("discussion not found")

const discussionColumns = `id, deal_id, buyer_id, seller_id, room_id, created_at, updated_at`

// DiscussionRepository abstracts discussion persistence.
type DiscussionRepository interface {
	CreateIfAbsent(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (models.Discussion, bool, error)
	FindByParticipants(ctx context.Context, dealID, buyerID, sellerID int) (models.Discussion, error)
	FindByRoomID(ctx context.Context, roomID string) (models.Discussion, error)
	GetDiscussion(ctx context.Context, discussionID int) (models.Discussion, error)
	ListForUser(ctx context.Context, userID int) ([]models.Discussion, error)
}

// DiscussionRepo is a sqlx implementation of DiscussionRepository.
type DiscussionRepo struct {
	db *sqlx.DB
}

// NewDiscussionRepo constructs a DiscussionRepo.
func NewDiscussionRepo(db *sqlx.DB) *DiscussionRepo {
	return &DiscussionRepo{db: db}
}

// CreateIfAbsent inserts a discussion for the triple unless one already exists. The boolean
// reports whether a row was inserted; an existing row is returned untouched.
func (r *DiscussionRepo) CreateIfAbsent(ctx context.Context, dealID, buyerID, sellerID int, roomID string) (models.Discussion, bool, error) {
	var discussion models.Discussion
	err := r.db.GetContext(ctx, &discussion, `INSERT INTO discussions (deal_id, buyer_id, seller_id, room_id) VALUES ($1, $2, $3, $4)
        ON CONFLICT (deal_id, buyer_id, seller_id) DO NOTHING
        RETURNING `+discussionColumns, dealID, buyerID, sellerID, roomID)
	if err == nil {
		return discussion, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Discussion{}, false, err
	}

	discussion, err = r.FindByParticipants(ctx, dealID, buyerID, sellerID)
	return discussion, false, err
}

// FindByParticipants looks a discussion up by its exact (deal, buyer, seller) triple.
func (r *DiscussionRepo) FindByParticipants(ctx context.Context, dealID, buyerID, sellerID int) (models.Discussion, error) {
	var discussion models.Discussion
	err := r.db.GetContext(ctx, &discussion, `SELECT `+discussionColumns+` FROM discussions WHERE deal_id=$1 AND buyer_id=$2 AND seller_id=$3`, dealID, buyerID, sellerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Discussion{}, ErrDiscussionNotFound
	}
	return discussion, err
}

// FindByRoomID resolves the discussion bound to a chat room.
func (r *DiscussionRepo) FindByRoomID(ctx context.Context, roomID string) (models.Discussion, error) {
	var discussion models.Discussion
	err := r.db.GetContext(ctx, &discussion, `SELECT `+discussionColumns+` FROM discussions WHERE room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Discussion{}, ErrDiscussionNotFound
	}
	return discussion, err
}

// GetDiscussion fetches a discussion by id.
func (r *DiscussionRepo) GetDiscussion(ctx context.Context, discussionID int) (models.Discussion, error) {
	var discussion models.Discussion
	err := r.db.GetContext(ctx, &discussion, `SELECT `+discussionColumns+` FROM discussions WHERE id=$1`, discussionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Discussion{}, ErrDiscussionNotFound
	}
	return discussion, err
}

// ListForUser returns discussions where the user is buyer or seller, most recent first.
func (r *DiscussionRepo) ListForUser(ctx context.Context, userID int) ([]models.Discussion, error) {
	var discussions []models.Discussion
	err := r.db.SelectContext(ctx, &discussions, `SELECT `+discussionColumns+` FROM discussions
        WHERE buyer_id=$1 OR seller_id=$1
        ORDER BY updated_at DESC, id DESC`, userID)
	return discussions, err
}
