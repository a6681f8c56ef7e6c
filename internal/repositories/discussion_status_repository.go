package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"discussion-service/internal/models"
)

var ErrStatusNotFound = errors.New("discussion status not found")

const statusColumns = `id, discussion_id, user_id, new_message, created_at, updated_at`

// DiscussionStatusRepository abstracts per-user unread flags.
type DiscussionStatusRepository interface {
	MarkUnread(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error)
	MarkRead(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error)
	CountUnread(ctx context.Context, userID int) (int, error)
	ListForUser(ctx context.Context, userID int) ([]models.DiscussionStatus, error)
}

// DiscussionStatusRepo is a sqlx-backed repository.
type DiscussionStatusRepo struct {
	db *sqlx.DB
}

// NewDiscussionStatusRepo constructs a DiscussionStatusRepo.
func NewDiscussionStatusRepo(db *sqlx.DB) *DiscussionStatusRepo {
	return &DiscussionStatusRepo{db: db}
}

// MarkUnread sets new_message for the (discussion, user) pair, creating the row on first use.
// The UNIQUE(discussion_id, user_id) constraint keeps concurrent first deliveries to one row.
func (r *DiscussionStatusRepo) MarkUnread(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error) {
	var status models.DiscussionStatus
	err := r.db.GetContext(ctx, &status, `INSERT INTO discussion_statuses (discussion_id, user_id, new_message) VALUES ($1, $2, TRUE)
        ON CONFLICT (discussion_id, user_id) DO UPDATE SET new_message = TRUE, updated_at = NOW()
        RETURNING `+statusColumns, discussionID, userID)
	return status, err
}

// MarkRead clears new_message only when it is currently set.
func (r *DiscussionStatusRepo) MarkRead(ctx context.Context, discussionID int, userID int) (models.DiscussionStatus, error) {
	var status models.DiscussionStatus
	err := r.db.GetContext(ctx, &status, `UPDATE discussion_statuses SET new_message = FALSE, updated_at = NOW()
        WHERE discussion_id=$1 AND user_id=$2 AND new_message = TRUE
        RETURNING `+statusColumns, discussionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DiscussionStatus{}, ErrStatusNotFound
	}
	return status, err
}

// CountUnread counts the user's discussions flagged with a new message.
func (r *DiscussionStatusRepo) CountUnread(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM discussion_statuses WHERE user_id=$1 AND new_message = TRUE`, userID)
	return count, err
}

// ListForUser returns every status row of the user.
func (r *DiscussionStatusRepo) ListForUser(ctx context.Context, userID int) ([]models.DiscussionStatus, error) {
	var statuses []models.DiscussionStatus
	err := r.db.SelectContext(ctx, &statuses, `SELECT `+statusColumns+` FROM discussion_statuses WHERE user_id=$1`, userID)
	return statuses, err
}
