package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"discussion-service/internal/models"
)

var (
	ErrDealNotFound = errors.New("deal not found")
	ErrUserNotFound = errors.New("user not found")
)

// DealLookup reads marketplace deals. The chat layer never writes them.
type DealLookup interface {
	GetDeal(ctx context.Context, dealID int) (models.Deal, error)
	GetDeals(ctx context.Context, dealIDs []int) ([]models.Deal, error)
}

// UserLookup reads marketplace users and their shadow chat credentials.
type UserLookup interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUsers(ctx context.Context, userIDs []int) ([]models.User, error)
}

// MarketplaceRepo reads the marketplace-owned deals and users tables.
type MarketplaceRepo struct {
	db *sqlx.DB
}

// NewMarketplaceRepo constructs a MarketplaceRepo.
func NewMarketplaceRepo(db *sqlx.DB) *MarketplaceRepo {
	return &MarketplaceRepo{db: db}
}

// GetDeal fetches a single deal.
func (r *MarketplaceRepo) GetDeal(ctx context.Context, dealID int) (models.Deal, error) {
	var deal models.Deal
	err := r.db.GetContext(ctx, &deal, `SELECT id, title, price, seller_id FROM deals WHERE id=$1`, dealID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Deal{}, ErrDealNotFound
	}
	return deal, err
}

// GetDeals fetches several deals in one query; unknown ids are skipped.
func (r *MarketplaceRepo) GetDeals(ctx context.Context, dealIDs []int) ([]models.Deal, error) {
	if len(dealIDs) == 0 {
		return []models.Deal{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, title, price, seller_id FROM deals WHERE id IN (?)`, dealIDs)
	if err != nil {
		return nil, err
	}
	var deals []models.Deal
	err = r.db.SelectContext(ctx, &deals, r.db.Rebind(query), args...)
	return deals, err
}

// GetUser fetches a single user.
func (r *MarketplaceRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, chat_handle, chat_password FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsers fetches several users in one query; unknown ids are skipped.
func (r *MarketplaceRepo) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	if len(userIDs) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, username, chat_handle, chat_password FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}
