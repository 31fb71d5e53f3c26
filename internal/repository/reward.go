package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty-service/internal/model"
)

const rewardColumns = `id, title, cost_points, reward_type, brand, supermarket_id, active`

// RewardRepository handles reward catalog persistence.
type RewardRepository struct {
	pool *pgxpool.Pool
}

// NewRewardRepository creates a new RewardRepository instance.
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

func scanReward(row pgx.Row) (*model.Reward, error) {
	var rw model.Reward
	err := row.Scan(&rw.ID, &rw.Title, &rw.CostPoints, &rw.RewardType, &rw.Brand, &rw.SupermarketID, &rw.Active)
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

// Create adds a catalog entry.
func (r *RewardRepository) Create(ctx context.Context, rw *model.Reward) (*model.Reward, error) {
	query := `
		INSERT INTO rewards (title, cost_points, reward_type, brand, supermarket_id, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + rewardColumns

	created, err := scanReward(r.pool.QueryRow(ctx, query,
		rw.Title, rw.CostPoints, rw.RewardType, rw.Brand, rw.SupermarketID, rw.Active))
	if err != nil {
		return nil, fmt.Errorf("failed to create reward: %w", err)
	}
	return created, nil
}

// GetByID retrieves a catalog entry.
func (r *RewardRepository) GetByID(ctx context.Context, id int64) (*model.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE id = $1`

	rw, err := scanReward(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return rw, nil
}

// ListActive retrieves the redeemable catalog.
func (r *RewardRepository) ListActive(ctx context.Context) ([]*model.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE active ORDER BY cost_points ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*model.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}
	return rewards, nil
}

// SetActive toggles a catalog entry's availability.
func (r *RewardRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE rewards SET active = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to set reward active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRewardNotFound
	}
	return nil
}
