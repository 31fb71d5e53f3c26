package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty-service/internal/model"
)

const campaignColumns = `id, brand, status, starts_at, ends_at, mechanic, min_spend,
		max_redemptions, conversions, target_audience, reward_type, reward_value, created_at`

// CampaignRepository handles campaign persistence.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository creates a new CampaignRepository instance.
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID,
		&c.Brand,
		&c.Status,
		&c.StartsAt,
		&c.EndsAt,
		&c.Mechanic,
		&c.MinSpend,
		&c.MaxRedemptions,
		&c.Conversions,
		&c.TargetAudience,
		&c.RewardType,
		&c.RewardValue,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create creates a campaign in draft state.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	query := `
		INSERT INTO campaigns (brand, status, starts_at, ends_at, mechanic, min_spend,
			max_redemptions, target_audience, reward_type, reward_value, created_at)
		VALUES ($1, 'draft', $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + campaignColumns

	created, err := scanCampaign(r.pool.QueryRow(ctx, query,
		c.Brand, c.StartsAt, c.EndsAt, c.Mechanic, c.MinSpend,
		c.MaxRedemptions, c.TargetAudience, c.RewardType, c.RewardValue))
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return created, nil
}

// GetByID retrieves a campaign by ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// List retrieves campaigns ordered by creation, newest first.
func (r *CampaignRepository) List(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, nil
}

// SetStatus transitions a campaign's lifecycle status.
func (r *CampaignRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE campaigns SET status = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// SetScope replaces the set of partner stores a campaign covers.
func (r *CampaignRepository) SetScope(ctx context.Context, campaignID int64, supermarketIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin scope transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM campaign_supermarkets WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to clear campaign scope: %w", err)
	}
	for _, sid := range supermarketIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO campaign_supermarkets (campaign_id, supermarket_id) VALUES ($1, $2)`,
			campaignID, sid); err != nil {
			return fmt.Errorf("failed to add store %d to campaign scope: %w", sid, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit scope transaction: %w", err)
	}
	return nil
}

// GetScope returns the supermarket IDs a campaign covers.
func (r *CampaignRepository) GetScope(ctx context.Context, campaignID int64) ([]int64, error) {
	query := `SELECT supermarket_id FROM campaign_supermarkets WHERE campaign_id = $1 ORDER BY supermarket_id`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign scope: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scope row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign scope: %w", err)
	}
	return ids, nil
}

// ListCoveringStore returns active campaigns whose date range contains the
// receipt date and whose scope includes the given store. Audience, spend
// and budget filtering happen in the service layer where the rejection
// reason taxonomy lives.
func (r *CampaignRepository) ListCoveringStore(ctx context.Context, supermarketID int64, receiptDate time.Time) ([]*model.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns c
		JOIN campaign_supermarkets cs ON cs.campaign_id = c.id
		WHERE cs.supermarket_id = $1
		  AND c.status = 'active'
		  AND c.starts_at <= $2
		  AND c.ends_at >= $2
		ORDER BY c.id
	`

	rows, err := r.pool.Query(ctx, query, supermarketID, receiptDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns for store: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, nil
}

// TryIncrementConversions performs the check-then-increment on the
// campaign budget as a single conditional UPDATE. Zero rows affected means
// the cap was reached (or the campaign left the active state) between
// candidate selection and commit; the caller must roll back.
func (r *CampaignRepository) TryIncrementConversions(ctx context.Context, q Querier, campaignID int64) error {
	query := `
		UPDATE campaigns
		SET conversions = conversions + 1
		WHERE id = $1
		  AND status = 'active'
		  AND (max_redemptions IS NULL OR conversions < max_redemptions)
	`

	result, err := q.Exec(ctx, query, campaignID)
	if err != nil {
		return fmt.Errorf("failed to increment conversions: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCampaignExhausted
	}
	return nil
}
