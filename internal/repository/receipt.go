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

const receiptColumns = `id, user_id, supermarket_id, supermarket_name, amount, receipt_date,
		status, confidence, image_hash, image_url, receipt_number, points_awarded,
		campaign_id, created_at, moderated_at`

// ReceiptRepository handles receipt and line-item persistence.
type ReceiptRepository struct {
	pool *pgxpool.Pool
}

// NewReceiptRepository creates a new ReceiptRepository instance.
func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

func scanReceipt(row pgx.Row) (*model.Receipt, error) {
	var rc model.Receipt
	err := row.Scan(
		&rc.ID,
		&rc.UserID,
		&rc.SupermarketID,
		&rc.SupermarketName,
		&rc.Amount,
		&rc.ReceiptDate,
		&rc.Status,
		&rc.Confidence,
		&rc.ImageHash,
		&rc.ImageURL,
		&rc.ReceiptNumber,
		&rc.PointsAwarded,
		&rc.CampaignID,
		&rc.CreatedAt,
		&rc.ModeratedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// Insert persists a receipt. The unique index on image_hash is the
// backstop for the duplicate-image race: a concurrent submission of the
// same image surfaces here as ErrDuplicateImage.
func (r *ReceiptRepository) Insert(ctx context.Context, q Querier, rc *model.Receipt) error {
	query := `
		INSERT INTO receipts (id, user_id, supermarket_id, supermarket_name, amount,
			receipt_date, status, confidence, image_hash, image_url, receipt_number,
			points_awarded, campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`

	_, err := q.Exec(ctx, query,
		rc.ID, rc.UserID, rc.SupermarketID, rc.SupermarketName, rc.Amount,
		rc.ReceiptDate, rc.Status, rc.Confidence, rc.ImageHash, rc.ImageURL,
		rc.ReceiptNumber, rc.PointsAwarded, rc.CampaignID)
	if err != nil {
		if isUniqueViolation(err, "receipts_image_hash_key") {
			return ErrDuplicateImage
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// InsertItems persists the receipt's line items.
func (r *ReceiptRepository) InsertItems(ctx context.Context, q Querier, receiptID string, items []model.ExtractedItem) error {
	query := `
		INSERT INTO receipt_items (receipt_id, name, quantity, unit_price, total, category)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, item := range items {
		if _, err := q.Exec(ctx, query,
			receiptID, item.Name, item.Quantity, item.UnitPrice, item.Total, item.Category); err != nil {
			return fmt.Errorf("failed to insert receipt item: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a receipt by ID.
func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*model.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = $1`

	rc, err := scanReceipt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return rc, nil
}

// GetItems retrieves a receipt's line items.
func (r *ReceiptRepository) GetItems(ctx context.Context, receiptID string) ([]*model.ReceiptItem, error) {
	query := `
		SELECT id, receipt_id, name, quantity, unit_price, total, category
		FROM receipt_items
		WHERE receipt_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt items: %w", err)
	}
	defer rows.Close()

	var items []*model.ReceiptItem
	for rows.Next() {
		var item model.ReceiptItem
		if err := rows.Scan(&item.ID, &item.ReceiptID, &item.Name, &item.Quantity,
			&item.UnitPrice, &item.Total, &item.Category); err != nil {
			return nil, fmt.Errorf("failed to scan receipt item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipt items: %w", err)
	}
	return items, nil
}

// ExistsByImageHash checks whether any user has already submitted this
// exact image.
func (r *ReceiptRepository) ExistsByImageHash(ctx context.Context, imageHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM receipts WHERE image_hash = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, imageHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check image hash: %w", err)
	}
	return exists, nil
}

// ExistsByReceiptNumber checks whether a printed receipt number was already
// submitted.
func (r *ReceiptRepository) ExistsByReceiptNumber(ctx context.Context, receiptNumber string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM receipts WHERE receipt_number = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, receiptNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check receipt number: %w", err)
	}
	return exists, nil
}

// ExistsSimilar checks for a stored receipt with the same store, amount
// and date, across all users.
func (r *ReceiptRepository) ExistsSimilar(ctx context.Context, normalizedStore string, amount int64, date time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM receipts
			WHERE lower(supermarket_name) = $1 AND amount = $2 AND receipt_date = $3
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, normalizedStore, amount, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check similar receipts: %w", err)
	}
	return exists, nil
}

// CountRecentByUser counts a user's submissions in the trailing window,
// for the submission-rate guard.
func (r *ReceiptRepository) CountRecentByUser(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM receipts WHERE user_id = $1 AND created_at >= $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent receipts: %w", err)
	}
	return count, nil
}

// ListByUser retrieves a user's receipts, newest first.
func (r *ReceiptRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*model.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}
	return receipts, nil
}

// ListPending retrieves the moderation queue, oldest first.
func (r *ReceiptRepository) ListPending(ctx context.Context, limit int) ([]*model.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*model.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending receipts: %w", err)
	}
	return receipts, nil
}

// Moderate transitions a pending receipt to its terminal state. The status
// predicate makes the transition single-shot: moderating an already-settled
// receipt affects zero rows.
func (r *ReceiptRepository) Moderate(ctx context.Context, q Querier, id, status string, points int64, campaignID, supermarketID *int64, moderatedAt time.Time) (bool, error) {
	query := `
		UPDATE receipts
		SET status = $2, points_awarded = $3, campaign_id = $4, supermarket_id = $5, moderated_at = $6
		WHERE id = $1 AND status = 'pending'
	`

	result, err := q.Exec(ctx, query, id, status, points, campaignID, supermarketID, moderatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to moderate receipt: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
