package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty-service/internal/model"
)

// PointTxRepository handles the points ledger / activity feed.
type PointTxRepository struct {
	pool *pgxpool.Pool
}

// NewPointTxRepository creates a new PointTxRepository instance.
func NewPointTxRepository(pool *pgxpool.Pool) *PointTxRepository {
	return &PointTxRepository{pool: pool}
}

// Create records a signed balance change. Takes a Querier so ledger rows
// commit atomically with the balance mutation they describe.
func (r *PointTxRepository) Create(ctx context.Context, q Querier, userID, amount int64, txType string, description *string, receiptID *string) (*model.PointTransaction, error) {
	query := `
		INSERT INTO point_transactions (user_id, amount, type, description, receipt_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, user_id, amount, type, description, receipt_id, created_at
	`

	var tx model.PointTransaction
	err := q.QueryRow(ctx, query, userID, amount, txType, description, receiptID).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.Description,
		&tx.ReceiptID,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create point transaction: %w", err)
	}
	return &tx, nil
}

// ListByUser retrieves a user's ledger entries, newest first.
func (r *PointTxRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	query := `
		SELECT id, user_id, amount, type, description, receipt_id, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list point transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.PointTransaction
	for rows.Next() {
		var tx model.PointTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type,
			&tx.Description, &tx.ReceiptID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan point transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating point transactions: %w", err)
	}
	return txs, nil
}
