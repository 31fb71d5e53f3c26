package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty-service/internal/model"
)

const supermarketColumns = `id, name, normalized_name, address, active, latitude, longitude, avg_basket`

// SupermarketRepository handles partner store persistence.
type SupermarketRepository struct {
	pool *pgxpool.Pool
}

// NewSupermarketRepository creates a new SupermarketRepository instance.
func NewSupermarketRepository(pool *pgxpool.Pool) *SupermarketRepository {
	return &SupermarketRepository{pool: pool}
}

// NormalizeName folds a store name for matching: OCR output varies in case
// and spacing, so matching runs on the folded form.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func scanSupermarket(row pgx.Row) (*model.Supermarket, error) {
	var s model.Supermarket
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.NormalizedName,
		&s.Address,
		&s.Active,
		&s.Latitude,
		&s.Longitude,
		&s.AvgBasket,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create registers a partner store.
func (r *SupermarketRepository) Create(ctx context.Context, s *model.Supermarket) (*model.Supermarket, error) {
	query := `
		INSERT INTO supermarkets (name, normalized_name, address, active, latitude, longitude, avg_basket)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + supermarketColumns

	created, err := scanSupermarket(r.pool.QueryRow(ctx, query,
		s.Name, NormalizeName(s.Name), s.Address, s.Active, s.Latitude, s.Longitude, s.AvgBasket))
	if err != nil {
		return nil, fmt.Errorf("failed to create supermarket: %w", err)
	}
	return created, nil
}

// Update edits a partner store.
func (r *SupermarketRepository) Update(ctx context.Context, s *model.Supermarket) error {
	query := `
		UPDATE supermarkets
		SET name = $2, normalized_name = $3, address = $4, active = $5,
		    latitude = $6, longitude = $7, avg_basket = $8
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		s.ID, s.Name, NormalizeName(s.Name), s.Address, s.Active, s.Latitude, s.Longitude, s.AvgBasket)
	if err != nil {
		return fmt.Errorf("failed to update supermarket: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSupermarketNotFound
	}
	return nil
}

// GetByID retrieves a partner store by ID.
func (r *SupermarketRepository) GetByID(ctx context.Context, id int64) (*model.Supermarket, error) {
	query := `SELECT ` + supermarketColumns + ` FROM supermarkets WHERE id = $1`

	s, err := scanSupermarket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSupermarketNotFound
		}
		return nil, fmt.Errorf("failed to get supermarket: %w", err)
	}
	return s, nil
}

// ResolveActiveByName resolves an OCR-extracted store name to a known,
// active partner store. Returns ErrSupermarketNotFound when the name does
// not match any active partner.
func (r *SupermarketRepository) ResolveActiveByName(ctx context.Context, name string) (*model.Supermarket, error) {
	query := `SELECT ` + supermarketColumns + ` FROM supermarkets WHERE normalized_name = $1 AND active`

	s, err := scanSupermarket(r.pool.QueryRow(ctx, query, NormalizeName(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSupermarketNotFound
		}
		return nil, fmt.Errorf("failed to resolve supermarket: %w", err)
	}
	return s, nil
}

// List retrieves all partner stores.
func (r *SupermarketRepository) List(ctx context.Context) ([]*model.Supermarket, error) {
	query := `SELECT ` + supermarketColumns + ` FROM supermarkets ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list supermarkets: %w", err)
	}
	defer rows.Close()

	var stores []*model.Supermarket
	for rows.Next() {
		s, err := scanSupermarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supermarket: %w", err)
		}
		stores = append(stores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supermarkets: %w", err)
	}
	return stores, nil
}
