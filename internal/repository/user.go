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

const userColumns = `id, name, phone, email, pin_hash, points_balance, points_expiring,
		points_expires_at, points_expiry_warned_at, total_spent, status,
		last_receipt_at, created_at, updated_at`

// UserRepository handles shopper account persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Phone,
		&u.Email,
		&u.PINHash,
		&u.PointsBalance,
		&u.PointsExpiring,
		&u.PointsExpiresAt,
		&u.PointsExpiryWarnedAt,
		&u.TotalSpent,
		&u.Status,
		&u.LastReceiptAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new shopper account. The phone number is the unique
// login key; a duplicate returns ErrDuplicatePhone.
func (r *UserRepository) Create(ctx context.Context, q Querier, name, phone, email, pinHash string) (*model.User, error) {
	query := `
		INSERT INTO users (name, phone, email, pin_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, name, phone, email, pinHash))
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID. Returns ErrUserNotFound if absent.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number (the login key).
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}
	return user, nil
}

// List retrieves users ordered by creation time, newest first.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UpdateStatus transitions a user's account status.
func (r *UserRepository) UpdateStatus(ctx context.Context, userID int64, status string) error {
	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreditPoints atomically credits points to a user's balance and joins them
// to the open expiration tranche, starting a new tranche when none is open.
// A tranche is open only while it still holds points and its deadline is in
// the future; a drained or lapsed tranche never captures a fresh award, and
// starting over resets the warning marker. Spending and activity bookkeeping
// ride in the same statement so the update is a single atomic increment.
func (r *UserRepository) CreditPoints(ctx context.Context, q Querier, userID, points, amountSpent int64, expiresAt time.Time) (*model.User, error) {
	query := `
		UPDATE users
		SET points_balance = points_balance + $2,
		    points_expiring = points_expiring + $2,
		    points_expires_at = CASE
		        WHEN points_expiring > 0 AND points_expires_at > NOW() THEN points_expires_at
		        ELSE $3
		    END,
		    points_expiry_warned_at = CASE
		        WHEN points_expiring > 0 AND points_expires_at > NOW() THEN points_expiry_warned_at
		        ELSE NULL
		    END,
		    total_spent = total_spent + $4,
		    last_receipt_at = GREATEST(COALESCE(last_receipt_at, 'epoch'::timestamptz), NOW()),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, userID, points, expiresAt, amountSpent))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit points: %w", err)
	}
	return user, nil
}

// CreditBonus credits points outside the receipt path (signup bonus,
// admin adjustment) without touching spend bookkeeping.
func (r *UserRepository) CreditBonus(ctx context.Context, q Querier, userID, points int64, expiresAt time.Time) (*model.User, error) {
	query := `
		UPDATE users
		SET points_balance = points_balance + $2,
		    points_expiring = points_expiring + $2,
		    points_expires_at = CASE
		        WHEN points_expiring > 0 AND points_expires_at > NOW() THEN points_expires_at
		        ELSE $3
		    END,
		    points_expiry_warned_at = CASE
		        WHEN points_expiring > 0 AND points_expires_at > NOW() THEN points_expiry_warned_at
		        ELSE NULL
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, userID, points, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit bonus: %w", err)
	}
	return user, nil
}

// DebitPoints atomically debits points from a user's balance. The balance
// never goes negative: a debit that would overdraw affects zero rows and
// returns ErrInsufficientPoints. Draining the expiring bucket closes the
// tranche, so the deadline and warning marker are cleared with it.
func (r *UserRepository) DebitPoints(ctx context.Context, q Querier, userID, points int64) (*model.User, error) {
	query := `
		UPDATE users
		SET points_balance = points_balance - $2,
		    points_expiring = GREATEST(points_expiring - $2, 0),
		    points_expires_at = CASE WHEN points_expiring - $2 <= 0 THEN NULL ELSE points_expires_at END,
		    points_expiry_warned_at = CASE WHEN points_expiring - $2 <= 0 THEN NULL ELSE points_expiry_warned_at END,
		    updated_at = NOW()
		WHERE id = $1 AND points_balance - $2 >= 0
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, userID, points))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientPoints
		}
		return nil, fmt.Errorf("failed to debit points: %w", err)
	}
	return user, nil
}

// SetOTP stores a login code hash and its expiry for a user.
func (r *UserRepository) SetOTP(ctx context.Context, userID int64, codeHash string, expiresAt time.Time) error {
	query := `UPDATE users SET otp_hash = $2, otp_expires_at = $3, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, userID, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set OTP: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetOTP retrieves the stored login code hash and expiry.
func (r *UserRepository) GetOTP(ctx context.Context, userID int64) (string, *time.Time, error) {
	query := `SELECT COALESCE(otp_hash, ''), otp_expires_at FROM users WHERE id = $1`

	var hash string
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx, query, userID).Scan(&hash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrUserNotFound
		}
		return "", nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return hash, expiresAt, nil
}

// ClearOTP removes a consumed or abandoned login code.
func (r *UserRepository) ClearOTP(ctx context.Context, userID int64) error {
	query := `UPDATE users SET otp_hash = NULL, otp_expires_at = NULL, updated_at = NOW() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to clear OTP: %w", err)
	}
	return nil
}

// ListExpiryWarningDue returns users whose open tranche expires within the
// warning window and who have not yet been warned for it.
func (r *UserRepository) ListExpiryWarningDue(ctx context.Context, now time.Time, window time.Duration) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE points_expiring > 0
		  AND points_expires_at IS NOT NULL
		  AND points_expires_at > $1
		  AND points_expires_at <= $2
		  AND points_expiry_warned_at IS NULL
	`

	rows, err := r.pool.Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list warning-due users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warning-due users: %w", err)
	}
	return users, nil
}

// MarkExpiryWarned records that the expiration warning was issued for the
// current tranche. The predicate keeps the warning single-shot even if two
// sweeps race.
func (r *UserRepository) MarkExpiryWarned(ctx context.Context, userID int64, now time.Time) (bool, error) {
	query := `
		UPDATE users
		SET points_expiry_warned_at = $2, updated_at = NOW()
		WHERE id = $1 AND points_expiry_warned_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark expiry warned: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListExpiredTranches returns users whose tranche expiry has passed.
func (r *UserRepository) ListExpiredTranches(ctx context.Context, now time.Time) ([]*model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE points_expiring > 0
		  AND points_expires_at IS NOT NULL
		  AND points_expires_at < $1
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tranches: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired tranches: %w", err)
	}
	return users, nil
}

// ExpireTranche lapses a user's open tranche, debiting
// min(points_expiring, points_balance) and resetting the tranche fields in
// one statement. Returns the debited amount; zero when another sweep (or a
// fresh award) got there first.
func (r *UserRepository) ExpireTranche(ctx context.Context, q Querier, userID int64, now time.Time) (int64, error) {
	query := `
		WITH expired AS (
			SELECT id, LEAST(points_expiring, points_balance) AS debit
			FROM users
			WHERE id = $1
			  AND points_expiring > 0
			  AND points_expires_at IS NOT NULL
			  AND points_expires_at < $2
			FOR UPDATE
		)
		UPDATE users u
		SET points_balance = u.points_balance - e.debit,
		    points_expiring = 0,
		    points_expires_at = NULL,
		    points_expiry_warned_at = NULL,
		    updated_at = NOW()
		FROM expired e
		WHERE u.id = e.id
		RETURNING e.debit
	`

	var debit int64
	err := q.QueryRow(ctx, query, userID, now).Scan(&debit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to expire tranche: %w", err)
	}
	return debit, nil
}
