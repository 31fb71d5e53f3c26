package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"loyalty-service/internal/model"
	"loyalty-service/internal/repository"
)

// ExpirationService runs the periodic points-expiration sweep: a warning
// pass ahead of each tranche's deadline and a debit pass once it lapses.
type ExpirationService struct {
	pool          *pgxpool.Pool
	users         *repository.UserRepository
	ledger        *repository.PointTxRepository
	notifications *repository.NotificationRepository
	warningWindow time.Duration
}

// NewExpirationService creates the sweep service. warningDays is how far
// ahead of the tranche deadline the expiry warning goes out.
func NewExpirationService(
	pool *pgxpool.Pool,
	users *repository.UserRepository,
	ledger *repository.PointTxRepository,
	notifications *repository.NotificationRepository,
	warningDays int,
) *ExpirationService {
	return &ExpirationService{
		pool:          pool,
		users:         users,
		ledger:        ledger,
		notifications: notifications,
		warningWindow: time.Duration(warningDays) * 24 * time.Hour,
	}
}

// Sweep runs one pass of both phases. Errors on individual users are
// logged and skipped so one bad row never stalls the whole sweep; the
// next tick retries them.
func (s *ExpirationService) Sweep(ctx context.Context, now time.Time) {
	if err := s.warn(ctx, now); err != nil {
		log.Error().Err(err).Msg("Expiry warning phase failed")
	}
	if err := s.expire(ctx, now); err != nil {
		log.Error().Err(err).Msg("Expiry debit phase failed")
	}
}

// warn notifies users whose tranche expires inside the warning window.
// The warned-at mark is set with a conditional update so concurrent
// sweeps send at most one warning per tranche.
func (s *ExpirationService) warn(ctx context.Context, now time.Time) error {
	due, err := s.users.ListExpiryWarningDue(ctx, now, s.warningWindow)
	if err != nil {
		return err
	}

	for _, u := range due {
		won, err := s.users.MarkExpiryWarned(ctx, u.ID, now)
		if err != nil {
			log.Error().Err(err).Int64("user_id", u.ID).Msg("Failed to mark expiry warning")
			continue
		}
		if !won {
			continue
		}

		expiring := u.PointsExpiring
		if expiring > u.PointsBalance {
			expiring = u.PointsBalance
		}
		msg := fmt.Sprintf("%d of your points expire on %s. Redeem them before they are gone.",
			expiring, u.PointsExpiresAt.Format("2006-01-02"))
		if err := s.notifications.Create(ctx, s.pool, u.ID, "Points expiring soon", msg, model.NotificationTypeExpiration); err != nil {
			log.Error().Err(err).Int64("user_id", u.ID).Msg("Failed to create expiry warning notification")
		}
	}
	return nil
}

// expire debits each lapsed tranche and records the ledger entry in one
// transaction per user. The debit is clamped to the live balance inside
// the statement, so a redemption racing the sweep can never drive the
// balance negative.
func (s *ExpirationService) expire(ctx context.Context, now time.Time) error {
	lapsed, err := s.users.ListExpiredTranches(ctx, now)
	if err != nil {
		return err
	}

	for _, u := range lapsed {
		if err := s.expireUser(ctx, u.ID, now); err != nil {
			log.Error().Err(err).Int64("user_id", u.ID).Msg("Failed to expire tranche")
		}
	}
	return nil
}

func (s *ExpirationService) expireUser(ctx context.Context, userID int64, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	debited, err := s.users.ExpireTranche(ctx, tx, userID, now)
	if err != nil {
		return err
	}
	if debited == 0 {
		// Another sweep already cleared the tranche, or it was spent down
		// to zero before the deadline.
		return tx.Commit(ctx)
	}

	desc := "Points expired"
	if _, err := s.ledger.Create(ctx, tx, userID, -debited, model.TxTypeExpiration, &desc, nil); err != nil {
		return err
	}

	msg := fmt.Sprintf("%d points expired and were removed from your balance.", debited)
	if err := s.notifications.Create(ctx, tx, userID, "Points expired", msg, model.NotificationTypeExpiration); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().Int64("user_id", userID).Int64("points", debited).Msg("Expired points tranche")
	return nil
}

// Run loops the sweep on the given interval until the context ends.
func (s *ExpirationService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Expiration sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Expiration sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}
