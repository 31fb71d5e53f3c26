package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/lock"
	"loyalty-service/internal/pkg/mail"
	"loyalty-service/internal/repository"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// AccountSettings holds the account-level business constants.
type AccountSettings struct {
	SignupBonus  int64
	ExpiryMonths int
	SegmentRules model.SegmentRules
}

// AccountService manages shopper accounts: registration, profile,
// activity history and reward redemption.
type AccountService struct {
	pool          *pgxpool.Pool
	users         *repository.UserRepository
	rewards       *repository.RewardRepository
	receipts      *repository.ReceiptRepository
	ledger        *repository.PointTxRepository
	notifications *repository.NotificationRepository
	mailer        *mail.Client
	locks         *lock.UserLock
	settings      AccountSettings
}

// NewAccountService creates the account service.
func NewAccountService(
	pool *pgxpool.Pool,
	users *repository.UserRepository,
	rewards *repository.RewardRepository,
	receipts *repository.ReceiptRepository,
	ledger *repository.PointTxRepository,
	notifications *repository.NotificationRepository,
	mailer *mail.Client,
	locks *lock.UserLock,
	settings AccountSettings,
) *AccountService {
	return &AccountService{
		pool:          pool,
		users:         users,
		rewards:       rewards,
		receipts:      receipts,
		ledger:        ledger,
		notifications: notifications,
		mailer:        mailer,
		locks:         locks,
		settings:      settings,
	}
}

// Register creates a shopper account and credits the signup bonus. The
// bonus lands as the account's first expiring tranche.
func (s *AccountService) Register(ctx context.Context, name, phone, email, pin string) (*model.User, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	email = strings.TrimSpace(strings.ToLower(email))

	if name == "" {
		return nil, Reject(CodeInvalidInput, "name is required")
	}
	if !phonePattern.MatchString(phone) {
		return nil, Reject(CodeInvalidInput, "invalid phone number")
	}
	if len(pin) < 4 || len(pin) > 8 {
		return nil, Reject(CodeInvalidInput, "PIN must be 4 to 8 digits")
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash PIN: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := s.users.Create(ctx, tx, name, phone, email, string(pinHash))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, Reject(CodeInvalidInput, "an account with this phone number already exists")
		}
		return nil, err
	}

	if s.settings.SignupBonus > 0 {
		expiresAt := time.Now().AddDate(0, s.settings.ExpiryMonths, 0)
		user, err = s.users.CreditBonus(ctx, tx, user.ID, s.settings.SignupBonus, expiresAt)
		if err != nil {
			return nil, err
		}
		desc := "Welcome bonus"
		if _, err := s.ledger.Create(ctx, tx, user.ID, s.settings.SignupBonus, model.TxTypeSignupBonus, &desc, nil); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Welcome, %s! You start with %d bonus points.", name, s.settings.SignupBonus)
		if err := s.notifications.Create(ctx, tx, user.ID, "Welcome", msg, model.NotificationTypeSystem); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if email != "" {
		s.mailer.SendWelcome(email, name)
	}

	log.Info().Int64("user_id", user.ID).Msg("Account registered")
	return user, nil
}

// Profile is the shopper-facing account view with the derived segment.
type Profile struct {
	User    *model.User `json:"user"`
	Segment string      `json:"segment"`
}

// GetProfile returns the account and its segment as of now.
func (s *AccountService) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, Segment: user.Segment(s.settings.SegmentRules, time.Now())}, nil
}

// Activity bundles a user's recent receipts and ledger history.
type Activity struct {
	Receipts     []*model.Receipt          `json:"receipts"`
	Transactions []*model.PointTransaction `json:"transactions"`
}

// GetActivity returns the most recent receipts and point transactions.
func (s *AccountService) GetActivity(ctx context.Context, userID int64, limit int) (*Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	receipts, err := s.receipts.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &Activity{Receipts: receipts, Transactions: txs}, nil
}

// Notifications returns the user's latest notifications.
func (s *AccountService) Notifications(ctx context.Context, userID int64, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.notifications.ListByUser(ctx, userID, limit)
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *AccountService) MarkNotificationRead(ctx context.Context, userID, notificationID int64) error {
	return s.notifications.MarkRead(ctx, userID, notificationID)
}

// ListRewards returns the active reward catalog.
func (s *AccountService) ListRewards(ctx context.Context) ([]*model.Reward, error) {
	return s.rewards.ListActive(ctx)
}

// RedeemReward debits the reward cost from the user's balance. The debit
// carries a non-negativity predicate in SQL, so a concurrent expiration
// or second redemption cannot overdraw the balance.
func (s *AccountService) RedeemReward(ctx context.Context, userID, rewardID int64) (*model.User, error) {
	reward, err := s.rewards.GetByID(ctx, rewardID)
	if err != nil {
		if errors.Is(err, repository.ErrRewardNotFound) {
			return nil, Reject(CodeInvalidInput, "reward not found")
		}
		return nil, err
	}
	if !reward.Active {
		return nil, Reject(CodeInvalidInput, "reward is no longer available")
	}

	var user *model.User
	err = s.locks.WithLock(userID, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		user, err = s.users.DebitPoints(ctx, tx, userID, reward.CostPoints)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientPoints) {
				return Reject(CodeInsufficientPoints, "not enough points for %q", reward.Title)
			}
			return err
		}

		desc := fmt.Sprintf("Redeemed %s", reward.Title)
		if _, err := s.ledger.Create(ctx, tx, userID, -reward.CostPoints, model.TxTypeRedemption, &desc, nil); err != nil {
			return err
		}

		msg := fmt.Sprintf("You redeemed %q for %d points.", reward.Title, reward.CostPoints)
		if err := s.notifications.Create(ctx, tx, userID, "Reward redeemed", msg, model.NotificationTypeReward); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", userID).Int64("reward_id", rewardID).Int64("cost", reward.CostPoints).Msg("Reward redeemed")
	return user, nil
}
