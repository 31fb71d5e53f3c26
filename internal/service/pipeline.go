package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"loyalty-service/internal/metrics"
	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/lock"
	"loyalty-service/internal/repository"
)

// PipelineSettings holds the tunable constants of the eligibility pipeline.
type PipelineSettings struct {
	CurrencyPerPoint     int64
	AutoVerifyConfidence float64
	MinConfidence        float64
	MaxAmount            int64
	RateLimitWindow      time.Duration
	RateLimitMax         int
	ExpiryMonths         int
	SegmentRules         model.SegmentRules
}

// Result is the pipeline outcome returned to the caller on acceptance.
type Result struct {
	Success   bool   `json:"success"`
	Points    int64  `json:"points"`
	Status    string `json:"status"`
	ReceiptID string `json:"receipt_id"`
	Campaign  string `json:"campaign,omitempty"`
}

// ReceiptPipeline is the receipt eligibility and awarding pipeline: the
// decision procedure run when a shopper submits a scanned receipt.
type ReceiptPipeline struct {
	pool          *pgxpool.Pool
	users         *repository.UserRepository
	stores        *repository.SupermarketRepository
	campaigns     *repository.CampaignRepository
	receipts      *repository.ReceiptRepository
	notifications *repository.NotificationRepository
	ledger        *repository.PointTxRepository
	locks         *lock.UserLock
	settings      PipelineSettings
}

// NewReceiptPipeline creates the pipeline service.
func NewReceiptPipeline(
	pool *pgxpool.Pool,
	users *repository.UserRepository,
	stores *repository.SupermarketRepository,
	campaigns *repository.CampaignRepository,
	receipts *repository.ReceiptRepository,
	notifications *repository.NotificationRepository,
	ledger *repository.PointTxRepository,
	locks *lock.UserLock,
	settings PipelineSettings,
) *ReceiptPipeline {
	return &ReceiptPipeline{
		pool:          pool,
		users:         users,
		stores:        stores,
		campaigns:     campaigns,
		receipts:      receipts,
		notifications: notifications,
		ledger:        ledger,
		locks:         locks,
		settings:      settings,
	}
}

// ProcessReceipt runs a submission through validation, the duplicate and
// fraud guard, partner and campaign matching, confidence routing and the
// transactional award commit. A *Rejection error is an expected outcome;
// any other error is an infrastructure failure the caller may retry.
func (p *ReceiptPipeline) ProcessReceipt(ctx context.Context, userID int64, ext *model.Extraction, imageURL, imageHash string) (*Result, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordProcessDuration(status, time.Since(start).Seconds())
	}()

	res, err := p.process(ctx, userID, ext, imageURL, imageHash)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			status = "rejected"
			metrics.RecordRejection(string(rej.Code))
			log.Info().
				Int64("user_id", userID).
				Str("code", string(rej.Code)).
				Msg("Receipt rejected")
		}
		return nil, err
	}

	status = res.Status
	if res.Points > 0 {
		metrics.PointsAwarded.Add(float64(res.Points))
	}
	log.Info().
		Int64("user_id", userID).
		Str("receipt_id", res.ReceiptID).
		Str("status", res.Status).
		Int64("points", res.Points).
		Msg("Receipt accepted")
	return res, nil
}

func (p *ReceiptPipeline) process(ctx context.Context, userID int64, ext *model.Extraction, imageURL, imageHash string) (*Result, error) {
	now := time.Now()

	if err := p.validate(ext, imageHash); err != nil {
		return nil, err
	}

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, Reject(CodeInvalidInput, "unknown user")
		}
		return nil, err
	}
	if user.Status != model.UserStatusActive {
		return nil, Reject(CodeInvalidInput, "account is %s", user.Status)
	}

	if err := p.duplicateGuard(ctx, userID, ext, imageHash, now); err != nil {
		return nil, err
	}

	store, err := p.stores.ResolveActiveByName(ctx, ext.MerchantName)
	if err != nil {
		if errors.Is(err, repository.ErrSupermarketNotFound) {
			return nil, Reject(CodeNotPartnerStore, "%q is not a partner store", ext.MerchantName)
		}
		return nil, err
	}

	// Serialize the award path per user; the SQL atomicity below is the
	// real guarantee, this prevents interleaved submissions in-process.
	p.locks.Lock(userID)
	defer p.locks.Unlock(userID)

	if ext.Confidence < p.settings.AutoVerifyConfidence {
		return p.persistPending(ctx, userID, ext, store, imageURL, imageHash)
	}

	candidates, err := p.campaigns.ListCoveringStore(ctx, store.ID, ext.Date)
	if err != nil {
		return nil, err
	}

	segment := user.Segment(p.settings.SegmentRules, now)
	campaign, code := SelectCampaign(candidates, segment, ext.TotalAmount)
	if code != "" {
		return nil, campaignRejection(code, ext.MerchantName)
	}

	points := ComputeAward(campaign, ext.TotalAmount, p.settings.CurrencyPerPoint)

	rc := &model.Receipt{
		ID:              uuid.NewString(),
		UserID:          userID,
		SupermarketID:   &store.ID,
		SupermarketName: store.Name,
		Amount:          ext.TotalAmount,
		ReceiptDate:     ext.Date,
		Status:          model.ReceiptStatusVerified,
		Confidence:      ext.Confidence,
		ImageHash:       imageHash,
		ImageURL:        imageURL,
		ReceiptNumber:   ext.ReceiptNumber,
		PointsAwarded:   points,
		CampaignID:      &campaign.ID,
	}

	if err := p.commitVerified(ctx, rc, ext.Items, campaign, points, now); err != nil {
		return nil, err
	}

	return &Result{
		Success:   true,
		Points:    points,
		Status:    model.ReceiptStatusVerified,
		ReceiptID: rc.ID,
		Campaign:  campaign.Brand,
	}, nil
}

// validate performs structural input checks before any database access.
func (p *ReceiptPipeline) validate(ext *model.Extraction, imageHash string) error {
	if ext == nil || ext.MerchantName == "" || ext.Date.IsZero() || imageHash == "" {
		return Reject(CodeInvalidInput, "missing required receipt fields")
	}
	if ext.TotalAmount <= 0 {
		return Reject(CodeInvalidAmount, "receipt amount must be positive")
	}
	if ext.TotalAmount > p.settings.MaxAmount {
		return Reject(CodeAmountTooHigh, "receipt amount exceeds the accepted maximum")
	}
	if ext.Confidence < p.settings.MinConfidence {
		return Reject(CodeLowConfidence, "extraction confidence too low, retake the photo")
	}
	return nil
}

// duplicateGuard rejects resubmission of the same physical receipt before
// any campaign logic runs. Read-only: a rejected duplicate leaves no
// residue in storage.
func (p *ReceiptPipeline) duplicateGuard(ctx context.Context, userID int64, ext *model.Extraction, imageHash string, now time.Time) error {
	exists, err := p.receipts.ExistsByImageHash(ctx, imageHash)
	if err != nil {
		return err
	}
	if exists {
		return Reject(CodeDuplicateImage, "this receipt image was already submitted")
	}

	if ext.ReceiptNumber != nil && *ext.ReceiptNumber != "" {
		exists, err := p.receipts.ExistsByReceiptNumber(ctx, *ext.ReceiptNumber)
		if err != nil {
			return err
		}
		if exists {
			return Reject(CodeDuplicateReceiptNumber, "receipt number %s was already submitted", *ext.ReceiptNumber)
		}
	}

	similar, err := p.receipts.ExistsSimilar(ctx,
		repository.NormalizeName(ext.MerchantName), ext.TotalAmount, ext.Date)
	if err != nil {
		return err
	}
	if similar {
		return Reject(CodeSimilarReceiptExists, "a matching receipt for this store, amount and date already exists")
	}

	count, err := p.receipts.CountRecentByUser(ctx, userID, now.Add(-p.settings.RateLimitWindow))
	if err != nil {
		return err
	}
	if count >= p.settings.RateLimitMax {
		return Reject(CodeRateLimitExceeded, "too many submissions, try again later")
	}

	return nil
}

// persistPending stores a structurally-valid but low-confidence receipt
// for human moderation. No points, no campaign binding: eligibility is
// re-evaluated against live campaign state at approval time.
func (p *ReceiptPipeline) persistPending(ctx context.Context, userID int64, ext *model.Extraction, store *model.Supermarket, imageURL, imageHash string) (*Result, error) {
	rc := &model.Receipt{
		ID:              uuid.NewString(),
		UserID:          userID,
		SupermarketID:   &store.ID,
		SupermarketName: store.Name,
		Amount:          ext.TotalAmount,
		ReceiptDate:     ext.Date,
		Status:          model.ReceiptStatusPending,
		Confidence:      ext.Confidence,
		ImageHash:       imageHash,
		ImageURL:        imageURL,
		ReceiptNumber:   ext.ReceiptNumber,
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := p.receipts.Insert(ctx, tx, rc); err != nil {
		if errors.Is(err, repository.ErrDuplicateImage) {
			return nil, Reject(CodeDuplicateReceipt, "this receipt was already submitted")
		}
		return nil, err
	}
	if err := p.receipts.InsertItems(ctx, tx, rc.ID, ext.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Result{
		Success:   true,
		Points:    0,
		Status:    model.ReceiptStatusPending,
		ReceiptID: rc.ID,
	}, nil
}

// commitVerified persists the receipt, the award and all bookkeeping in a
// single transaction. Any failure rolls back the whole commit: no partial
// award or orphaned receipt may persist.
func (p *ReceiptPipeline) commitVerified(ctx context.Context, rc *model.Receipt, items []model.ExtractedItem, campaign *model.Campaign, points int64, now time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := p.receipts.Insert(ctx, tx, rc); err != nil {
		if errors.Is(err, repository.ErrDuplicateImage) {
			return Reject(CodeDuplicateReceipt, "this receipt was already submitted")
		}
		return err
	}
	if err := p.receipts.InsertItems(ctx, tx, rc.ID, items); err != nil {
		return err
	}

	if err := p.award(ctx, tx, rc, campaign, points, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// award applies the campaign conversion, balance credit, ledger entry and
// notification inside the caller's transaction. Shared between the
// auto-verify path and moderation approval.
func (p *ReceiptPipeline) award(ctx context.Context, tx pgx.Tx, rc *model.Receipt, campaign *model.Campaign, points int64, now time.Time) error {
	if campaign != nil {
		if err := p.campaigns.TryIncrementConversions(ctx, tx, campaign.ID); err != nil {
			if errors.Is(err, repository.ErrCampaignExhausted) {
				return Reject(CodeCampaignMaxReached, "campaign %q has reached its redemption cap", campaign.Brand)
			}
			return err
		}
	}

	expiresAt := now.AddDate(0, p.settings.ExpiryMonths, 0)
	if _, err := p.users.CreditPoints(ctx, tx, rc.UserID, points, rc.Amount, expiresAt); err != nil {
		return err
	}

	desc := fmt.Sprintf("Receipt at %s", rc.SupermarketName)
	if campaign != nil {
		desc = fmt.Sprintf("Receipt at %s (%s)", rc.SupermarketName, campaign.Brand)
	}
	if _, err := p.ledger.Create(ctx, tx, rc.UserID, points, model.TxTypeReceiptAward, &desc, &rc.ID); err != nil {
		return err
	}

	msg := fmt.Sprintf("You earned %d points for your receipt at %s.", points, rc.SupermarketName)
	if err := p.notifications.Create(ctx, tx, rc.UserID, "Points earned", msg, model.NotificationTypeReward); err != nil {
		return err
	}

	return nil
}

// campaignRejection maps an eligibility code to its caller-facing message.
func campaignRejection(code Code, store string) *Rejection {
	switch code {
	case CodeBelowMinimumSpend:
		return Reject(CodeBelowMinimumSpend, "receipt amount is below the campaign minimum spend")
	case CodeCampaignMaxReached:
		return Reject(CodeCampaignMaxReached, "the matching campaign has reached its redemption cap")
	default:
		return Reject(CodeNoActiveCampaign, "no active campaign covers %s for this receipt", store)
	}
}
