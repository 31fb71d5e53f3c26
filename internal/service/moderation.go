package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"loyalty-service/internal/metrics"
	"loyalty-service/internal/model"
	"loyalty-service/internal/repository"
)

// PendingReceipts lists receipts awaiting moderation, oldest first.
func (p *ReceiptPipeline) PendingReceipts(ctx context.Context, limit int) ([]*model.Receipt, error) {
	return p.receipts.ListPending(ctx, limit)
}

// ApproveReceipt verifies a pending receipt. Eligibility is evaluated
// against live campaign state at approval time, not submission time, so
// a campaign that ended or exhausted its cap while the receipt sat in
// the queue no longer awards. The status transition is single-shot:
// concurrent moderators racing on the same receipt resolve to exactly
// one winner.
func (p *ReceiptPipeline) ApproveReceipt(ctx context.Context, receiptID string) (*Result, error) {
	rc, err := p.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if rc.Status != model.ReceiptStatusPending {
		return nil, Reject(CodeInvalidInput, "receipt is already %s", rc.Status)
	}
	if rc.SupermarketID == nil {
		return nil, Reject(CodeNotPartnerStore, "receipt is not bound to a partner store")
	}

	user, err := p.users.GetByID(ctx, rc.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	p.locks.Lock(rc.UserID)
	defer p.locks.Unlock(rc.UserID)

	candidates, err := p.campaigns.ListCoveringStore(ctx, *rc.SupermarketID, rc.ReceiptDate)
	if err != nil {
		return nil, err
	}
	campaign, code := SelectCampaign(candidates, user.Segment(p.settings.SegmentRules, now), rc.Amount)
	if code != "" {
		return nil, campaignRejection(code, rc.SupermarketName)
	}

	points := ComputeAward(campaign, rc.Amount, p.settings.CurrencyPerPoint)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := p.receipts.Moderate(ctx, tx, rc.ID, model.ReceiptStatusVerified, points, &campaign.ID, rc.SupermarketID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Reject(CodeInvalidInput, "receipt was already moderated")
	}

	rc.PointsAwarded = points
	rc.CampaignID = &campaign.ID
	if err := p.award(ctx, tx, rc, campaign, points, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.PointsAwarded.Add(float64(points))
	log.Info().
		Str("receipt_id", rc.ID).
		Int64("user_id", rc.UserID).
		Int64("points", points).
		Msg("Receipt approved")

	return &Result{
		Success:   true,
		Points:    points,
		Status:    model.ReceiptStatusVerified,
		ReceiptID: rc.ID,
		Campaign:  campaign.Brand,
	}, nil
}

// RejectReceipt marks a pending receipt rejected. Terminal, no points.
func (p *ReceiptPipeline) RejectReceipt(ctx context.Context, receiptID, reason string) error {
	rc, err := p.receipts.GetByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, repository.ErrReceiptNotFound) {
			return Reject(CodeInvalidInput, "receipt not found")
		}
		return err
	}
	if rc.Status != model.ReceiptStatusPending {
		return Reject(CodeInvalidInput, "receipt is already %s", rc.Status)
	}

	now := time.Now()
	ok, err := p.receipts.Moderate(ctx, p.pool, rc.ID, model.ReceiptStatusRejected, 0, nil, rc.SupermarketID, now)
	if err != nil {
		return err
	}
	if !ok {
		return Reject(CodeInvalidInput, "receipt was already moderated")
	}

	msg := "Your receipt could not be verified."
	if reason != "" {
		msg = fmt.Sprintf("Your receipt could not be verified: %s", reason)
	}
	if err := p.notifications.Create(ctx, p.pool, rc.UserID, "Receipt rejected", msg, model.NotificationTypeSystem); err != nil {
		log.Error().Err(err).Str("receipt_id", rc.ID).Msg("Failed to create rejection notification")
	}

	log.Info().Str("receipt_id", rc.ID).Int64("user_id", rc.UserID).Msg("Receipt rejected by moderator")
	return nil
}
