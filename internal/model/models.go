// Package model defines the data models for the loyalty rewards service.
package model

import "time"

// User statuses.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusBanned    = "banned"
)

// Derived user segments used for campaign audience targeting.
const (
	SegmentVIP       = "vip"
	SegmentNew       = "new"
	SegmentChurnRisk = "churn_risk"
	SegmentRegular   = "regular"
)

// User represents a shopper account and its loyalty state.
type User struct {
	ID                   int64      `db:"id"`
	Name                 string     `db:"name"`
	Phone                string     `db:"phone"`
	Email                string     `db:"email"`
	PINHash              string     `db:"pin_hash"`
	PointsBalance        int64      `db:"points_balance"`
	PointsExpiring       int64      `db:"points_expiring"`
	PointsExpiresAt      *time.Time `db:"points_expires_at"`
	PointsExpiryWarnedAt *time.Time `db:"points_expiry_warned_at"`
	TotalSpent           int64      `db:"total_spent"`
	Status               string     `db:"status"`
	LastReceiptAt        *time.Time `db:"last_receipt_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// SegmentRules holds the thresholds that drive segment derivation.
type SegmentRules struct {
	VIPSpend      int64         // total_spent at or above this is VIP
	NewAccountAge time.Duration // accounts younger than this are New
	ChurnIdle     time.Duration // no receipt for this long is ChurnRisk
}

// DefaultSegmentRules are the production thresholds.
var DefaultSegmentRules = SegmentRules{
	VIPSpend:      1_000_000,
	NewAccountAge: 30 * 24 * time.Hour,
	ChurnIdle:     60 * 24 * time.Hour,
}

// Segment derives the user's classification at the given instant.
// Precedence: vip > new > churn_risk > regular.
func (u *User) Segment(rules SegmentRules, now time.Time) string {
	if u.TotalSpent >= rules.VIPSpend {
		return SegmentVIP
	}
	if now.Sub(u.CreatedAt) < rules.NewAccountAge {
		return SegmentNew
	}
	if u.LastReceiptAt == nil || now.Sub(*u.LastReceiptAt) > rules.ChurnIdle {
		return SegmentChurnRisk
	}
	return SegmentRegular
}

// Supermarket represents a partner store eligible as a point of sale.
type Supermarket struct {
	ID             int64    `db:"id"`
	Name           string   `db:"name"`
	NormalizedName string   `db:"normalized_name"`
	Address        string   `db:"address"`
	Active         bool     `db:"active"`
	Latitude       *float64 `db:"latitude"`
	Longitude      *float64 `db:"longitude"`
	AvgBasket      int64    `db:"avg_basket"`
}

// Campaign statuses.
const (
	CampaignStatusDraft  = "draft"
	CampaignStatusActive = "active"
	CampaignStatusEnded  = "ended"
)

// Campaign audience targets.
const (
	AudienceAll       = "all"
	AudienceVIP       = "vip"
	AudienceNew       = "new"
	AudienceChurnRisk = "churn_risk"
)

// Campaign reward types.
const (
	RewardTypePoints   = "points"
	RewardTypeVoucher  = "voucher"
	RewardTypeGiveaway = "giveaway"
)

// Campaign represents a promotional campaign scoped to partner stores.
// Conversions never exceed MaxRedemptions when the cap is set; the
// increment is conditional inside the award transaction.
type Campaign struct {
	ID             int64     `db:"id"`
	Brand          string    `db:"brand"`
	Status         string    `db:"status"`
	StartsAt       time.Time `db:"starts_at"`
	EndsAt         time.Time `db:"ends_at"`
	Mechanic       string    `db:"mechanic"`
	MinSpend       *int64    `db:"min_spend"`
	MaxRedemptions *int32    `db:"max_redemptions"`
	Conversions    int32     `db:"conversions"`
	TargetAudience string    `db:"target_audience"`
	RewardType     string    `db:"reward_type"`
	RewardValue    int64     `db:"reward_value"`
	CreatedAt      time.Time `db:"created_at"`
}

// MatchesAudience reports whether a user segment falls inside the
// campaign's target audience.
func (c *Campaign) MatchesAudience(segment string) bool {
	return c.TargetAudience == AudienceAll || c.TargetAudience == segment
}

// Receipt statuses. A receipt transitions to exactly one terminal state;
// pipeline-accepted receipts are created verified.
const (
	ReceiptStatusPending  = "pending"
	ReceiptStatusVerified = "verified"
	ReceiptStatusRejected = "rejected"
)

// Receipt represents a submitted purchase receipt.
type Receipt struct {
	ID              string     `db:"id"`
	UserID          int64      `db:"user_id"`
	SupermarketID   *int64     `db:"supermarket_id"`
	SupermarketName string     `db:"supermarket_name"`
	Amount          int64      `db:"amount"`
	ReceiptDate     time.Time  `db:"receipt_date"`
	Status          string     `db:"status"`
	Confidence      float64    `db:"confidence"`
	ImageHash       string     `db:"image_hash"`
	ImageURL        string     `db:"image_url"`
	ReceiptNumber   *string    `db:"receipt_number"`
	PointsAwarded   int64      `db:"points_awarded"`
	CampaignID      *int64     `db:"campaign_id"`
	CreatedAt       time.Time  `db:"created_at"`
	ModeratedAt     *time.Time `db:"moderated_at"`
}

// ReceiptItem is a single line item extracted from a receipt.
type ReceiptItem struct {
	ID        int64  `db:"id"`
	ReceiptID string `db:"receipt_id"`
	Name      string `db:"name"`
	Quantity  int32  `db:"quantity"`
	UnitPrice int64  `db:"unit_price"`
	Total     int64  `db:"total"`
	Category  string `db:"category"`
}

// Reward is a catalog entry redeemable for points.
type Reward struct {
	ID            int64  `db:"id"`
	Title         string `db:"title"`
	CostPoints    int64  `db:"cost_points"`
	RewardType    string `db:"reward_type"`
	Brand         string `db:"brand"`
	SupermarketID *int64 `db:"supermarket_id"`
	Active        bool   `db:"active"`
}

// Notification types.
const (
	NotificationTypeExpiration = "expiration"
	NotificationTypeSystem     = "system"
	NotificationTypeReward     = "reward"
)

// Notification is a shopper-facing message record.
type Notification struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Type      string    `db:"type"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

// Point transaction types for categorizing ledger mutations.
const (
	TxTypeSignupBonus  = "signup_bonus"  // initial bonus on account creation
	TxTypeReceiptAward = "receipt_award" // points credited for a verified receipt
	TxTypeRedemption   = "redemption"    // reward redemption debit
	TxTypeExpiration   = "expiration"    // expired tranche debit
	TxTypeAdjustment   = "adjustment"    // manual admin adjustment
)

// PointTransaction records a single signed points-balance change.
type PointTransaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	ReceiptID   *string   `db:"receipt_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// Extraction holds the structured fields returned by the OCR collaborator
// for a scanned receipt image.
type Extraction struct {
	MerchantName  string          `json:"merchant_name"`
	TotalAmount   int64           `json:"total_amount"`
	Currency      string          `json:"currency"`
	Date          time.Time       `json:"date"`
	Items         []ExtractedItem `json:"items"`
	Confidence    float64         `json:"confidence"`
	ReceiptNumber *string         `json:"receipt_number,omitempty"`
}

// ExtractedItem is one OCR-extracted line item.
type ExtractedItem struct {
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
	Category  string `json:"category"`
}
