// Package service provides business logic implementations.
package service

import "fmt"

// Code identifies a typed pipeline rejection. Rejections are expected,
// user-facing outcomes, not infrastructure failures: the receipt is not
// persisted (except confidence routing) and the client resets its scan
// state rather than retrying as-is.
type Code string

// Duplicate class.
const (
	CodeDuplicateImage         Code = "DUPLICATE_IMAGE"
	CodeDuplicateReceiptNumber Code = "DUPLICATE_RECEIPT_NUMBER"
	CodeDuplicateReceipt       Code = "DUPLICATE_RECEIPT"
	CodeSimilarReceiptExists   Code = "SIMILAR_RECEIPT_EXISTS"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
)

// Eligibility class.
const (
	CodeNotPartnerStore    Code = "NOT_PARTNER_STORE"
	CodeNoActiveCampaign   Code = "NO_ACTIVE_CAMPAIGN"
	CodeBelowMinimumSpend  Code = "BELOW_MINIMUM_SPEND"
	CodeCampaignMaxReached Code = "CAMPAIGN_MAX_REACHED"
)

// Validation class.
const (
	CodeLowConfidence Code = "LOW_CONFIDENCE"
	CodeInvalidAmount Code = "INVALID_AMOUNT"
	CodeAmountTooHigh Code = "AMOUNT_TOO_HIGH"
	CodeInvalidInput  Code = "INVALID_INPUT"
)

// Redemption class.
const (
	CodeInsufficientPoints Code = "INSUFFICIENT_POINTS"
)

// Rejection is a typed, expected pipeline outcome. Infrastructure
// failures travel as ordinary wrapped errors instead.
type Rejection struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject builds a typed rejection.
func Reject(code Code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}
