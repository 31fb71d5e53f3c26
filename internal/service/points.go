package service

import (
	"loyalty-service/internal/model"
)

// ComputeAward returns the point award for a receipt amount under the
// selected campaign.
//
// Base rate: 1 point per currencyPerPoint units of receipt amount, floor
// division. A points campaign replaces the base rate with its flat reward
// value. Voucher and giveaway campaigns keep the campaign association but
// dispense their reward out-of-band, so the base rate still applies.
func ComputeAward(campaign *model.Campaign, amount, currencyPerPoint int64) int64 {
	if campaign != nil && campaign.RewardType == model.RewardTypePoints {
		return campaign.RewardValue
	}
	if currencyPerPoint <= 0 || amount <= 0 {
		return 0
	}
	return amount / currencyPerPoint
}
