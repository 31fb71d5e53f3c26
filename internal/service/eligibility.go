package service

import (
	"loyalty-service/internal/model"
)

// SelectCampaign filters structurally-matching campaigns (already known to
// be active, in date range and covering the store) down to those the user
// and receipt qualify for, and picks exactly one.
//
// Filter order: audience, minimum spend, budget. When the set empties, the
// returned code is the most specific applicable reason: a campaign that
// matched structurally but failed only the spend floor yields
// BELOW_MINIMUM_SPEND, one that failed only the budget cap yields
// CAMPAIGN_MAX_REACHED, and everything else yields NO_ACTIVE_CAMPAIGN.
//
// Tie-break when several remain: highest reward value among points
// campaigns; if reward types differ the values are not comparable, so the
// most recently created campaign (highest id) wins. The rule is
// deterministic so behavior is reproducible and testable.
func SelectCampaign(candidates []*model.Campaign, segment string, amount int64) (*model.Campaign, Code) {
	if len(candidates) == 0 {
		return nil, CodeNoActiveCampaign
	}

	var audienceOK []*model.Campaign
	for _, c := range candidates {
		if c.MatchesAudience(segment) {
			audienceOK = append(audienceOK, c)
		}
	}
	if len(audienceOK) == 0 {
		return nil, CodeNoActiveCampaign
	}

	var spendOK []*model.Campaign
	for _, c := range audienceOK {
		if c.MinSpend == nil || amount >= *c.MinSpend {
			spendOK = append(spendOK, c)
		}
	}
	if len(spendOK) == 0 {
		return nil, CodeBelowMinimumSpend
	}

	var budgetOK []*model.Campaign
	for _, c := range spendOK {
		if c.MaxRedemptions == nil || c.Conversions < *c.MaxRedemptions {
			budgetOK = append(budgetOK, c)
		}
	}
	if len(budgetOK) == 0 {
		return nil, CodeCampaignMaxReached
	}

	return pickCampaign(budgetOK), ""
}

// pickCampaign applies the deterministic tie-break to a non-empty set.
func pickCampaign(eligible []*model.Campaign) *model.Campaign {
	allPoints := true
	for _, c := range eligible {
		if c.RewardType != model.RewardTypePoints {
			allPoints = false
			break
		}
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if allPoints {
			if c.RewardValue > best.RewardValue ||
				(c.RewardValue == best.RewardValue && c.ID > best.ID) {
				best = c
			}
			continue
		}
		if c.ID > best.ID {
			best = c
		}
	}
	return best
}
