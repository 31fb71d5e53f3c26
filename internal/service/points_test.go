package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"loyalty-service/internal/model"
)

func TestComputeAward_BaseRate(t *testing.T) {
	voucher := pointsCampaign(1, 0)
	voucher.RewardType = model.RewardTypeVoucher

	tests := []struct {
		name   string
		amount int64
		want   int64
	}{
		{"exact multiple", 45_000, 450},
		{"floors the remainder", 45_099, 450},
		{"below one point", 99, 0},
		{"single point", 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeAward(voucher, tt.amount, 100))
		})
	}
}

func TestComputeAward_PointsCampaignOverridesBaseRate(t *testing.T) {
	cp := pointsCampaign(1, 800)

	// Flat reward regardless of the receipt amount.
	assert.Equal(t, int64(800), ComputeAward(cp, 100, 100))
	assert.Equal(t, int64(800), ComputeAward(cp, 1_000_000, 100))
}

func TestComputeAward_NilCampaign(t *testing.T) {
	assert.Equal(t, int64(123), ComputeAward(nil, 12_345, 100))
}

// TestComputeAwardBaseRateProperty checks the base-rate conversion: the
// award never exceeds amount/rate, never goes negative, and is monotonic
// in the amount.
func TestComputeAwardBaseRateProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rate := rapid.Int64Range(1, 10_000).Draw(rt, "rate")
		amount := rapid.Int64Range(0, 100_000_000).Draw(rt, "amount")

		voucher := pointsCampaign(1, 0)
		voucher.RewardType = model.RewardTypeGiveaway

		award := ComputeAward(voucher, amount, rate)
		if award < 0 {
			rt.Fatalf("negative award %d", award)
		}
		if award*rate > amount {
			rt.Fatalf("award %d at rate %d exceeds amount %d", award, rate, amount)
		}
		if (award+1)*rate <= amount {
			rt.Fatalf("award %d at rate %d underpays amount %d", award, rate, amount)
		}

		bigger := ComputeAward(voucher, amount+rate, rate)
		if bigger != award+1 {
			rt.Fatalf("award not monotonic: %d then %d", award, bigger)
		}
	})
}
