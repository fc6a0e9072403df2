package fees

import (
	"context"

	"github.com/shopspring/decimal"
)

// Fee schedule, percent of the bridged USD amount.
var (
	basePercent = map[Tier]decimal.Decimal{
		TierStandard: decimal.RequireFromString("0.30"),
		TierFast:     decimal.RequireFromString("0.50"),
		TierPrivate:  decimal.RequireFromString("0.30"),
	}
	fastPercent    = decimal.RequireFromString("0.20") // fast tier surcharge
	privacyPercent = decimal.RequireFromString("0.25") // private tier surcharge

	hundred = decimal.NewFromInt(100)
)

// Quote computes the fee breakdown for an amount. Deterministic: same
// inputs and referral row, same breakdown. An unknown or inactive
// referral code simply applies no discount.
func (f *FeeDB) Quote(ctx context.Context, amountUSD decimal.Decimal, tier Tier, referralCode string) (*FeeBreakdown, error) {
	if !tier.Valid() {
		return nil, ErrorBadTier
	}
	if amountUSD.Sign() <= 0 {
		return nil, ErrorAmountInvalid
	}

	b := &FeeBreakdown{
		Tier:       tier,
		AmountUSD:  amountUSD,
		BaseFeeUSD: pctOf(amountUSD, basePercent[tier]),
	}
	switch tier {
	case TierFast:
		b.FastFeeUSD = pctOf(amountUSD, fastPercent)
	case TierPrivate:
		b.PrivacyFeeUSD = pctOf(amountUSD, privacyPercent)
	}

	total := b.BaseFeeUSD.Add(b.FastFeeUSD).Add(b.PrivacyFeeUSD)

	if referralCode != "" {
		code, ok, err := f.GetReferralCode(ctx, referralCode)
		if err != nil {
			return nil, err
		}
		if ok && code.Active {
			b.ReferralCode = code.Code
			b.ReferralDiscountUSD = pctOf(total, code.DiscountPercent)
			total = total.Sub(b.ReferralDiscountUSD)
		}
	}

	b.TotalFeeUSD = total
	b.EffectivePercent = total.Mul(hundred).DivRound(amountUSD, 4)
	return b, nil
}

func pctOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).DivRound(hundred, 8)
}
