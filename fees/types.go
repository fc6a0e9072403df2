package fees

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
	TierPrivate  Tier = "private"
)

func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierFast, TierPrivate:
		return true
	}
	return false
}

var (
	ErrorBadTier           = errors.New("unknown fee tier")
	ErrorAmountInvalid     = errors.New("amount must be positive")
	ErrorSignatureEmpty    = errors.New("transfer signature is empty")
	ErrorRecordExists      = errors.New("fee record already exists")
	ErrorCodeExists        = errors.New("referral code already exists")
	ErrorCodeNotFound      = errors.New("referral code not found")
	ErrorPercentOutOfRange = errors.New("percent must be within [0, 100]")
)

// FeeBreakdown is the deterministic result of a quote. All amounts USD.
type FeeBreakdown struct {
	Tier                Tier
	AmountUSD           decimal.Decimal
	BaseFeeUSD          decimal.Decimal
	FastFeeUSD          decimal.Decimal
	PrivacyFeeUSD       decimal.Decimal
	ReferralDiscountUSD decimal.Decimal
	TotalFeeUSD         decimal.Decimal
	EffectivePercent    decimal.Decimal
	ReferralCode        string // empty if none applied
}

// FeeRecord is the immutable per-transaction fee posting.
type FeeRecord struct {
	ID                  string
	TransferSignature   string
	Tier                Tier
	AmountUSD           decimal.Decimal
	BaseFeeUSD          decimal.Decimal
	FastFeeUSD          decimal.Decimal
	PrivacyFeeUSD       decimal.Decimal
	ReferralDiscountUSD decimal.Decimal
	TotalFeeUSD         decimal.Decimal
	EffectivePercent    decimal.Decimal
	ReferralCode        string
	CreatedAt           time.Time
}

// DailyAggregate is one row per UTC calendar day, recomputed atomically
// with every fee record insert.
type DailyAggregate struct {
	Day            string // "2006-01-02" UTC
	Count          int64
	TotalFeeUSD    decimal.Decimal
	TotalAmountUSD decimal.Decimal
	AvgFeeUSD      decimal.Decimal
	StandardCount  int64
	FastCount      int64
	PrivateCount   int64
	StandardFeeUSD decimal.Decimal
	FastFeeUSD     decimal.Decimal
	PrivateFeeUSD  decimal.Decimal
}

// ReferralCode carries its discount/commission schedule and running
// usage counters.
type ReferralCode struct {
	Code              string
	DiscountPercent   decimal.Decimal // percent of the fee waived for the payer
	CommissionPercent decimal.Decimal // percent of the fee accrued to the referrer
	Uses              int64
	VolumeUSD         decimal.Decimal
	CommissionUSD     decimal.Decimal
	Active            bool
}
