package fees

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeeDB(t *testing.T) (*FeeDB, func()) {
	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "fees.db"))
	require.NoError(t, err)
	feedb, err := NewFeeDB(sqlDB)
	require.NoError(t, err)
	return feedb, func() {
		feedb.Close()
		sqlDB.Close()
	}
}

func assertDecEq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got),
		"want %s, got %s", want, got.String())
}

func pct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuoteFastWithReferral(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	require.NoError(t, feedb.CreateReferralCode(ctx, "FLASH10", pct("10"), pct("20")))

	b, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
	require.NoError(t, err)

	assertDecEq(t, "5", b.BaseFeeUSD)            // 0.50% of 1000
	assertDecEq(t, "2", b.FastFeeUSD)            // 0.20% surcharge
	assertDecEq(t, "0.7", b.ReferralDiscountUSD) // 10% of 7
	assertDecEq(t, "6.3", b.TotalFeeUSD)
	assertDecEq(t, "0.63", b.EffectivePercent)
	assert.Equal(t, "FLASH10", b.ReferralCode)
	assert.True(t, b.PrivacyFeeUSD.IsZero())
}

func TestQuoteTiers(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()
	amount := decimal.NewFromInt(1000)

	b, err := feedb.Quote(ctx, amount, TierStandard, "")
	require.NoError(t, err)
	assertDecEq(t, "3", b.TotalFeeUSD)
	assertDecEq(t, "0.3", b.EffectivePercent)

	b, err = feedb.Quote(ctx, amount, TierPrivate, "")
	require.NoError(t, err)
	assertDecEq(t, "3", b.BaseFeeUSD)
	assertDecEq(t, "2.5", b.PrivacyFeeUSD)
	assertDecEq(t, "5.5", b.TotalFeeUSD)
}

func TestQuoteDeterministic(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()
	require.NoError(t, feedb.CreateReferralCode(ctx, "FLASH10", pct("10"), pct("20")))

	first, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
		require.NoError(t, err)
		assert.True(t, first.TotalFeeUSD.Equal(again.TotalFeeUSD))
		assert.True(t, first.ReferralDiscountUSD.Equal(again.ReferralDiscountUSD))
	}
}

func TestQuoteUnknownOrInactiveCode(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	b, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierStandard, "NOPE")
	require.NoError(t, err)
	assert.True(t, b.ReferralDiscountUSD.IsZero())
	assert.Empty(t, b.ReferralCode)

	require.NoError(t, feedb.CreateReferralCode(ctx, "OLD", pct("50"), pct("0")))
	require.NoError(t, feedb.SetReferralActive(ctx, "OLD", false))
	b, err = feedb.Quote(ctx, decimal.NewFromInt(1000), TierStandard, "OLD")
	require.NoError(t, err)
	assert.True(t, b.ReferralDiscountUSD.IsZero())
	assertDecEq(t, "3", b.TotalFeeUSD)
}

func TestQuoteValidation(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	_, err := feedb.Quote(ctx, decimal.NewFromInt(100), Tier("turbo"), "")
	assert.ErrorIs(t, err, ErrorBadTier)
	_, err = feedb.Quote(ctx, decimal.Zero, TierStandard, "")
	assert.ErrorIs(t, err, ErrorAmountInvalid)
}

func recordFromQuote(sig string, b *FeeBreakdown) *FeeRecord {
	return &FeeRecord{
		TransferSignature:   sig,
		Tier:                b.Tier,
		AmountUSD:           b.AmountUSD,
		BaseFeeUSD:          b.BaseFeeUSD,
		FastFeeUSD:          b.FastFeeUSD,
		PrivacyFeeUSD:       b.PrivacyFeeUSD,
		ReferralDiscountUSD: b.ReferralDiscountUSD,
		TotalFeeUSD:         b.TotalFeeUSD,
		EffectivePercent:    b.EffectivePercent,
		ReferralCode:        b.ReferralCode,
	}
}

func TestRecordUpdatesDailyAggregate(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()
	require.NoError(t, feedb.CreateReferralCode(ctx, "FLASH10", pct("10"), pct("20")))

	b, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
	require.NoError(t, err)
	rec := recordFromQuote(common.RandHexStr(64), b)
	require.NoError(t, feedb.Record(ctx, rec))

	day := rec.CreatedAt.UTC().Format(dayLayout)
	agg, ok, err := feedb.GetDailyAggregate(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), agg.Count)
	assertDecEq(t, "6.3", agg.TotalFeeUSD)
	assertDecEq(t, "1000", agg.TotalAmountUSD)
	assertDecEq(t, "6.3", agg.AvgFeeUSD)
	assert.Equal(t, int64(1), agg.FastCount)
	assert.Equal(t, int64(0), agg.StandardCount)
	assertDecEq(t, "6.3", agg.FastFeeUSD)
}

func TestRecordBumpsReferralCounters(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()
	require.NoError(t, feedb.CreateReferralCode(ctx, "FLASH10", pct("10"), pct("20")))

	b, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
	require.NoError(t, err)
	require.NoError(t, feedb.Record(ctx, recordFromQuote(common.RandHexStr(64), b)))

	code, ok, err := feedb.GetReferralCode(ctx, "FLASH10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), code.Uses)
	assertDecEq(t, "1000", code.VolumeUSD)
	assertDecEq(t, "1.26", code.CommissionUSD) // 20% of the 6.30 fee
}

func TestRecordDuplicateID(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	b, err := feedb.Quote(ctx, decimal.NewFromInt(500), TierStandard, "")
	require.NoError(t, err)
	rec := recordFromQuote(common.RandHexStr(64), b)
	rec.ID = "fixed-id"
	require.NoError(t, feedb.Record(ctx, rec))

	dup := recordFromQuote(common.RandHexStr(64), b)
	dup.ID = "fixed-id"
	assert.ErrorIs(t, feedb.Record(ctx, dup), ErrorRecordExists)

	agg, ok, err := feedb.GetDailyAggregate(ctx, rec.CreatedAt.UTC().Format(dayLayout))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), agg.Count, "duplicate must not touch the aggregate")
}

func TestRecordDuplicateSignature(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()
	require.NoError(t, feedb.CreateReferralCode(ctx, "FLASH10", pct("10"), pct("20")))

	b, err := feedb.Quote(ctx, decimal.NewFromInt(1000), TierFast, "FLASH10")
	require.NoError(t, err)
	sig := common.RandHexStr(64)

	require.NoError(t, feedb.Record(ctx, recordFromQuote(sig, b)))
	// A retried posting for the same transfer carries no ID either; the
	// signature alone must dedup it.
	assert.ErrorIs(t, feedb.Record(ctx, recordFromQuote(sig, b)), ErrorRecordExists)

	day := time.Now().UTC().Format(dayLayout)
	agg, ok, err := feedb.GetDailyAggregate(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), agg.Count)
	assertDecEq(t, "6.3", agg.TotalFeeUSD)

	// Referral counters saw the transfer once.
	code, _, err := feedb.GetReferralCode(ctx, "FLASH10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), code.Uses)
	assertDecEq(t, "1.26", code.CommissionUSD)
}

func TestConcurrentRecordsKeepAggregateExact(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	// All on the same day so every insert folds into the same row.
	createdAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	const writers = 8

	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := feedb.Quote(ctx, decimal.NewFromInt(500), TierStandard, "")
			if err != nil {
				errs[i] = err
				return
			}
			rec := recordFromQuote(common.RandHexStr(64), b)
			rec.CreatedAt = createdAt
			errs[i] = feedb.Record(ctx, rec)
		}(i)
	}
	wg.Wait()
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
	}

	agg, ok, err := feedb.GetDailyAggregate(ctx, "2026-03-14")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(writers), agg.Count)
	assertDecEq(t, "12", agg.TotalFeeUSD) // 8 × 1.50
	assertDecEq(t, "4000", agg.TotalAmountUSD)
	assertDecEq(t, "1.5", agg.AvgFeeUSD)
	assert.Equal(t, int64(writers), agg.StandardCount)
}

func TestCreateReferralCodeValidation(t *testing.T) {
	feedb, close := newTestFeeDB(t)
	defer close()
	ctx := context.Background()

	assert.ErrorIs(t, feedb.CreateReferralCode(ctx, "X", pct("101"), pct("0")), ErrorPercentOutOfRange)
	assert.ErrorIs(t, feedb.CreateReferralCode(ctx, "X", pct("10"), pct("-1")), ErrorPercentOutOfRange)

	require.NoError(t, feedb.CreateReferralCode(ctx, "X", pct("10"), pct("5")))
	assert.ErrorIs(t, feedb.CreateReferralCode(ctx, "X", pct("10"), pct("5")), ErrorCodeExists)

	assert.ErrorIs(t, feedb.SetReferralActive(ctx, "MISSING", false), ErrorCodeNotFound)
}
