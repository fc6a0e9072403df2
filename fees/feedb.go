// Fee & referral ledger.
//
// Record is deliberately one explicit transaction: insert the immutable
// fee record, recompute the day's aggregate from the pre-update row, bump
// the referral counters. The old implementation hid the aggregate update
// in a database trigger, which loses postings under concurrent inserts on
// the same day; here the read-recompute-write runs under the immediate
// write lock, so concurrent postings serialize.
package fees

import (
	"context"
	"database/sql"
	"time"

	"github.com/flashbridge-io/bridge-go/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const dayLayout = "2006-01-02"

type FeeDB struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

func NewFeeDB(db *sql.DB) (*FeeDB, error) {
	if _, err := db.Exec(feeRecordTable + dailyAggregateTable + referralCodeTable); err != nil {
		return nil, err
	}
	return &FeeDB{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (f *FeeDB) Close() {
	f.stmtCache.Clear()
}

// Record posts one fee record and folds it into that day's aggregate and
// (if present) the referral code's counters, atomically. One record per
// transfer signature: a duplicated or retried posting for the same
// transfer returns ErrorRecordExists and touches nothing.
func (f *FeeDB) Record(ctx context.Context, rec *FeeRecord) error {
	if !rec.Tier.Valid() {
		return ErrorBadTier
	}
	if rec.AmountUSD.Sign() <= 0 {
		return ErrorAmountInvalid
	}
	if rec.TransferSignature == "" {
		return ErrorSignatureEmpty
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	day := rec.CreatedAt.UTC().Format(dayLayout)

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO fee_record
		 (id, transferSignature, tier, amountUsd, baseFeeUsd, fastFeeUsd, privacyFeeUsd,
		  referralDiscountUsd, totalFeeUsd, effectivePercent, referralCode, createdAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TransferSignature, rec.Tier,
		rec.AmountUSD.String(), rec.BaseFeeUSD.String(), rec.FastFeeUSD.String(),
		rec.PrivacyFeeUSD.String(), rec.ReferralDiscountUSD.String(), rec.TotalFeeUSD.String(),
		rec.EffectivePercent.String(), rec.ReferralCode, rec.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorRecordExists
	}

	if err := f.foldIntoAggregate(ctx, tx, day, rec); err != nil {
		return err
	}

	if rec.ReferralCode != "" {
		if err := f.bumpReferral(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"id":   rec.ID,
		"tier": rec.Tier,
		"fee":  rec.TotalFeeUSD.String(),
		"day":  day,
	}).Debug("recorded fee")
	return nil
}

// foldIntoAggregate applies the §4.5 recompute:
// newAvg = (oldAvg*oldCount + newValue) / (oldCount+1).
func (f *FeeDB) foldIntoAggregate(ctx context.Context, tx *sql.Tx, day string, rec *FeeRecord) error {
	agg, err := scanAggregate(tx.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM fee_daily_aggregate WHERE day = ?`, day))
	if err == sql.ErrNoRows {
		agg = &DailyAggregate{Day: day}
	} else if err != nil {
		return err
	}

	oldCount := decimal.NewFromInt(agg.Count)
	newCount := agg.Count + 1
	newAvg := agg.AvgFeeUSD.Mul(oldCount).Add(rec.TotalFeeUSD).
		DivRound(decimal.NewFromInt(newCount), 8)

	agg.Count = newCount
	agg.TotalFeeUSD = agg.TotalFeeUSD.Add(rec.TotalFeeUSD)
	agg.TotalAmountUSD = agg.TotalAmountUSD.Add(rec.AmountUSD)
	agg.AvgFeeUSD = newAvg

	switch rec.Tier {
	case TierStandard:
		agg.StandardCount++
		agg.StandardFeeUSD = agg.StandardFeeUSD.Add(rec.TotalFeeUSD)
	case TierFast:
		agg.FastCount++
		agg.FastFeeUSD = agg.FastFeeUSD.Add(rec.TotalFeeUSD)
	case TierPrivate:
		agg.PrivateCount++
		agg.PrivateFeeUSD = agg.PrivateFeeUSD.Add(rec.TotalFeeUSD)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO fee_daily_aggregate (`+aggregateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agg.Day, agg.Count, agg.TotalFeeUSD.String(), agg.TotalAmountUSD.String(),
		agg.AvgFeeUSD.String(), agg.StandardCount, agg.FastCount, agg.PrivateCount,
		agg.StandardFeeUSD.String(), agg.FastFeeUSD.String(), agg.PrivateFeeUSD.String())
	return err
}

func (f *FeeDB) bumpReferral(ctx context.Context, tx *sql.Tx, rec *FeeRecord) error {
	var (
		commissionPct, volume, commission string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT commissionPercent, volumeUsd, commissionUsd FROM referral_code WHERE code = ?`,
		rec.ReferralCode).Scan(&commissionPct, &volume, &commission)
	if err == sql.ErrNoRows {
		return ErrorCodeNotFound
	}
	if err != nil {
		return err
	}

	newVolume := decimal.RequireFromString(volume).Add(rec.AmountUSD)
	newCommission := decimal.RequireFromString(commission).
		Add(pctOf(rec.TotalFeeUSD, decimal.RequireFromString(commissionPct)))

	_, err = tx.ExecContext(ctx,
		`UPDATE referral_code SET uses = uses + 1, volumeUsd = ?, commissionUsd = ? WHERE code = ?`,
		newVolume.String(), newCommission.String(), rec.ReferralCode)
	return err
}

func (f *FeeDB) CreateReferralCode(ctx context.Context, code string, discountPercent, commissionPercent decimal.Decimal) error {
	for _, p := range []decimal.Decimal{discountPercent, commissionPercent} {
		if p.Sign() < 0 || p.GreaterThan(hundred) {
			return ErrorPercentOutOfRange
		}
	}
	stmt, err := f.stmtCache.Prepare(
		`INSERT OR IGNORE INTO referral_code (code, discountPercent, commissionPercent) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, code, discountPercent.String(), commissionPercent.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorCodeExists
	}
	return nil
}

func (f *FeeDB) SetReferralActive(ctx context.Context, code string, active bool) error {
	stmt, err := f.stmtCache.Prepare(`UPDATE referral_code SET active = ? WHERE code = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, active, code)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorCodeNotFound
	}
	return nil
}

func (f *FeeDB) GetReferralCode(ctx context.Context, code string) (*ReferralCode, bool, error) {
	stmt, err := f.stmtCache.Prepare(
		`SELECT code, discountPercent, commissionPercent, uses, volumeUsd, commissionUsd, active
		 FROM referral_code WHERE code = ?`)
	if err != nil {
		return nil, false, err
	}

	var (
		rc                      ReferralCode
		discount, commissionPct string
		volume, commission      string
	)
	if err := stmt.QueryRowContext(ctx, code).Scan(
		&rc.Code, &discount, &commissionPct, &rc.Uses, &volume, &commission, &rc.Active,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	rc.DiscountPercent = decimal.RequireFromString(discount)
	rc.CommissionPercent = decimal.RequireFromString(commissionPct)
	rc.VolumeUSD = decimal.RequireFromString(volume)
	rc.CommissionUSD = decimal.RequireFromString(commission)
	return &rc, true, nil
}

const aggregateColumns = `day, recordCount, totalFeeUsd, totalAmountUsd, avgFeeUsd,
	standardCount, fastCount, privateCount, standardFeeUsd, fastFeeUsd, privateFeeUsd`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAggregate(row scanner) (*DailyAggregate, error) {
	var (
		agg                        DailyAggregate
		totalFee, totalAmount, avg string
		stdFee, fastFee, privFee   string
	)
	if err := row.Scan(
		&agg.Day, &agg.Count, &totalFee, &totalAmount, &avg,
		&agg.StandardCount, &agg.FastCount, &agg.PrivateCount,
		&stdFee, &fastFee, &privFee,
	); err != nil {
		return nil, err
	}
	agg.TotalFeeUSD = decimal.RequireFromString(totalFee)
	agg.TotalAmountUSD = decimal.RequireFromString(totalAmount)
	agg.AvgFeeUSD = decimal.RequireFromString(avg)
	agg.StandardFeeUSD = decimal.RequireFromString(stdFee)
	agg.FastFeeUSD = decimal.RequireFromString(fastFee)
	agg.PrivateFeeUSD = decimal.RequireFromString(privFee)
	return &agg, nil
}

// GetDailyAggregate returns the aggregate for a "2006-01-02" UTC day.
func (f *FeeDB) GetDailyAggregate(ctx context.Context, day string) (*DailyAggregate, bool, error) {
	stmt, err := f.stmtCache.Prepare(
		`SELECT ` + aggregateColumns + ` FROM fee_daily_aggregate WHERE day = ?`)
	if err != nil {
		return nil, false, err
	}
	agg, err := scanAggregate(stmt.QueryRowContext(ctx, day))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return agg, true, nil
}
