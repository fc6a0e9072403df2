package fees

// Decimals are stored as TEXT so postings stay exact; shopspring/decimal
// parses them back without float round-trips.
var (
	feeRecordTable = `CREATE TABLE IF NOT EXISTS fee_record (
		id TEXT PRIMARY KEY NOT NULL,
		transferSignature TEXT NOT NULL UNIQUE,
		tier VARCHAR(10) NOT NULL,
		amountUsd TEXT NOT NULL,
		baseFeeUsd TEXT NOT NULL,
		fastFeeUsd TEXT NOT NULL,
		privacyFeeUsd TEXT NOT NULL,
		referralDiscountUsd TEXT NOT NULL,
		totalFeeUsd TEXT NOT NULL,
		effectivePercent TEXT NOT NULL,
		referralCode TEXT NOT NULL DEFAULT '',
		createdAt INTEGER NOT NULL,
		CONSTRAINT chk_tier CHECK (tier IN ('standard', 'fast', 'private'))
	);`

	dailyAggregateTable = `CREATE TABLE IF NOT EXISTS fee_daily_aggregate (
		day CHAR(10) PRIMARY KEY NOT NULL,
		recordCount BIGINT NOT NULL,
		totalFeeUsd TEXT NOT NULL,
		totalAmountUsd TEXT NOT NULL,
		avgFeeUsd TEXT NOT NULL,
		standardCount BIGINT NOT NULL DEFAULT 0,
		fastCount BIGINT NOT NULL DEFAULT 0,
		privateCount BIGINT NOT NULL DEFAULT 0,
		standardFeeUsd TEXT NOT NULL DEFAULT '0',
		fastFeeUsd TEXT NOT NULL DEFAULT '0',
		privateFeeUsd TEXT NOT NULL DEFAULT '0'
	);`

	referralCodeTable = `CREATE TABLE IF NOT EXISTS referral_code (
		code TEXT PRIMARY KEY NOT NULL,
		discountPercent TEXT NOT NULL,
		commissionPercent TEXT NOT NULL,
		uses BIGINT NOT NULL DEFAULT 0,
		volumeUsd TEXT NOT NULL DEFAULT '0',
		commissionUsd TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT 1,
		CONSTRAINT chk_code CHECK (code != '')
	);`
)
