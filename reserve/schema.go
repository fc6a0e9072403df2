package reserve

var (
	poolTable = `CREATE TABLE IF NOT EXISTS reserve_pool (
		poolId TEXT PRIMARY KEY NOT NULL,
		bootstrapSats BIGINT NOT NULL,
		depositedSats BIGINT NOT NULL DEFAULT 0,
		maxPayoutSats BIGINT NOT NULL DEFAULT 0,
		halted BOOLEAN NOT NULL DEFAULT 0,
		CONSTRAINT chk_bootstrap CHECK (bootstrapSats >= 0),
		CONSTRAINT chk_deposited CHECK (depositedSats >= 0)
	);`

	commitmentTable = `CREATE TABLE IF NOT EXISTS reserve_commitment (
		commitmentRef TEXT PRIMARY KEY NOT NULL,
		poolId TEXT NOT NULL REFERENCES reserve_pool (poolId),
		amountSats BIGINT NOT NULL,
		recipient TEXT NOT NULL,
		status VARCHAR(10) NOT NULL,
		createdAt INTEGER NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('pending', 'confirmed', 'failed')),
		CONSTRAINT chk_amount CHECK (amountSats > 0)
	);
	CREATE INDEX IF NOT EXISTS idx_reserve_commitment_pool ON reserve_commitment (poolId, status);
	`
)
