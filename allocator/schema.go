package allocator

var (
	allocationTable = `CREATE TABLE IF NOT EXISTS deposit_allocation (
		id TEXT PRIMARY KEY NOT NULL,
		ownerAddress TEXT NOT NULL,
		receiveAddress TEXT UNIQUE NOT NULL,
		derivationIndex INTEGER UNIQUE NOT NULL,
		derivationPath TEXT NOT NULL,
		status VARCHAR(10) NOT NULL,
		sessionId TEXT NOT NULL DEFAULT '',
		clientLabel TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		expiresAt INTEGER NOT NULL,
		fundedAmountSats BIGINT,
		fundingRef TEXT,
		claimRef TEXT,
		createdAt INTEGER NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('allocated', 'funded', 'claimed', 'expired', 'cancelled')),
		CONSTRAINT chk_owner CHECK (ownerAddress != '')
	);
	CREATE INDEX IF NOT EXISTS idx_deposit_allocation_owner_session
		ON deposit_allocation (ownerAddress, sessionId, status);
	CREATE INDEX IF NOT EXISTS idx_deposit_allocation_status_expiry
		ON deposit_allocation (status, expiresAt);
	`

	// Single-row monotonic counter shared by every instance. Incremented
	// inside the same transaction that inserts the allocation.
	counterTable = `CREATE TABLE IF NOT EXISTS derivation_counter (
		name TEXT PRIMARY KEY NOT NULL,
		next INTEGER NOT NULL
	);`

	allocationColumns = ` id, ownerAddress, receiveAddress, derivationIndex, derivationPath,
		status, sessionId, clientLabel, metadata, expiresAt,
		fundedAmountSats, fundingRef, claimRef, createdAt `
)
