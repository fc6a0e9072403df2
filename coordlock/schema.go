package coordlock

var lockTable = `CREATE TABLE IF NOT EXISTS coordination_lock (
	txId TEXT PRIMARY KEY NOT NULL,
	txType VARCHAR(20) NOT NULL,
	worker VARCHAR(64) NOT NULL,
	status VARCHAR(10) NOT NULL,
	startedAt INTEGER NOT NULL,
	completedAt INTEGER,
	CONSTRAINT chk_status CHECK (status IN ('processing', 'completed', 'failed')),
	CONSTRAINT chk_txId CHECK (txId != '')
);
CREATE INDEX IF NOT EXISTS idx_coordination_lock_status ON coordination_lock (status);
`
