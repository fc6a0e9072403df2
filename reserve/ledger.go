// Reserve ledger: tracks how much of each pool's native backing is
// committed to outbound payouts and refuses to over-commit.
//
// CheckAndReserve is check-then-insert inside one immediate transaction.
// Reading the committed sum and then inserting in a second transaction
// would let two callers both see room that only one of them has; the
// immediate BEGIN takes the write lock before the read, so that cannot
// happen (see database.OpenSQLite).
package reserve

import (
	"context"
	"database/sql"
	"time"

	"github.com/flashbridge-io/bridge-go/database"
	logger "github.com/sirupsen/logrus"
)

type Ledger struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

func NewLedger(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(poolTable + commitmentTable); err != nil {
		return nil, err
	}
	return &Ledger{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (l *Ledger) Close() {
	l.stmtCache.Clear()
}

func (l *Ledger) CreatePool(ctx context.Context, poolID string, bootstrapSats, maxPayoutSats int64) error {
	if bootstrapSats < 0 {
		return ErrorAmountInvalid
	}
	stmt, err := l.stmtCache.Prepare(
		`INSERT OR IGNORE INTO reserve_pool (poolId, bootstrapSats, maxPayoutSats) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, poolID, bootstrapSats, maxPayoutSats)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorPoolExists
	}
	return nil
}

func (l *Ledger) GetPool(ctx context.Context, poolID string) (*Pool, bool, error) {
	stmt, err := l.stmtCache.Prepare(
		`SELECT poolId, bootstrapSats, depositedSats, maxPayoutSats, halted
		 FROM reserve_pool WHERE poolId = ?`)
	if err != nil {
		return nil, false, err
	}
	var p Pool
	if err := stmt.QueryRowContext(ctx, poolID).Scan(
		&p.PoolID, &p.BootstrapSats, &p.DepositedSats, &p.MaxPayoutSats, &p.Halted,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &p, true, nil
}

// CreditDeposit grows a pool's capacity after the deposit verifier
// confirms inbound funds.
func (l *Ledger) CreditDeposit(ctx context.Context, poolID string, amountSats int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := l.CreditDepositTx(ctx, tx, poolID, amountSats); err != nil {
		return err
	}
	return tx.Commit()
}

// CreditDepositTx is CreditDeposit inside a caller-owned transaction, so
// the credit can commit or roll back together with other writes (see
// funding intake). The caller commits.
func (l *Ledger) CreditDepositTx(ctx context.Context, tx *sql.Tx, poolID string, amountSats int64) error {
	if amountSats <= 0 {
		return ErrorAmountInvalid
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE reserve_pool SET depositedSats = depositedSats + ? WHERE poolId = ?`,
		amountSats, poolID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorPoolNotFound
	}
	return nil
}

// CheckAndReserve inserts a pending commitment iff the pool still has
// room for amountSats. Runs as one atomic unit; on InsufficientReserve
// nothing is written.
func (l *Ledger) CheckAndReserve(ctx context.Context, poolID string, amountSats int64, commitmentRef, recipient string) (Result, error) {
	if amountSats <= 0 {
		return "", ErrorAmountInvalid
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var (
		bootstrap, deposited, maxPayout int64
		halted                          bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT bootstrapSats, depositedSats, maxPayoutSats, halted
		 FROM reserve_pool WHERE poolId = ?`, poolID).
		Scan(&bootstrap, &deposited, &maxPayout, &halted)
	if err == sql.ErrNoRows {
		return "", ErrorPoolNotFound
	}
	if err != nil {
		return "", err
	}
	if halted {
		return "", ErrorPoolHalted
	}
	if maxPayout > 0 && amountSats > maxPayout {
		return "", ErrorOverMaxPayout
	}

	var committed int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amountSats), 0) FROM reserve_commitment
		 WHERE poolId = ? AND status IN (?, ?)`,
		poolID, CommitmentPending, CommitmentConfirmed).
		Scan(&committed)
	if err != nil {
		return "", err
	}

	if committed+amountSats > bootstrap+deposited {
		// No side effect on refusal.
		return InsufficientReserve, tx.Rollback()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO reserve_commitment (commitmentRef, poolId, amountSats, recipient, status, createdAt)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		commitmentRef, poolID, amountSats, recipient, CommitmentPending, time.Now().UnixMilli())
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", ErrorCommitmentExists
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	logger.WithFields(logger.Fields{
		"poolId":        poolID,
		"commitmentRef": commitmentRef,
		"amountSats":    amountSats,
		"committedSats": committed + amountSats,
	}).Debug("reserved payout commitment")
	return Reserved, nil
}

// Confirm moves a commitment pending -> confirmed. Confirming an already
// confirmed commitment is a no-op.
func (l *Ledger) Confirm(ctx context.Context, commitmentRef string) error {
	return l.transition(ctx, commitmentRef, CommitmentConfirmed, []CommitmentStatus{CommitmentPending}, true)
}

// Release frees a commitment's amount back to the pool (payout failed or
// was abandoned). Releasing an already failed commitment is a no-op.
func (l *Ledger) Release(ctx context.Context, commitmentRef string) error {
	return l.transition(ctx, commitmentRef, CommitmentFailed,
		[]CommitmentStatus{CommitmentPending, CommitmentConfirmed}, true)
}

func (l *Ledger) transition(ctx context.Context, ref string, to CommitmentStatus, from []CommitmentStatus, idempotent bool) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM reserve_commitment WHERE commitmentRef = ?`, ref).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrorCommitmentNotFound
	}
	if err != nil {
		return err
	}

	if CommitmentStatus(current) == to {
		if idempotent {
			return tx.Commit()
		}
		return ErrorNotPending
	}

	allowed := false
	for _, s := range from {
		if CommitmentStatus(current) == s {
			allowed = true
		}
	}
	if !allowed {
		return ErrorNotPending
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reserve_commitment SET status = ? WHERE commitmentRef = ?`, to, ref); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) GetCommitment(ctx context.Context, commitmentRef string) (*Commitment, bool, error) {
	stmt, err := l.stmtCache.Prepare(
		`SELECT commitmentRef, poolId, amountSats, recipient, status, createdAt
		 FROM reserve_commitment WHERE commitmentRef = ?`)
	if err != nil {
		return nil, false, err
	}
	var (
		c         Commitment
		status    string
		createdAt int64
	)
	if err := stmt.QueryRowContext(ctx, commitmentRef).Scan(
		&c.CommitmentRef, &c.PoolID, &c.AmountSats, &c.Recipient, &status, &createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	c.Status = CommitmentStatus(status)
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, true, nil
}

// Committed returns the pool's pending+confirmed total.
func (l *Ledger) Committed(ctx context.Context, poolID string) (int64, error) {
	stmt, err := l.stmtCache.Prepare(
		`SELECT COALESCE(SUM(amountSats), 0) FROM reserve_commitment
		 WHERE poolId = ? AND status IN (?, ?)`)
	if err != nil {
		return 0, err
	}
	var committed int64
	err = stmt.QueryRowContext(ctx, poolID, CommitmentPending, CommitmentConfirmed).Scan(&committed)
	return committed, err
}

// SetHalted pauses or resumes reservations against a pool.
func (l *Ledger) SetHalted(ctx context.Context, poolID string, halted bool) error {
	stmt, err := l.stmtCache.Prepare(`UPDATE reserve_pool SET halted = ? WHERE poolId = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, halted, poolID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorPoolNotFound
	}
	return nil
}

// Audit re-proves the no-overcommit invariant. A violation is never
// expected; if found, the pool is halted and no correction is attempted.
func (l *Ledger) Audit(ctx context.Context, poolID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var bootstrap, deposited int64
	err = tx.QueryRowContext(ctx,
		`SELECT bootstrapSats, depositedSats FROM reserve_pool WHERE poolId = ?`, poolID).
		Scan(&bootstrap, &deposited)
	if err == sql.ErrNoRows {
		return ErrorPoolNotFound
	}
	if err != nil {
		return err
	}

	var committed int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amountSats), 0) FROM reserve_commitment
		 WHERE poolId = ? AND status IN (?, ?)`,
		poolID, CommitmentPending, CommitmentConfirmed).
		Scan(&committed)
	if err != nil {
		return err
	}

	if committed > bootstrap+deposited {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reserve_pool SET halted = 1 WHERE poolId = ?`, poolID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{
			"poolId":        poolID,
			"committedSats": committed,
			"capacitySats":  bootstrap + deposited,
		}).Error("reserve audit failed, pool halted")
		return ErrorInvariantViolation
	}
	return tx.Commit()
}
