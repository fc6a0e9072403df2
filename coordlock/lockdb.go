// Cross-instance mutual exclusion keyed by transaction identity.
//
// The table, not any in-process mutex, is the source of truth: every
// component that must act exactly once per tx id funnels through Acquire.
// Acquire runs insert-or-inspect inside one immediate transaction, so two
// workers racing on the same tx id serialize at the store.
package coordlock

import (
	"context"
	"database/sql"
	"time"

	"github.com/flashbridge-io/bridge-go/database"
	logger "github.com/sirupsen/logrus"
)

type LockDB struct {
	db         *sql.DB
	stmtCache  *database.StmtCache
	staleAfter time.Duration
}

func NewLockDB(db *sql.DB, cfg *Config) (*LockDB, error) {
	if _, err := db.Exec(lockTable); err != nil {
		return nil, err
	}
	return &LockDB{
		db:         db,
		stmtCache:  database.NewStmtCache(db),
		staleAfter: cfg.StaleAfter,
	}, nil
}

func (l *LockDB) Close() {
	l.stmtCache.Clear()
}

// Acquire claims the tx id for workerName. The whole claim is one
// transaction: insert if absent, otherwise inspect the existing row and
// reclaim it only if it is failed or stale-processing.
func (l *LockDB) Acquire(ctx context.Context, txID, txType, workerName string) (AcquireResult, error) {
	now := time.Now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO coordination_lock (txId, txType, worker, status, startedAt)
		 VALUES (?, ?, ?, ?, ?)`,
		txID, txType, workerName, StatusProcessing, now.UnixMilli())
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 1 {
		return Acquired, tx.Commit()
	}

	var (
		status    string
		startedAt int64
		owner     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, startedAt, worker FROM coordination_lock WHERE txId = ?`, txID).
		Scan(&status, &startedAt, &owner)
	if err != nil {
		return "", err
	}

	switch Status(status) {
	case StatusCompleted:
		return AlreadyCompleted, tx.Commit()

	case StatusFailed:
		// A failed attempt is retryable; take the row over.
		if _, err := tx.ExecContext(ctx,
			`UPDATE coordination_lock
			 SET worker = ?, status = ?, startedAt = ?, completedAt = NULL
			 WHERE txId = ? AND status = ?`,
			workerName, StatusProcessing, now.UnixMilli(), txID, StatusFailed); err != nil {
			return "", err
		}
		return Reclaimed, tx.Commit()

	case StatusProcessing:
		if now.Sub(time.UnixMilli(startedAt)) < l.staleAfter {
			return AlreadyProcessing, tx.Commit()
		}
		// Presumed crashed worker. The startedAt guard keeps two
		// reclaimers from both winning.
		res, err := tx.ExecContext(ctx,
			`UPDATE coordination_lock SET worker = ?, startedAt = ?
			 WHERE txId = ? AND status = ? AND startedAt = ?`,
			workerName, now.UnixMilli(), txID, StatusProcessing, startedAt)
		if err != nil {
			return "", err
		}
		if n, err := res.RowsAffected(); err != nil {
			return "", err
		} else if n == 0 {
			return AlreadyProcessing, tx.Commit()
		}
		logger.WithFields(logger.Fields{
			"txId":      txID,
			"oldWorker": owner,
			"newWorker": workerName,
		}).Warn("reclaimed stale coordination lock")
		return Reclaimed, tx.Commit()
	}

	return "", ErrorNotFound
}

// Complete moves a processing row to its terminal status.
func (l *LockDB) Complete(ctx context.Context, txID string, outcome Status) error {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return ErrorBadOutcome
	}

	stmt, err := l.stmtCache.Prepare(
		`UPDATE coordination_lock SET status = ?, completedAt = ?
		 WHERE txId = ? AND status = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.ExecContext(ctx, outcome, time.Now().UnixMilli(), txID, StatusProcessing)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ok, err := l.Get(ctx, txID); err != nil {
			return err
		} else if !ok {
			return ErrorNotFound
		}
		return ErrorNotProcessing
	}
	return nil
}

func (l *LockDB) Get(ctx context.Context, txID string) (*Record, bool, error) {
	stmt, err := l.stmtCache.Prepare(
		`SELECT txId, txType, worker, status, startedAt, completedAt
		 FROM coordination_lock WHERE txId = ?`)
	if err != nil {
		return nil, false, err
	}

	var (
		r           Record
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	if err := stmt.QueryRowContext(ctx, txID).Scan(
		&r.TxID, &r.TxType, &r.Worker, &status, &startedAt, &completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	r.Status = Status(status)
	r.StartedAt = time.UnixMilli(startedAt)
	if completedAt.Valid {
		r.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	return &r, true, nil
}
