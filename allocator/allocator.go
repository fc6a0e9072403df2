// Deposit address allocator.
//
// Issues deterministic, never-reused receive addresses. The monotonic
// derivation counter lives in the shared store and is reserved inside the
// same immediate transaction that inserts the allocation row, so indices
// stay unique and strictly increasing across any number of instances.
package allocator

import (
	"context"
	"database/sql"
	"time"

	"github.com/flashbridge-io/bridge-go/agreement"
	"github.com/flashbridge-io/bridge-go/database"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

const counterName = "deposit_index"

type Allocator struct {
	db        *sql.DB
	stmtCache *database.StmtCache
	deriver   agreement.AddressDeriver
	cfg       *Config
}

func NewAllocator(db *sql.DB, deriver agreement.AddressDeriver, cfg *Config) (*Allocator, error) {
	if _, err := db.Exec(allocationTable + counterTable); err != nil {
		return nil, err
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO derivation_counter (name, next) VALUES (?, 0)`, counterName); err != nil {
		return nil, err
	}
	return &Allocator{
		db:        db,
		stmtCache: database.NewStmtCache(db),
		deriver:   deriver,
		cfg:       cfg,
	}, nil
}

func (a *Allocator) Close() {
	a.stmtCache.Clear()
}

// Allocate returns the session's existing live allocation, or issues a
// new address. Idempotent for (ownerAddress, sessionId) unless ForceNew.
func (a *Allocator) Allocate(ctx context.Context, cmd AllocateCommand) (*Allocation, error) {
	if cmd.OwnerAddress == "" {
		return nil, ErrorOwnerAddressEmpty
	}

	now := time.Now()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if !cmd.ForceNew {
		existing, ok, err := a.liveAllocation(ctx, tx, cmd.OwnerAddress, cmd.SessionID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return existing, tx.Commit()
		}
	}

	alloc, err := a.issue(ctx, tx, cmd, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"owner":          alloc.OwnerAddress,
		"receiveAddress": alloc.ReceiveAddress,
		"index":          alloc.DerivationIndex,
	}).Info("allocated deposit address")
	return alloc, nil
}

// liveAllocation finds a reusable row for the session: funded rows are
// always live (the deposit arrived), allocated rows only until expiry.
func (a *Allocator) liveAllocation(ctx context.Context, tx *sql.Tx, owner, session string, now time.Time) (*Allocation, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT`+allocationColumns+`FROM deposit_allocation
		 WHERE ownerAddress = ? AND sessionId = ?
		   AND (status = ? OR (status = ? AND expiresAt > ?))
		 ORDER BY createdAt DESC LIMIT 1`,
		owner, session, StatusFunded, StatusAllocated, now.UnixMilli())
	alloc, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return alloc, true, nil
}

// issue reserves the next index, derives its address and inserts the row.
// Derivation is a pure local function, so calling it while the write lock
// is held is fine. Collisions burn the index and retry with the next one.
func (a *Allocator) issue(ctx context.Context, tx *sql.Tx, cmd AllocateCommand, now time.Time) (*Allocation, error) {
	for attempt := 0; attempt < a.cfg.deriveRetries(); attempt++ {
		var index uint64
		if err := tx.QueryRowContext(ctx,
			`SELECT next FROM derivation_counter WHERE name = ?`, counterName).Scan(&index); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE derivation_counter SET next = next + 1 WHERE name = ?`, counterName); err != nil {
			return nil, err
		}

		address, path, err := a.deriver.Derive(index)
		if err != nil {
			logger.WithField("index", index).Warnf("derive failed, burning index: %v", err)
			continue
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM deposit_allocation WHERE receiveAddress = ?`, address).Scan(&exists)
		if err == nil {
			logger.WithField("index", index).Warn("derived address collision, burning index")
			continue
		}
		if err != sql.ErrNoRows {
			return nil, err
		}

		alloc := &Allocation{
			ID:              uuid.NewString(),
			OwnerAddress:    cmd.OwnerAddress,
			ReceiveAddress:  address,
			DerivationIndex: index,
			DerivationPath:  path,
			Status:          StatusAllocated,
			SessionID:       cmd.SessionID,
			ClientLabel:     cmd.ClientLabel,
			Metadata:        cmd.Metadata,
			ExpiresAt:       now.Add(a.cfg.TTL),
			CreatedAt:       now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deposit_allocation (`+allocationColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?)`,
			alloc.ID, alloc.OwnerAddress, alloc.ReceiveAddress, alloc.DerivationIndex,
			alloc.DerivationPath, alloc.Status, alloc.SessionID, alloc.ClientLabel,
			alloc.Metadata, alloc.ExpiresAt.UnixMilli(), alloc.CreatedAt.UnixMilli(),
		); err != nil {
			return nil, err
		}
		return alloc, nil
	}
	return nil, ErrorDeriveExhausted
}

// MarkFunded transitions allocated -> funded when the deposit monitor
// sees the funding tx. Repeats with the same fundingRef are no-ops and
// return flipped=false, so callers can credit downstream ledgers exactly
// once.
func (a *Allocator) MarkFunded(ctx context.Context, receiveAddress, fundingRef string, amountSats int64) (bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	flipped, err := a.MarkFundedTx(ctx, tx, receiveAddress, fundingRef, amountSats)
	if err != nil {
		return false, err
	}
	return flipped, tx.Commit()
}

// MarkFundedTx is MarkFunded inside a caller-owned transaction, so the
// flip can commit or roll back together with other writes (see funding
// intake). The caller commits.
func (a *Allocator) MarkFundedTx(ctx context.Context, tx *sql.Tx, receiveAddress, fundingRef string, amountSats int64) (bool, error) {
	alloc, err := getForUpdate(ctx, tx, receiveAddress)
	if err != nil {
		return false, err
	}

	switch alloc.Status {
	case StatusFunded:
		if alloc.FundingRef == fundingRef {
			return false, nil
		}
		return false, ErrorInvalidStateTransition
	case StatusExpired:
		return false, ErrorAlreadyExpired
	case StatusClaimed, StatusCancelled:
		return false, ErrorInvalidStateTransition
	}

	if time.Now().After(alloc.ExpiresAt) {
		return false, ErrorAlreadyExpired
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deposit_allocation SET status = ?, fundingRef = ?, fundedAmountSats = ?
		 WHERE id = ? AND status = ?`,
		StatusFunded, fundingRef, amountSats, alloc.ID, StatusAllocated); err != nil {
		return false, err
	}
	return true, nil
}

// MarkClaimed transitions funded -> claimed once the wrapped asset has
// been minted to the owner. Repeats with the same claimRef are no-ops.
func (a *Allocator) MarkClaimed(ctx context.Context, receiveAddress, claimRef string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	alloc, err := getForUpdate(ctx, tx, receiveAddress)
	if err != nil {
		return err
	}

	switch alloc.Status {
	case StatusClaimed:
		if alloc.ClaimRef == claimRef {
			return tx.Commit()
		}
		return ErrorInvalidStateTransition
	case StatusFunded:
	default:
		// Claiming an unfunded allocation is always a caller bug.
		return ErrorInvalidStateTransition
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deposit_allocation SET status = ?, claimRef = ? WHERE id = ? AND status = ?`,
		StatusClaimed, claimRef, alloc.ID, StatusFunded); err != nil {
		return err
	}
	return tx.Commit()
}

// Cancel is an operator action: allocated/funded -> cancelled.
func (a *Allocator) Cancel(ctx context.Context, allocationID string) error {
	stmt, err := a.stmtCache.Prepare(
		`UPDATE deposit_allocation SET status = ? WHERE id = ? AND status IN (?, ?)`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, StatusCancelled, allocationID, StatusAllocated, StatusFunded)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ok, err := a.GetByID(ctx, allocationID); err != nil {
			return err
		} else if !ok {
			return ErrorNotFound
		}
		return ErrorInvalidStateTransition
	}
	return nil
}

// ExpireDue sweeps unfunded allocations past their expiry. Their indices
// stay burned forever.
func (a *Allocator) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	stmt, err := a.stmtCache.Prepare(
		`UPDATE deposit_allocation SET status = ? WHERE status = ? AND expiresAt <= ?`)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, StatusExpired, StatusAllocated, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Start runs the periodic expiry sweep until ctx is cancelled.
func (a *Allocator) Start(ctx context.Context) error {
	logger.Info("allocation expiry sweep started")
	defer logger.Info("allocation expiry sweep stopped")

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ExpireDue(ctx, time.Now())
			if err != nil {
				logger.Errorf("expiry sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logger.WithField("expired", n).Info("expired unfunded allocations")
			}
		}
	}
}
