package allocator

import (
	"context"
	"database/sql"
	"time"
)

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAllocation(row scanner) (*Allocation, error) {
	var (
		a                  Allocation
		status             string
		expiresAt, created int64
		fundedAmount       sql.NullInt64
		fundingRef         sql.NullString
		claimRef           sql.NullString
	)
	if err := row.Scan(
		&a.ID, &a.OwnerAddress, &a.ReceiveAddress, &a.DerivationIndex, &a.DerivationPath,
		&status, &a.SessionID, &a.ClientLabel, &a.Metadata, &expiresAt,
		&fundedAmount, &fundingRef, &claimRef, &created,
	); err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.ExpiresAt = time.UnixMilli(expiresAt)
	a.CreatedAt = time.UnixMilli(created)
	if fundedAmount.Valid {
		a.FundedAmountSats = fundedAmount.Int64
	}
	if fundingRef.Valid {
		a.FundingRef = fundingRef.String
	}
	if claimRef.Valid {
		a.ClaimRef = claimRef.String
	}
	return &a, nil
}

// getForUpdate reads an allocation inside a held transaction.
func getForUpdate(ctx context.Context, tx *sql.Tx, receiveAddress string) (*Allocation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT`+allocationColumns+`FROM deposit_allocation WHERE receiveAddress = ?`,
		receiveAddress)
	alloc, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrorNotFound
	}
	return alloc, err
}

func (a *Allocator) Get(ctx context.Context, receiveAddress string) (*Allocation, bool, error) {
	stmt, err := a.stmtCache.Prepare(
		`SELECT` + allocationColumns + `FROM deposit_allocation WHERE receiveAddress = ?`)
	if err != nil {
		return nil, false, err
	}
	alloc, err := scanAllocation(stmt.QueryRowContext(ctx, receiveAddress))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return alloc, true, nil
}

func (a *Allocator) GetByID(ctx context.Context, allocationID string) (*Allocation, bool, error) {
	stmt, err := a.stmtCache.Prepare(
		`SELECT` + allocationColumns + `FROM deposit_allocation WHERE id = ?`)
	if err != nil {
		return nil, false, err
	}
	alloc, err := scanAllocation(stmt.QueryRowContext(ctx, allocationID))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return alloc, true, nil
}

func (a *Allocator) GetByOwner(ctx context.Context, ownerAddress string) ([]*Allocation, error) {
	stmt, err := a.stmtCache.Prepare(
		`SELECT` + allocationColumns + `FROM deposit_allocation
		 WHERE ownerAddress = ? ORDER BY derivationIndex`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, ownerAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []*Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, alloc)
	}
	return allocs, rows.Err()
}
