// Write-once store of outbound transfer classifications. Written by the
// operator/admin collaborator, read by the redemption engine before it
// touches any funds.
package classification

import (
	"context"
	"database/sql"
	"time"

	"github.com/flashbridge-io/bridge-go/database"
	logger "github.com/sirupsen/logrus"
)

var classificationTable = `CREATE TABLE IF NOT EXISTS transfer_classification (
	transferSignature TEXT PRIMARY KEY NOT NULL,
	transferType VARCHAR(12) NOT NULL,
	ownerAddress TEXT NOT NULL DEFAULT '',
	amountSats BIGINT NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '',
	createdBy TEXT NOT NULL DEFAULT '',
	createdAt INTEGER NOT NULL,
	CONSTRAINT chk_type CHECK (transferType IN ('redemption', 'refund', 'funding', 'admin', 'test')),
	CONSTRAINT chk_signature CHECK (transferSignature != '')
);`

type ClassDB struct {
	stmtCache *database.StmtCache
}

func NewClassDB(db *sql.DB) (*ClassDB, error) {
	if _, err := db.Exec(classificationTable); err != nil {
		return nil, err
	}
	return &ClassDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (c *ClassDB) Close() {
	c.stmtCache.Clear()
}

// Classify records a transfer's purpose, once. Re-classifying an already
// recorded signature is refused, the original row wins.
func (c *ClassDB) Classify(ctx context.Context, cl *Classification) error {
	if cl.TransferSignature == "" {
		return ErrorSignatureEmpty
	}
	if !cl.Type.Valid() {
		return ErrorBadType
	}

	stmt, err := c.stmtCache.Prepare(
		`INSERT OR IGNORE INTO transfer_classification
		 (transferSignature, transferType, ownerAddress, amountSats, metadata, createdBy, createdAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		cl.TransferSignature, cl.Type, cl.OwnerAddress, cl.AmountSats,
		cl.Metadata, cl.CreatedBy, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrorAlreadyClassified
	}

	logger.WithFields(logger.Fields{
		"signature": cl.TransferSignature,
		"type":      cl.Type,
		"createdBy": cl.CreatedBy,
	}).Info("classified outbound transfer")
	return nil
}

func (c *ClassDB) Get(ctx context.Context, transferSignature string) (*Classification, bool, error) {
	stmt, err := c.stmtCache.Prepare(
		`SELECT transferSignature, transferType, ownerAddress, amountSats, metadata, createdBy, createdAt
		 FROM transfer_classification WHERE transferSignature = ?`)
	if err != nil {
		return nil, false, err
	}

	var (
		cl        Classification
		ttype     string
		createdAt int64
	)
	if err := stmt.QueryRowContext(ctx, transferSignature).Scan(
		&cl.TransferSignature, &ttype, &cl.OwnerAddress, &cl.AmountSats,
		&cl.Metadata, &cl.CreatedBy, &createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	cl.Type = TransferType(ttype)
	cl.CreatedAt = time.UnixMilli(createdAt)
	return &cl, true, nil
}
