// Funding intake: connects confirmed deposits to the rest of the core.
//
// One confirmed deposit has two effects that must both happen: the
// allocation flips to funded, and the reserve pool's deposited capacity
// grows by the same amount. Both writes run in one transaction against
// the shared store, so a failure on either side rolls back the other
// and a retry starts from a clean slate. MarkFundedTx is idempotent on
// the funding ref, so the pool credit only runs on the call that
// actually flipped the allocation.
package funding

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flashbridge-io/bridge-go/agreement"
	"github.com/flashbridge-io/bridge-go/allocator"
	"github.com/flashbridge-io/bridge-go/reserve"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrorNotConfirmed = errors.New("deposit is not confirmed")
	ErrorTooFewConfs  = errors.New("deposit has too few confirmations")
)

type Config struct {
	PoolID string
	// MinConfirmations below which a deposit is not credited yet.
	// Zero means any confirmed deposit counts.
	MinConfirmations int64
}

type Intake struct {
	cfg      *Config
	db       *sql.DB
	alloc    *allocator.Allocator
	ledger   *reserve.Ledger
	verifier agreement.DepositVerifier
}

func NewIntake(cfg *Config, db *sql.DB, alloc *allocator.Allocator, ledger *reserve.Ledger, verifier agreement.DepositVerifier) *Intake {
	return &Intake{
		cfg:      cfg,
		db:       db,
		alloc:    alloc,
		ledger:   ledger,
		verifier: verifier,
	}
}

// ProcessFunding settles one observed funding tx. Safe to call again with
// the same (receiveAddress, fundingRef) pair: the repeat is a no-op and
// the pool is not credited twice. On any error nothing is applied.
func (in *Intake) ProcessFunding(ctx context.Context, receiveAddress, fundingRef string) error {
	v, err := in.verifier.VerifyDeposit(ctx, fundingRef)
	if err != nil {
		return err
	}
	if !v.Confirmed {
		return ErrorNotConfirmed
	}
	if v.Confirmations < in.cfg.MinConfirmations {
		return ErrorTooFewConfs
	}

	tx, err := in.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	flipped, err := in.alloc.MarkFundedTx(ctx, tx, receiveAddress, fundingRef, v.AmountSats)
	if err != nil {
		return err
	}
	if flipped {
		if err := in.ledger.CreditDepositTx(ctx, tx, in.cfg.PoolID, v.AmountSats); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if !flipped {
		// Repeat of an already-settled funding; the pool was credited by
		// the call that flipped the allocation.
		return nil
	}

	logger.WithFields(logger.Fields{
		"receiveAddress": receiveAddress,
		"fundingRef":     fundingRef,
		"amount":         v.AmountSats,
	}).Info("deposit funded and credited")
	return nil
}
