// Redemption engine: burn event in, at-most-one native payout out.
//
// Side effects are strictly ordered: classification gate (no lock, no
// funds), coordination lock, destination decrypt, reserve, broadcast.
// A payout is never submitted without a prior reservation, and a failed
// broadcast releases its reservation before the lock goes terminal.
package redemption

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/flashbridge-io/bridge-go/agreement"
	"github.com/flashbridge-io/bridge-go/classification"
	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/coordlock"
	"github.com/flashbridge-io/bridge-go/reserve"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

const lockTxType = "redemption"

type Config struct {
	PoolID     string
	WorkerName string
	// BtcParams validates decrypted destination addresses.
	BtcParams *chaincfg.Params
}

type Engine struct {
	cfg         *Config
	classdb     *classification.ClassDB
	lockdb      *coordlock.LockDB
	ledger      *reserve.Ledger
	decryptor   agreement.EncryptionService
	broadcaster agreement.PayoutBroadcaster
}

func NewEngine(
	cfg *Config,
	classdb *classification.ClassDB,
	lockdb *coordlock.LockDB,
	ledger *reserve.Ledger,
	decryptor agreement.EncryptionService,
	broadcaster agreement.PayoutBroadcaster,
) *Engine {
	return &Engine{
		cfg:         cfg,
		classdb:     classdb,
		lockdb:      lockdb,
		ledger:      ledger,
		decryptor:   decryptor,
		broadcaster: broadcaster,
	}
}

// ProcessRedemption drives one redemption attempt to a typed outcome.
// Safe to call concurrently from any number of instances with the same
// transfer signature: exactly one call pays out.
func (e *Engine) ProcessRedemption(ctx context.Context, req *Request) (*Outcome, error) {
	if req.TransferSignature == "" {
		return nil, ErrorSignatureEmpty
	}
	if req.AmountSats <= 0 {
		return nil, ErrorAmountInvalid
	}

	log := logger.WithFields(logger.Fields{
		"signature": common.Shorten(req.TransferSignature, 8),
		"owner":     req.OwnerAddress,
		"amount":    req.AmountSats,
	})

	// 1. Classification gate. No lock is taken, no funds touched.
	cl, ok, err := e.classdb.Get(ctx, req.TransferSignature)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("redemption refused: transfer not classified")
		return &Outcome{Kind: Rejected, Reason: ReasonUnclassified}, nil
	}
	if cl.Type != classification.TypeRedemption {
		log.WithField("type", cl.Type).Warn("redemption refused: transfer classified as non-redemption")
		return &Outcome{Kind: Rejected, Reason: ReasonWrongType}, nil
	}

	// 2. Cross-instance exactly-once gate.
	res, err := e.lockdb.Acquire(ctx, req.TransferSignature, lockTxType, e.cfg.WorkerName)
	if err != nil {
		return nil, err
	}
	if res == coordlock.AlreadyProcessing || res == coordlock.AlreadyCompleted {
		log.Debug("redemption already handled elsewhere")
		return &Outcome{Kind: AlreadyProcessed}, nil
	}

	// 3. Decrypt the destination. The MPC service is opaque: ciphertext
	// in, address or failure out. Runs outside any DB transaction.
	plaintext, err := e.decryptor.Decrypt(ctx, req.EncryptedDestination)
	if err != nil {
		log.Warnf("destination decrypt failed: %v", err)
		return e.reject(ctx, req.TransferSignature, ReasonDecryptFailed)
	}
	destination := string(plaintext)
	if addr, err := btcutil.DecodeAddress(destination, e.cfg.BtcParams); err != nil || !addr.IsForNet(e.cfg.BtcParams) {
		log.Warn("decrypted destination is not a valid address")
		return e.reject(ctx, req.TransferSignature, ReasonInvalidDestination)
	}

	// 4. Reserve backing funds. One commitment ref per attempt; the
	// failed commitments of earlier attempts stay behind as history.
	commitmentRef := uuid.NewString()
	reserveRes, err := e.ledger.CheckAndReserve(ctx, e.cfg.PoolID, req.AmountSats, commitmentRef, destination)
	switch {
	case err == reserve.ErrorPoolHalted:
		return e.reject(ctx, req.TransferSignature, ReasonPoolHalted)
	case err == reserve.ErrorOverMaxPayout:
		return e.reject(ctx, req.TransferSignature, ReasonOverMaxPayout)
	case err != nil:
		return nil, err
	case reserveRes == reserve.InsufficientReserve:
		log.Warn("redemption refused: insufficient reserve")
		return e.reject(ctx, req.TransferSignature, ReasonInsufficientReserve)
	}

	// 5. Broadcast. On failure, release the reservation before failing
	// the lock so a retry sees the capacity back.
	payoutRef, err := e.broadcaster.SubmitPayout(ctx, destination, req.AmountSats)
	if err != nil {
		log.Warnf("payout broadcast failed: %v", err)
		if rerr := e.ledger.Release(ctx, commitmentRef); rerr != nil {
			return nil, rerr
		}
		return e.reject(ctx, req.TransferSignature, ReasonPayoutFailed)
	}

	// 6. Settle.
	if err := e.ledger.Confirm(ctx, commitmentRef); err != nil {
		return nil, err
	}
	if err := e.lockdb.Complete(ctx, req.TransferSignature, coordlock.StatusCompleted); err != nil {
		return nil, err
	}

	log.WithField("payoutRef", common.Shorten(payoutRef, 8)).Info("redemption paid out")
	return &Outcome{Kind: Paid, PayoutRef: payoutRef}, nil
}

// reject fails the coordination lock (so a later retry can reclaim it)
// and returns the typed refusal.
func (e *Engine) reject(ctx context.Context, txID string, reason RejectReason) (*Outcome, error) {
	if err := e.lockdb.Complete(ctx, txID, coordlock.StatusFailed); err != nil {
		return nil, err
	}
	return &Outcome{Kind: Rejected, Reason: reason}, nil
}
