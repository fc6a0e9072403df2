package redemption

import "errors"

type OutcomeKind string

const (
	Paid             OutcomeKind = "paid"
	AlreadyProcessed OutcomeKind = "already_processed"
	Rejected         OutcomeKind = "rejected"
)

type RejectReason string

const (
	ReasonUnclassified        RejectReason = "unclassified"
	ReasonWrongType           RejectReason = "wrong-type"
	ReasonDecryptFailed       RejectReason = "decrypt-failed"
	ReasonInvalidDestination  RejectReason = "invalid-destination"
	ReasonInsufficientReserve RejectReason = "insufficient-reserve"
	ReasonPoolHalted          RejectReason = "pool-halted"
	ReasonOverMaxPayout       RejectReason = "over-max-payout"
	ReasonPayoutFailed        RejectReason = "payout-failed"
)

// Outcome is the typed result of ProcessRedemption. Duplicates and
// refusals are values, not errors; only infrastructure failures surface
// as errors.
type Outcome struct {
	Kind      OutcomeKind
	PayoutRef string       // set iff Kind == Paid
	Reason    RejectReason // set iff Kind == Rejected
}

var (
	ErrorSignatureEmpty = errors.New("transfer signature is empty")
	ErrorAmountInvalid  = errors.New("amount must be positive")
)

// Request is the validated command for one redemption attempt. The
// transfer signature doubles as the cross-instance transaction identity.
type Request struct {
	OwnerAddress         string
	TransferSignature    string
	EncryptedDestination []byte
	AmountSats           int64
}
