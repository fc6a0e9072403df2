package classification

import (
	"errors"
	"time"
)

// TransferType is the recorded purpose of an outbound transfer. Anything
// absent from the table, or recorded as non-redemption, must never be
// paid out as a user redemption.
type TransferType string

const (
	TypeRedemption TransferType = "redemption"
	TypeRefund     TransferType = "refund"
	TypeFunding    TransferType = "funding"
	TypeAdmin      TransferType = "admin"
	TypeTest       TransferType = "test"
)

func (t TransferType) Valid() bool {
	switch t {
	case TypeRedemption, TypeRefund, TypeFunding, TypeAdmin, TypeTest:
		return true
	}
	return false
}

var (
	ErrorNotFound          = errors.New("transfer classification not found")
	ErrorAlreadyClassified = errors.New("transfer already classified")
	ErrorBadType           = errors.New("unknown transfer type")
	ErrorSignatureEmpty    = errors.New("transfer signature is empty")
)

// Classification is immutable once written: one row per signature, ever.
type Classification struct {
	TransferSignature string
	Type              TransferType
	OwnerAddress      string
	AmountSats        int64
	Metadata          string
	CreatedBy         string
	CreatedAt         time.Time
}
