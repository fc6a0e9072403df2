package reserve

import (
	"errors"
	"time"
)

type CommitmentStatus string

const (
	CommitmentPending   CommitmentStatus = "pending"
	CommitmentConfirmed CommitmentStatus = "confirmed"
	CommitmentFailed    CommitmentStatus = "failed"
)

// Result of a CheckAndReserve call. InsufficientReserve is a first-class
// outcome, not an error.
type Result string

const (
	Reserved            Result = "reserved"
	InsufficientReserve Result = "insufficient_reserve"
)

var (
	ErrorPoolNotFound       = errors.New("reserve pool not found")
	ErrorPoolExists         = errors.New("reserve pool already exists")
	ErrorPoolHalted         = errors.New("reserve pool is halted")
	ErrorCommitmentNotFound = errors.New("reserve commitment not found")
	ErrorCommitmentExists   = errors.New("reserve commitment already exists")
	ErrorNotPending         = errors.New("reserve commitment is not pending")
	ErrorAmountInvalid      = errors.New("amount must be positive")
	ErrorOverMaxPayout      = errors.New("amount exceeds max payout per tx")
	ErrorInvariantViolation = errors.New("reserve oversold: committed exceeds capacity")
)

// Pool is one bridge address' backing. Capacity = bootstrap + net
// confirmed inbound deposits, in satoshis.
type Pool struct {
	PoolID        string
	BootstrapSats int64
	DepositedSats int64
	MaxPayoutSats int64 // 0 = no per-tx cap
	Halted        bool
}

func (p *Pool) Capacity() int64 {
	return p.BootstrapSats + p.DepositedSats
}

// Commitment reserves part of a pool for one outbound payout.
type Commitment struct {
	CommitmentRef string
	PoolID        string
	AmountSats    int64
	Recipient     string
	Status        CommitmentStatus
	CreatedAt     time.Time
}
