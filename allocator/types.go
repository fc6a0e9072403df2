package allocator

import (
	"errors"
	"time"
)

type Status string

const (
	StatusAllocated Status = "allocated"
	StatusFunded    Status = "funded"
	StatusClaimed   Status = "claimed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrorNotFound               = errors.New("allocation not found")
	ErrorInvalidStateTransition = errors.New("invalid allocation state transition")
	ErrorAlreadyExpired         = errors.New("allocation already expired")
	ErrorOwnerAddressEmpty      = errors.New("owner address is empty")
	ErrorDeriveExhausted        = errors.New("address derivation retries exhausted")
)

// Allocation is one issued deposit address. Rows are append-only history:
// indices and receive addresses are never reused, even after expiry.
type Allocation struct {
	ID               string // opaque unique token (uuid)
	OwnerAddress     string // destination-chain address the wrapped asset goes to
	ReceiveAddress   string // source-chain deposit address, unique
	DerivationIndex  uint64
	DerivationPath   string
	Status           Status
	SessionID        string
	ClientLabel      string
	Metadata         string // free-form, stored verbatim
	ExpiresAt        time.Time
	FundedAmountSats int64
	FundingRef       string
	ClaimRef         string
	CreatedAt        time.Time
}

// AllocateCommand is the validated input of Allocate.
type AllocateCommand struct {
	OwnerAddress string
	SessionID    string
	ClientLabel  string
	ForceNew     bool
	Metadata     string
}

type Config struct {
	// TTL is how long an unfunded allocation stays claimable.
	TTL time.Duration
	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration
	// DeriveRetries bounds how many consecutive indices Allocate burns
	// on derivation failures or address collisions before giving up.
	DeriveRetries int
}

func (c *Config) deriveRetries() int {
	if c.DeriveRetries <= 0 {
		return 5
	}
	return c.DeriveRetries
}
