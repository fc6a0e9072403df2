package agreement

import "context"

// External collaborators of the coordination core. All of them are
// I/O-bound services owned by other processes; the core only sees these
// narrow interfaces and never assumes anything about their internals.

// PayoutBroadcaster hands a native-chain payout to the wallet/broadcast
// service. Returns an opaque payout reference (usually the chain tx id).
// May fail or time out; the caller retries through the coordination lock.
type PayoutBroadcaster interface {
	SubmitPayout(ctx context.Context, address string, amountSats int64) (payoutRef string, err error)
}

// DepositVerification is the verifier's answer for an inbound funding tx.
type DepositVerification struct {
	Confirmed     bool
	AmountSats    int64
	Confirmations int64
}

// DepositVerifier reports per-chain confirmation status of an inbound
// deposit. Finality itself is the verifier's problem, not ours.
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, fundingRef string) (DepositVerification, error)
}

// AddressDeriver derives a receive address from a derivation index.
// Must be a pure function of the bridge derivation key and the index:
// same index in, same address out, on every instance.
type AddressDeriver interface {
	Derive(index uint64) (address string, path string, err error)
}

// EncryptionService is the opaque MPC layer. Ciphertext in, plaintext out
// (or failure). The core never looks inside.
type EncryptionService interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}
