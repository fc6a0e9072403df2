package agreement

import (
	"context"
	"errors"
	"sync"

	"github.com/flashbridge-io/bridge-go/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Simulated collaborators. Used by package tests and the demo server
// config; they behave like the real services minus the network.

var (
	ErrorBroadcastRefused = errors.New("broadcaster refused payout")
	ErrorDecryptFailed    = errors.New("decrypt failed")
)

// SimulatedBroadcaster records submitted payouts in memory. FailNext
// makes the next submission fail, for exercising the compensation path.
type SimulatedBroadcaster struct {
	mu       sync.Mutex
	FailNext bool
	Payouts  []SimulatedPayout
}

type SimulatedPayout struct {
	PayoutRef  string
	Address    string
	AmountSats int64
}

func NewSimulatedBroadcaster() *SimulatedBroadcaster {
	return &SimulatedBroadcaster{}
}

func (b *SimulatedBroadcaster) SubmitPayout(_ context.Context, address string, amountSats int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNext {
		b.FailNext = false
		return "", ErrorBroadcastRefused
	}

	ref := common.RandHexStr(32)
	b.Payouts = append(b.Payouts, SimulatedPayout{
		PayoutRef:  ref,
		Address:    address,
		AmountSats: amountSats,
	})
	return ref, nil
}

// Submitted returns how many payouts went out.
func (b *SimulatedBroadcaster) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Payouts)
}

// SimulatedEncryptionService round-trips ciphertexts with a local key.
// Stands in for the MPC service, which is opaque to the core anyway.
type SimulatedEncryptionService struct {
	key []byte
}

func NewSimulatedEncryptionService(key [32]byte) *SimulatedEncryptionService {
	return &SimulatedEncryptionService{key: key[:]}
}

func (s *SimulatedEncryptionService) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := common.RandBytes(chacha20poly1305.NonceSizeX)
	if nonce == nil {
		return nil, ErrorDecryptFailed
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SimulatedEncryptionService) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, ErrorDecryptFailed
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrorDecryptFailed
	}
	return plaintext, nil
}

// SimulatedDepositVerifier confirms whatever it was told about beforehand.
type SimulatedDepositVerifier struct {
	mu       sync.Mutex
	deposits map[string]DepositVerification
}

func NewSimulatedDepositVerifier() *SimulatedDepositVerifier {
	return &SimulatedDepositVerifier{deposits: make(map[string]DepositVerification)}
}

func (v *SimulatedDepositVerifier) Confirm(fundingRef string, amountSats int64, confirmations int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deposits[fundingRef] = DepositVerification{
		Confirmed:     true,
		AmountSats:    amountSats,
		Confirmations: confirmations,
	}
}

func (v *SimulatedDepositVerifier) VerifyDeposit(_ context.Context, fundingRef string) (DepositVerification, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deposits[fundingRef], nil
}
