// Deterministic BTC receive-address derivation for deposit allocations.
//
// The bridge holds one account-level public extended key (xpub). Every
// service instance derives child number N to the same P2WPKH address, so
// the allocator only has to hand out unique indices.
package btcderiver

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrorPrivateKey      = errors.New("derivation key must be a public extended key")
	ErrorIndexOutOfRange = errors.New("derivation index out of range")
)

type Deriver struct {
	branch *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewDeriver parses the bridge-wide xpub and derives the external branch
// (0) once. The xpub must be public: no instance of this service ever
// holds spending keys.
func NewDeriver(xpub string, params *chaincfg.Params) (*Deriver, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, err
	}
	if key.IsPrivate() {
		return nil, ErrorPrivateKey
	}

	branch, err := key.Derive(0)
	if err != nil {
		return nil, err
	}

	return &Deriver{branch: branch, params: params}, nil
}

// Derive computes the receive address for the given index. Pure and
// deterministic. A hdkeychain "invalid child" error is possible for
// roughly 1 in 2^127 indices; the allocator treats it like an address
// collision and retries with the next index.
func (d *Deriver) Derive(index uint64) (string, string, error) {
	if index > math.MaxUint32/2 {
		return "", "", ErrorIndexOutOfRange
	}

	child, err := d.branch.Derive(uint32(index))
	if err != nil {
		return "", "", err
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return "", "", err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), d.params)
	if err != nil {
		return "", "", err
	}

	return addr.EncodeAddress(), fmt.Sprintf("m/0/%d", index), nil
}
