package btcderiver

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestXpub(t *testing.T) string {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)
	return neutered.String()
}

func TestDeriveDeterministic(t *testing.T) {
	xpub := newTestXpub(t)

	d1, err := NewDeriver(xpub, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	d2, err := NewDeriver(xpub, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	// Two instances with the same xpub agree on every index.
	for _, idx := range []uint64{0, 1, 7, 1000} {
		a1, p1, err := d1.Derive(idx)
		assert.NoError(t, err)
		a2, p2, err := d2.Derive(idx)
		assert.NoError(t, err)
		assert.Equal(t, a1, a2)
		assert.Equal(t, p1, p2)

		decoded, err := btcutil.DecodeAddress(a1, &chaincfg.RegressionNetParams)
		assert.NoError(t, err)
		assert.True(t, decoded.IsForNet(&chaincfg.RegressionNetParams))
	}
}

func TestDeriveDistinctPerIndex(t *testing.T) {
	d, err := NewDeriver(newTestXpub(t), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	seen := map[string]bool{}
	for idx := uint64(0); idx < 50; idx++ {
		addr, _, err := d.Derive(idx)
		require.NoError(t, err)
		assert.False(t, seen[addr], "address reused at index %d", idx)
		seen[addr] = true
	}
}

func TestDeriveRejectsPrivateKey(t *testing.T) {
	seed := make([]byte, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	_, err = NewDeriver(master.String(), &chaincfg.RegressionNetParams)
	assert.ErrorIs(t, err, ErrorPrivateKey)
}

func TestDeriveIndexOutOfRange(t *testing.T) {
	d, err := NewDeriver(newTestXpub(t), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	_, _, err = d.Derive(1 << 40)
	assert.ErrorIs(t, err, ErrorIndexOutOfRange)
}
