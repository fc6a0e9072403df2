package classification

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassDBEnv(t *testing.T) (*ClassDB, func()) {
	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "class.db"))
	require.NoError(t, err)
	db, err := NewClassDB(sqlDB)
	require.NoError(t, err)
	return db, func() {
		db.Close()
		sqlDB.Close()
	}
}

func TestClassifyOnce(t *testing.T) {
	db, close := newTestClassDBEnv(t)
	defer close()
	ctx := context.Background()

	sig := common.RandHexStr(64)
	err := db.Classify(ctx, &Classification{
		TransferSignature: sig,
		Type:              TypeRedemption,
		OwnerAddress:      "owner-sol",
		AmountSats:        12_345,
		CreatedBy:         "ops",
	})
	require.NoError(t, err)

	// The original row wins; a second classification is refused.
	err = db.Classify(ctx, &Classification{TransferSignature: sig, Type: TypeRefund})
	assert.ErrorIs(t, err, ErrorAlreadyClassified)

	cl, ok, err := db.Get(ctx, sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeRedemption, cl.Type)
	assert.Equal(t, int64(12_345), cl.AmountSats)
	assert.Equal(t, "ops", cl.CreatedBy)
}

func TestClassifyValidation(t *testing.T) {
	db, close := newTestClassDBEnv(t)
	defer close()
	ctx := context.Background()

	assert.ErrorIs(t, db.Classify(ctx, &Classification{Type: TypeAdmin}), ErrorSignatureEmpty)
	assert.ErrorIs(t, db.Classify(ctx, &Classification{
		TransferSignature: common.RandHexStr(64),
		Type:              TransferType("payout"),
	}), ErrorBadType)
}

func TestGetMissing(t *testing.T) {
	db, close := newTestClassDBEnv(t)
	defer close()

	_, ok, err := db.Get(context.Background(), common.RandHexStr(64))
	require.NoError(t, err)
	assert.False(t, ok)
}
