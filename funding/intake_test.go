package funding

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbridge-io/bridge-go/agreement"
	"github.com/flashbridge-io/bridge-go/allocator"
	"github.com/flashbridge-io/bridge-go/database"
	"github.com/flashbridge-io/bridge-go/reserve"
)

const intakeTestPool = "btc-main"

type stubDeriver struct{}

func (stubDeriver) Derive(index uint64) (string, string, error) {
	return "bcrt1qstub" + string(rune('a'+index)), "m/0/0", nil
}

type intakeEnv struct {
	intake   *Intake
	alloc    *allocator.Allocator
	ledger   *reserve.Ledger
	verifier *agreement.SimulatedDepositVerifier
}

func newTestIntakeEnv(t *testing.T, createPool bool) (*intakeEnv, func()) {
	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)

	alloc, err := allocator.NewAllocator(sqlDB, stubDeriver{}, &allocator.Config{TTL: time.Hour})
	require.NoError(t, err)
	ledger, err := reserve.NewLedger(sqlDB)
	require.NoError(t, err)
	if createPool {
		require.NoError(t, ledger.CreatePool(context.Background(), intakeTestPool, 0, 0))
	}

	verifier := agreement.NewSimulatedDepositVerifier()
	intake := NewIntake(&Config{PoolID: intakeTestPool, MinConfirmations: 2},
		sqlDB, alloc, ledger, verifier)

	return &intakeEnv{intake: intake, alloc: alloc, ledger: ledger, verifier: verifier},
		func() {
			alloc.Close()
			ledger.Close()
			sqlDB.Close()
		}
}

func TestProcessFundingCreditsOnce(t *testing.T) {
	env, close := newTestIntakeEnv(t, true)
	defer close()
	ctx := context.Background()

	a, err := env.alloc.Allocate(ctx, allocator.AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	env.verifier.Confirm("funding-tx-1", 500_000, 3)
	require.NoError(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "funding-tx-1"))

	got, _, err := env.alloc.Get(ctx, a.ReceiveAddress)
	require.NoError(t, err)
	assert.Equal(t, allocator.StatusFunded, got.Status)
	assert.Equal(t, int64(500_000), got.FundedAmountSats)

	pool, _, err := env.ledger.GetPool(ctx, intakeTestPool)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), pool.DepositedSats)

	// A repeat settles as a no-op: funded stays, pool not credited twice.
	require.NoError(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "funding-tx-1"))
	pool, _, err = env.ledger.GetPool(ctx, intakeTestPool)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), pool.DepositedSats)
}

func TestProcessFundingRefusals(t *testing.T) {
	env, close := newTestIntakeEnv(t, true)
	defer close()
	ctx := context.Background()

	a, err := env.alloc.Allocate(ctx, allocator.AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	// Verifier has never seen the tx.
	assert.ErrorIs(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "unknown-tx"), ErrorNotConfirmed)

	// Confirmed but too shallow.
	env.verifier.Confirm("shallow-tx", 100_000, 1)
	assert.ErrorIs(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "shallow-tx"), ErrorTooFewConfs)

	// Nothing credited on refusal.
	pool, _, err := env.ledger.GetPool(ctx, intakeTestPool)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.DepositedSats)
	got, _, err := env.alloc.Get(ctx, a.ReceiveAddress)
	require.NoError(t, err)
	assert.Equal(t, allocator.StatusAllocated, got.Status)
}

func TestProcessFundingAllOrNothing(t *testing.T) {
	// Pool does not exist yet, so the credit half of the settlement must
	// fail. The allocation flip has to roll back with it, and a retry
	// after the pool appears must settle both sides in full.
	env, close := newTestIntakeEnv(t, false)
	defer close()
	ctx := context.Background()

	a, err := env.alloc.Allocate(ctx, allocator.AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	env.verifier.Confirm("funding-tx-1", 500_000, 3)
	assert.ErrorIs(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "funding-tx-1"),
		reserve.ErrorPoolNotFound)

	// The flip rolled back with the failed credit.
	got, _, err := env.alloc.Get(ctx, a.ReceiveAddress)
	require.NoError(t, err)
	assert.Equal(t, allocator.StatusAllocated, got.Status)

	require.NoError(t, env.ledger.CreatePool(ctx, intakeTestPool, 0, 0))
	require.NoError(t, env.intake.ProcessFunding(ctx, a.ReceiveAddress, "funding-tx-1"))

	got, _, err = env.alloc.Get(ctx, a.ReceiveAddress)
	require.NoError(t, err)
	assert.Equal(t, allocator.StatusFunded, got.Status)
	pool, _, err := env.ledger.GetPool(ctx, intakeTestPool)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), pool.DepositedSats)
}
