package allocator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/flashbridge-io/bridge-go/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDeriver is a pure function of the index, like the real deriver.
type stubDeriver struct {
	// clampTo forces indices >= clampTo onto one address, to provoke
	// collisions. Zero means no clamping.
	clampTo uint64
}

func (d *stubDeriver) Derive(index uint64) (string, string, error) {
	if d.clampTo > 0 && index >= d.clampTo {
		index = d.clampTo
	}
	return fmt.Sprintf("bcrt1qstub%016d", index), fmt.Sprintf("m/0/%d", index), nil
}

func newTestAllocatorEnv(t *testing.T, cfg *Config) (*Allocator, func()) {
	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "alloc.db"))
	require.NoError(t, err)
	if cfg == nil {
		cfg = &Config{TTL: time.Hour, SweepInterval: time.Minute}
	}
	a, err := NewAllocator(sqlDB, &stubDeriver{}, cfg)
	require.NoError(t, err)
	return a, func() {
		a.Close()
		sqlDB.Close()
	}
}

func TestAllocateIdempotentPerSession(t *testing.T) {
	a, close := newTestAllocatorEnv(t, nil)
	defer close()
	ctx := context.Background()

	cmd := AllocateCommand{OwnerAddress: "owner-sol-addr", SessionID: "sess-1"}

	first, err := a.Allocate(ctx, cmd)
	require.NoError(t, err)
	second, err := a.Allocate(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ReceiveAddress, second.ReceiveAddress)

	// ForceNew issues a fresh address with the next index.
	cmd.ForceNew = true
	third, err := a.Allocate(ctx, cmd)
	require.NoError(t, err)
	assert.NotEqual(t, first.ReceiveAddress, third.ReceiveAddress)
	assert.Equal(t, first.DerivationIndex+1, third.DerivationIndex)
}

func TestAllocateConcurrentSameSession(t *testing.T) {
	a, close := newTestAllocatorEnv(t, nil)
	defer close()
	ctx := context.Background()

	const callers = 12
	cmd := AllocateCommand{OwnerAddress: "owner-sol-addr", SessionID: "sess-1"}

	results := make([]*Allocation, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Allocate(ctx, cmd)
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}

	// Exactly one row created; everybody references it.
	for _, alloc := range results {
		assert.Equal(t, results[0].ID, alloc.ID)
		assert.Equal(t, results[0].ReceiveAddress, alloc.ReceiveAddress)
	}
	all, err := a.GetByOwner(ctx, "owner-sol-addr")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAllocateIndicesStrictlyIncreasing(t *testing.T) {
	a, close := newTestAllocatorEnv(t, nil)
	defer close()
	ctx := context.Background()

	const callers = 20
	indices := make([]uint64, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alloc, err := a.Allocate(ctx, AllocateCommand{
				OwnerAddress: fmt.Sprintf("owner-%d", i),
				SessionID:    fmt.Sprintf("sess-%d", i),
			})
			if err != nil {
				errs[i] = err
				return
			}
			indices[i] = alloc.DerivationIndex
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1], "duplicate derivation index issued")
	}
}

func TestAllocateBurnsCollidingIndices(t *testing.T) {
	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "alloc.db"))
	require.NoError(t, err)
	defer sqlDB.Close()

	a, err := NewAllocator(sqlDB, &stubDeriver{clampTo: 1}, &Config{
		TTL: time.Hour, SweepInterval: time.Minute, DeriveRetries: 5,
	})
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	// Index 0 and 1 derive fine, everything above clamps onto index 1's
	// address: the third allocation retries until retries run out.
	_, err = a.Allocate(ctx, AllocateCommand{OwnerAddress: "o1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = a.Allocate(ctx, AllocateCommand{OwnerAddress: "o2", SessionID: "s2"})
	require.NoError(t, err)
	_, err = a.Allocate(ctx, AllocateCommand{OwnerAddress: "o3", SessionID: "s3"})
	assert.ErrorIs(t, err, ErrorDeriveExhausted)
}

func TestLifecycleFundedClaimed(t *testing.T) {
	a, close := newTestAllocatorEnv(t, nil)
	defer close()
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	// Claiming before funding is invalid.
	assert.ErrorIs(t, a.MarkClaimed(ctx, alloc.ReceiveAddress, "claim-1"), ErrorInvalidStateTransition)

	flipped, err := a.MarkFunded(ctx, alloc.ReceiveAddress, "funding-tx-1", 250_000)
	require.NoError(t, err)
	assert.True(t, flipped)
	// Same fundingRef again is a no-op and reports no flip.
	flipped, err = a.MarkFunded(ctx, alloc.ReceiveAddress, "funding-tx-1", 250_000)
	require.NoError(t, err)
	assert.False(t, flipped)
	// A different funding ref on a funded row is not.
	_, err = a.MarkFunded(ctx, alloc.ReceiveAddress, "funding-tx-2", 1)
	assert.ErrorIs(t, err, ErrorInvalidStateTransition)

	got, ok, err := a.Get(ctx, alloc.ReceiveAddress)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFunded, got.Status)
	assert.Equal(t, int64(250_000), got.FundedAmountSats)

	require.NoError(t, a.MarkClaimed(ctx, alloc.ReceiveAddress, "claim-1"))
	require.NoError(t, a.MarkClaimed(ctx, alloc.ReceiveAddress, "claim-1"))
	assert.ErrorIs(t, a.MarkClaimed(ctx, alloc.ReceiveAddress, "claim-2"), ErrorInvalidStateTransition)

	_, err = a.MarkFunded(ctx, "bcrt1qnosuch", "f", 1)
	assert.ErrorIs(t, err, ErrorNotFound)
}

func TestExpirySweep(t *testing.T) {
	a, close := newTestAllocatorEnv(t, &Config{TTL: 10 * time.Millisecond, SweepInterval: time.Minute})
	defer close()
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n, err := a.ExpireDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _, err := a.Get(ctx, alloc.ReceiveAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	// Funding an expired allocation is refused.
	_, err = a.MarkFunded(ctx, alloc.ReceiveAddress, "late", 1)
	assert.ErrorIs(t, err, ErrorAlreadyExpired)

	// A new allocation for the same session gets a new index, never the
	// expired one back.
	fresh, err := a.Allocate(ctx, AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)
	assert.NotEqual(t, alloc.ReceiveAddress, fresh.ReceiveAddress)
	assert.Greater(t, fresh.DerivationIndex, alloc.DerivationIndex)
}

func TestCancel(t *testing.T) {
	a, close := newTestAllocatorEnv(t, nil)
	defer close()
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, AllocateCommand{OwnerAddress: "owner", SessionID: "s"})
	require.NoError(t, err)

	require.NoError(t, a.Cancel(ctx, alloc.ID))
	got, _, err := a.GetByID(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	assert.ErrorIs(t, a.Cancel(ctx, alloc.ID), ErrorInvalidStateTransition)
	assert.ErrorIs(t, a.Cancel(ctx, "no-such-id"), ErrorNotFound)
}
